package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BradenHooton/devicelock/internal/identity"
	"github.com/BradenHooton/devicelock/internal/localstore"
	"github.com/BradenHooton/devicelock/internal/models"
	"github.com/BradenHooton/devicelock/internal/notify"
)

// DefaultInterval between ticks
const DefaultInterval = 15 * time.Minute

// Outcome is the result of one tick, reported to the scheduler
type Outcome string

const (
	OutcomeNoData  Outcome = "no_data"
	OutcomeNewData Outcome = "new_data"
	OutcomeFailed  Outcome = "failed"
)

// LockService is the part of the state machine the monitor drives
type LockService interface {
	Settings(ctx context.Context) (models.SecuritySettings, error)
	IncrementSuspicious(ctx context.Context) (int, error)
	CheckBlockThreshold(ctx context.Context) (bool, error)
}

// EventRecorder appends to the security event log
type EventRecorder interface {
	Record(ctx context.Context, typ models.SecurityEventType, severity models.Severity, description string, details models.EventDetails) *models.SecurityEvent
}

// Identity resolves the signed-in user and this device
type Identity interface {
	CurrentUser(ctx context.Context) (*identity.User, error)
	DeviceID(ctx context.Context) (string, error)
}

// Notifier sends the suspicious activity email
type Notifier interface {
	SuspiciousActivity(ctx context.Context, email string, info notify.DeviceInfo, count int)
}

// Recorder receives tick metrics
type Recorder interface {
	MonitorTick(outcome string)
}

type noopRecorder struct{}

func (noopRecorder) MonitorTick(string) {}

// Monitor is the periodic background check. It runs independently of the
// HTTP API and drives the same state machine entry points.
type Monitor struct {
	lock       LockService
	kv         localstore.KV
	evaluator  Evaluator
	events     EventRecorder
	identity   Identity
	notifier   Notifier
	recorder   Recorder
	deviceName string
	interval   time.Duration
	logger     *slog.Logger
	now        func() time.Time

	tickMu   sync.Mutex
	stopCh   chan struct{}
	stopOnce sync.Once
}

// Config holds the monitor's collaborators
type Config struct {
	Lock       LockService
	KV         localstore.KV
	Evaluator  Evaluator
	Events     EventRecorder
	Identity   Identity
	Notifier   Notifier
	DeviceName string
	Interval   time.Duration
}

func New(cfg Config, logger *slog.Logger) *Monitor {
	if cfg.Lock == nil || cfg.KV == nil || cfg.Evaluator == nil || cfg.Events == nil || cfg.Identity == nil || cfg.Notifier == nil {
		panic("monitor: New requires non-nil dependencies")
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Monitor{
		lock:       cfg.Lock,
		kv:         cfg.KV,
		evaluator:  cfg.Evaluator,
		events:     cfg.Events,
		identity:   cfg.Identity,
		notifier:   cfg.Notifier,
		recorder:   noopRecorder{},
		deviceName: cfg.DeviceName,
		interval:   interval,
		logger:     logger,
		now:        time.Now,
		stopCh:     make(chan struct{}),
	}
}

// SetRecorder registers r for tick metrics
func (m *Monitor) SetRecorder(r Recorder) {
	if r != nil {
		m.recorder = r
	}
}

// Start runs ticks until Stop is called or ctx is cancelled
func (m *Monitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Info("security monitor started",
		slog.String("evaluator", m.evaluator.Name()),
		slog.Duration("interval", m.interval),
	)

	for {
		select {
		case <-ticker.C:
			m.Tick(ctx)
		case <-m.stopCh:
			m.logger.Info("security monitor stopped")
			return
		case <-ctx.Done():
			m.logger.Info("security monitor context cancelled")
			return
		}
	}
}

// Stop signals the loop to exit
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

// Tick performs one check. Evaluator failures yield OutcomeNoData without
// touching the suspicious counter. A signal is only committed back to its
// evaluator once the counter increment has been stored.
func (m *Monitor) Tick(ctx context.Context) Outcome {
	m.tickMu.Lock()
	defer m.tickMu.Unlock()

	outcome := m.tick(ctx)
	m.recorder.MonitorTick(string(outcome))
	return outcome
}

func (m *Monitor) tick(ctx context.Context) Outcome {
	settings, err := m.lock.Settings(ctx)
	if err != nil {
		m.logger.ErrorContext(ctx, "failed to read security settings", slog.Any("error", err))
		return OutcomeFailed
	}
	// settings.enabled gates every tick; the monitoring flag only narrows it
	if !settings.Enabled {
		return OutcomeNoData
	}

	active, err := m.IsActive(ctx)
	if err != nil {
		m.logger.ErrorContext(ctx, "monitor tick failed", slog.Any("error", err))
		return OutcomeFailed
	}
	if !active {
		return OutcomeNoData
	}

	if err := m.kv.Set(ctx, localstore.KeyLastMonitoringCheck, localstore.FormatTime(m.now())); err != nil {
		m.logger.ErrorContext(ctx, "failed to stamp monitoring check", slog.Any("error", err))
		return OutcomeFailed
	}

	signal, err := m.evaluator.Evaluate(ctx)
	if err != nil {
		m.logger.WarnContext(ctx, "suspicion evaluation unavailable",
			slog.String("evaluator", m.evaluator.Name()),
			slog.Any("error", err),
		)
		return OutcomeNoData
	}
	if !signal.Suspicious {
		return OutcomeNoData
	}

	count, err := m.lock.IncrementSuspicious(ctx)
	if err != nil {
		m.logger.ErrorContext(ctx, "failed to record suspicious activity", slog.Any("error", err))
		return OutcomeFailed
	}
	if signal.Commit != nil {
		if err := signal.Commit(ctx); err != nil {
			m.logger.WarnContext(ctx, "failed to commit evaluator state",
				slog.String("evaluator", m.evaluator.Name()),
				slog.Any("error", err),
			)
		}
	}

	severity := models.SeverityMedium
	if count >= settings.SuspiciousAttemptsThreshold {
		severity = models.SeverityHigh
	}
	details := models.EventDetails{"signal": signal.Reason, "suspicious_count": count}
	for k, v := range signal.Details {
		details[k] = v
	}
	m.events.Record(ctx, models.EventSuspiciousActivity, severity,
		fmt.Sprintf("Suspicious activity detected (%s)", signal.Reason), details)

	m.logger.WarnContext(ctx, "suspicious activity detected",
		slog.String("signal", signal.Reason),
		slog.Int("suspicious_count", count),
		slog.Int("threshold", settings.SuspiciousAttemptsThreshold),
	)

	if settings.NotificationsEnabled {
		m.notifySuspicious(ctx, signal, count)
	}

	if _, err := m.lock.CheckBlockThreshold(ctx); err != nil {
		m.logger.ErrorContext(ctx, "block threshold check failed", slog.Any("error", err))
		return OutcomeFailed
	}
	return OutcomeNewData
}

func (m *Monitor) notifySuspicious(ctx context.Context, signal Signal, count int) {
	user, err := m.identity.CurrentUser(ctx)
	if err != nil {
		return
	}
	deviceID, _ := m.identity.DeviceID(ctx)
	m.notifier.SuspiciousActivity(ctx, user.Email, notify.DeviceInfo{
		DeviceID: deviceID,
		Name:     m.deviceName,
		Reason:   signal.Reason,
		Message:  models.BlockReasonSuspiciousActivity.Message(),
		At:       m.now().UTC(),
	}, count)
}

// IsActive reports the persisted monitoring flag, falling back to
// settings.enabled when it was never set
func (m *Monitor) IsActive(ctx context.Context) (bool, error) {
	_, ok, err := m.kv.Get(ctx, localstore.KeyMonitoringActive)
	if err != nil {
		return false, fmt.Errorf("failed to read monitoring flag: %w", err)
	}
	if !ok {
		settings, err := m.lock.Settings(ctx)
		if err != nil {
			return false, err
		}
		return settings.Enabled, nil
	}
	return localstore.GetBool(ctx, m.kv, localstore.KeyMonitoringActive)
}

// Activate turns monitoring on
func (m *Monitor) Activate(ctx context.Context) error {
	return m.setActive(ctx, true)
}

// Deactivate turns monitoring off
func (m *Monitor) Deactivate(ctx context.Context) error {
	return m.setActive(ctx, false)
}

func (m *Monitor) setActive(ctx context.Context, active bool) error {
	err := m.kv.SetMany(ctx, map[string]string{
		localstore.KeyMonitoringActive:    localstore.FormatBool(active),
		localstore.KeyLastMonitoringCheck: localstore.FormatTime(m.now()),
	})
	if err != nil {
		return fmt.Errorf("failed to store monitoring flag: %w", err)
	}

	typ, desc := models.EventMonitoringActivated, "Security monitoring activated"
	if !active {
		typ, desc = models.EventMonitoringDeactivated, "Security monitoring deactivated"
	}
	m.events.Record(ctx, typ, models.SeverityLow, desc, models.EventDetails{"evaluator": m.evaluator.Name()})
	m.logger.InfoContext(ctx, desc, slog.Bool("active", active))
	return nil
}

// LastCheck returns when the monitor last ran, nil if never
func (m *Monitor) LastCheck(ctx context.Context) (*time.Time, error) {
	return localstore.GetTime(ctx, m.kv, localstore.KeyLastMonitoringCheck)
}
