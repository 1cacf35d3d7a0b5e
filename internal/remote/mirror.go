package remote

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BradenHooton/devicelock/internal/models"
)

// DefaultTimeout bounds every remote call
const DefaultTimeout = 10 * time.Second

// UserDocStore is the per-user remote document
type UserDocStore interface {
	ReadUserDoc(ctx context.Context, id string) (*models.UserRecord, error)
	UpdateUserDoc(ctx context.Context, id string, patch models.UserPatch) error
}

// DeviceStore is the per-device remote document
type DeviceStore interface {
	Register(ctx context.Context, rec *models.DeviceRecord) error
	UpdateStatus(ctx context.Context, id string, status models.DeviceStatus) error
	SetOffline(ctx context.Context, id string) error
}

// EventAppender stores remote copies of security events
type EventAppender interface {
	AppendEvent(ctx context.Context, collection string, event *models.SecurityEvent) error
}

// Observer is notified of swallowed remote failures
type Observer interface {
	RemoteWriteFailed(op string)
}

type noopObserver struct{}

func (noopObserver) RemoteWriteFailed(string) {}

// Mirror is the best-effort view of lock state in the shared backend.
// Writes are fire-and-forget: they are queued to a single background writer
// (so the backend sees them in call order), each bounded by the timeout,
// and failures are logged, never returned. A Mirror built with nil stores
// is offline and every call degrades to a no-op.
type Mirror struct {
	users    UserDocStore
	devices  DeviceStore
	events   EventAppender
	timeout  time.Duration
	observer Observer
	logger   *slog.Logger

	writes  chan writeJob
	done    chan struct{}
	pending sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
}

type writeJob struct {
	ctx   context.Context
	op    string
	attrs []slog.Attr
	fn    func(context.Context) error
}

const writeBuffer = 256

// NewMirror creates a Mirror. timeout <= 0 uses DefaultTimeout.
func NewMirror(users UserDocStore, devices DeviceStore, events EventAppender, timeout time.Duration, logger *slog.Logger) *Mirror {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	m := &Mirror{
		users:    users,
		devices:  devices,
		events:   events,
		timeout:  timeout,
		observer: noopObserver{},
		logger:   logger,
		writes:   make(chan writeJob, writeBuffer),
		done:     make(chan struct{}),
	}

	go m.writeLoop()
	return m
}

// NewOffline returns a Mirror with no backend
func NewOffline(logger *slog.Logger) *Mirror {
	return NewMirror(nil, nil, nil, 0, logger)
}

// SetObserver registers o for remote failure notifications
func (m *Mirror) SetObserver(o Observer) {
	if o != nil {
		m.observer = o
	}
}

// Online reports whether a backend is configured
func (m *Mirror) Online() bool {
	return m.users != nil
}

// Wait blocks until all queued writes have finished
func (m *Mirror) Wait() {
	m.pending.Wait()
}

// Close drains queued writes and stops the writer
func (m *Mirror) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	close(m.writes)
	m.mu.Unlock()

	<-m.done
}

// goAsync queues fn for the background writer. The call is detached from
// ctx cancellation but bounded by the mirror timeout.
func (m *Mirror) goAsync(ctx context.Context, op string, attrs []slog.Attr, fn func(context.Context) error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		m.fail(ctx, op, models.ErrRemoteUnavailable, attrs...)
		return
	}

	m.pending.Add(1)
	select {
	case m.writes <- writeJob{ctx: context.WithoutCancel(ctx), op: op, attrs: attrs, fn: fn}:
	default:
		m.pending.Done()
		m.fail(ctx, op, fmt.Errorf("write buffer full"), attrs...)
	}
}

func (m *Mirror) writeLoop() {
	defer close(m.done)
	for job := range m.writes {
		ctx, cancel := context.WithTimeout(job.ctx, m.timeout)
		if err := job.fn(ctx); err != nil {
			m.fail(ctx, job.op, err, job.attrs...)
		}
		cancel()
		m.pending.Done()
	}
}

func (m *Mirror) fail(ctx context.Context, op string, err error, attrs ...slog.Attr) {
	m.observer.RemoteWriteFailed(op)
	args := []any{slog.String("op", op), slog.Any("error", err)}
	for _, a := range attrs {
		args = append(args, a)
	}
	m.logger.WarnContext(ctx, "remote write failed", args...)
}

// PushLockState mirrors state to the user record and the device record
func (m *Mirror) PushLockState(ctx context.Context, userID, deviceID string, state models.DeviceLockState) {
	if !m.Online() || userID == "" {
		return
	}

	blocked := state.IsBlocked
	reason := ""
	if state.IsBlocked {
		reason = state.BlockReason.String()
	}
	patch := models.UserPatch{
		DeviceBlocked:  &blocked,
		BlockReason:    &reason,
		BlockedAt:      state.BlockedAt,
		ClearBlockedAt: !state.IsBlocked,
	}

	attrs := []slog.Attr{slog.String("user_id", userID), slog.String("device_id", deviceID)}

	m.goAsync(ctx, "update_user_lock_state", attrs, func(ctx context.Context) error {
		return m.users.UpdateUserDoc(ctx, userID, patch)
	})

	if m.devices == nil || deviceID == "" {
		return
	}
	status := models.DeviceStatus{IsBlocked: state.IsBlocked, BlockedAt: state.BlockedAt, BlockReason: reason}
	m.goAsync(ctx, "update_device_status", attrs, func(ctx context.Context) error {
		return m.devices.UpdateStatus(ctx, deviceID, status)
	})
}

// PushSettings mirrors the user's security settings
func (m *Mirror) PushSettings(ctx context.Context, userID string, settings models.SecuritySettings) {
	if !m.Online() || userID == "" {
		return
	}
	m.goAsync(ctx, "update_settings", []slog.Attr{slog.String("user_id", userID)}, func(ctx context.Context) error {
		return m.users.UpdateUserDoc(ctx, userID, models.UserPatch{SecuritySettings: &settings})
	})
}

// AppendEvent writes the event to the user collection and the global
// collection independently
func (m *Mirror) AppendEvent(ctx context.Context, event *models.SecurityEvent) {
	if m.events == nil || event.UserID == "" {
		return
	}
	attrs := []slog.Attr{slog.String("event_id", event.ID), slog.String("event_type", string(event.Type))}

	for _, collection := range []string{models.EventCollectionUser, models.EventCollectionGlobal} {
		collection := collection
		m.goAsync(ctx, "append_event_"+collection, attrs, func(ctx context.Context) error {
			return m.events.AppendEvent(ctx, collection, event)
		})
	}
}

// FetchUserRecord reads the user record synchronously within the timeout
func (m *Mirror) FetchUserRecord(ctx context.Context, userID string) (*models.UserRecord, error) {
	if !m.Online() {
		return nil, models.ErrRemoteUnavailable
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	rec, err := m.users.ReadUserDoc(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user record: %w", err)
	}
	return rec, nil
}

// UpdateUser writes patch synchronously within the timeout. Used where the
// caller must know the write landed (enrolment).
func (m *Mirror) UpdateUser(ctx context.Context, userID string, patch models.UserPatch) error {
	if !m.Online() {
		return models.ErrRemoteUnavailable
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	if err := m.users.UpdateUserDoc(ctx, userID, patch); err != nil {
		m.observer.RemoteWriteFailed("update_user")
		return fmt.Errorf("failed to update user record: %w", err)
	}
	return nil
}

// RegisterDevice creates or refreshes the device record and links it to
// the user. Failures are logged and swallowed.
func (m *Mirror) RegisterDevice(ctx context.Context, rec *models.DeviceRecord) {
	if !m.Online() || m.devices == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	attrs := []slog.Attr{slog.String("user_id", rec.UserID), slog.String("device_id", rec.ID)}
	if err := m.devices.Register(ctx, rec); err != nil {
		m.fail(ctx, "register_device", err, attrs...)
		return
	}

	deviceID := rec.ID
	if err := m.users.UpdateUserDoc(ctx, rec.UserID, models.UserPatch{AddDeviceID: &deviceID}); err != nil {
		m.fail(ctx, "link_device", err, attrs...)
	}
}

// MarkOffline clears the device's online flag in the background
func (m *Mirror) MarkOffline(ctx context.Context, deviceID string) {
	if m.devices == nil || deviceID == "" {
		return
	}
	m.goAsync(ctx, "mark_offline", []slog.Attr{slog.String("device_id", deviceID)}, func(ctx context.Context) error {
		return m.devices.SetOffline(ctx, deviceID)
	})
}
