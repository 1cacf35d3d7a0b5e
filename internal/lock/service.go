package lock

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
	"github.com/BradenHooton/devicelock/pkg/recoverykey"
)

// User-facing unlock messages
const (
	MsgUnlocked      = "Device unlocked."
	MsgNotLocked     = "Device is not locked."
	MsgTooManyFailed = "Too many failed attempts. Contact support."
	MsgNoRecoveryKey = "No recovery key is available on this device. Connect to the network and try again."
)

// Failed attempts from this count on are logged at high severity
const highSeverityAttempts = 3

// Mirror is the best-effort remote copy of lock state
type Mirror interface {
	PushLockState(ctx context.Context, userID, deviceID string, state models.DeviceLockState)
	PushSettings(ctx context.Context, userID string, settings models.SecuritySettings)
	FetchUserRecord(ctx context.Context, userID string) (*models.UserRecord, error)
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

// Notifier sends fire-and-forget owner notifications
type Notifier interface {
	Blocked(ctx context.Context, email string, info notify.DeviceInfo)
}

// Recorder receives transition metrics
type Recorder interface {
	BlockRecorded(reason string)
	UnlockAttempt(outcome string)
}

type noopRecorder struct{}

func (noopRecorder) BlockRecorded(string) {}
func (noopRecorder) UnlockAttempt(string) {}

// Service is the lock/unlock state machine. The local store is the source
// of truth; remote writes are best-effort and never fail a transition.
// Transitions are serialised so concurrent unlock attempts cannot lose a
// failed-attempt increment.
type Service struct {
	mu sync.Mutex

	kv         localstore.KV
	mirror     Mirror
	events     EventRecorder
	identity   Identity
	notifier   Notifier
	recorder   Recorder
	deviceName string
	logger     *slog.Logger
	now        func() time.Time
}

func NewService(kv localstore.KV, mirror Mirror, events EventRecorder, id Identity, notifier Notifier, deviceName string, logger *slog.Logger) *Service {
	if kv == nil || mirror == nil || events == nil || id == nil || notifier == nil {
		panic("lock: NewService requires non-nil dependencies")
	}
	return &Service{
		kv:         kv,
		mirror:     mirror,
		events:     events,
		identity:   id,
		notifier:   notifier,
		recorder:   noopRecorder{},
		deviceName: deviceName,
		logger:     logger,
		now:        time.Now,
	}
}

// SetRecorder registers r for transition metrics
func (s *Service) SetRecorder(r Recorder) {
	if r != nil {
		s.recorder = r
	}
}

// IsBlocked reports whether the device is LOCKED
func (s *Service) IsBlocked(ctx context.Context) (bool, error) {
	blocked, err := localstore.GetBool(ctx, s.kv, localstore.KeyDeviceBlocked)
	if err != nil {
		return false, fmt.Errorf("failed to read lock state: %w", err)
	}
	return blocked, nil
}

// State returns the full local lock state
func (s *Service) State(ctx context.Context) (models.DeviceLockState, error) {
	return s.readState(ctx)
}

func (s *Service) readState(ctx context.Context) (models.DeviceLockState, error) {
	var state models.DeviceLockState

	blocked, err := localstore.GetBool(ctx, s.kv, localstore.KeyDeviceBlocked)
	if err != nil {
		return state, fmt.Errorf("failed to read lock state: %w", err)
	}
	failed, err := localstore.GetInt(ctx, s.kv, localstore.KeyFailedUnlockAttempts)
	if err != nil {
		return state, fmt.Errorf("failed to read failed attempts: %w", err)
	}

	state.IsBlocked = blocked
	state.FailedAttempts = failed
	state.BlockReason = models.BlockReasonNone
	if !blocked {
		return state, nil
	}

	reason, _, err := s.kv.Get(ctx, localstore.KeyBlockReason)
	if err != nil {
		return state, fmt.Errorf("failed to read block reason: %w", err)
	}
	blockedAt, err := localstore.GetTime(ctx, s.kv, localstore.KeyBlockedAt)
	if err != nil {
		return state, fmt.Errorf("failed to read block time: %w", err)
	}

	state.BlockReason = models.ParseBlockReason(reason)
	state.BlockedAt = blockedAt
	return state, nil
}

// GetFailedAttempts returns consecutive failed unlock attempts
func (s *Service) GetFailedAttempts(ctx context.Context) (int, error) {
	n, err := localstore.GetInt(ctx, s.kv, localstore.KeyFailedUnlockAttempts)
	if err != nil {
		return 0, fmt.Errorf("failed to read failed attempts: %w", err)
	}
	return n, nil
}

// Block moves the device to LOCKED. Blocking a locked device refreshes the
// reason and timestamp.
func (s *Service) Block(ctx context.Context, reason models.BlockReason, details models.EventDetails) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blockLocked(ctx, reason, details)
}

// ManualBlock blocks with a caller-supplied reason code; empty means manual_lock
func (s *Service) ManualBlock(ctx context.Context, reason string) error {
	r := models.ParseBlockReason(reason)
	if r == models.BlockReasonNone {
		r = models.BlockReasonManualLock
	}
	return s.Block(ctx, r, models.EventDetails{"source": "manual"})
}

// ManualUnblock clears the block without a key. Unblocking an unlocked
// device is a no-op.
func (s *Service) ManualUnblock(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	blocked, err := localstore.GetBool(ctx, s.kv, localstore.KeyDeviceBlocked)
	if err != nil {
		return fmt.Errorf("failed to read lock state: %w", err)
	}
	if !blocked {
		return nil
	}
	return s.unblockLocked(ctx, "manual")
}

// AttemptUnlock compares key with the stored recovery key. A malformed key
// is rejected with ErrInvalidRecoveryKey before any state change.
func (s *Service) AttemptUnlock(ctx context.Context, key string) (models.UnlockResult, error) {
	if err := recoverykey.Validate(key); err != nil {
		s.recorder.UnlockAttempt("invalid")
		s.events.Record(ctx, models.EventInvalidKeyInput, models.SeverityLow,
			"Malformed recovery key rejected", models.EventDetails{"digits": len(recoverykey.Clean(key))})
		return models.UnlockResult{}, models.ErrInvalidRecoveryKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	blocked, err := localstore.GetBool(ctx, s.kv, localstore.KeyDeviceBlocked)
	if err != nil {
		return models.UnlockResult{}, fmt.Errorf("failed to read lock state: %w", err)
	}
	if !blocked {
		s.recorder.UnlockAttempt("not_blocked")
		return models.UnlockResult{Success: true, Message: MsgNotLocked}, nil
	}

	failed, err := localstore.GetInt(ctx, s.kv, localstore.KeyFailedUnlockAttempts)
	if err != nil {
		return models.UnlockResult{}, fmt.Errorf("failed to read failed attempts: %w", err)
	}

	stored := s.storedKey(ctx)
	if stored == "" {
		s.recorder.UnlockAttempt("no_key")
		s.logger.WarnContext(ctx, "unlock attempted without a cached recovery key")
		return models.UnlockResult{FailedAttempts: failed, Message: MsgNoRecoveryKey}, nil
	}

	if recoverykey.Equal(key, stored) {
		if err := s.unblockLocked(ctx, "recovery_key"); err != nil {
			return models.UnlockResult{}, err
		}
		s.recorder.UnlockAttempt("success")
		return models.UnlockResult{Success: true, FailedAttempts: 0, Message: MsgUnlocked}, nil
	}

	if failed >= models.MaxFailedAttempts {
		// Counter stays at the cap; the device is already escalated
		s.events.Record(ctx, models.EventFailedUnlock, models.SeverityHigh,
			"Unlock attempt after lockout", models.EventDetails{"attempt": failed})
		s.recorder.UnlockAttempt("locked_out")
		return models.UnlockResult{FailedAttempts: failed, Message: MsgTooManyFailed}, nil
	}

	n, err := s.kv.Increment(ctx, localstore.KeyFailedUnlockAttempts, 1)
	if err != nil {
		return models.UnlockResult{}, fmt.Errorf("failed to record failed attempt: %w", err)
	}

	severity := models.SeverityMedium
	if n >= highSeverityAttempts {
		severity = models.SeverityHigh
	}
	s.events.Record(ctx, models.EventFailedUnlock, severity,
		fmt.Sprintf("Failed unlock attempt %d/%d", n, models.MaxFailedAttempts),
		models.EventDetails{"attempt": n, "max_attempts": models.MaxFailedAttempts})

	if n >= models.MaxFailedAttempts {
		if err := s.blockLocked(ctx, models.BlockReasonTooManyFailedAttempts, models.EventDetails{"attempts": n}); err != nil {
			return models.UnlockResult{}, err
		}
		s.recorder.UnlockAttempt("locked_out")
		return models.UnlockResult{FailedAttempts: n, Message: MsgTooManyFailed}, nil
	}

	s.recorder.UnlockAttempt("failure")
	return models.UnlockResult{
		FailedAttempts: n,
		Message:        fmt.Sprintf("Failed attempt %d/%d", n, models.MaxFailedAttempts),
	}, nil
}

// GetRecoveryKeyDisplay returns the stored key grouped for display
func (s *Service) GetRecoveryKeyDisplay(ctx context.Context) (string, error) {
	stored := s.storedKey(ctx)
	if stored == "" {
		return "", models.ErrNoRecoveryKey
	}
	return recoverykey.Format(recoverykey.Clean(stored)), nil
}

// CacheRecoveryKey stores key locally for offline comparison
func (s *Service) CacheRecoveryKey(ctx context.Context, key string) error {
	if err := recoverykey.Validate(key); err != nil {
		return models.ErrInvalidRecoveryKey
	}
	if err := s.kv.Set(ctx, localstore.KeySecurityKey, recoverykey.Clean(key)); err != nil {
		return fmt.Errorf("failed to cache recovery key: %w", err)
	}
	return nil
}

// Reconcile pulls the remote user record. A remote block wins over a local
// unblocked state; a local block is never cleared by the remote and is
// pushed back instead. With the remote unreachable the local state is
// returned unchanged.
func (s *Service) Reconcile(ctx context.Context) (models.DeviceLockState, error) {
	user, err := s.identity.CurrentUser(ctx)
	if err != nil {
		return s.State(ctx)
	}

	rec, err := s.mirror.FetchUserRecord(ctx, user.ID)
	if err != nil {
		s.logger.WarnContext(ctx, "reconciliation skipped, remote unavailable",
			slog.String("user_id", user.ID),
			slog.Any("error", err),
		)
		return s.State(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	local, err := s.readState(ctx)
	if err != nil {
		return local, err
	}

	now := s.now().UTC()
	updates := map[string]string{localstore.KeyLastSync: localstore.FormatTime(now)}
	if rec.SecurityKey != "" {
		updates[localstore.KeySecurityKey] = recoverykey.Clean(rec.SecurityKey)
	}
	if rec.SecuritySettings != nil {
		if blob, err := encodeSettings(*rec.SecuritySettings); err == nil {
			updates[localstore.KeySecuritySettings] = blob
		}
	}

	if err := s.kv.SetMany(ctx, updates); err != nil {
		return local, fmt.Errorf("failed to store synced fields: %w", err)
	}

	switch {
	case rec.DeviceBlocked && !local.IsBlocked:
		reason := models.ParseBlockReason(rec.BlockReason)
		if reason == models.BlockReasonNone {
			reason = models.BlockReasonRemoteCommand
		}
		at := now
		if rec.BlockedAt != nil {
			at = rec.BlockedAt.UTC()
		}
		if err := s.applyBlock(ctx, reason, at); err != nil {
			return local, err
		}
		s.logger.WarnContext(ctx, "remote block applied locally",
			slog.String("user_id", user.ID),
			slog.String("reason", reason.String()),
		)
		s.events.Record(ctx, models.EventStateReconciled, models.SeverityHigh,
			"Remote block applied to device", models.EventDetails{"reason": reason.String(), "source": "remote"})
		s.recorder.BlockRecorded(reason.String())

		deviceID, _ := s.identity.DeviceID(ctx)
		s.mirror.PushLockState(ctx, user.ID, deviceID, models.DeviceLockState{IsBlocked: true, BlockReason: reason, BlockedAt: &at})

	case local.IsBlocked && !rec.DeviceBlocked:
		deviceID, _ := s.identity.DeviceID(ctx)
		s.mirror.PushLockState(ctx, user.ID, deviceID, local)
	}

	return s.readState(ctx)
}

// storedKey returns the cached key, falling back to the remote record and
// caching what it finds. Returns "" when no key is available.
func (s *Service) storedKey(ctx context.Context) string {
	key, ok, err := s.kv.Get(ctx, localstore.KeySecurityKey)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to read cached recovery key", slog.Any("error", err))
	}
	if ok && key != "" {
		return key
	}

	user, err := s.identity.CurrentUser(ctx)
	if err != nil {
		return ""
	}
	rec, err := s.mirror.FetchUserRecord(ctx, user.ID)
	if err != nil || rec.SecurityKey == "" {
		return ""
	}

	key = recoverykey.Clean(rec.SecurityKey)
	if err := s.kv.Set(ctx, localstore.KeySecurityKey, key); err != nil {
		s.logger.WarnContext(ctx, "failed to cache recovery key", slog.Any("error", err))
	}
	return key
}

func (s *Service) applyBlock(ctx context.Context, reason models.BlockReason, at time.Time) error {
	err := s.kv.SetMany(ctx, map[string]string{
		localstore.KeyDeviceBlocked: localstore.FormatBool(true),
		localstore.KeyBlockReason:   reason.String(),
		localstore.KeyBlockedAt:     localstore.FormatTime(at),
	})
	if err != nil {
		return fmt.Errorf("failed to persist block: %w", err)
	}
	return nil
}

// blockLocked requires s.mu. Once the failed attempt cap is reached the
// lockout reason sticks until an unblock; other reasons only refresh it.
func (s *Service) blockLocked(ctx context.Context, reason models.BlockReason, details models.EventDetails) error {
	if details == nil {
		details = models.EventDetails{}
	}
	failed, err := localstore.GetInt(ctx, s.kv, localstore.KeyFailedUnlockAttempts)
	if err != nil {
		return fmt.Errorf("failed to read failed attempts: %w", err)
	}
	if failed >= models.MaxFailedAttempts && reason != models.BlockReasonTooManyFailedAttempts {
		details["requested_reason"] = reason.String()
		reason = models.BlockReasonTooManyFailedAttempts
	}

	now := s.now().UTC()
	if err := s.applyBlock(ctx, reason, now); err != nil {
		return err
	}

	user, _ := s.identity.CurrentUser(ctx)
	deviceID, _ := s.identity.DeviceID(ctx)
	userID := ""
	if user != nil {
		userID = user.ID
	}

	s.logger.WarnContext(ctx, "device blocked",
		slog.String("reason", reason.String()),
		slog.String("device_id", deviceID),
	)

	s.mirror.PushLockState(ctx, userID, deviceID, models.DeviceLockState{
		IsBlocked: true, BlockReason: reason, BlockedAt: &now,
	})

	details["reason"] = reason.String()
	s.events.Record(ctx, models.EventDeviceBlocked, models.SeverityHigh, "Device blocked: "+reason.Message(), details)
	s.recorder.BlockRecorded(reason.String())

	if user != nil && s.notificationsEnabled(ctx) {
		s.notifier.Blocked(ctx, user.Email, notify.DeviceInfo{
			DeviceID: deviceID,
			Name:     s.deviceName,
			Reason:   reason.String(),
			Message:  reason.Message(),
			At:       now,
		})
	}
	return nil
}

// unblockLocked requires s.mu
func (s *Service) unblockLocked(ctx context.Context, method string) error {
	err := s.kv.SetMany(ctx, map[string]string{
		localstore.KeyDeviceBlocked:        localstore.FormatBool(false),
		localstore.KeyFailedUnlockAttempts: "0",
		localstore.KeySuspiciousCount:      "0",
	}, localstore.KeyBlockReason, localstore.KeyBlockedAt)
	if err != nil {
		return fmt.Errorf("failed to persist unblock: %w", err)
	}

	user, _ := s.identity.CurrentUser(ctx)
	deviceID, _ := s.identity.DeviceID(ctx)
	userID := ""
	if user != nil {
		userID = user.ID
	}

	s.logger.InfoContext(ctx, "device unblocked",
		slog.String("method", method),
		slog.String("device_id", deviceID),
	)

	s.mirror.PushLockState(ctx, userID, deviceID, models.DeviceLockState{BlockReason: models.BlockReasonNone})
	s.events.Record(ctx, models.EventDeviceUnblocked, models.SeverityLow, "Device unblocked", models.EventDetails{"method": method})
	return nil
}
