package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/BradenHooton/devicelock/internal/identity"
	"github.com/BradenHooton/devicelock/internal/models"
	pkglogger "github.com/BradenHooton/devicelock/pkg/logger"
	"github.com/BradenHooton/devicelock/pkg/recoverykey"
)

// Identity stores the signed-in user
type Identity interface {
	CurrentUser(ctx context.Context) (*identity.User, error)
	SetUser(ctx context.Context, u identity.User) error
	Clear(ctx context.Context) error
	DeviceID(ctx context.Context) (string, error)
}

// LockService is the part of the state machine the session drives
type LockService interface {
	Reconcile(ctx context.Context) (models.DeviceLockState, error)
	CacheRecoveryKey(ctx context.Context, key string) error
}

// Mirror is the remote user and device store
type Mirror interface {
	UpdateUser(ctx context.Context, userID string, patch models.UserPatch) error
	RegisterDevice(ctx context.Context, rec *models.DeviceRecord)
	MarkOffline(ctx context.Context, deviceID string)
}

// Notifier delivers the recovery key out of band
type Notifier interface {
	RecoveryKey(ctx context.Context, email, formattedKey string)
}

// EventRecorder appends to the security event log
type EventRecorder interface {
	Record(ctx context.Context, typ models.SecurityEventType, severity models.Severity, description string, details models.EventDetails) *models.SecurityEvent
}

// Subscriber opens the remote command channel for a device
type Subscriber func(ctx context.Context, deviceID string) (io.Closer, error)

// Device describes this installation
type Device struct {
	Name     string
	Platform string
}

// Service owns the signed-in lifetime of the agent: login sync, device
// registration, enrolment and the command subscription.
type Service struct {
	identity  Identity
	lock      LockService
	mirror    Mirror
	notifier  Notifier
	events    EventRecorder
	subscribe Subscriber
	device    Device
	logger    *slog.Logger
	now       func() time.Time

	mu  sync.Mutex
	sub io.Closer
}

func NewService(id Identity, lock LockService, mirror Mirror, notifier Notifier, events EventRecorder, device Device, logger *slog.Logger) *Service {
	return &Service{
		identity: id,
		lock:     lock,
		mirror:   mirror,
		notifier: notifier,
		events:   events,
		device:   device,
		logger:   logger,
		now:      time.Now,
	}
}

// SetSubscriber enables the remote command channel
func (s *Service) SetSubscriber(sub Subscriber) {
	s.subscribe = sub
}

// Login signs user in on this device, registers the device remotely and
// reconciles lock state with the backend
func (s *Service) Login(ctx context.Context, user identity.User) (models.DeviceLockState, error) {
	if user.ID == "" {
		return models.DeviceLockState{}, fmt.Errorf("%w: user id required", models.ErrBadRequest)
	}
	if err := s.identity.SetUser(ctx, user); err != nil {
		return models.DeviceLockState{}, err
	}

	deviceID, err := s.identity.DeviceID(ctx)
	if err != nil {
		return models.DeviceLockState{}, err
	}

	now := s.now().UTC()
	s.mirror.RegisterDevice(ctx, &models.DeviceRecord{
		ID:           deviceID,
		UserID:       user.ID,
		Name:         s.device.Name,
		Platform:     s.device.Platform,
		Status:       models.DeviceStatus{IsOnline: true},
		RegisteredAt: now,
		LastOnline:   now,
	})

	state, err := s.lock.Reconcile(ctx)
	if err != nil {
		return state, err
	}

	s.startSubscription(ctx, deviceID)

	s.logger.InfoContext(ctx, "user signed in",
		slog.String("user_id", user.ID),
		slog.String("email", pkglogger.SanitizedEmail(user.Email)),
		slog.String("device_id", deviceID),
		slog.Bool("device_blocked", state.IsBlocked),
	)
	return state, nil
}

// Resume restores the subscription for a user who was signed in before a
// restart. It is a no-op without a session.
func (s *Service) Resume(ctx context.Context) error {
	user, err := s.identity.CurrentUser(ctx)
	if errors.Is(err, models.ErrNoSession) {
		return nil
	}
	if err != nil {
		return err
	}
	_, err = s.Login(ctx, *user)
	return err
}

// Logout closes the command channel, marks the device offline and forgets
// the user. Lock state and the cached key are kept.
func (s *Service) Logout(ctx context.Context) error {
	s.stopSubscription()

	if deviceID, err := s.identity.DeviceID(ctx); err == nil {
		s.mirror.MarkOffline(ctx, deviceID)
	}
	if err := s.identity.Clear(ctx); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "user signed out")
	return nil
}

// Enroll issues a new recovery key for the signed-in user, stores it
// remotely and locally, and emails it. The formatted key is returned for
// one-time display.
func (s *Service) Enroll(ctx context.Context) (string, error) {
	user, err := s.identity.CurrentUser(ctx)
	if err != nil {
		return "", err
	}

	key, err := recoverykey.Generate()
	if err != nil {
		return "", err
	}

	email := user.Email
	if err := s.mirror.UpdateUser(ctx, user.ID, models.UserPatch{Email: &email, SecurityKey: &key}); err != nil {
		return "", fmt.Errorf("failed to store recovery key: %w", err)
	}
	if err := s.lock.CacheRecoveryKey(ctx, key); err != nil {
		return "", err
	}

	formatted := recoverykey.Format(key)
	s.notifier.RecoveryKey(ctx, user.Email, formatted)
	s.events.Record(ctx, models.EventSystemAlert, models.SeverityMedium,
		"Recovery key issued", models.EventDetails{"delivery": "email"})

	s.logger.InfoContext(ctx, "recovery key issued", slog.String("user_id", user.ID))
	return formatted, nil
}

// Close releases the subscription
func (s *Service) Close() {
	s.stopSubscription()
}

func (s *Service) startSubscription(ctx context.Context, deviceID string) {
	if s.subscribe == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sub != nil {
		_ = s.sub.Close()
		s.sub = nil
	}

	sub, err := s.subscribe(ctx, deviceID)
	if err != nil {
		s.logger.WarnContext(ctx, "remote command subscription unavailable, relying on polling",
			slog.String("device_id", deviceID),
			slog.Any("error", err),
		)
		return
	}
	s.sub = sub
}

func (s *Service) stopSubscription() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sub == nil {
		return
	}
	if err := s.sub.Close(); err != nil {
		s.logger.Warn("failed to close command subscription", slog.Any("error", err))
	}
	s.sub = nil
}
