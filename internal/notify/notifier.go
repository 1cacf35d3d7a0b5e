package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	pkglogger "github.com/BradenHooton/devicelock/pkg/logger"
)

// DeviceInfo identifies the device a notification is about
type DeviceInfo struct {
	DeviceID string
	Name     string
	Reason   string
	Message  string
	At       time.Time
}

// Sender delivers notifications to the account owner
type Sender interface {
	SendRecoveryKey(ctx context.Context, email, formattedKey string) error
	SendBlockedNotification(ctx context.Context, email string, info DeviceInfo) error
	SendSuspiciousActivity(ctx context.Context, email string, info DeviceInfo, count int) error
}

// Dispatcher sends notifications in the background. Failures are logged
// and never reach the caller.
type Dispatcher struct {
	sender  Sender
	timeout time.Duration
	logger  *slog.Logger
	wg      sync.WaitGroup
}

func NewDispatcher(sender Sender, timeout time.Duration, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{sender: sender, timeout: timeout, logger: logger}
}

// Wait blocks until in-flight notifications have finished
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) dispatch(ctx context.Context, kind, email string, fn func(context.Context) error) {
	if email == "" {
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()

		if err := fn(ctx); err != nil {
			d.logger.WarnContext(ctx, "notification failed",
				slog.String("kind", kind),
				slog.String("email", pkglogger.SanitizedEmail(email)),
				slog.Any("error", err),
			)
		}
	}()
}

func (d *Dispatcher) RecoveryKey(ctx context.Context, email, formattedKey string) {
	d.dispatch(ctx, "recovery_key", email, func(ctx context.Context) error {
		return d.sender.SendRecoveryKey(ctx, email, formattedKey)
	})
}

func (d *Dispatcher) Blocked(ctx context.Context, email string, info DeviceInfo) {
	d.dispatch(ctx, "device_blocked", email, func(ctx context.Context) error {
		return d.sender.SendBlockedNotification(ctx, email, info)
	})
}

func (d *Dispatcher) SuspiciousActivity(ctx context.Context, email string, info DeviceInfo, count int) {
	d.dispatch(ctx, "suspicious_activity", email, func(ctx context.Context) error {
		return d.sender.SendSuspiciousActivity(ctx, email, info, count)
	})
}

// LogSender writes notifications to the log instead of sending them
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) SendRecoveryKey(ctx context.Context, email, formattedKey string) error {
	s.logger.InfoContext(ctx, "recovery key notification",
		slog.String("email", pkglogger.SanitizedEmail(email)),
		slog.String("key", pkglogger.MaskedKey(formattedKey)),
	)
	return nil
}

func (s *LogSender) SendBlockedNotification(ctx context.Context, email string, info DeviceInfo) error {
	s.logger.InfoContext(ctx, "device blocked notification",
		slog.String("email", pkglogger.SanitizedEmail(email)),
		slog.String("device_id", info.DeviceID),
		slog.String("reason", info.Reason),
	)
	return nil
}

func (s *LogSender) SendSuspiciousActivity(ctx context.Context, email string, info DeviceInfo, count int) error {
	s.logger.InfoContext(ctx, "suspicious activity notification",
		slog.String("email", pkglogger.SanitizedEmail(email)),
		slog.String("device_id", info.DeviceID),
		slog.Int("count", count),
	)
	return nil
}
