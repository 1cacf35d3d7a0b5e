package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/devicelock/internal/localstore"
	"github.com/BradenHooton/devicelock/internal/models"
	pkglogger "github.com/BradenHooton/devicelock/pkg/logger"
	"github.com/google/uuid"
)

// RemoteAppender receives best-effort remote copies of events
type RemoteAppender interface {
	AppendEvent(ctx context.Context, event *models.SecurityEvent)
}

// Identity resolves who and where an event happened
type Identity interface {
	CurrentUserID(ctx context.Context) string
	DeviceID(ctx context.Context) (string, error)
}

// Log is the append-only security event log. Every event is written to the
// local store, mirrored to the remote user and global collections, and
// emitted as an audit line. No write failure reaches the caller.
type Log struct {
	local    localstore.EventStore
	remote   RemoteAppender
	identity Identity
	audit    *pkglogger.AuditLogger
	logger   *slog.Logger
	now      func() time.Time
}

func NewLog(local localstore.EventStore, remote RemoteAppender, identity Identity, logger *slog.Logger) *Log {
	return &Log{
		local:    local,
		remote:   remote,
		identity: identity,
		audit:    pkglogger.NewAuditLogger(logger),
		logger:   logger,
		now:      time.Now,
	}
}

// Record builds, stores and returns an event
func (l *Log) Record(ctx context.Context, typ models.SecurityEventType, severity models.Severity, description string, details models.EventDetails) *models.SecurityEvent {
	if details == nil {
		details = models.EventDetails{}
	}

	deviceID, err := l.identity.DeviceID(ctx)
	if err != nil {
		l.logger.WarnContext(ctx, "event recorded without device id", slog.Any("error", err))
	}

	event := &models.SecurityEvent{
		ID:          uuid.NewString(),
		Type:        typ,
		Description: description,
		Timestamp:   l.now().UTC(),
		DeviceID:    deviceID,
		UserID:      l.identity.CurrentUserID(ctx),
		Severity:    severity,
		Details:     details,
	}

	l.audit.LogSecurityEvent(ctx, pkglogger.AuditEvent{
		EventType:   string(event.Type),
		UserID:      event.UserID,
		DeviceID:    event.DeviceID,
		Severity:    string(event.Severity),
		Description: event.Description,
		Metadata:    stringDetails(details),
	})

	if err := l.local.AppendEvent(ctx, event); err != nil {
		l.logger.ErrorContext(ctx, "failed to persist security event",
			slog.String("event_type", string(typ)),
			slog.Any("error", err),
		)
	}

	l.remote.AppendEvent(ctx, event)

	return event
}

// Recent returns the signed-in user's latest events, newest first
func (l *Log) Recent(ctx context.Context, limit int) ([]*models.SecurityEvent, error) {
	userID := l.identity.CurrentUserID(ctx)
	if userID == "" {
		return nil, models.ErrNoSession
	}

	events, err := l.local.RecentEvents(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list security events: %w", err)
	}
	return events, nil
}

// Prune drops local events older than retention
func (l *Log) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	return l.local.PruneEvents(ctx, l.now().Add(-retention))
}

func stringDetails(details models.EventDetails) map[string]string {
	out := make(map[string]string, len(details))
	for k, v := range details {
		out[k] = fmt.Sprint(v)
	}
	return out
}
