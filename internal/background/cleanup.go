package background

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// LocalEvents prunes the on-device event log
type LocalEvents interface {
	PruneEvents(ctx context.Context, before time.Time) (int64, error)
}

// RemoteEvents prunes remote copies of security events
type RemoteEvents interface {
	DeleteOlderThan(ctx context.Context, before time.Time) (int64, error)
}

// CommandExpirer fails commands that were never executed
type CommandExpirer interface {
	FailStale(ctx context.Context, cutoff time.Time) (int64, error)
}

// DefaultCommandTTL is how long a command may wait before it is expired
const DefaultCommandTTL = 24 * time.Hour

// CleanupManager periodically removes expired security events and fails
// remote commands that were never picked up
type CleanupManager struct {
	local      LocalEvents
	remote     RemoteEvents
	commands   CommandExpirer
	retention  time.Duration
	commandTTL time.Duration
	logger     *slog.Logger
	interval   time.Duration
	stopCh     chan struct{}
	stopOnce   sync.Once
	now        func() time.Time
}

// NewCleanupManager creates a new cleanup manager. remote and commands may
// be nil when no backend is configured.
func NewCleanupManager(
	local LocalEvents,
	remote RemoteEvents,
	commands CommandExpirer,
	retention time.Duration,
	logger *slog.Logger,
	interval time.Duration,
) *CleanupManager {
	return &CleanupManager{
		local:      local,
		remote:     remote,
		commands:   commands,
		retention:  retention,
		commandTTL: DefaultCommandTTL,
		logger:     logger,
		interval:   interval,
		stopCh:     make(chan struct{}),
		now:        time.Now,
	}
}

// Start begins the periodic cleanup task
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	// Run immediately on startup
	cm.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			cm.RunOnce(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

// RunOnce performs a single cleanup pass
func (cm *CleanupManager) RunOnce(ctx context.Context) {
	cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cutoff := cm.now().Add(-cm.retention)

	if n, err := cm.local.PruneEvents(cleanupCtx, cutoff); err != nil {
		cm.logger.Error("failed to prune local security events", slog.Any("error", err))
	} else if n > 0 {
		cm.logger.Info("local security events pruned", slog.Int64("rows_deleted", n))
	}

	if cm.remote != nil {
		if n, err := cm.remote.DeleteOlderThan(cleanupCtx, cutoff); err != nil {
			cm.logger.Warn("failed to prune remote security events", slog.Any("error", err))
		} else if n > 0 {
			cm.logger.Info("remote security events pruned", slog.Int64("rows_deleted", n))
		}
	}

	if cm.commands != nil {
		if n, err := cm.commands.FailStale(cleanupCtx, cm.now().Add(-cm.commandTTL)); err != nil {
			cm.logger.Warn("failed to expire stale remote commands", slog.Any("error", err))
		} else if n > 0 {
			cm.logger.Info("stale remote commands expired", slog.Int64("commands", n))
		}
	}
}

// Stop signals the cleanup manager to stop
func (cm *CleanupManager) Stop() {
	cm.stopOnce.Do(func() { close(cm.stopCh) })
}
