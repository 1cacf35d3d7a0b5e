package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/BradenHooton/devicelock/internal/models"
	pkglogger "github.com/BradenHooton/devicelock/pkg/logger"
)

// Store is the remote command queue
type Store interface {
	GetByID(ctx context.Context, id string) (*models.RemoteCommand, error)
	ListPending(ctx context.Context, deviceID string) ([]*models.RemoteCommand, error)
	ClaimPending(ctx context.Context, id string) error
	Complete(ctx context.Context, id string, status models.RemoteCommandStatus, result *models.CommandResult) error
}

// LockService is the part of the state machine commands drive
type LockService interface {
	Block(ctx context.Context, reason models.BlockReason, details models.EventDetails) error
	AttemptUnlock(ctx context.Context, key string) (models.UnlockResult, error)
}

// EventRecorder appends to the security event log
type EventRecorder interface {
	Record(ctx context.Context, typ models.SecurityEventType, severity models.Severity, description string, details models.EventDetails) *models.SecurityEvent
}

// Recorder receives command metrics
type Recorder interface {
	CommandProcessed(commandType, status string)
}

type noopRecorder struct{}

func (noopRecorder) CommandProcessed(string, string) {}

// Executor claims and runs remote commands against the lock state machine
type Executor struct {
	store    Store
	lock     LockService
	events   EventRecorder
	audit    *pkglogger.AuditLogger
	recorder Recorder
	logger   *slog.Logger
}

func NewExecutor(store Store, lock LockService, events EventRecorder, logger *slog.Logger) *Executor {
	return &Executor{
		store:    store,
		lock:     lock,
		events:   events,
		audit:    pkglogger.NewAuditLogger(logger),
		recorder: noopRecorder{},
		logger:   logger,
	}
}

// SetRecorder registers r for command metrics
func (e *Executor) SetRecorder(r Recorder) {
	if r != nil {
		e.recorder = r
	}
}

// ExecuteByID loads a command and executes it if it targets deviceID
func (e *Executor) ExecuteByID(ctx context.Context, id, deviceID string) error {
	cmd, err := e.store.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load remote command: %w", err)
	}
	if cmd.DeviceID != deviceID {
		e.logger.WarnContext(ctx, "ignoring remote command for another device",
			slog.String("command_id", id),
			slog.String("target_device_id", cmd.DeviceID),
		)
		return nil
	}
	return e.Execute(ctx, cmd)
}

// ProcessPending executes every pending command for deviceID and returns
// how many were run
func (e *Executor) ProcessPending(ctx context.Context, deviceID string) (int, error) {
	pending, err := e.store.ListPending(ctx, deviceID)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending commands: %w", err)
	}

	processed := 0
	for _, cmd := range pending {
		if err := e.Execute(ctx, cmd); err != nil {
			e.logger.ErrorContext(ctx, "remote command failed",
				slog.String("command_id", cmd.ID),
				slog.Any("error", err),
			)
			continue
		}
		processed++
	}
	return processed, nil
}

// Execute claims cmd, runs it and stores the result. A command another
// consumer already claimed is skipped.
func (e *Executor) Execute(ctx context.Context, cmd *models.RemoteCommand) error {
	if cmd.IsTerminal() {
		return nil
	}

	if err := e.store.ClaimPending(ctx, cmd.ID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("failed to claim remote command: %w", err)
	}

	result := e.run(ctx, cmd)
	status := models.CommandStatusCompleted
	if !result.Success {
		status = models.CommandStatusFailed
	}

	if err := e.store.Complete(ctx, cmd.ID, status, result); err != nil {
		e.logger.ErrorContext(ctx, "failed to store remote command result",
			slog.String("command_id", cmd.ID),
			slog.Any("error", err),
		)
	}

	severity := models.SeverityMedium
	if cmd.Type == models.CommandLock || cmd.Type == models.CommandWipe {
		severity = models.SeverityHigh
	}
	e.events.Record(ctx, models.EventRemoteCommand, severity,
		fmt.Sprintf("Remote command %s %s", cmd.Type, status),
		models.EventDetails{
			"command_id":   cmd.ID,
			"command_type": string(cmd.Type),
			"success":      result.Success,
			"error":        result.Error,
		})
	e.audit.LogCommandExecution(ctx, cmd.ID, string(cmd.Type), cmd.DeviceID, result.Success, result.Error)
	e.recorder.CommandProcessed(string(cmd.Type), string(status))

	cmd.Status = status
	cmd.Result = result
	return nil
}

func (e *Executor) run(ctx context.Context, cmd *models.RemoteCommand) *models.CommandResult {
	switch cmd.Type {
	case models.CommandLock:
		reason := models.ParseBlockReason(cmd.Params.Reason)
		if reason == models.BlockReasonNone {
			reason = models.BlockReasonRemoteCommand
		}
		err := e.lock.Block(ctx, reason, models.EventDetails{"command_id": cmd.ID, "source": "remote"})
		if err != nil {
			return &models.CommandResult{Error: err.Error()}
		}
		return &models.CommandResult{Success: true, Message: "Device locked"}

	case models.CommandUnlock:
		if cmd.Params.SecurityKey == "" {
			return &models.CommandResult{Error: "security key required"}
		}
		res, err := e.lock.AttemptUnlock(ctx, cmd.Params.SecurityKey)
		if err != nil {
			return &models.CommandResult{Error: err.Error()}
		}
		if !res.Success {
			return &models.CommandResult{Error: res.Message}
		}
		return &models.CommandResult{Success: true, Message: res.Message}

	default:
		return &models.CommandResult{Error: fmt.Sprintf("%s: %s", models.ErrUnsupportedCommand, cmd.Type)}
	}
}
