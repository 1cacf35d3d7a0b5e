package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/devicelock/internal/database"
	"github.com/BradenHooton/devicelock/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RemoteCommandRepository is the queue of commands addressed to devices
type RemoteCommandRepository struct {
	pool *pgxpool.Pool
}

func NewRemoteCommandRepository(db *database.DB) *RemoteCommandRepository {
	return &RemoteCommandRepository{pool: db.Pool}
}

const commandColumns = `id, type, device_id, user_id, status, params, result, created_at, executed_at`

func scanRemoteCommand(row rowScanner) (*models.RemoteCommand, error) {
	var cmd models.RemoteCommand
	var executedAt *time.Time

	err := row.Scan(
		&cmd.ID, &cmd.Type, &cmd.DeviceID, &cmd.UserID, &cmd.Status,
		&cmd.Params, &cmd.Result, &cmd.CreatedAt, &executedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	cmd.ExecutedAt = executedAt

	if err := models.ValidateCommand(&cmd); err != nil {
		return nil, err
	}
	return &cmd, nil
}

func scanRemoteCommands(rows pgx.Rows) ([]*models.RemoteCommand, error) {
	defer rows.Close()

	commands := make([]*models.RemoteCommand, 0)
	for rows.Next() {
		cmd, err := scanRemoteCommand(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan remote command: %w", err)
		}
		commands = append(commands, cmd)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating remote command rows: %w", err)
	}
	return commands, nil
}

// Create queues a pending command
func (r *RemoteCommandRepository) Create(ctx context.Context, cmd *models.RemoteCommand) (*models.RemoteCommand, error) {
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	if err := models.ValidateCommand(cmd); err != nil {
		return nil, err
	}

	query := `
		INSERT INTO remote_commands (id, type, device_id, user_id, status, params)
		VALUES ($1, $2, $3, $4, 'pending', $5)
		RETURNING ` + commandColumns

	created, err := scanRemoteCommand(r.pool.QueryRow(ctx, query,
		cmd.ID, string(cmd.Type), cmd.DeviceID, cmd.UserID, cmd.Params,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create remote command: %w", err)
	}
	return created, nil
}

func (r *RemoteCommandRepository) GetByID(ctx context.Context, id string) (*models.RemoteCommand, error) {
	query := `SELECT ` + commandColumns + ` FROM remote_commands WHERE id = $1`
	return scanRemoteCommand(r.pool.QueryRow(ctx, query, id))
}

// ListPending returns the device's pending commands, oldest first
func (r *RemoteCommandRepository) ListPending(ctx context.Context, deviceID string) ([]*models.RemoteCommand, error) {
	query := `
		SELECT ` + commandColumns + `
		FROM remote_commands
		WHERE device_id = $1 AND status = 'pending'
		ORDER BY created_at
	`

	rows, err := r.pool.Query(ctx, query, deviceID)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return scanRemoteCommands(rows)
}

// ClaimPending moves a command from pending to executing. It returns
// ErrNotFound if another consumer already claimed it.
func (r *RemoteCommandRepository) ClaimPending(ctx context.Context, id string) error {
	result, err := r.pool.Exec(ctx,
		`UPDATE remote_commands SET status = 'executing' WHERE id = $1 AND status = 'pending'`, id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// Complete stores the terminal status and result
func (r *RemoteCommandRepository) Complete(ctx context.Context, id string, status models.RemoteCommandStatus, result *models.CommandResult) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE remote_commands SET status = $1, result = $2, executed_at = NOW() WHERE id = $3`,
		string(status), result, id)
	if err != nil {
		return fmt.Errorf("failed to complete remote command: %w", database.MapPostgresError(err))
	}
	return nil
}

// FailStale marks commands stuck in pending or executing since before
// cutoff as failed
func (r *RemoteCommandRepository) FailStale(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.pool.Exec(ctx, `
		UPDATE remote_commands
		SET status = 'failed', result = '{"success": false, "error": "expired"}', executed_at = NOW()
		WHERE status IN ('pending', 'executing') AND created_at < $1
	`, cutoff)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}
