package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/devicelock/internal/database"
	"github.com/BradenHooton/devicelock/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DeviceRepository is the per-device remote record
type DeviceRepository struct {
	pool *pgxpool.Pool
}

func NewDeviceRepository(db *database.DB) *DeviceRepository {
	return &DeviceRepository{pool: db.Pool}
}

const deviceColumns = `id, user_id, name, platform, is_blocked, blocked_at, block_reason, is_online, registered_at, last_online`

func scanDeviceRecord(scanner rowScanner) (*models.DeviceRecord, error) {
	var rec models.DeviceRecord
	var blockedAt *time.Time

	err := scanner.Scan(
		&rec.ID, &rec.UserID, &rec.Name, &rec.Platform,
		&rec.Status.IsBlocked, &blockedAt, &rec.Status.BlockReason, &rec.Status.IsOnline,
		&rec.RegisteredAt, &rec.LastOnline,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	rec.Status.BlockedAt = blockedAt

	if err := rec.Validate(); err != nil {
		return nil, err
	}
	return &rec, nil
}

func scanDeviceRecords(rows pgx.Rows) ([]*models.DeviceRecord, error) {
	defer rows.Close()

	devices := make([]*models.DeviceRecord, 0)
	for rows.Next() {
		rec, err := scanDeviceRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		devices = append(devices, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating device rows: %w", err)
	}
	return devices, nil
}

// Register creates the device record, or marks an existing one online
func (r *DeviceRepository) Register(ctx context.Context, rec *models.DeviceRecord) error {
	query := `
		INSERT INTO devices (id, user_id, name, platform, is_online, registered_at, last_online)
		VALUES ($1, $2, $3, $4, TRUE, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE
			SET user_id = excluded.user_id, name = excluded.name, platform = excluded.platform,
			    is_online = TRUE, last_online = NOW()
	`

	if _, err := r.pool.Exec(ctx, query, rec.ID, rec.UserID, rec.Name, rec.Platform); err != nil {
		return fmt.Errorf("failed to register device: %w", database.MapPostgresError(err))
	}
	return nil
}

// UpdateStatus writes the lock status and refreshes lastOnline
func (r *DeviceRepository) UpdateStatus(ctx context.Context, id string, status models.DeviceStatus) error {
	query := `
		UPDATE devices SET is_blocked = $1, blocked_at = $2, block_reason = $3, last_online = NOW()
		WHERE id = $4
	`

	result, err := r.pool.Exec(ctx, query, status.IsBlocked, status.BlockedAt, status.BlockReason, id)
	if err != nil {
		return fmt.Errorf("failed to update device status: %w", database.MapPostgresError(err))
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// SetOffline clears the online flag on logout
func (r *DeviceRepository) SetOffline(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `UPDATE devices SET is_online = FALSE, last_online = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to mark device offline: %w", database.MapPostgresError(err))
	}
	return nil
}

func (r *DeviceRepository) GetByID(ctx context.Context, id string) (*models.DeviceRecord, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE id = $1`

	rec, err := scanDeviceRecord(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (r *DeviceRepository) ListByUser(ctx context.Context, userID string) ([]*models.DeviceRecord, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE user_id = $1 ORDER BY registered_at`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return scanDeviceRecords(rows)
}
