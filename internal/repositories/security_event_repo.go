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

// SecurityEventRepository stores the remote copies of security events
type SecurityEventRepository struct {
	pool *pgxpool.Pool
}

func NewSecurityEventRepository(db *database.DB) *SecurityEventRepository {
	return &SecurityEventRepository{pool: db.Pool}
}

func scanSecurityEventRecord(row rowScanner) (*models.SecurityEventRecord, error) {
	var rec models.SecurityEventRecord

	err := row.Scan(
		&rec.Collection, &rec.ID, &rec.Type, &rec.Description, &rec.Timestamp,
		&rec.DeviceID, &rec.UserID, &rec.Severity, &rec.Details, &rec.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	if err := rec.Validate(); err != nil {
		return nil, err
	}
	return &rec, nil
}

func scanSecurityEventRecords(rows pgx.Rows) ([]*models.SecurityEventRecord, error) {
	defer rows.Close()

	records := make([]*models.SecurityEventRecord, 0)
	for rows.Next() {
		rec, err := scanSecurityEventRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan security event: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating security event rows: %w", err)
	}
	return records, nil
}

// AppendEvent writes event into collection ("user" or "global")
func (r *SecurityEventRepository) AppendEvent(ctx context.Context, collection string, event *models.SecurityEvent) error {
	rec := &models.SecurityEventRecord{SecurityEvent: *event, Collection: collection}
	if err := rec.Validate(); err != nil {
		return err
	}

	details := event.Details
	if details == nil {
		details = models.EventDetails{}
	}

	query := `
		INSERT INTO security_events (collection, id, type, description, occurred_at, device_id, user_id, severity, details)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (collection, id) DO NOTHING
	`

	_, err := r.pool.Exec(ctx, query,
		collection, event.ID, string(event.Type), event.Description, event.Timestamp,
		event.DeviceID, event.UserID, string(event.Severity), details,
	)
	if err != nil {
		return fmt.Errorf("failed to append security event: %w", database.MapPostgresError(err))
	}
	return nil
}

// ListByUser returns the user's own trail, newest first
func (r *SecurityEventRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*models.SecurityEventRecord, error) {
	query := `
		SELECT collection, id, type, description, occurred_at, device_id, user_id, severity, details, created_at
		FROM security_events
		WHERE collection = 'user' AND user_id = $1
		ORDER BY occurred_at DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return scanSecurityEventRecords(rows)
}

// DeleteOlderThan removes events created before cutoff from both collections
func (r *SecurityEventRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.pool.Exec(ctx, `DELETE FROM security_events WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}
