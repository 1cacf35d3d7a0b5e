package repositories

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/BradenHooton/devicelock/internal/database"
	"github.com/BradenHooton/devicelock/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/lib/pq"
)

// UserDocRepository is the per-user remote record
type UserDocRepository struct {
	db *database.DB
}

func NewUserDocRepository(db *database.DB) *UserDocRepository {
	return &UserDocRepository{db: db}
}

const userColumns = `id, email, device_blocked, blocked_at, block_reason, security_key, security_settings, device_ids, updated_at`

// scanUserRecord populates and validates a UserRecord from a database row
func scanUserRecord(scanner rowScanner) (*models.UserRecord, error) {
	var rec models.UserRecord
	var blockedAt *time.Time

	err := scanner.Scan(
		&rec.ID, &rec.Email, &rec.DeviceBlocked, &blockedAt, &rec.BlockReason,
		&rec.SecurityKey, &rec.SecuritySettings, pq.Array(&rec.DeviceIDs), &rec.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	rec.BlockedAt = blockedAt

	if err := rec.Validate(); err != nil {
		return nil, err
	}

	return &rec, nil
}

// ReadUserDoc returns the user's remote record
func (r *UserDocRepository) ReadUserDoc(ctx context.Context, id string) (*models.UserRecord, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	rec, err := scanUserRecord(r.db.Pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("failed to read user record: %w", err)
	}
	return rec, nil
}

// UpdateUserDoc applies patch to the user's record, creating it if missing
func (r *UserDocRepository) UpdateUserDoc(ctx context.Context, id string, patch models.UserPatch) error {
	sets, args := userPatchClause(patch)

	return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `INSERT INTO users (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, id); err != nil {
			return database.MapPostgresError(err)
		}

		args = append(args, id)
		query := fmt.Sprintf(`UPDATE users SET %s WHERE id = $%d`, strings.Join(sets, ", "), len(args))
		if _, err := tx.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to update user record: %w", database.MapPostgresError(err))
		}
		return nil
	})
}

// userPatchClause builds the SET list for the non-nil fields of patch.
// updated_at is always refreshed.
func userPatchClause(patch models.UserPatch) ([]string, []interface{}) {
	var sets []string
	var args []interface{}

	add := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if patch.Email != nil {
		add("email", *patch.Email)
	}
	if patch.DeviceBlocked != nil {
		add("device_blocked", *patch.DeviceBlocked)
	}
	if patch.ClearBlockedAt {
		sets = append(sets, "blocked_at = NULL")
	} else if patch.BlockedAt != nil {
		add("blocked_at", *patch.BlockedAt)
	}
	if patch.BlockReason != nil {
		add("block_reason", *patch.BlockReason)
	}
	if patch.SecurityKey != nil {
		add("security_key", *patch.SecurityKey)
	}
	if patch.SecuritySettings != nil {
		add("security_settings", patch.SecuritySettings)
	}
	if patch.AddDeviceID != nil {
		args = append(args, *patch.AddDeviceID)
		n := len(args)
		sets = append(sets, fmt.Sprintf(
			"device_ids = CASE WHEN $%d = ANY(device_ids) THEN device_ids ELSE array_append(device_ids, $%d) END", n, n))
	}

	sets = append(sets, "updated_at = NOW()")
	return sets, args
}
