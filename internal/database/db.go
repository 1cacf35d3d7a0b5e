package database

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/BradenHooton/devicelock/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// MapPostgresError translates driver errors into model sentinels. Lost
// connections and timeouts become ErrRemoteUnavailable so callers can
// degrade to local state; CHECK violations on the enum columns (severity,
// collection, command status) become ErrInvalidRecord.
func MapPostgresError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return models.ErrNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "23505": // unique_violation
			return models.ErrConflict
		case pgErr.Code == "23503", pgErr.Code == "23502": // foreign_key_violation, not_null_violation
			return models.ErrBadRequest
		case pgErr.Code == "23514": // check_violation
			return fmt.Errorf("%w: %s violates %s", models.ErrInvalidRecord, pgErr.TableName, pgErr.ConstraintName)
		case strings.HasPrefix(pgErr.Code, "08"), pgErr.Code == "57P01": // connection_exception, admin_shutdown
			return fmt.Errorf("%w: %s", models.ErrRemoteUnavailable, pgErr.Message)
		}
		return err
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) || pgconn.Timeout(err) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", models.ErrRemoteUnavailable, err)
	}

	return err
}

func (db *DB) WithTransaction(ctx context.Context, fn func(pgx.Tx) error) (err error) {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return MapPostgresError(err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		} else if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			err = tx.Commit(ctx)
		}
	}()

	err = fn(tx)
	return err
}
