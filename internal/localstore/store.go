package localstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/BradenHooton/devicelock/internal/models"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS kv (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS security_events (
	id TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	description TEXT NOT NULL,
	timestamp TEXT NOT NULL,
	device_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	severity TEXT NOT NULL,
	details TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_security_events_user ON security_events(user_id);
CREATE INDEX IF NOT EXISTS idx_security_events_timestamp ON security_events(timestamp);
`

// KV is the durable field store the lock state machine reads and writes.
// A read that follows a write on the same store observes that write.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
	// SetMany writes values and removes keys in a single transaction
	SetMany(ctx context.Context, values map[string]string, remove ...string) error
	// Increment atomically adds delta to an integer field (missing = 0) and
	// returns the new value
	Increment(ctx context.Context, key string, delta int) (int, error)
}

// EventStore is the local, user-scoped copy of the security event log
type EventStore interface {
	AppendEvent(ctx context.Context, event *models.SecurityEvent) error
	RecentEvents(ctx context.Context, userID string, limit int) ([]*models.SecurityEvent, error)
	PruneEvents(ctx context.Context, before time.Time) (int64, error)
}

// SQLiteStore implements KV and EventStore on a single SQLite file.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (or creates) the local state database.
func Open(path string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening local store: %w", err)
	}

	// One connection serialises every read-modify-write against the file
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000", "PRAGMA synchronous=FULL"} {
		if _, err := db.Exec(pragma); err != nil {
			if cerr := db.Close(); cerr != nil {
				return nil, fmt.Errorf("%s: %w (also: close: %v)", pragma, err, cerr)
			}
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		if cerr := db.Close(); cerr != nil {
			return nil, fmt.Errorf("creating schema: %w (also: close: %v)", err, cerr)
		}
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("local store opened", slog.String("path", path))

	return &SQLiteStore{db: db, logger: logger}, nil
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return value, true, nil
}

const upsertQuery = `
	INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
`

func (s *SQLiteStore) Set(ctx context.Context, key, value string) error {
	if _, err := s.db.ExecContext(ctx, upsertQuery, key, value, now()); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) Remove(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to remove %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) SetMany(ctx context.Context, values map[string]string, remove ...string) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	ts := now()
	for key, value := range values {
		if _, err = tx.ExecContext(ctx, upsertQuery, key, value, ts); err != nil {
			return fmt.Errorf("failed to write %s: %w", key, err)
		}
	}
	for _, key := range remove {
		if _, err = tx.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
			return fmt.Errorf("failed to remove %s: %w", key, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

const incrementQuery = `
	INSERT INTO kv (key, value, updated_at) VALUES (?, CAST(? AS TEXT), ?)
	ON CONFLICT(key) DO UPDATE
		SET value = CAST(CAST(kv.value AS INTEGER) + ? AS TEXT), updated_at = excluded.updated_at
	RETURNING CAST(value AS INTEGER)
`

func (s *SQLiteStore) Increment(ctx context.Context, key string, delta int) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, incrementQuery, key, delta, now(), delta).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to increment %s: %w", key, err)
	}
	return n, nil
}

func (s *SQLiteStore) AppendEvent(ctx context.Context, e *models.SecurityEvent) error {
	details, err := e.Details.Value()
	if err != nil {
		return fmt.Errorf("failed to encode event details: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO security_events (id, type, description, timestamp, device_id, user_id, severity, details)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, string(e.Type), e.Description, e.Timestamp.UTC().Format(timeLayout),
		e.DeviceID, e.UserID, string(e.Severity), string(details.([]byte)),
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RecentEvents(ctx context.Context, userID string, limit int) ([]*models.SecurityEvent, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, type, description, timestamp, device_id, user_id, severity, details
		 FROM security_events WHERE user_id = ? ORDER BY timestamp DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	events := []*models.SecurityEvent{}
	for rows.Next() {
		var (
			e       models.SecurityEvent
			ts      string
			details string
		)
		if err := rows.Scan(&e.ID, &e.Type, &e.Description, &ts, &e.DeviceID, &e.UserID, &e.Severity, &details); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if e.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("failed to parse event timestamp: %w", err)
		}
		if err := e.Details.Scan(details); err != nil {
			return nil, fmt.Errorf("failed to decode event details: %w", err)
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}

func (s *SQLiteStore) PruneEvents(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM security_events WHERE timestamp < ?`,
		before.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to prune events: %w", err)
	}
	return res.RowsAffected()
}

// timeLayout is fixed width so stored timestamps sort lexically
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func now() string {
	return time.Now().UTC().Format(timeLayout)
}

// Typed accessors over a KV.

// GetBool reads a "true"/"false" field. Missing or unparsable is false.
func GetBool(ctx context.Context, kv KV, key string) (bool, error) {
	v, ok, err := kv.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	b, _ := strconv.ParseBool(v)
	return b, nil
}

// GetInt reads an integer field. Missing or unparsable is 0.
func GetInt(ctx context.Context, kv KV, key string) (int, error) {
	v, ok, err := kv.Get(ctx, key)
	if err != nil || !ok {
		return 0, err
	}
	n, _ := strconv.Atoi(v)
	return n, nil
}

// GetTime reads an RFC 3339 timestamp field. Missing or unparsable is nil.
func GetTime(ctx context.Context, kv KV, key string) (*time.Time, error) {
	v, ok, err := kv.Get(ctx, key)
	if err != nil || !ok {
		return nil, err
	}
	t, perr := time.Parse(time.RFC3339Nano, v)
	if perr != nil {
		return nil, nil
	}
	return &t, nil
}

// FormatBool and FormatTime produce the stored representation
func FormatBool(b bool) string { return strconv.FormatBool(b) }

func FormatTime(t time.Time) string { return t.UTC().Format(timeLayout) }
