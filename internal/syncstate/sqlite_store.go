package syncstate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS daily_sync_state (
	date              TEXT PRIMARY KEY,
	data_hash         TEXT NOT NULL DEFAULT '',
	last_synced_at    INTEGER NOT NULL DEFAULT 0,
	last_attempted_at INTEGER NOT NULL DEFAULT 0,
	last_error        TEXT,
	attempt_count     INTEGER NOT NULL DEFAULT 0
);`

// SQLiteStore persists sync state in a SQLite database. Timestamps are stored
// as Unix milliseconds; zero means never.
type SQLiteStore struct {
	db     *sql.DB
	logger zerolog.Logger
}

// OpenSQLiteStore opens (creating if needed) the database at path.
func OpenSQLiteStore(path string, logger zerolog.Logger) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create state directory: %w", err)
		}
	}

	// busy_timeout rides on the DSN so every pooled connection waits on
	// another process's write lock.
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open state database: %w", err)
	}

	// A single connection serializes writers and keeps :memory: databases shared.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("enable WAL mode: %w", err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate state database: %w", err)
	}

	logger.Debug().Str("path", path).Msg("sync state database ready")
	return &SQLiteStore{db: db, logger: logger}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, date string) (SyncState, bool, error) {
	return getRow(ctx, s.db, date)
}

// Upsert implements Store. The whole row is replaced in one statement.
func (s *SQLiteStore) Upsert(ctx context.Context, state SyncState) error {
	return upsertRow(ctx, s.db, state)
}

// Update implements Store. The read and the write share one BEGIN IMMEDIATE
// transaction, so a second process on the same file waits on busy_timeout
// instead of interleaving.
func (s *SQLiteStore) Update(ctx context.Context, date string, fn func(SyncState, bool) SyncState) (SyncState, error) {
	if date == "" {
		return SyncState{}, errors.New("sync state date is required")
	}
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return SyncState{}, fmt.Errorf("update sync state %s: %w", date, err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return SyncState{}, fmt.Errorf("update sync state %s: begin: %w", date, err)
	}
	committed := false
	defer func() {
		if !committed {
			if _, err := conn.ExecContext(context.WithoutCancel(ctx), "ROLLBACK"); err != nil {
				s.logger.Warn().Err(err).Str("date", date).Msg("sync state rollback failed")
			}
		}
	}()

	current, found, err := getRow(ctx, conn, date)
	if err != nil {
		return SyncState{}, err
	}
	if !found {
		current = SyncState{Date: date}
	}
	next := fn(current, found)
	next.Date = date
	if err := upsertRow(ctx, conn, next); err != nil {
		return SyncState{}, err
	}
	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return SyncState{}, fmt.Errorf("update sync state %s: commit: %w", date, err)
	}
	committed = true
	return next, nil
}

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getRow(ctx context.Context, q queryer, date string) (SyncState, bool, error) {
	row := q.QueryRowContext(ctx, `
		SELECT date, data_hash, last_synced_at, last_attempted_at, last_error, attempt_count
		FROM daily_sync_state WHERE date = ?`, date)

	state, err := scanState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return SyncState{}, false, nil
	}
	if err != nil {
		return SyncState{}, false, fmt.Errorf("get sync state %s: %w", date, err)
	}
	return state, true, nil
}

func upsertRow(ctx context.Context, q queryer, state SyncState) error {
	if state.Date == "" {
		return errors.New("sync state date is required")
	}
	var lastError sql.NullString
	if state.LastError != "" {
		lastError = sql.NullString{String: state.LastError, Valid: true}
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO daily_sync_state (date, data_hash, last_synced_at, last_attempted_at, last_error, attempt_count)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
			data_hash = excluded.data_hash,
			last_synced_at = excluded.last_synced_at,
			last_attempted_at = excluded.last_attempted_at,
			last_error = excluded.last_error,
			attempt_count = excluded.attempt_count`,
		state.Date,
		state.DataHash,
		toMillis(state.LastSyncedAt),
		toMillis(state.LastAttemptedAt),
		lastError,
		state.AttemptCount,
	)
	if err != nil {
		return fmt.Errorf("upsert sync state %s: %w", state.Date, err)
	}
	return nil
}

// ClearAll implements Store.
func (s *SQLiteStore) ClearAll(ctx context.Context) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM daily_sync_state`)
	if err != nil {
		return fmt.Errorf("clear sync state: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil {
		s.logger.Info().Int64("rows", n).Msg("sync state wiped")
	}
	return nil
}

// List implements Store. Rows are ordered by date.
func (s *SQLiteStore) List(ctx context.Context) ([]SyncState, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT date, data_hash, last_synced_at, last_attempted_at, last_error, attempt_count
		FROM daily_sync_state ORDER BY date`)
	if err != nil {
		return nil, fmt.Errorf("list sync state: %w", err)
	}
	defer rows.Close()

	states := make([]SyncState, 0)
	for rows.Next() {
		state, err := scanState(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sync state: %w", err)
		}
		states = append(states, state)
	}
	return states, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanState(row scanner) (SyncState, error) {
	var (
		state       SyncState
		syncedAt    int64
		attemptedAt int64
		lastError   sql.NullString
	)
	if err := row.Scan(&state.Date, &state.DataHash, &syncedAt, &attemptedAt, &lastError, &state.AttemptCount); err != nil {
		return SyncState{}, err
	}
	state.LastSyncedAt = fromMillis(syncedAt)
	state.LastAttemptedAt = fromMillis(attemptedAt)
	state.LastError = lastError.String
	return state, nil
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
