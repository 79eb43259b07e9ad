package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/brensch/arrowblock/game"
)

// SessionDB indexes played sessions in SQLite.
type SessionDB struct {
	conn *sql.DB
}

// SessionRecord is one row of the sessions table. EndedAt is zero while a
// session is still running (or if it crashed).
type SessionRecord struct {
	ID         string
	Mode       string
	ReplayPath string
	StartedAt  time.Time
	EndedAt    time.Time
	Ticks      uint64
	Commands   int
	FinalState *game.BlockState
}

func OpenSessionDB(path string) (*SessionDB, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite only supports one writer
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	db := &SessionDB{conn: conn}
	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

func (db *SessionDB) initSchema() error {
	stmts := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			mode TEXT NOT NULL,          -- "live" or "replay"
			replay_path TEXT NOT NULL DEFAULT '',
			started_at TEXT NOT NULL,
			ended_at TEXT NOT NULL DEFAULT '',
			ticks INTEGER NOT NULL DEFAULT 0,
			commands INTEGER NOT NULL DEFAULT 0,
			final_state TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_started_at ON sessions(started_at);`,
	}
	for _, s := range stmts {
		if _, err := db.conn.Exec(s); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (db *SessionDB) Close() error {
	return db.conn.Close()
}

func (db *SessionDB) BeginSession(ctx context.Context, id, mode, replayPath string, startedAt time.Time) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO sessions (id, mode, replay_path, started_at) VALUES (?, ?, ?, ?)`,
		id, mode, replayPath, startedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("begin session %s: %w", id, err)
	}
	return nil
}

func (db *SessionDB) EndSession(ctx context.Context, id string, endedAt time.Time, commands int, final game.BlockState) error {
	data, err := SaveState(final)
	if err != nil {
		return err
	}
	res, err := db.conn.ExecContext(ctx,
		`UPDATE sessions SET ended_at = ?, ticks = ?, commands = ?, final_state = ? WHERE id = ?`,
		endedAt.UTC().Format(time.RFC3339Nano), int64(final.Tick), commands, string(data), id)
	if err != nil {
		return fmt.Errorf("end session %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("end session %s: no such session", id)
	}
	return nil
}

// ErrSessionNotFound is returned by GetSession for an unknown id.
var ErrSessionNotFound = errors.New("session not found")

const sessionColumns = `id, mode, replay_path, started_at, ended_at, ticks, commands, final_state`

// ListSessions returns the most recent sessions first.
func (db *SessionDB) ListSessions(ctx context.Context, limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (db *SessionDB) GetSession(ctx context.Context, id string) (SessionRecord, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	rec, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return SessionRecord{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return rec, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (SessionRecord, error) {
	var (
		rec            SessionRecord
		started, ended string
		ticks          int64
		finalState     string
	)
	if err := row.Scan(&rec.ID, &rec.Mode, &rec.ReplayPath, &started, &ended, &ticks, &rec.Commands, &finalState); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rec, err
		}
		return rec, fmt.Errorf("scan session: %w", err)
	}
	rec.Ticks = uint64(ticks)
	var err error
	if rec.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
		return rec, fmt.Errorf("session %s started_at: %w", rec.ID, err)
	}
	if ended != "" {
		if rec.EndedAt, err = time.Parse(time.RFC3339Nano, ended); err != nil {
			return rec, fmt.Errorf("session %s ended_at: %w", rec.ID, err)
		}
	}
	if finalState != "" {
		s, err := LoadState([]byte(finalState))
		if err != nil {
			return rec, fmt.Errorf("session %s final_state: %w", rec.ID, err)
		}
		rec.FinalState = &s
	}
	return rec, nil
}
