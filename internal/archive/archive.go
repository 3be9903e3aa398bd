// Package archive persists relay transcripts to SQLite for offline
// inspection. It is a diagnostic sink: the session calls it as a tap and
// logs failures without letting them reach the protocol.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // pure-Go SQLite driver (no CGO required)

	"github.com/stulentsev/jean/internal/protocol"
)

// Schema version is tracked in the schema_versions table.
var migrations = []struct {
	version int
	sql     string
}{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_versions (
    version     INTEGER PRIMARY KEY,
    applied_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS sessions (
    id          TEXT PRIMARY KEY,
    remote_addr TEXT NOT NULL DEFAULT '',
    started_at  DATETIME NOT NULL,
    ended_at    DATETIME
);
CREATE INDEX IF NOT EXISTS idx_sessions_started_at ON sessions(started_at DESC);

CREATE TABLE IF NOT EXISTS turns (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id   TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
    role         TEXT NOT NULL,
    content      TEXT NOT NULL DEFAULT '',
    tool_call_id TEXT NOT NULL DEFAULT '',
    tool_calls   TEXT NOT NULL DEFAULT '[]',
    created_at   DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id, id ASC);
`,
	},
}

// Store is the SQLite-backed transcript archive.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the archive database at the given path and runs
// all pending schema migrations. Pass ":memory:" for an in-memory archive.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}

	// WAL mode for better concurrency and performance.
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// migrate applies any unapplied migrations in order.
func (s *Store) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_versions (
        version    INTEGER PRIMARY KEY,
        applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
    )`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := s.db.QueryRow(`SELECT COUNT(*) FROM schema_versions WHERE version = ?`, m.version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.version, err)
		}
		if count > 0 {
			continue // already applied
		}

		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}

		if _, err := s.db.Exec(`INSERT INTO schema_versions(version) VALUES(?)`, m.version); err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
	}
	return nil
}

// Close releases database resources.
func (s *Store) Close() error { return s.db.Close() }

// BeginSession records a new archive session and returns its id.
func (s *Store) BeginSession(ctx context.Context, remoteAddr string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO sessions(id, remote_addr, started_at)
        VALUES(?,?,?)
    `, id, remoteAddr, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("insert session: %w", err)
	}
	return id, nil
}

// EndSession stamps the session's end time.
func (s *Store) EndSession(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET ended_at=? WHERE id=?`, time.Now().UTC(), sessionID)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	return nil
}

// AppendTurn records one transcript turn under the session.
func (s *Store) AppendTurn(ctx context.Context, sessionID string, turn protocol.Turn) error {
	calls := "[]"
	if len(turn.ToolCalls) > 0 {
		b, err := json.Marshal(turn.ToolCalls)
		if err != nil {
			return fmt.Errorf("marshal tool calls: %w", err)
		}
		calls = string(b)
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO turns(session_id, role, content, tool_call_id, tool_calls, created_at)
        VALUES(?,?,?,?,?,?)
    `, sessionID, string(turn.Role), turn.Content, turn.ToolCallID, calls, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}
	return nil
}

// Turns returns the archived turns of a session in insertion order.
func (s *Store) Turns(ctx context.Context, sessionID string) ([]protocol.Turn, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT role, content, tool_call_id, tool_calls
        FROM turns WHERE session_id=? ORDER BY id ASC
    `, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	var result []protocol.Turn
	for rows.Next() {
		var turn protocol.Turn
		var role, calls string
		if err := rows.Scan(&role, &turn.Content, &turn.ToolCallID, &calls); err != nil {
			return nil, err
		}
		turn.Role = protocol.Role(role)
		if calls != "" && calls != "[]" {
			if err := json.Unmarshal([]byte(calls), &turn.ToolCalls); err != nil {
				return nil, fmt.Errorf("unmarshal tool calls: %w", err)
			}
		}
		result = append(result, turn)
	}
	return result, rows.Err()
}
