// Package memory provides the sqlite-backed persistence for actors: the
// append-only message buffer, and the short-term and long-term memory
// stores with keyword search.
package memory

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS buffer_messages (
	actor_id   INTEGER NOT NULL,
	seq        INTEGER NOT NULL,
	name       TEXT NOT NULL,
	role       TEXT NOT NULL,
	text       TEXT NOT NULL,
	reply      TEXT,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (actor_id, seq)
);

CREATE TABLE IF NOT EXISTS short_term_memories (
	id         TEXT PRIMARY KEY,
	actor_id   INTEGER NOT NULL,
	content    TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_short_term_actor ON short_term_memories(actor_id);

CREATE TABLE IF NOT EXISTS long_term_memories (
	id         TEXT PRIMARY KEY,
	actor_id   INTEGER NOT NULL,
	content    TEXT NOT NULL,
	keywords   TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_long_term_actor ON long_term_memories(actor_id)
`

// Open opens (creating if needed) the sqlite database at path and applies
// the schema.
func Open(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA foreign_keys = ON;",
		"PRAGMA busy_timeout = 5000;",
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", stmt, err)
		}
	}

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

func migrate(db *sql.DB) error {
	for _, raw := range strings.Split(schemaSQL, ";") {
		stmt := strings.TrimSpace(raw)
		if stmt == "" {
			continue
		}
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w (statement=%q)", err, stmt)
		}
	}
	return nil
}
