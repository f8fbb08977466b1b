package memory

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// ShortTermMemory is one short-lived memory record for an actor.
type ShortTermMemory struct {
	ID        string
	ActorID   int64
	Content   string
	CreatedAt time.Time
}

// ShortTermStore persists short-term memories.
type ShortTermStore struct {
	db *sql.DB
}

// NewShortTermStore creates a short-term store over an open database.
func NewShortTermStore(db *sql.DB) *ShortTermStore {
	return &ShortTermStore{db: db}
}

// Add inserts a memory and returns it with its assigned id.
func (s *ShortTermStore) Add(ctx context.Context, actorID int64, content string) (*ShortTermMemory, error) {
	mem := &ShortTermMemory{
		ID:        ulid.Make().String(),
		ActorID:   actorID,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO short_term_memories (id, actor_id, content, created_at)
		VALUES (?, ?, ?, ?)
	`, mem.ID, mem.ActorID, mem.Content, mem.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("short-term: insert: %w", err)
	}
	return mem, nil
}

// List returns an actor's short-term memories, oldest first.
func (s *ShortTermStore) List(ctx context.Context, actorID int64) ([]*ShortTermMemory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_id, content, created_at
		FROM short_term_memories
		WHERE actor_id = ?
		ORDER BY created_at ASC
	`, actorID)
	if err != nil {
		return nil, fmt.Errorf("short-term: query: %w", err)
	}
	defer rows.Close()

	var out []*ShortTermMemory
	for rows.Next() {
		var (
			mem       ShortTermMemory
			createdAt string
		)
		if err := rows.Scan(&mem.ID, &mem.ActorID, &mem.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("short-term: scan: %w", err)
		}
		if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			mem.CreatedAt = ts
		}
		out = append(out, &mem)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("short-term: rows: %w", err)
	}
	return out, nil
}
