package memory

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/gobwas/glob"
	"github.com/oklog/ulid/v2"
)

// LongTermMemory is one durable memory record for an actor.
type LongTermMemory struct {
	ID        string    `json:"id"`
	ActorID   int64     `json:"actorId"`
	Content   string    `json:"content"`
	Keywords  []string  `json:"keywords"`
	CreatedAt time.Time `json:"createdAt"`
}

// LongTermStore persists long-term memories and serves keyword search.
type LongTermStore struct {
	db *sql.DB
}

// NewLongTermStore creates a long-term store over an open database.
func NewLongTermStore(db *sql.DB) *LongTermStore {
	return &LongTermStore{db: db}
}

// Add inserts a memory and returns it with its assigned id.
func (s *LongTermStore) Add(ctx context.Context, actorID int64, content string, keywords []string) (*LongTermMemory, error) {
	mem := &LongTermMemory{
		ID:        ulid.Make().String(),
		ActorID:   actorID,
		Content:   content,
		Keywords:  keywords,
		CreatedAt: time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO long_term_memories (id, actor_id, content, keywords, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, mem.ID, mem.ActorID, mem.Content, strings.Join(keywords, "\n"), mem.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("long-term: insert: %w", err)
	}
	return mem, nil
}

// Search returns the actor's memories matching any of the given keywords.
// A keyword matches when it appears as a substring of the content or of a
// stored keyword; glob metacharacters (*, ?, […]) are honoured.
func (s *LongTermStore) Search(ctx context.Context, actorID int64, keywords []string) ([]*LongTermMemory, error) {
	matchers := make([]glob.Glob, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		pattern := kw
		if !strings.ContainsAny(pattern, "*?[") {
			pattern = "*" + pattern + "*"
		}
		matcher, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("long-term: bad keyword %q: %w", kw, err)
		}
		matchers = append(matchers, matcher)
	}
	if len(matchers) == 0 {
		return nil, nil
	}

	all, err := s.list(ctx, actorID)
	if err != nil {
		return nil, err
	}

	var out []*LongTermMemory
	for _, mem := range all {
		if memoryMatches(mem, matchers) {
			out = append(out, mem)
		}
	}
	return out, nil
}

func memoryMatches(mem *LongTermMemory, matchers []glob.Glob) bool {
	content := strings.ToLower(mem.Content)
	for _, matcher := range matchers {
		if matcher.Match(content) {
			return true
		}
		for _, kw := range mem.Keywords {
			if matcher.Match(strings.ToLower(kw)) {
				return true
			}
		}
	}
	return false
}

func (s *LongTermStore) list(ctx context.Context, actorID int64) ([]*LongTermMemory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_id, content, keywords, created_at
		FROM long_term_memories
		WHERE actor_id = ?
		ORDER BY created_at ASC
	`, actorID)
	if err != nil {
		return nil, fmt.Errorf("long-term: query: %w", err)
	}
	defer rows.Close()

	var out []*LongTermMemory
	for rows.Next() {
		var (
			mem       LongTermMemory
			keywords  string
			createdAt string
		)
		if err := rows.Scan(&mem.ID, &mem.ActorID, &mem.Content, &keywords, &createdAt); err != nil {
			return nil, fmt.Errorf("long-term: scan: %w", err)
		}
		if keywords != "" {
			mem.Keywords = strings.Split(keywords, "\n")
		}
		if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			mem.CreatedAt = ts
		}
		out = append(out, &mem)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("long-term: rows: %w", err)
	}
	return out, nil
}
