package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/EmaFanClub/EverMemoryArchive/pkg/types"
)

// BufferStore persists the append-only message buffer, keyed by
// (actor_id, seq). Ordering is preserved; seq is assigned on append and
// written back to the record's ID.
type BufferStore struct {
	db *sql.DB
}

// NewBufferStore creates a buffer store over an open database.
func NewBufferStore(db *sql.DB) *BufferStore {
	return &BufferStore{db: db}
}

// Append writes one record, assigning the next sequence number for the
// actor. The assigned sequence is stored into msg.ID.
func (s *BufferStore) Append(ctx context.Context, actorID int64, msg *types.BufferMessage) error {
	var replyJSON sql.NullString
	if msg.Reply != nil {
		encoded, err := json.Marshal(msg.Reply)
		if err != nil {
			return fmt.Errorf("buffer: encode reply: %w", err)
		}
		replyJSON = sql.NullString{String: string(encoded), Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("buffer: begin: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	row := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM buffer_messages WHERE actor_id = ?`, actorID)
	if err := row.Scan(&seq); err != nil {
		return fmt.Errorf("buffer: next seq: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO buffer_messages (actor_id, seq, name, role, text, reply, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, actorID, seq, msg.Name, string(msg.Role), msg.Text, replyJSON, msg.Time)
	if err != nil {
		return fmt.Errorf("buffer: insert: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("buffer: commit: %w", err)
	}

	msg.ID = seq
	return nil
}

// Recent returns up to limit of the newest records for an actor, oldest
// first.
func (s *BufferStore) Recent(ctx context.Context, actorID int64, limit int) ([]*types.BufferMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, name, role, text, reply, created_at
		FROM buffer_messages
		WHERE actor_id = ?
		ORDER BY seq DESC
		LIMIT ?
	`, actorID, limit)
	if err != nil {
		return nil, fmt.Errorf("buffer: query recent: %w", err)
	}
	defer rows.Close()

	var newestFirst []*types.BufferMessage
	for rows.Next() {
		msg, err := scanBufferMessage(rows)
		if err != nil {
			return nil, err
		}
		newestFirst = append(newestFirst, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("buffer: scan recent: %w", err)
	}

	// Reverse into chronological order.
	out := make([]*types.BufferMessage, 0, len(newestFirst))
	for i := len(newestFirst) - 1; i >= 0; i-- {
		out = append(out, newestFirst[i])
	}
	return out, nil
}

// All returns every record for an actor in append order.
func (s *BufferStore) All(ctx context.Context, actorID int64) ([]*types.BufferMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, name, role, text, reply, created_at
		FROM buffer_messages
		WHERE actor_id = ?
		ORDER BY seq ASC
	`, actorID)
	if err != nil {
		return nil, fmt.Errorf("buffer: query all: %w", err)
	}
	defer rows.Close()

	var out []*types.BufferMessage
	for rows.Next() {
		msg, err := scanBufferMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("buffer: scan all: %w", err)
	}
	return out, nil
}

func scanBufferMessage(rows *sql.Rows) (*types.BufferMessage, error) {
	var (
		msg       types.BufferMessage
		role      string
		replyJSON sql.NullString
	)
	if err := rows.Scan(&msg.ID, &msg.Name, &role, &msg.Text, &replyJSON, &msg.Time); err != nil {
		return nil, fmt.Errorf("buffer: scan: %w", err)
	}
	msg.Role = types.BufferRole(role)
	if replyJSON.Valid {
		var reply types.EmaReply
		if err := json.Unmarshal([]byte(replyJSON.String), &reply); err != nil {
			return nil, fmt.Errorf("buffer: decode reply: %w", err)
		}
		msg.Reply = &reply
	}
	return &msg, nil
}
