package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/EmaFanClub/EverMemoryArchive/pkg/memory"
	"github.com/EmaFanClub/EverMemoryArchive/pkg/types"
)

// MemorySearchTool lets a running agent search the actor's long-term
// memories by keyword.
type MemorySearchTool struct {
	store   *memory.LongTermStore
	actorID int64
}

// NewMemorySearchTool creates a search tool bound to one actor.
func NewMemorySearchTool(store *memory.LongTermStore, actorID int64) *MemorySearchTool {
	return &MemorySearchTool{store: store, actorID: actorID}
}

// Name implements Tool.
func (t *MemorySearchTool) Name() string {
	return "memory_search"
}

// Description implements Tool.
func (t *MemorySearchTool) Description() string {
	return "Search long-term memories by keywords. Returns matching memory items as JSON."
}

// Parameters implements Tool.
func (t *MemorySearchTool) Parameters() map[string]any {
	return ObjectSchema(map[string]any{
		"keywords": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "string"},
		},
	}, []string{"keywords"})
}

// Execute implements Tool.
func (t *MemorySearchTool) Execute(ctx context.Context, args map[string]any) (*types.ToolResult, error) {
	keywords := StringSliceArg(args, "keywords")
	if len(keywords) == 0 {
		return nil, fmt.Errorf("memory_search: keywords must not be empty")
	}

	items, err := t.store.Search(ctx, t.actorID, keywords)
	if err != nil {
		return nil, err
	}

	encoded, err := json.Marshal(map[string]any{"items": items})
	if err != nil {
		return nil, fmt.Errorf("memory_search: encode: %w", err)
	}
	return &types.ToolResult{Success: true, Content: string(encoded)}, nil
}

// MemoryStoreTool lets a running agent persist a long-term memory.
type MemoryStoreTool struct {
	store   *memory.LongTermStore
	actorID int64
}

// NewMemoryStoreTool creates a store tool bound to one actor.
func NewMemoryStoreTool(store *memory.LongTermStore, actorID int64) *MemoryStoreTool {
	return &MemoryStoreTool{store: store, actorID: actorID}
}

// Name implements Tool.
func (t *MemoryStoreTool) Name() string {
	return "memory_store"
}

// Description implements Tool.
func (t *MemoryStoreTool) Description() string {
	return "Persist a long-term memory with optional keywords for later retrieval."
}

// Parameters implements Tool.
func (t *MemoryStoreTool) Parameters() map[string]any {
	return ObjectSchema(map[string]any{
		"content": map[string]any{"type": "string"},
		"keywords": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "string"},
		},
	}, []string{"content"})
}

// Execute implements Tool.
func (t *MemoryStoreTool) Execute(ctx context.Context, args map[string]any) (*types.ToolResult, error) {
	content := strings.TrimSpace(StringArg(args, "content"))
	if content == "" {
		return nil, fmt.Errorf("memory_store: content must not be empty")
	}

	mem, err := t.store.Add(ctx, t.actorID, content, StringSliceArg(args, "keywords"))
	if err != nil {
		return nil, err
	}
	return &types.ToolResult{Success: true, Content: fmt.Sprintf("stored memory %s", mem.ID)}, nil
}
