// Package tools defines the tool contract agents execute against, and the
// built-in tools every actor carries: the privileged ema_reply structured
// reply tool and the long-term memory tools.
package tools

import (
	"context"

	"github.com/EmaFanClub/EverMemoryArchive/pkg/types"
)

// Tool is one capability the LLM can invoke during a run. Tools may block;
// they do not receive cancellation today.
type Tool interface {
	// Name returns the unique identifier the LLM calls this tool by.
	Name() string

	// Description tells the LLM what the tool does.
	Description() string

	// Parameters returns the JSON schema of the argument object.
	Parameters() map[string]any

	// Execute runs the tool with the argument map decoded from the LLM's
	// call. A returned error is converted by the agent into a failed
	// ToolResult; the loop continues either way.
	Execute(ctx context.Context, args map[string]any) (*types.ToolResult, error)
}

// ObjectSchema builds a JSON schema for an object with the given properties
// and required field names.
func ObjectSchema(properties map[string]any, required []string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// StringArg extracts a string argument, defaulting to "".
func StringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

// StringSliceArg extracts a string-array argument, tolerating the []any
// shape JSON decoding produces.
func StringSliceArg(args map[string]any, key string) []string {
	switch v := args[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
