package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/EmaFanClub/EverMemoryArchive/pkg/types"
)

// EmaReplyName is the fixed name of the privileged structured-reply tool.
// The agent intercepts successful results from this tool: the reply is
// delivered to subscribers via an emaReplyReceived event and the stored
// tool message carries no content.
const EmaReplyName = "ema_reply"

// EmaReplyTool validates and serialises the structured reply shape. One
// invocation terminates a conversation turn.
type EmaReplyTool struct{}

// NewEmaReplyTool creates the structured-reply tool.
func NewEmaReplyTool() *EmaReplyTool {
	return &EmaReplyTool{}
}

// Name implements Tool.
func (t *EmaReplyTool) Name() string {
	return EmaReplyName
}

// Description implements Tool.
func (t *EmaReplyTool) Description() string {
	return "Deliver your reply to the user. Call this exactly once per turn with " +
		"your inner thoughts, an expression, an action, and the spoken response."
}

// Parameters implements Tool.
func (t *EmaReplyTool) Parameters() map[string]any {
	return ObjectSchema(map[string]any{
		"think": map[string]any{
			"type":        "string",
			"description": "Inner reasoning, not shown to the user",
		},
		"expression": map[string]any{
			"type": "string",
			"enum": []string{"neutral", "smile", "serious", "confused", "surprised", "sad"},
		},
		"action": map[string]any{
			"type": "string",
			"enum": []string{"none", "nod", "shake", "wave", "jump", "point"},
		},
		"response": map[string]any{
			"type":        "string",
			"description": "The message spoken to the user",
		},
	}, []string{"think", "expression", "action", "response"})
}

// Execute implements Tool. The result content is the canonical JSON of the
// validated reply.
func (t *EmaReplyTool) Execute(ctx context.Context, args map[string]any) (*types.ToolResult, error) {
	reply := &types.EmaReply{
		Think:      StringArg(args, "think"),
		Expression: types.Expression(StringArg(args, "expression")),
		Action:     types.Action(StringArg(args, "action")),
		Response:   StringArg(args, "response"),
	}
	if err := reply.Validate(); err != nil {
		return nil, err
	}

	encoded, err := json.Marshal(reply)
	if err != nil {
		return nil, fmt.Errorf("ema reply: encode: %w", err)
	}
	return &types.ToolResult{Success: true, Content: string(encoded)}, nil
}
