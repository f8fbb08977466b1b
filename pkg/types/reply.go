package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Expression is the closed set of facial expressions an EmaReply may carry.
type Expression string

const (
	ExpressionNeutral   Expression = "neutral"
	ExpressionSmile     Expression = "smile"
	ExpressionSerious   Expression = "serious"
	ExpressionConfused  Expression = "confused"
	ExpressionSurprised Expression = "surprised"
	ExpressionSad       Expression = "sad"
)

// Action is the closed set of body actions an EmaReply may carry.
type Action string

const (
	ActionNone  Action = "none"
	ActionNod   Action = "nod"
	ActionShake Action = "shake"
	ActionWave  Action = "wave"
	ActionJump  Action = "jump"
	ActionPoint Action = "point"
)

var validExpressions = map[Expression]bool{
	ExpressionNeutral: true, ExpressionSmile: true, ExpressionSerious: true,
	ExpressionConfused: true, ExpressionSurprised: true, ExpressionSad: true,
}

var validActions = map[Action]bool{
	ActionNone: true, ActionNod: true, ActionShake: true,
	ActionWave: true, ActionJump: true, ActionPoint: true,
}

// EmaReply is the structured reply shape: the only sanctioned terminal
// output of a conversation turn. It is produced by the privileged ema_reply
// tool and delivered to subscribers instead of being repeated in history.
type EmaReply struct {
	Think      string     `json:"think"`
	Expression Expression `json:"expression"`
	Action     Action     `json:"action"`
	Response   string     `json:"response"`
}

// Validate checks the closed enum sets and the trimmed-non-empty fields.
func (r *EmaReply) Validate() error {
	if strings.TrimSpace(r.Think) == "" {
		return fmt.Errorf("ema reply: think must not be empty")
	}
	if strings.TrimSpace(r.Response) == "" {
		return fmt.Errorf("ema reply: response must not be empty")
	}
	if !validExpressions[r.Expression] {
		return fmt.Errorf("ema reply: unknown expression %q", r.Expression)
	}
	if !validActions[r.Action] {
		return fmt.Errorf("ema reply: unknown action %q", r.Action)
	}
	return nil
}

// ParseEmaReply decodes and validates a structured reply from JSON.
func ParseEmaReply(data string) (*EmaReply, error) {
	var reply EmaReply
	if err := json.Unmarshal([]byte(data), &reply); err != nil {
		return nil, fmt.Errorf("ema reply: decode: %w", err)
	}
	if err := reply.Validate(); err != nil {
		return nil, err
	}
	return &reply, nil
}
