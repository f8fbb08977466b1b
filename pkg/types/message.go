// Package types defines the shared data model for the EverMemoryArchive
// runtime: message and content shapes exchanged with LLM providers, tool
// call/result contracts, persisted buffer records, and the event types
// emitted by agents and actor workers.
package types

import "encoding/json"

// ContentType identifies the kind of a Content item.
type ContentType string

const (
	// ContentTypeText is plain text content. Currently the only kind; the
	// tagged shape leaves room for images and other media.
	ContentTypeText ContentType = "text"
)

// Content is one tagged item inside a message. All text inside messages is
// carried as a list of Content.
type Content struct {
	Type ContentType `json:"type"`
	Text string      `json:"text,omitempty"`
}

// NewTextContent creates a text content item.
func NewTextContent(text string) Content {
	return Content{Type: ContentTypeText, Text: text}
}

// MessageRole identifies who produced a message.
type MessageRole string

const (
	RoleUser  MessageRole = "user"
	RoleModel MessageRole = "model"
	RoleTool  MessageRole = "tool"
)

// ToolCall is one tool invocation requested by the model. ID uniquely
// identifies the call within one LLM turn; Args conforms to the named tool's
// JSON schema.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// ToolResult is the outcome of executing one tool call.
// Success implies Content is present; failure implies Error is present.
// The one exception is a successful ema_reply result, whose Content the
// agent blanks before storing it in history.
type ToolResult struct {
	Success bool   `json:"success"`
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
}

// MarshalText serialises the result for history and token accounting.
func (r *ToolResult) MarshalText() string {
	b, err := json.Marshal(r)
	if err != nil {
		return ""
	}
	return string(b)
}

// Message is one entry in a conversation history. The populated fields
// depend on Role:
//
//   - user:  Contents
//   - model: Contents plus optional ToolCalls
//   - tool:  CallID, Name, Result
//
// System prompts never enter history; they are supplied separately on each
// provider request.
type Message struct {
	Role      MessageRole `json:"role"`
	Contents  []Content   `json:"contents,omitempty"`
	ToolCalls []ToolCall  `json:"toolCalls,omitempty"`

	// Tool message fields.
	CallID string      `json:"id,omitempty"`
	Name   string      `json:"name,omitempty"`
	Result *ToolResult `json:"result,omitempty"`
}

// NewUserMessage creates a user message from content items.
func NewUserMessage(contents ...Content) *Message {
	return &Message{Role: RoleUser, Contents: contents}
}

// NewUserTextMessage creates a user message holding a single text item.
func NewUserTextMessage(text string) *Message {
	return NewUserMessage(NewTextContent(text))
}

// NewModelMessage creates a model (assistant) message.
func NewModelMessage(contents []Content, toolCalls []ToolCall) *Message {
	return &Message{Role: RoleModel, Contents: contents, ToolCalls: toolCalls}
}

// NewToolMessage creates a tool result message answering the given call.
func NewToolMessage(callID, name string, result *ToolResult) *Message {
	return &Message{Role: RoleTool, CallID: callID, Name: name, Result: result}
}

// Text joins the text parts of the message's contents.
func (m *Message) Text() string {
	var out string
	for _, c := range m.Contents {
		if c.Type == ContentTypeText {
			out += c.Text
		}
	}
	return out
}

// LLMResponse is the provider-neutral result of one LLM call.
// TotalTokens is the running cumulative token count the adapter reports for
// the conversation so far; the context manager uses it to drive
// summarisation.
type LLMResponse struct {
	Message      *Message
	FinishReason string
	TotalTokens  int
}

// HasToolCalls reports whether the response requested any tool invocations.
func (r *LLMResponse) HasToolCalls() bool {
	return r.Message != nil && len(r.Message.ToolCalls) > 0
}
