// Package llm defines the provider contract the agent runtime core depends
// on. Providers translate the internal message shapes into their wire format
// and back; the agent layer owns conversation state, events, and tool
// orchestration.
package llm

import (
	"context"

	"github.com/EmaFanClub/EverMemoryArchive/pkg/types"
)

// ToolDefinition describes one callable tool to the provider: a name, a
// description, and a JSON-schema parameters object.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Request is one generation request. SystemPrompt rides outside Messages;
// history never contains a system entry.
type Request struct {
	SystemPrompt string
	Messages     []*types.Message
	Tools        []ToolDefinition
}

// Provider is the LLM adapter contract.
//
// Generate must honour ctx cancellation so the agent loop can observe an
// abort as the context firing, and must treat a response without tool calls
// as a normal terminal rather than an error. Implementations wrap transport
// calls with the retry policy when enabled, surfacing a
// retry.ExhaustedError after the attempt budget is spent.
type Provider interface {
	Generate(ctx context.Context, req *Request) (*types.LLMResponse, error)

	// GetModel returns the model name requests are sent to.
	GetModel() string
}
