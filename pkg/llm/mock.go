package llm

import (
	"context"
	"sync"

	"github.com/EmaFanClub/EverMemoryArchive/pkg/types"
)

// MockProvider is a scriptable Provider for tests. Each call to Generate
// invokes GenerateFunc when set; otherwise responses are popped from the
// Responses queue in order.
type MockProvider struct {
	GenerateFunc func(ctx context.Context, req *Request) (*types.LLMResponse, error)
	Responses    []*types.LLMResponse
	Model        string

	mu       sync.Mutex
	requests []*Request
}

// Generate implements Provider.
func (m *MockProvider) Generate(ctx context.Context, req *Request) (*types.LLMResponse, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, req)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Responses) == 0 {
		return &types.LLMResponse{
			Message:      types.NewModelMessage([]types.Content{types.NewTextContent("")}, nil),
			FinishReason: "stop",
		}, nil
	}
	resp := m.Responses[0]
	m.Responses = m.Responses[1:]
	return resp, nil
}

// GetModel implements Provider.
func (m *MockProvider) GetModel() string {
	if m.Model == "" {
		return "mock"
	}
	return m.Model
}

// Requests returns a snapshot of every request Generate has received.
func (m *MockProvider) Requests() []*Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Request, len(m.requests))
	copy(out, m.requests)
	return out
}
