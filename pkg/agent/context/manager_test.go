package context

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EmaFanClub/EverMemoryArchive/pkg/llm"
	"github.com/EmaFanClub/EverMemoryArchive/pkg/types"
)

func textResponse(text string, totalTokens int) *types.LLMResponse {
	return &types.LLMResponse{
		Message:      types.NewModelMessage([]types.Content{types.NewTextContent(text)}, nil),
		FinishReason: "stop",
		TotalTokens:  totalTokens,
	}
}

func TestManager_AppendAndHistory(t *testing.T) {
	m := NewManager(&llm.MockProvider{}, "Be brief.", nil)

	m.AddUser(types.NewTextContent("Hi"))
	m.AddModel(textResponse("Hello.", 10))
	m.AddTool(&types.ToolResult{Success: true, Content: "5"}, "add", "c1")

	history := m.History()
	require.Len(t, history, 3)
	assert.Equal(t, types.RoleUser, history[0].Role)
	assert.Equal(t, types.RoleModel, history[1].Role)
	assert.Equal(t, types.RoleTool, history[2].Role)
	assert.Equal(t, "c1", history[2].CallID)
	assert.Equal(t, "add", history[2].Name)

	// History is a snapshot: appending after the fact is invisible.
	m.AddUser(types.NewTextContent("more"))
	assert.Len(t, history, 3)

	assert.Equal(t, "Be brief.", m.SystemPrompt())
}

func TestManager_EstimateTokensFallback(t *testing.T) {
	m := NewManager(&llm.MockProvider{}, "", nil, WithTokenizer(nil))

	var fallbacks []*types.AgentEvent
	m.SetEmitter(func(ev *types.AgentEvent) {
		if ev.Type == types.EventTypeTokenEstimationFallbacked {
			fallbacks = append(fallbacks, ev)
		}
	})

	m.AddUser(types.NewTextContent(strings.Repeat("x", 250)))
	estimate := m.EstimateTokens()

	assert.Equal(t, 100, estimate)
	require.Len(t, fallbacks, 1)
}

func seedThreeRounds(m *Manager) {
	// Three user turns, each followed by an execution round.
	for i, ask := range []string{"first task", "second task", "third task"} {
		m.AddUser(types.NewTextContent(ask))
		m.AddModel(&types.LLMResponse{
			Message: types.NewModelMessage(
				[]types.Content{types.NewTextContent(strings.Repeat("work ", 50))},
				[]types.ToolCall{{ID: "c1", Name: "add", Args: map[string]any{"i": i}}},
			),
			FinishReason: "tool_calls",
		})
		m.AddTool(&types.ToolResult{Success: true, Content: "done"}, "add", "c1")
	}
}

func TestManager_SummarizePreservesUserMessages(t *testing.T) {
	summarizer := &llm.MockProvider{
		GenerateFunc: func(ctx context.Context, req *llm.Request) (*types.LLMResponse, error) {
			return textResponse("short summary", 0), nil
		},
	}

	m := NewManager(summarizer, "system", nil, WithTokenLimit(10))
	seedThreeRounds(m)

	var started, finished int
	m.SetEmitter(func(ev *types.AgentEvent) {
		switch ev.Type {
		case types.EventTypeSummarizeMessagesStarted:
			started++
		case types.EventTypeSummarizeMessagesFinished:
			finished++
		}
	})

	before := countUsers(m.History())
	m.Summarize(context.Background())
	history := m.History()

	// user1 + summary1 + user2 + summary2 + user3 + summary3
	require.Len(t, history, 6)
	for i, msg := range history {
		assert.Equal(t, types.RoleUser, msg.Role, "message %d", i)
	}
	assert.Equal(t, "first task", history[0].Text())
	assert.True(t, strings.HasPrefix(history[1].Text(), summaryPrefix))
	assert.Contains(t, history[1].Text(), "short summary")
	assert.Equal(t, "second task", history[2].Text())
	assert.Equal(t, "third task", history[4].Text())

	// Original user messages are all preserved.
	assert.GreaterOrEqual(t, countUsers(history), before)
	assert.Equal(t, 1, started)
	assert.Equal(t, 1, finished)
}

func countUsers(history []*types.Message) int {
	n := 0
	for _, msg := range history {
		if msg.Role == types.RoleUser {
			n++
		}
	}
	return n
}

func TestManager_SummarizeSkipOnce(t *testing.T) {
	calls := 0
	summarizer := &llm.MockProvider{
		GenerateFunc: func(ctx context.Context, req *llm.Request) (*types.LLMResponse, error) {
			calls++
			// Summaries stay long so the estimate remains over the limit.
			return textResponse(strings.Repeat("long summary ", 40), 0), nil
		},
	}

	m := NewManager(summarizer, "system", nil, WithTokenLimit(10))
	seedThreeRounds(m)

	m.Summarize(context.Background())
	firstCalls := calls
	require.Greater(t, firstCalls, 0)

	// Immediate re-entry is suppressed by the skip-once flag even though the
	// estimate is still over the limit.
	m.Summarize(context.Background())
	assert.Equal(t, firstCalls, calls)

	// A fresh provider total re-arms the check.
	m.AddModel(textResponse("more work", 999999))
	m.Summarize(context.Background())
	assert.Greater(t, calls, firstCalls)
}

func TestManager_SummarizeNoopUnderLimit(t *testing.T) {
	summarizer := &llm.MockProvider{
		GenerateFunc: func(ctx context.Context, req *llm.Request) (*types.LLMResponse, error) {
			t.Fatal("summarizer must not be called under the limit")
			return nil, nil
		},
	}

	m := NewManager(summarizer, "system", nil, WithTokenLimit(1000000))
	m.AddUser(types.NewTextContent("hello"))

	m.Summarize(context.Background())
	assert.Len(t, m.History(), 1)
}

func TestManager_SummarizeProviderTotalTriggers(t *testing.T) {
	summarizer := &llm.MockProvider{
		GenerateFunc: func(ctx context.Context, req *llm.Request) (*types.LLMResponse, error) {
			return textResponse("s", 0), nil
		},
	}

	// Local estimate is tiny, but the provider-reported cumulative total is
	// over the limit.
	m := NewManager(summarizer, "system", nil, WithTokenLimit(1000))
	m.AddUser(types.NewTextContent("hi"))
	m.AddModel(textResponse("ok", 5000))

	m.Summarize(context.Background())

	history := m.History()
	require.Len(t, history, 2)
	assert.True(t, strings.HasPrefix(history[1].Text(), summaryPrefix))
}

func TestManager_SummarizeFallbackToRawJoin(t *testing.T) {
	summarizer := &llm.MockProvider{
		GenerateFunc: func(ctx context.Context, req *llm.Request) (*types.LLMResponse, error) {
			return nil, errors.New("summarizer down")
		},
	}

	m := NewManager(summarizer, "system", nil, WithTokenLimit(10))
	m.AddUser(types.NewTextContent("task"))
	m.AddModel(&types.LLMResponse{
		Message: types.NewModelMessage(
			[]types.Content{types.NewTextContent(strings.Repeat("busy ", 100))},
			[]types.ToolCall{{ID: "c9", Name: "lookup", Args: map[string]any{}}},
		),
	})
	m.AddTool(&types.ToolResult{Success: true, Content: "found it"}, "lookup", "c9")

	m.Summarize(context.Background())

	history := m.History()
	require.Len(t, history, 2)
	summary := history[1].Text()
	assert.True(t, strings.HasPrefix(summary, summaryPrefix))
	// The raw digest names the tools that were called.
	assert.Contains(t, summary, "lookup")
}
