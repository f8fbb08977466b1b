// Package context holds the mutable conversation state for one agent run:
// system prompt, message history, and tool set, with token accounting and
// history summarisation as the context-length defence.
package context

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/EmaFanClub/EverMemoryArchive/pkg/agent/tools"
	"github.com/EmaFanClub/EverMemoryArchive/pkg/llm"
	"github.com/EmaFanClub/EverMemoryArchive/pkg/llm/tokenizer"
	"github.com/EmaFanClub/EverMemoryArchive/pkg/logging"
	"github.com/EmaFanClub/EverMemoryArchive/pkg/types"
)

// summaryPrefix marks synthetic execution-round summaries in history.
const summaryPrefix = "[Assistant Execution Summary]"

// Emit delivers diagnostic events to the owning agent's emitter.
type Emit func(*types.AgentEvent)

// Manager owns the conversation state of one agent run. It is exclusively
// owned by the running agent; the actor may cache a reference across
// preemption for resume, but must not mutate it while a run is active.
type Manager struct {
	provider     llm.Provider
	systemPrompt string
	tools        []tools.Tool
	toolsByName  map[string]tools.Tool
	tok          *tokenizer.Tokenizer
	tokenLimit   int
	log          *logging.Logger
	emit         Emit

	mu              sync.Mutex
	messages        []*types.Message
	lastTotalTokens int
	skipSummarize   bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithTokenLimit sets the token threshold that triggers summarisation.
func WithTokenLimit(limit int) Option {
	return func(m *Manager) {
		m.tokenLimit = limit
	}
}

// WithTokenizer sets the tokenizer. Passing nil forces the character-based
// fallback estimate.
func WithTokenizer(tok *tokenizer.Tokenizer) Option {
	return func(m *Manager) {
		m.tok = tok
	}
}

// WithMessages seeds the initial history.
func WithMessages(messages []*types.Message) Option {
	return func(m *Manager) {
		m.messages = append(m.messages, messages...)
	}
}

// NewManager creates conversation state for a run. The default token limit
// is 80000; the BPE tokenizer is initialised here, and token estimates fall
// back to a character estimate when it is unavailable.
func NewManager(provider llm.Provider, systemPrompt string, toolSet []tools.Tool, opts ...Option) *Manager {
	log, err := logging.NewLogger("context")
	if err != nil {
		log.Warnf("file logging unavailable, using stderr: %v", err)
	}

	m := &Manager{
		provider:     provider,
		systemPrompt: systemPrompt,
		tools:        toolSet,
		toolsByName:  make(map[string]tools.Tool, len(toolSet)),
		tokenLimit:   80000,
		log:          log,
	}
	for _, tool := range toolSet {
		m.toolsByName[tool.Name()] = tool
	}

	if tok, err := tokenizer.New(); err == nil {
		m.tok = tok
	} else {
		log.Warnf("tokenizer unavailable, falling back to character estimate: %v", err)
	}

	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetEmitter wires the diagnostic event sink. The agent sets this when it
// takes ownership of the state.
func (m *Manager) SetEmitter(emit Emit) {
	m.mu.Lock()
	m.emit = emit
	m.mu.Unlock()
}

func (m *Manager) emitEvent(ev *types.AgentEvent) {
	m.mu.Lock()
	emit := m.emit
	m.mu.Unlock()
	if emit != nil {
		emit(ev)
	}
}

// SystemPrompt returns the system prompt supplied to every LLM call. It
// lives outside history and is never affected by summarisation.
func (m *Manager) SystemPrompt() string {
	return m.systemPrompt
}

// Tools returns the tool set for this run.
func (m *Manager) Tools() []tools.Tool {
	return m.tools
}

// Tool looks a tool up by name.
func (m *Manager) Tool(name string) (tools.Tool, bool) {
	tool, ok := m.toolsByName[name]
	return tool, ok
}

// ToolDefinitions returns the provider-facing tool descriptions.
func (m *Manager) ToolDefinitions() []llm.ToolDefinition {
	defs := make([]llm.ToolDefinition, 0, len(m.tools))
	for _, tool := range m.tools {
		defs = append(defs, llm.ToolDefinition{
			Name:        tool.Name(),
			Description: tool.Description(),
			Parameters:  tool.Parameters(),
		})
	}
	return defs
}

// AddUser appends a user message.
func (m *Manager) AddUser(contents ...types.Content) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, types.NewUserMessage(contents...))
}

// AddModel appends the model message of a response and records the
// provider-reported cumulative token count, re-arming summarisation.
func (m *Manager) AddModel(resp *types.LLMResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if resp.Message != nil {
		m.messages = append(m.messages, resp.Message)
	}
	m.lastTotalTokens = resp.TotalTokens
	m.skipSummarize = false
}

// AddTool appends a tool result message answering the given call.
func (m *Manager) AddTool(result *types.ToolResult, name, callID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, types.NewToolMessage(callID, name, result))
}

// History returns a shallow snapshot of the message history.
func (m *Manager) History() []*types.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*types.Message, len(m.messages))
	copy(out, m.messages)
	return out
}

// EstimateTokens returns the local token estimate for the history: BPE
// counting when available, otherwise the character-based fallback (with a
// diagnostic event).
func (m *Manager) EstimateTokens() int {
	history := m.History()
	if m.tok != nil {
		return m.tok.CountMessages(history)
	}
	estimate := tokenizer.EstimateFallback(history)
	m.emitEvent(types.NewTokenEstimationFallbackedEvent(estimate))
	return estimate
}

// Summarize compacts the history when either the local estimate or the
// provider-reported total exceeds the token limit. Every user message is
// preserved; the execution round after each is replaced with one synthetic
// summary message. A skip-once flag suppresses re-triggering until a fresh
// provider total is observed.
func (m *Manager) Summarize(ctx context.Context) {
	m.mu.Lock()
	if m.skipSummarize {
		m.mu.Unlock()
		return
	}
	lastTotal := m.lastTotalTokens
	m.mu.Unlock()

	estimate := m.EstimateTokens()
	if estimate <= m.tokenLimit && lastTotal <= m.tokenLimit {
		return
	}

	history := m.History()
	userIndices := make([]int, 0, len(history))
	for i, msg := range history {
		if msg.Role == types.RoleUser {
			userIndices = append(userIndices, i)
		}
	}
	if len(userIndices) == 0 {
		m.log.Warnf("summarize triggered with no user messages, skipping")
		return
	}

	m.emitEvent(types.NewSummarizeStartedEvent(estimate, m.tokenLimit))
	m.log.Infof("summarizing history: estimate=%d providerTotal=%d limit=%d", estimate, lastTotal, m.tokenLimit)

	newHistory := make([]*types.Message, 0, 2*len(userIndices))
	rounds := 0
	for i, userIdx := range userIndices {
		newHistory = append(newHistory, history[userIdx])

		end := len(history)
		if i < len(userIndices)-1 {
			end = userIndices[i+1]
		}
		round := history[userIdx+1 : end]
		if len(round) == 0 {
			continue
		}

		summary := m.summarizeRound(ctx, round, i+1)
		newHistory = append(newHistory, types.NewUserTextMessage(summaryPrefix+"\n\n"+summary))
		rounds++
	}

	m.mu.Lock()
	m.messages = newHistory
	m.skipSummarize = true
	m.mu.Unlock()

	after := m.EstimateTokens()
	m.emitEvent(types.NewSummarizeFinishedEvent(after, m.tokenLimit, rounds))
	m.log.Infof("summarize complete: %d rounds, tokens %d -> %d", rounds, estimate, after)
}

// summarizeRound asks the provider for a concise summary of one execution
// round, falling back to the raw textual digest when the call fails.
// Execution history is never dropped silently.
func (m *Manager) summarizeRound(ctx context.Context, round []*types.Message, roundNum int) string {
	digest := roundDigest(round, roundNum)

	prompt := fmt.Sprintf(`Summarize the following agent execution round concisely:

%s

Requirements:
1. Record what was accomplished and which tools were called.
2. Keep key execution results and important findings.
3. Stay under 1000 words.
4. Answer in the same language the conversation uses.
5. Summarize only the agent's execution, not the user's messages.`, digest)

	resp, err := m.provider.Generate(ctx, &llm.Request{
		SystemPrompt: "You are an assistant that summarizes agent execution transcripts.",
		Messages:     []*types.Message{types.NewUserTextMessage(prompt)},
	})
	if err != nil {
		m.log.Warnf("round %d summary failed, using raw digest: %v", roundNum, err)
		return digest
	}

	summary := strings.TrimSpace(resp.Message.Text())
	if summary == "" {
		m.log.Warnf("round %d summary came back empty, using raw digest", roundNum)
		return digest
	}
	return summary
}

// roundDigest renders one execution round as plain text: the raw-join
// fallback and the summariser's input.
func roundDigest(round []*types.Message, roundNum int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Execution round %d:\n\n", roundNum)
	for _, msg := range round {
		switch msg.Role {
		case types.RoleModel:
			if text := msg.Text(); text != "" {
				fmt.Fprintf(&b, "Assistant: %s\n", truncate(text, 200))
			}
			if len(msg.ToolCalls) > 0 {
				names := make([]string, 0, len(msg.ToolCalls))
				for _, call := range msg.ToolCalls {
					names = append(names, call.Name)
				}
				fmt.Fprintf(&b, "  called tools: %s\n", strings.Join(names, ", "))
			}
		case types.RoleTool:
			if msg.Result != nil {
				fmt.Fprintf(&b, "  tool %s returned: %s\n", msg.Name, truncate(msg.Result.MarshalText(), 100))
			}
		case types.RoleUser:
			// Synthetic summaries from a previous pass land here; keep them.
			fmt.Fprintf(&b, "%s\n", truncate(msg.Text(), 200))
		}
	}
	return b.String()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
