// Package agent drives one cancellable, step-bounded run against a
// conversation state: alternating LLM calls and tool invocations, emitting
// lifecycle events, until the model answers without tool calls, the step
// budget is spent, or the run is aborted.
package agent

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/oklog/ulid/v2"

	agentcontext "github.com/EmaFanClub/EverMemoryArchive/pkg/agent/context"
	"github.com/EmaFanClub/EverMemoryArchive/pkg/agent/tools"
	"github.com/EmaFanClub/EverMemoryArchive/pkg/events"
	"github.com/EmaFanClub/EverMemoryArchive/pkg/llm"
	"github.com/EmaFanClub/EverMemoryArchive/pkg/llm/retry"
	"github.com/EmaFanClub/EverMemoryArchive/pkg/logging"
	"github.com/EmaFanClub/EverMemoryArchive/pkg/types"
)

// abortedMsg is the terminal message of a cancelled run.
const abortedMsg = "Aborted"

// ErrStateReused is returned when a Run continuation is invoked more than
// once.
var ErrStateReused = errors.New("agent: run loop already bound to a state")

// Config bounds one run.
type Config struct {
	MaxSteps int
}

// Agent executes runs. One agent processes at most one run at a time; the
// actor worker serialises calls.
type Agent struct {
	provider llm.Provider
	events   *events.Emitter
	log      *logging.Logger
	maxSteps int

	running atomic.Bool
	aborted atomic.Bool

	cancelMu  sync.Mutex
	cancelRun context.CancelFunc
}

// Option configures an Agent.
type Option func(*Agent)

// WithMaxSteps sets the step budget per run.
func WithMaxSteps(max int) Option {
	return func(a *Agent) {
		a.maxSteps = max
	}
}

// New creates an agent bound to a provider. The default step budget is 50.
func New(provider llm.Provider, opts ...Option) *Agent {
	log, err := logging.NewLogger("agent")
	if err != nil {
		log.Warnf("file logging unavailable, using stderr: %v", err)
	}

	a := &Agent{
		provider: provider,
		events:   events.New(),
		log:      log,
		maxSteps: 50,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Events returns the agent's event emitter.
func (a *Agent) Events() *events.Emitter {
	return a.events
}

// IsRunning reports whether a run is in flight.
func (a *Agent) IsRunning() bool {
	return a.running.Load()
}

// Abort requests cancellation of the active run. It is idempotent and
// returns once the request is delivered; the run observes it at its next
// checkpoint, and an in-flight LLM call observes it as context
// cancellation.
func (a *Agent) Abort() {
	a.aborted.Store(true)
	a.cancelMu.Lock()
	if a.cancelRun != nil {
		a.cancelRun()
	}
	a.cancelMu.Unlock()
}

// LoopFunc hands the conversation state to the agent and starts the main
// loop. It may be invoked at most once per Run.
type LoopFunc func(state *agentcontext.Manager) error

// Run calls bind with a single-use loop continuation. The state passed to
// the continuation becomes the active state and the main loop runs to its
// terminal event before the continuation returns. Binding twice returns
// ErrStateReused; never binding means no work runs.
func (a *Agent) Run(ctx context.Context, bind func(loop LoopFunc) error) error {
	var bound atomic.Bool
	loop := func(state *agentcontext.Manager) error {
		if !bound.CompareAndSwap(false, true) {
			return ErrStateReused
		}
		a.RunWithState(ctx, state)
		return nil
	}
	return bind(loop)
}

// RunWithState runs the main loop against the given state. It blocks until
// the run reaches its terminal event; operational failures surface as
// runFinished events, never as panics or returned errors.
func (a *Agent) RunWithState(ctx context.Context, state *agentcontext.Manager) {
	a.running.Store(true)
	a.aborted.Store(false)
	defer a.running.Store(false)

	log := a.log.WithRun(ulid.Make().String())

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.cancelMu.Lock()
	a.cancelRun = cancel
	a.cancelMu.Unlock()
	defer func() {
		a.cancelMu.Lock()
		a.cancelRun = nil
		a.cancelMu.Unlock()
	}()

	state.SetEmitter(a.events.Emit)
	defer state.SetEmitter(nil)

	finished := false
	finish := func(ok bool, msg, errText string) {
		if finished {
			return
		}
		finished = true
		a.events.Emit(types.NewRunFinishedEvent(ok, msg, errText))
	}

	for step := 1; step <= a.maxSteps; step++ {
		a.events.Emit(types.NewStepStartedEvent(step, a.maxSteps))

		if a.aborted.Load() {
			finish(false, abortedMsg, abortedMsg)
			return
		}

		state.Summarize(runCtx)

		resp, err := a.provider.Generate(runCtx, &llm.Request{
			SystemPrompt: state.SystemPrompt(),
			Messages:     state.History(),
			Tools:        state.ToolDefinitions(),
		})
		if err != nil {
			if a.aborted.Load() || errors.Is(err, context.Canceled) {
				finish(false, abortedMsg, abortedMsg)
				return
			}
			if exhausted, ok := retry.IsExhausted(err); ok {
				log.Errorf("LLM call failed after %d attempts: %v", exhausted.Attempts, exhausted.LastErr)
				finish(false,
					fmt.Sprintf("LLM call failed after %d attempts", exhausted.Attempts),
					exhausted.Error())
				return
			}
			log.Errorf("LLM call failed: %v", err)
			finish(false, "LLM call failed", err.Error())
			return
		}
		if a.aborted.Load() {
			finish(false, abortedMsg, abortedMsg)
			return
		}

		state.AddModel(resp)
		a.events.Emit(types.NewLLMResponseReceivedEvent(resp))

		if !resp.HasToolCalls() {
			finish(true, resp.FinishReason, "")
			return
		}

		for _, call := range resp.Message.ToolCalls {
			if a.aborted.Load() {
				finish(false, abortedMsg, abortedMsg)
				return
			}

			a.events.Emit(types.NewToolCallStartedEvent(call))
			result := a.executeToolCall(runCtx, log, state, call)

			if call.Name == tools.EmaReplyName && result.Success {
				result = a.interceptEmaReply(log, result)
			}

			a.events.Emit(types.NewToolCallFinishedEvent(call, result))
			state.AddTool(result, call.Name, call.ID)
		}
	}

	finish(false, fmt.Sprintf("Task couldn't be completed after %d steps", a.maxSteps),
		fmt.Sprintf("Task couldn't be completed after %d steps", a.maxSteps))
}

// executeToolCall resolves and runs one tool call, converting unknown
// names, returned errors, and panics into failed results so the loop can
// continue and the model can correct itself.
func (a *Agent) executeToolCall(ctx context.Context, log *logging.Logger, state *agentcontext.Manager, call types.ToolCall) (result *types.ToolResult) {
	tool, ok := state.Tool(call.Name)
	if !ok {
		log.Warnf("unknown tool requested: %s", call.Name)
		return &types.ToolResult{Success: false, Error: fmt.Sprintf("Unknown tool: %s", call.Name)}
	}

	defer func() {
		if r := recover(); r != nil {
			log.Errorf("tool %s panicked: %v", call.Name, r)
			result = &types.ToolResult{
				Success: false,
				Error:   fmt.Sprintf("%s: %v\n\n%s", call.Name, r, debug.Stack()),
			}
		}
	}()

	res, err := tool.Execute(ctx, call.Args)
	if err != nil {
		log.Warnf("tool %s failed: %v", call.Name, err)
		return &types.ToolResult{Success: false, Error: fmt.Sprintf("%s: %s", call.Name, err)}
	}
	if res == nil {
		return &types.ToolResult{Success: false, Error: fmt.Sprintf("%s: tool returned no result", call.Name)}
	}
	return res
}

// interceptEmaReply handles the privileged structured-reply tool: the
// parsed reply is delivered via an event and the stored result is blanked
// so history does not repeat the user-visible payload.
func (a *Agent) interceptEmaReply(log *logging.Logger, result *types.ToolResult) *types.ToolResult {
	reply, err := types.ParseEmaReply(result.Content)
	if err != nil {
		log.Errorf("ema reply content did not parse: %v", err)
		return &types.ToolResult{Success: false, Error: fmt.Sprintf("%s: %s", tools.EmaReplyName, err)}
	}

	a.events.Emit(types.NewEmaReplyReceivedEvent(reply))
	return &types.ToolResult{Success: true}
}
