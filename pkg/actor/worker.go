// Package actor provides the per-actor worker facade: it queues incoming
// input batches, serialises agent runs, handles preemption when new input
// arrives mid-run, persists the message buffer, and fans status/event
// snapshots out to subscribers.
package actor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/EmaFanClub/EverMemoryArchive/pkg/agent"
	agentcontext "github.com/EmaFanClub/EverMemoryArchive/pkg/agent/context"
	"github.com/EmaFanClub/EverMemoryArchive/pkg/agent/tools"
	"github.com/EmaFanClub/EverMemoryArchive/pkg/llm"
	"github.com/EmaFanClub/EverMemoryArchive/pkg/logging"
	"github.com/EmaFanClub/EverMemoryArchive/pkg/memory"
	"github.com/EmaFanClub/EverMemoryArchive/pkg/types"
)

var (
	// ErrEmptyInputs is returned by Work for an empty input batch.
	ErrEmptyInputs = errors.New("actor: inputs must not be empty")
	// ErrNonTextInput is returned by Work for content that is not text.
	ErrNonTextInput = errors.New("actor: only text content is supported")
	// ErrUnimplemented marks the reserved actor-state storage APIs.
	ErrUnimplemented = errors.New("actor: not implemented")
)

// Config identifies one actor and bounds its runs. One Worker instance
// exists per (UserID, ActorID); all runs for that identity are serialised.
type Config struct {
	UserID  int64
	ActorID int64

	// Name is the actor's display name, recorded on its buffer entries.
	Name string
	// UserName is recorded on user buffer entries.
	UserName string
	// SystemPrompt may contain {MEMORY_BUFFER} placeholders, expanded with
	// recent buffer records before each fresh run.
	SystemPrompt string

	MaxSteps   int
	TokenLimit int
}

// Subscriber receives {status, events} snapshots. Callbacks run on the
// worker's delivery path; a subscriber that needs to call back into the
// Worker must hand off to another goroutine.
type Subscriber func(*types.Snapshot)

// Subscription identifies a registered subscriber.
type Subscription struct {
	fn     Subscriber
	cursor int
}

// Worker is the per-actor facade over the agent runtime.
type Worker struct {
	cfg      Config
	provider llm.Provider
	buffer   *memory.BufferStore
	short    *memory.ShortTermStore
	long     *memory.LongTermStore
	agent    *agent.Agent
	toolSet  []tools.Tool
	log      *logging.Logger

	mu            sync.Mutex
	status        types.ActorStatus
	queue         [][]types.Content
	cached        *agentcontext.Manager
	resume        bool
	hasReplyInRun bool
	processing    bool
	eventLog      []*types.AgentEvent
	subscribers   []*Subscription

	// deliverMu serialises snapshot delivery so subscribers observe
	// broadcasts in emission order. It is acquired while mu is held and
	// released after delivery.
	deliverMu sync.Mutex

	writeCh   chan *types.BufferMessage
	writeDone chan struct{}
	closeOnce sync.Once
}

// NewWorker creates a worker for one actor identity. The tool set always
// carries the structured-reply tool and the long-term memory tools bound to
// this actor.
func NewWorker(provider llm.Provider, buffer *memory.BufferStore, short *memory.ShortTermStore, long *memory.LongTermStore, cfg Config) *Worker {
	log, err := logging.NewLogger("actor")
	if err != nil {
		log.Warnf("file logging unavailable, using stderr: %v", err)
	}

	if cfg.Name == "" {
		cfg.Name = "Ema"
	}
	if cfg.UserName == "" {
		cfg.UserName = "user"
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = 50
	}
	if cfg.TokenLimit <= 0 {
		cfg.TokenLimit = 80000
	}
	log = log.WithActor(cfg.UserID, cfg.ActorID)

	w := &Worker{
		cfg:      cfg,
		provider: provider,
		buffer:   buffer,
		short:    short,
		long:     long,
		log:      log,
		status:   types.ActorStatusIdle,
		toolSet: []tools.Tool{
			tools.NewEmaReplyTool(),
			tools.NewMemorySearchTool(long, cfg.ActorID),
			tools.NewMemoryStoreTool(long, cfg.ActorID),
		},
		writeCh:   make(chan *types.BufferMessage, 64),
		writeDone: make(chan struct{}),
	}
	w.agent = agent.New(provider, agent.WithMaxSteps(cfg.MaxSteps))
	w.agent.Events().Subscribe(w.onAgentEvent)

	go w.bufferWriter()
	return w
}

// Close stops the buffer writer after draining pending writes.
func (w *Worker) Close() {
	w.closeOnce.Do(func() {
		close(w.writeCh)
		<-w.writeDone
	})
}

// Agent exposes the underlying agent, primarily for idle-wait in the task
// scheduler.
func (w *Worker) Agent() *agent.Agent {
	return w.agent
}

// Status returns the current lifecycle status.
func (w *Worker) Status() types.ActorStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// Work validates and enqueues one input batch. If a run is active it is
// aborted; the next run resumes the cached conversation state unless a
// structured reply has already been produced this run. Work itself only
// fails on precondition violations.
func (w *Worker) Work(inputs []types.Content) error {
	if len(inputs) == 0 {
		return ErrEmptyInputs
	}
	text := ""
	for _, c := range inputs {
		if c.Type != types.ContentTypeText {
			return ErrNonTextInput
		}
		text += c.Text
	}

	w.mu.Lock()
	w.enqueueBufferWriteLocked(&types.BufferMessage{
		Name: w.cfg.UserName,
		Role: types.BufferRoleUser,
		Text: text,
		Time: time.Now().Unix(),
	})
	w.queue = append(w.queue, inputs)

	if w.processing {
		if !w.hasReplyInRun {
			w.resume = true
		}
		w.appendEventLocked(types.NewMessageEvent("Preempted by new input"))
		w.mu.Unlock()
		w.agent.Abort()
		return nil
	}

	w.processing = true
	w.mu.Unlock()

	go w.processQueue()
	return nil
}

// processQueue drains the input queue serially, one agent run per batch.
func (w *Worker) processQueue() {
	for {
		w.mu.Lock()
		if len(w.queue) == 0 {
			if !w.resume {
				w.cached = nil
			}
			w.processing = false
			w.setStatusLocked(types.ActorStatusIdle)
			w.mu.Unlock()
			return
		}

		batch := w.queue[0]
		w.queue = w.queue[1:]
		resume := w.resume && w.cached != nil
		w.resume = false
		w.hasReplyInRun = false
		cached := w.cached
		w.setStatusLocked(types.ActorStatusPreparing)
		w.mu.Unlock()

		var state *agentcontext.Manager
		if resume {
			state = cached
			state.AddUser(batch...)
		} else {
			state = agentcontext.NewManager(
				w.provider,
				w.renderSystemPrompt(),
				w.toolSet,
				agentcontext.WithTokenLimit(w.cfg.TokenLimit),
			)
			state.AddUser(batch...)
		}

		w.mu.Lock()
		w.cached = state
		w.setStatusLocked(types.ActorStatusRunning)
		w.mu.Unlock()

		w.agent.RunWithState(context.Background(), state)
	}
}

// onAgentEvent forwards agent events into the actor's event log and tracks
// structured replies for the preemption policy and buffer persistence.
func (w *Worker) onAgentEvent(ev *types.AgentEvent) {
	w.mu.Lock()
	if ev.Type == types.EventTypeEmaReplyReceived {
		w.hasReplyInRun = true
		if payload, ok := ev.Content.(*types.EmaReplyPayload); ok && payload.Reply != nil {
			w.enqueueBufferWriteLocked(&types.BufferMessage{
				Name:  w.cfg.Name,
				Role:  types.BufferRoleEma,
				Text:  payload.Reply.Response,
				Time:  time.Now().Unix(),
				Reply: payload.Reply,
			})
		}
	}
	w.appendEventLocked(ev)
	w.mu.Unlock()
}

// Subscribe registers a subscriber. It immediately receives a replay of
// every event so far with the current status, then incremental deltas.
func (w *Worker) Subscribe(fn Subscriber) *Subscription {
	w.mu.Lock()
	sub := &Subscription{fn: fn, cursor: len(w.eventLog)}
	w.subscribers = append(w.subscribers, sub)

	replay := &types.Snapshot{
		Status: w.status,
		Events: append([]*types.AgentEvent(nil), w.eventLog...),
	}
	w.deliverMu.Lock()
	w.mu.Unlock()

	safeDeliver(fn, replay)
	w.deliverMu.Unlock()
	return sub
}

// Unsubscribe removes a subscriber. Unknown subscriptions are a no-op.
func (w *Worker) Unsubscribe(sub *Subscription) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, s := range w.subscribers {
		if s == sub {
			w.subscribers = append(w.subscribers[:i], w.subscribers[i+1:]...)
			return
		}
	}
}

// appendEventLocked records an event and broadcasts the delta. Caller holds
// w.mu.
func (w *Worker) appendEventLocked(ev *types.AgentEvent) {
	w.eventLog = append(w.eventLog, ev)
	w.broadcastLocked()
}

// setStatusLocked updates status and broadcasts. Caller holds w.mu; the
// method returns with w.mu held.
func (w *Worker) setStatusLocked(status types.ActorStatus) {
	w.status = status
	w.broadcastLocked()
}

// broadcastLocked delivers {status, delta} snapshots to every subscriber.
// Caller holds w.mu; delivery happens outside it, serialised by deliverMu
// so snapshot order matches emission order.
func (w *Worker) broadcastLocked() {
	type delivery struct {
		fn       Subscriber
		snapshot *types.Snapshot
	}
	var deliveries []delivery
	for _, sub := range w.subscribers {
		delta := w.eventLog[sub.cursor:]
		snapshot := &types.Snapshot{
			Status: w.status,
			Events: append([]*types.AgentEvent(nil), delta...),
		}
		sub.cursor = len(w.eventLog)
		deliveries = append(deliveries, delivery{fn: sub.fn, snapshot: snapshot})
	}
	if len(deliveries) == 0 {
		return
	}

	w.deliverMu.Lock()
	w.mu.Unlock()
	for _, d := range deliveries {
		safeDeliver(d.fn, d.snapshot)
	}
	w.deliverMu.Unlock()
	w.mu.Lock()
}

func safeDeliver(fn Subscriber, snapshot *types.Snapshot) {
	defer func() {
		_ = recover()
	}()
	fn(snapshot)
}

// enqueueBufferWriteLocked hands a record to the serial buffer writer.
// Caller holds w.mu; channel order matches arrival order.
func (w *Worker) enqueueBufferWriteLocked(msg *types.BufferMessage) {
	select {
	case w.writeCh <- msg:
	default:
		// Writer backlog is full; block outside the fast path rather than
		// dropping the record.
		w.mu.Unlock()
		w.writeCh <- msg
		w.mu.Lock()
	}
}

// bufferWriter consumes the write channel, preserving FIFO order. Write
// errors are logged and never block later writes.
func (w *Worker) bufferWriter() {
	defer close(w.writeDone)
	for msg := range w.writeCh {
		if err := w.buffer.Append(context.Background(), w.cfg.ActorID, msg); err != nil {
			w.log.Errorf("buffer write failed for actor %d: %v", w.cfg.ActorID, err)
		}
	}
}

// Search queries the actor's long-term memories by keyword.
func (w *Worker) Search(ctx context.Context, keywords []string) ([]*memory.LongTermMemory, error) {
	return w.long.Search(ctx, w.cfg.ActorID, keywords)
}

// AddShortTermMemory persists a short-term memory for this actor.
func (w *Worker) AddShortTermMemory(ctx context.Context, content string) (*memory.ShortTermMemory, error) {
	return w.short.Add(ctx, w.cfg.ActorID, content)
}

// AddLongTermMemory persists a long-term memory for this actor.
func (w *Worker) AddLongTermMemory(ctx context.Context, content string, keywords []string) (*memory.LongTermMemory, error) {
	return w.long.Add(ctx, w.cfg.ActorID, content, keywords)
}

// GetState is reserved actor-state storage API surface.
func (w *Worker) GetState(ctx context.Context) (map[string]any, error) {
	return nil, ErrUnimplemented
}

// UpdateState is reserved actor-state storage API surface.
func (w *Worker) UpdateState(ctx context.Context, state map[string]any) error {
	return ErrUnimplemented
}
