package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EmaFanClub/EverMemoryArchive/pkg/agent"
	agentcontext "github.com/EmaFanClub/EverMemoryArchive/pkg/agent/context"
	"github.com/EmaFanClub/EverMemoryArchive/pkg/llm"
	"github.com/EmaFanClub/EverMemoryArchive/pkg/types"
)

func blockedProvider(release chan struct{}) *llm.MockProvider {
	return &llm.MockProvider{
		GenerateFunc: func(ctx context.Context, req *llm.Request) (*types.LLMResponse, error) {
			select {
			case <-release:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			return &types.LLMResponse{
				Message:      types.NewModelMessage([]types.Content{types.NewTextContent("done")}, nil),
				FinishReason: "stop",
			}, nil
		},
	}
}

func TestRun_BoundAgent(t *testing.T) {
	bound := agent.New(&llm.MockProvider{})
	s := NewAgentTaskScheduler(nil)

	var got *agent.Agent
	err := s.Run(context.Background(), AgentTask{
		Name:  "bound",
		Agent: bound,
		Work: func(ctx context.Context, ag *agent.Agent, sched *AgentTaskScheduler) error {
			got = ag
			return nil
		},
	})
	require.NoError(t, err)
	assert.Same(t, bound, got)
}

func TestRun_FreshAgentFromFactory(t *testing.T) {
	created := 0
	s := NewAgentTaskScheduler(func() *agent.Agent {
		created++
		return agent.New(&llm.MockProvider{})
	})

	var got *agent.Agent
	err := s.Run(context.Background(), AgentTask{
		Name: "fresh",
		Work: func(ctx context.Context, ag *agent.Agent, sched *AgentTaskScheduler) error {
			got = ag
			return nil
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, created)
	assert.NotNil(t, got)
}

func TestRun_MissingPieces(t *testing.T) {
	s := NewAgentTaskScheduler(nil)

	err := s.Run(context.Background(), AgentTask{Name: "no-work"})
	assert.Error(t, err)

	err = s.Run(context.Background(), AgentTask{
		Name: "no-agent",
		Work: func(ctx context.Context, ag *agent.Agent, sched *AgentTaskScheduler) error { return nil },
	})
	assert.Error(t, err)
}

func TestWaitForIdle_AlreadyIdle(t *testing.T) {
	s := NewAgentTaskScheduler(nil)
	ag := agent.New(&llm.MockProvider{})

	assert.NoError(t, s.WaitForIdle(context.Background(), ag, time.Second))
}

func TestWaitForIdle_ResolvesWhenRunEnds(t *testing.T) {
	release := make(chan struct{})
	provider := blockedProvider(release)
	ag := agent.New(provider)
	s := NewAgentTaskScheduler(nil)

	st := agentcontext.NewManager(provider, "", nil)
	st.AddUser(types.NewTextContent("hi"))

	done := make(chan struct{})
	go func() {
		ag.RunWithState(context.Background(), st)
		close(done)
	}()

	require.Eventually(t, ag.IsRunning, time.Second, time.Millisecond)

	// Still busy: a short timeout elapses.
	err := s.WaitForIdle(context.Background(), ag, 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrWaitTimeout)

	// Release the run: the wait resolves.
	close(release)
	assert.NoError(t, s.WaitForIdle(context.Background(), ag, 5*time.Second))
	<-done
}

func TestWaitForIdle_ContextCancel(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	provider := blockedProvider(release)
	ag := agent.New(provider)
	s := NewAgentTaskScheduler(nil)

	st := agentcontext.NewManager(provider, "", nil)
	st.AddUser(types.NewTextContent("hi"))
	go ag.RunWithState(context.Background(), st)
	require.Eventually(t, ag.IsRunning, time.Second, time.Millisecond)
	defer ag.Abort()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.WaitForIdle(ctx, ag, 0), context.Canceled)
}
