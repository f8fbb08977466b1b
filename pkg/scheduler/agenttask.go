package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/EmaFanClub/EverMemoryArchive/pkg/agent"
	"github.com/EmaFanClub/EverMemoryArchive/pkg/logging"
)

// ErrWaitTimeout is returned by WaitForIdle when the agent stays busy past
// the timeout.
var ErrWaitTimeout = errors.New("scheduler: wait for idle timed out")

// idlePollInterval paces the running-state polls in WaitForIdle.
const idlePollInterval = 10 * time.Millisecond

// AgentTask binds scheduled work to an agent. When Agent is nil, the
// scheduler creates a fresh one for the invocation.
type AgentTask struct {
	Name  string
	Agent *agent.Agent
	Work  func(ctx context.Context, ag *agent.Agent, s *AgentTaskScheduler) error
}

// AgentTaskScheduler invokes agent tasks and offers idle-wait on agents.
type AgentTaskScheduler struct {
	newAgent func() *agent.Agent
	log      *logging.Logger
}

// NewAgentTaskScheduler creates a scheduler. newAgent supplies fresh agents
// for unbound tasks; it may be nil when every task carries its own agent.
func NewAgentTaskScheduler(newAgent func() *agent.Agent) *AgentTaskScheduler {
	log, err := logging.NewLogger("scheduler")
	if err != nil {
		log.Warnf("file logging unavailable, using stderr: %v", err)
	}
	return &AgentTaskScheduler{newAgent: newAgent, log: log}
}

// Run invokes the task's work on its bound agent, or a freshly created one.
func (s *AgentTaskScheduler) Run(ctx context.Context, task AgentTask) error {
	if task.Work == nil {
		return fmt.Errorf("scheduler: task %q has no work", task.Name)
	}

	ag := task.Agent
	if ag == nil {
		if s.newAgent == nil {
			return fmt.Errorf("scheduler: task %q has no agent and no factory is configured", task.Name)
		}
		ag = s.newAgent()
	}

	log := s.log.WithScope("task:" + task.Name)
	log.Infof("running agent task")
	err := task.Work(ctx, ag, s)
	if err != nil {
		log.Errorf("agent task failed: %v", err)
	}
	return err
}

// WaitForIdle resolves when the agent's IsRunning transitions to false, the
// timeout elapses (ErrWaitTimeout), or ctx is done. A timeout of zero waits
// indefinitely. No locks are held while waiting.
func (s *AgentTaskScheduler) WaitForIdle(ctx context.Context, ag *agent.Agent, timeout time.Duration) error {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	ticker := time.NewTicker(idlePollInterval)
	defer ticker.Stop()

	for {
		if !ag.IsRunning() {
			return nil
		}
		select {
		case <-ticker.C:
		case <-deadline:
			return ErrWaitTimeout
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
