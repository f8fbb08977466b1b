// Package scheduler provides timed task dispatch (cron expressions and
// fixed ticks) and the agent-task mode that binds scheduled work to agents
// with idle-wait semantics.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// TimedTask describes when a scheduled callback fires.
type TimedTask interface {
	// plan validates the task and returns its fire-time planner.
	plan() (planner, error)
	// fireOnce reports whether the schedule self-cancels after one fire.
	fireOnce() bool
}

// planner computes successive fire times.
type planner interface {
	next(after time.Time) time.Time
}

// CronTask fires on a standard 5-field cron expression.
type CronTask struct {
	Expr string
	Once bool
}

func (t CronTask) plan() (planner, error) {
	sched, err := cron.ParseStandard(t.Expr)
	if err != nil {
		return nil, fmt.Errorf("scheduler: parse cron %q: %w", t.Expr, err)
	}
	return cronPlanner{sched: sched}, nil
}

func (t CronTask) fireOnce() bool { return t.Once }

type cronPlanner struct {
	sched cron.Schedule
}

func (p cronPlanner) next(after time.Time) time.Time {
	return p.sched.Next(after)
}

// TickTask fires every Interval.
type TickTask struct {
	Interval time.Duration
	Once     bool
}

func (t TickTask) plan() (planner, error) {
	if t.Interval <= 0 {
		return nil, fmt.Errorf("scheduler: tick interval must be positive, got %v", t.Interval)
	}
	return tickPlanner{interval: t.Interval}, nil
}

func (t TickTask) fireOnce() bool { return t.Once }

type tickPlanner struct {
	interval time.Duration
}

func (p tickPlanner) next(after time.Time) time.Time {
	return after.Add(p.interval)
}

// Callback receives each fire time plus a cancel function for the schedule.
type Callback func(fired time.Time, cancel func())

// TimedTab controls one active schedule.
type TimedTab struct {
	mu        sync.Mutex
	cancelled bool
	stop      chan struct{}
}

func newTimedTab() *TimedTab {
	return &TimedTab{stop: make(chan struct{})}
}

// Cancel stops the schedule. It is idempotent.
func (t *TimedTab) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancelled {
		return
	}
	t.cancelled = true
	close(t.stop)
}

// Cancelled reports whether the schedule has been stopped.
func (t *TimedTab) Cancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

// Done returns a channel closed when the schedule stops.
func (t *TimedTab) Done() <-chan struct{} {
	return t.stop
}

// Schedule fires cb at each instant the task plans until cancelled, or
// after the first fire for once-tasks. The callback runs on the schedule's
// goroutine; a slow callback delays subsequent fires.
func Schedule(task TimedTask, cb Callback) (*TimedTab, error) {
	plan, err := task.plan()
	if err != nil {
		return nil, err
	}

	tab := newTimedTab()
	go func() {
		for {
			next := plan.next(time.Now())
			if next.IsZero() {
				tab.Cancel()
				return
			}

			timer := time.NewTimer(time.Until(next))
			select {
			case <-tab.stop:
				timer.Stop()
				return
			case fired := <-timer.C:
				cb(fired, tab.Cancel)
				if task.fireOnce() {
					tab.Cancel()
					return
				}
			}
		}
	}()

	return tab, nil
}

// Iterator yields the fire times of a schedule as a lazy, possibly
// infinite stream. Fires that arrive while the consumer is busy queue up
// and are delivered in order; a waiting consumer is resolved directly by
// the next fire. Stop cancels the underlying schedule; calling Iterate
// again creates a fresh one.
type Iterator struct {
	mu     sync.Mutex
	queue  []time.Time
	notify chan struct{}
	tab    *TimedTab
}

// Iterate starts a schedule for the task and returns its fire-time stream.
func Iterate(task TimedTask) (*Iterator, error) {
	it := &Iterator{notify: make(chan struct{}, 1)}

	tab, err := Schedule(task, func(fired time.Time, cancel func()) {
		it.mu.Lock()
		it.queue = append(it.queue, fired)
		it.mu.Unlock()
		select {
		case it.notify <- struct{}{}:
		default:
		}
	})
	if err != nil {
		return nil, err
	}
	it.tab = tab
	return it, nil
}

// Next returns the next fire time. It blocks until a fire arrives, the
// schedule is cancelled (queued fires are still drained first), or ctx is
// done. The second result is false when the stream has ended.
func (it *Iterator) Next(ctx context.Context) (time.Time, bool) {
	for {
		it.mu.Lock()
		if len(it.queue) > 0 {
			fired := it.queue[0]
			it.queue = it.queue[1:]
			it.mu.Unlock()
			return fired, true
		}
		cancelled := it.tab.Cancelled()
		it.mu.Unlock()

		if cancelled {
			return time.Time{}, false
		}

		select {
		case <-it.notify:
		case <-it.tab.Done():
		case <-ctx.Done():
			return time.Time{}, false
		}
	}
}

// Stop cancels the underlying schedule. Queued fires remain consumable.
func (it *Iterator) Stop() {
	it.tab.Cancel()
}
