package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedule_TickFiresRepeatedly(t *testing.T) {
	var mu sync.Mutex
	var fires []time.Time

	tab, err := Schedule(TickTask{Interval: 10 * time.Millisecond}, func(fired time.Time, cancel func()) {
		mu.Lock()
		fires = append(fires, fired)
		n := len(fires)
		mu.Unlock()
		if n >= 3 {
			cancel()
		}
	})
	require.NoError(t, err)

	require.Eventually(t, tab.Cancelled, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, len(fires), 3)
	for i := 1; i < len(fires); i++ {
		assert.False(t, fires[i].Before(fires[i-1]), "fires must be ordered")
	}
}

func TestSchedule_OnceSelfCancels(t *testing.T) {
	var mu sync.Mutex
	count := 0

	tab, err := Schedule(TickTask{Interval: 5 * time.Millisecond, Once: true}, func(fired time.Time, cancel func()) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	require.NoError(t, err)

	require.Eventually(t, tab.Cancelled, time.Second, time.Millisecond)
	time.Sleep(30 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, count)
}

func TestSchedule_CancelIsIdempotent(t *testing.T) {
	tab, err := Schedule(TickTask{Interval: time.Hour}, func(time.Time, func()) {})
	require.NoError(t, err)

	assert.False(t, tab.Cancelled())
	tab.Cancel()
	tab.Cancel()
	assert.True(t, tab.Cancelled())
}

func TestSchedule_InvalidTasks(t *testing.T) {
	_, err := Schedule(TickTask{Interval: 0}, func(time.Time, func()) {})
	assert.Error(t, err)

	_, err = Schedule(CronTask{Expr: "not a cron"}, func(time.Time, func()) {})
	assert.Error(t, err)
}

func TestSchedule_CronParsesStandardExpressions(t *testing.T) {
	// Five-field syntax; fires at most once a minute, so cancel right away.
	tab, err := Schedule(CronTask{Expr: "*/5 * * * *"}, func(time.Time, func()) {})
	require.NoError(t, err)
	tab.Cancel()
}

func TestIterate_ConsumedIsPrefixOfFired(t *testing.T) {
	it, err := Iterate(TickTask{Interval: 5 * time.Millisecond})
	require.NoError(t, err)
	defer it.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var consumed []time.Time
	for len(consumed) < 4 {
		fired, ok := it.Next(ctx)
		require.True(t, ok)
		consumed = append(consumed, fired)
	}

	for i := 1; i < len(consumed); i++ {
		assert.False(t, consumed[i].Before(consumed[i-1]), "consumed order must match fire order")
	}
}

func TestIterate_SlowConsumerQueues(t *testing.T) {
	it, err := Iterate(TickTask{Interval: 5 * time.Millisecond})
	require.NoError(t, err)
	defer it.Stop()

	// Let several fires queue before consuming.
	time.Sleep(40 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	first, ok := it.Next(ctx)
	require.True(t, ok)
	second, ok := it.Next(ctx)
	require.True(t, ok)
	assert.False(t, second.Before(first))
}

func TestIterate_StopEndsStream(t *testing.T) {
	it, err := Iterate(TickTask{Interval: time.Hour})
	require.NoError(t, err)

	it.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, ok := it.Next(ctx)
	assert.False(t, ok)
}

func TestIterate_Restartable(t *testing.T) {
	task := TickTask{Interval: 5 * time.Millisecond}

	first, err := Iterate(task)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, ok := first.Next(ctx)
	require.True(t, ok)
	first.Stop()

	// Iterating again creates a fresh schedule.
	second, err := Iterate(task)
	require.NoError(t, err)
	defer second.Stop()

	_, ok = second.Next(ctx)
	assert.True(t, ok)
}

func TestIterate_OnceDrainsThenEnds(t *testing.T) {
	it, err := Iterate(TickTask{Interval: 5 * time.Millisecond, Once: true})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, ok := it.Next(ctx)
	require.True(t, ok)

	_, ok = it.Next(ctx)
	assert.False(t, ok)
}
