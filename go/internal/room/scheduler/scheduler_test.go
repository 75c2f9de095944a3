package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_Every(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := New(clock)
	defer s.Stop()

	var runs atomic.Int32
	require.NoError(t, s.Every("tick", 5*time.Second, func() { runs.Add(1) }))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	clock.Advance(5 * time.Second)
	assert.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, 5*time.Millisecond)

	clock.Advance(5 * time.Second)
	assert.Eventually(t, func() bool { return runs.Load() == 2 }, time.Second, 5*time.Millisecond)
}

func TestScheduler_Cancel(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := New(clock)
	defer s.Stop()

	var runs atomic.Int32
	require.NoError(t, s.Every("tick", time.Second, func() { runs.Add(1) }))
	assert.Equal(t, []string{"tick"}, s.Jobs())

	s.Cancel("tick")
	s.Cancel("tick")
	assert.Empty(t, s.Jobs())

	clock.Advance(3 * time.Second)
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, runs.Load())
}

func TestScheduler_ReplaceSameName(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := New(clock)
	defer s.Stop()

	var first, second atomic.Int32
	require.NoError(t, s.Every("save", time.Second, func() { first.Add(1) }))
	require.NoError(t, s.Every("save", time.Second, func() { second.Add(1) }))
	assert.Equal(t, []string{"save"}, s.Jobs())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	clock.Advance(time.Second)
	assert.Eventually(t, func() bool { return second.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, first.Load())
}

func TestScheduler_Stop(t *testing.T) {
	s := New(clockwork.NewFakeClock())
	require.NoError(t, s.Every("a", time.Second, func() {}))
	require.NoError(t, s.Every("b", time.Second, func() {}))

	s.Stop()
	s.Stop()
	assert.Empty(t, s.Jobs())
	assert.ErrorIs(t, s.Every("c", time.Second, func() {}), ErrStopped)
}

func TestScheduler_RejectsNonPositiveInterval(t *testing.T) {
	s := New(clockwork.NewFakeClock())
	defer s.Stop()
	assert.Error(t, s.Every("a", 0, func() {}))
}
