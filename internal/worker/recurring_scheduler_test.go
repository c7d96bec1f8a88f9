package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	calls  atomic.Int32
	posted int
	err    error
}

func (f *fakeRunner) RunDueAll(ctx context.Context) (int, error) {
	f.calls.Add(1)
	return f.posted, f.err
}

func TestDefaultSchedulerConfig(t *testing.T) {
	config := DefaultSchedulerConfig()
	assert.Equal(t, time.Hour, config.Interval)
	assert.False(t, config.RunOnStart)

	s := NewRecurringScheduler(&fakeRunner{}, SchedulerConfig{}, nil)
	assert.Equal(t, time.Hour, s.config.Interval, "zero interval falls back to the default")
}

func TestRecurringScheduler_IsRunning(t *testing.T) {
	s := NewRecurringScheduler(&fakeRunner{}, DefaultSchedulerConfig(), nil)
	assert.False(t, s.IsRunning())

	require.NoError(t, s.Start(context.Background()))
	assert.True(t, s.IsRunning())

	require.NoError(t, s.Stop(context.Background()))
	assert.False(t, s.IsRunning())

	require.NoError(t, s.Stop(context.Background()), "stopping twice is a no-op")
}

func TestRecurringScheduler_StartTwice(t *testing.T) {
	s := NewRecurringScheduler(&fakeRunner{}, DefaultSchedulerConfig(), nil)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background())

	assert.Error(t, s.Start(context.Background()))
}

func TestRecurringScheduler_Ticks(t *testing.T) {
	runner := &fakeRunner{posted: 2}
	s := NewRecurringScheduler(runner, SchedulerConfig{Interval: 10 * time.Millisecond, RunOnStart: true}, nil)
	require.NoError(t, s.Start(context.Background()))

	require.Eventually(t, func() bool { return runner.calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop(context.Background()))

	runs, posted := s.Stats()
	assert.GreaterOrEqual(t, runs, 3)
	assert.Equal(t, runs*2, posted)
}

func TestRecurringScheduler_StopsWithContext(t *testing.T) {
	s := NewRecurringScheduler(&fakeRunner{}, SchedulerConfig{Interval: time.Hour}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))

	cancel()
	select {
	case <-s.doneCh:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not exit after context cancellation")
	}
}

func TestRunOnceKeepsPartialCounts(t *testing.T) {
	runner := &fakeRunner{posted: 1, err: errors.New("account u2: remote write failed")}
	s := NewRecurringScheduler(runner, DefaultSchedulerConfig(), nil)

	assert.Equal(t, 1, s.RunOnce(context.Background()))
	runs, posted := s.Stats()
	assert.Equal(t, 1, runs)
	assert.Equal(t, 1, posted)
}
