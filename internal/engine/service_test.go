package engine

import (
	"context"
	"errors"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobtrack/internal/eventbus"
	"jobtrack/pkg/logx"
)

func startService(t *testing.T, cfg Config, bus eventbus.Bus) *Service {
	t.Helper()
	cfg.Enabled = true
	s := New(cfg, logx.Nop(), bus)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func fastRetry() TaskOptions {
	return TaskOptions{Overlap: OverlapAllow, RetryBase: time.Millisecond, RetryMaxDelay: 2 * time.Millisecond}
}

func waitEvent(t *testing.T, ch <-chan eventbus.Event, typ string) TaskEvent {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case e := <-ch:
			if e.Type == typ {
				return e.Data.(TaskEvent)
			}
		case <-deadline:
			t.Fatalf("no %s event", typ)
		}
	}
}

func TestEnqueueRunsTask(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()
	s := startService(t, Config{Workers: 1}, bus)

	var ran atomic.Bool
	require.NoError(t, s.Enqueue(Task{Name: "ops.a", Run: func(context.Context) error {
		ran.Store(true)
		return nil
	}}))

	ev := waitEvent(t, events, eventbus.TaskFinished)
	assert.True(t, ran.Load())
	assert.Equal(t, "ops.a", ev.Name)
	assert.Equal(t, 1, ev.Attempts)
	assert.NotEmpty(t, ev.ID)
}

func TestEnqueueRejectsInvalidAndStopped(t *testing.T) {
	t.Parallel()
	disabled := New(Config{}, logx.Nop(), nil)
	assert.ErrorIs(t, disabled.Enqueue(Task{Name: "x", Run: func(context.Context) error { return nil }}), ErrDisabled)

	stopped := New(Config{Enabled: true}, logx.Nop(), nil)
	assert.ErrorIs(t, stopped.Enqueue(Task{Name: "x", Run: func(context.Context) error { return nil }}), ErrStopped)

	assert.ErrorIs(t, stopped.Enqueue(Task{Name: "x"}), ErrInvalidTask)
	assert.ErrorIs(t, stopped.Enqueue(Task{Name: "  ", Run: func(context.Context) error { return nil }}), ErrInvalidTask)
}

func TestOverlapSkipWhileRunning(t *testing.T) {
	t.Parallel()
	s := startService(t, Config{Workers: 2}, nil)
	release := make(chan struct{})
	started := make(chan struct{})
	task := Task{Name: "ops.slow", Opt: TaskOptions{Overlap: OverlapSkipIfRunning}, Run: func(context.Context) error {
		close(started)
		<-release
		return nil
	}}

	require.NoError(t, s.Enqueue(task))
	<-started
	assert.ErrorIs(t, s.Enqueue(task), ErrOverlapSkip)
	close(release)

	assert.Equal(t, uint64(1), s.Snapshot().Skipped)

	task.Run = func(context.Context) error { return nil }
	require.Eventually(t, func() bool { return s.Enqueue(task) == nil }, 2*time.Second, time.Millisecond,
		"gate released after the run")
}

func TestRetryUntilSuccess(t *testing.T) {
	t.Parallel()
	s := startService(t, Config{Workers: 1}, nil)
	var calls atomic.Int32
	opt := fastRetry()
	opt.RetryMax = 3
	require.NoError(t, s.Enqueue(Task{Name: "ops.flaky", Opt: opt, Run: func(context.Context) error {
		if calls.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	}}))

	require.Eventually(t, func() bool { return len(s.Snapshot().History) == 1 }, 2*time.Second, time.Millisecond)
	h := s.Snapshot().History[0]
	assert.Empty(t, h.Error)
	assert.Equal(t, 3, h.Attempts)
}

func TestNoRetryStopsImmediately(t *testing.T) {
	t.Parallel()
	s := startService(t, Config{Workers: 1, RetryMax: 5}, nil)
	var calls atomic.Int32
	opt := fastRetry()
	require.NoError(t, s.Enqueue(Task{Name: "ops.bad", Opt: opt, Run: func(context.Context) error {
		calls.Add(1)
		return NoRetry(errors.New("bad input"))
	}}))

	require.Eventually(t, func() bool { return len(s.Snapshot().History) == 1 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, "bad input", s.Snapshot().History[0].Error)
}

func TestTimeoutAndPanicBecomeFailures(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.SubscribeTypes(8, eventbus.TaskFailed)
	defer unsub()
	s := startService(t, Config{Workers: 2, DefaultTimeout: 10 * time.Millisecond}, bus)

	require.NoError(t, s.Enqueue(Task{Name: "ops.hang", Opt: TaskOptions{RetryMax: -1}, Run: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}))
	ev := waitEvent(t, events, eventbus.TaskFailed)
	assert.Equal(t, "ops.hang", ev.Name)
	assert.Contains(t, ev.Error, "deadline exceeded")

	require.NoError(t, s.Enqueue(Task{Name: "ops.panic", Opt: TaskOptions{RetryMax: -1}, Run: func(context.Context) error {
		panic("oops")
	}}))
	ev = waitEvent(t, events, eventbus.TaskFailed)
	assert.Equal(t, "ops.panic", ev.Name)
	assert.Contains(t, ev.Error, "panic: oops")
}

func TestQueueFullDrops(t *testing.T) {
	t.Parallel()
	s := startService(t, Config{Workers: 1, QueueSize: 1}, nil)
	block := make(chan struct{})
	started := make(chan struct{})
	defer close(block)

	require.NoError(t, s.Enqueue(Task{Name: "ops.block", Opt: TaskOptions{Overlap: OverlapAllow}, Run: func(context.Context) error {
		close(started)
		<-block
		return nil
	}}))
	<-started
	noop := Task{Name: "ops.noop", Opt: TaskOptions{Overlap: OverlapAllow}, Run: func(context.Context) error { return nil }}
	require.NoError(t, s.Enqueue(noop))
	assert.ErrorIs(t, s.Enqueue(noop), ErrQueueFull)
	assert.Equal(t, uint64(1), s.Snapshot().DroppedQueueFull)
}

func TestStaleTaskDropped(t *testing.T) {
	t.Parallel()
	s := startService(t, Config{Workers: 1, MaxQueueDelay: 5 * time.Millisecond}, nil)
	block := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, s.Enqueue(Task{Name: "ops.block", Run: func(context.Context) error {
		close(started)
		<-block
		return nil
	}}))
	<-started

	var ran atomic.Bool
	require.NoError(t, s.Enqueue(Task{Name: "ops.late", Run: func(context.Context) error {
		ran.Store(true)
		return nil
	}}))
	time.Sleep(20 * time.Millisecond)
	close(block)

	require.Eventually(t, func() bool { return s.Snapshot().DroppedStale == 1 }, 2*time.Second, time.Millisecond)
	assert.False(t, ran.Load())
}

func TestSubmitHonoursContext(t *testing.T) {
	t.Parallel()
	s := startService(t, Config{Workers: 1, QueueSize: 1}, nil)
	block := make(chan struct{})
	started := make(chan struct{})
	defer close(block)
	require.NoError(t, s.Enqueue(Task{Name: "ops.block", Run: func(context.Context) error {
		close(started)
		<-block
		return nil
	}}))
	<-started
	noop := Task{Name: "ops.noop", Opt: TaskOptions{Overlap: OverlapAllow}, Run: func(context.Context) error { return nil }}
	require.NoError(t, s.Enqueue(noop))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Submit(ctx, noop), context.DeadlineExceeded)
}

func TestStopThenStartAgain(t *testing.T) {
	t.Parallel()
	s := startService(t, Config{Workers: 1}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	s.Stop(ctx)
	assert.Nil(t, s.Supervisor())
	assert.ErrorIs(t, s.Enqueue(Task{Name: "x", Run: func(context.Context) error { return nil }}), ErrStopped)

	s.Start(ctx)
	assert.NotNil(t, s.Supervisor())
	assert.NoError(t, s.Enqueue(Task{Name: "x", Run: func(context.Context) error { return nil }}))
}

func TestRestartReleasesQueuedGates(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(32)
	defer unsub()
	s := startService(t, Config{Workers: 1}, bus)

	started := make(chan struct{})
	require.NoError(t, s.Enqueue(Task{Name: "ops.busy", Opt: TaskOptions{Overlap: OverlapAllow}, Run: func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}}))
	<-started

	job := Task{Name: "ops.job", Opt: TaskOptions{Overlap: OverlapSkipIfRunning}, Run: func(context.Context) error { return nil }}
	require.NoError(t, s.Enqueue(job))
	assert.ErrorIs(t, s.Enqueue(job), ErrOverlapSkip)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)
	dropped := waitEvent(t, events, eventbus.TaskDropped)
	assert.Equal(t, "ops.job", dropped.Name)
	assert.Equal(t, "engine_stopped", dropped.Error)

	s.Start(ctx)
	require.NoError(t, s.Enqueue(job), "gate of the discarded task must not outlive the restart")
	finished := waitEvent(t, events, eventbus.TaskFinished)
	assert.Equal(t, "ops.job", finished.Name)
}

func TestBackoffDelayBounds(t *testing.T) {
	t.Parallel()
	opt := TaskOptions{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second, RetryJitter: 0.2}
	rng := rand.New(rand.NewSource(1))
	cases := []struct {
		retry    int
		min, max time.Duration
	}{
		{1, 80 * time.Millisecond, 120 * time.Millisecond},
		{2, 160 * time.Millisecond, 240 * time.Millisecond},
		{3, 320 * time.Millisecond, 480 * time.Millisecond},
		{10, 800 * time.Millisecond, time.Second},
	}
	for _, tc := range cases {
		d := backoffDelay(opt, tc.retry, rng)
		if d < tc.min || d > tc.max {
			t.Fatalf("retry %d: delay %s not in [%s, %s]", tc.retry, d, tc.min, tc.max)
		}
	}

	hinted := backoffDelayWithHint(opt, 1, RetryAfter(errors.New("429"), 10*time.Second), rng)
	assert.LessOrEqual(t, hinted, time.Second)
}

func TestTaskOptionsDefaults(t *testing.T) {
	t.Parallel()
	o := DefaultTaskOptions(Config{RetryMax: 2})
	assert.Equal(t, 2, o.RetryMax)
	assert.Equal(t, OverlapAllow, o.Overlap)
	assert.Equal(t, 0, (TaskOptions{RetryMax: -1}).withDefaults(Config{RetryMax: 2}).RetryMax)
	assert.True(t, IsNoRetry(NoRetry(errors.New("x"))))
	assert.Nil(t, NoRetry(nil))
}
