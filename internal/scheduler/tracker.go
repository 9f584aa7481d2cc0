package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"jobtrack/internal/trigger"
	"jobtrack/pkg/logx"
)

// dispatcher is the slice of Scheduler the tracker drives.
type dispatcher interface {
	executeAndAdvance(name string, w *Worker) error
	retire(name string, w *Worker) (bool, error)
}

// Tracker is the background loop that scans the registry.
//
// At most one loop goroutine exists per Tracker. The exit flag is only read
// between passes, so a pass in progress always completes.
type Tracker struct {
	reg    *Registry
	disp   dispatcher
	policy HookPolicy
	poll   time.Duration
	now    func() time.Time
	log    logx.Logger

	mu      sync.Mutex
	exit    bool
	running bool
	done    chan struct{}
	wake    chan struct{}

	passes     atomic.Uint64
	executed   atomic.Uint64
	removed    atomic.Uint64
	hookErrors atomic.Uint64
	lastPass   atomic.Int64
}

func newTracker(reg *Registry, disp dispatcher, policy HookPolicy, poll time.Duration, now func() time.Time, log logx.Logger) *Tracker {
	if now == nil {
		now = time.Now
	}
	if poll < 0 {
		poll = 0
	}
	return &Tracker{
		reg:    reg,
		disp:   disp,
		policy: policy,
		poll:   poll,
		now:    now,
		log:    log,
		wake:   make(chan struct{}, 1),
	}
}

// ready clears the exit flag. An old loop goroutine that has not observed the
// flag yet keeps running and is reused.
func (t *Tracker) ready() {
	t.mu.Lock()
	t.exit = false
	t.mu.Unlock()
}

// launch starts the loop goroutine unless one is still alive.
func (t *Tracker) launch() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return
	}
	t.running = true
	t.done = make(chan struct{})
	select {
	case <-t.wake:
	default:
	}
	go t.run(t.done)
}

// stop sets the exit flag and interrupts an idle sleep. It does not wait.
func (t *Tracker) stop() {
	t.mu.Lock()
	t.exit = true
	t.mu.Unlock()
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// Running reports whether the loop goroutine is alive.
func (t *Tracker) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Wait blocks until the current loop goroutine exits or ctx is done.
// It returns nil immediately when no loop is running.
func (t *Tracker) Wait(ctx context.Context) error {
	t.mu.Lock()
	done, running := t.done, t.running
	t.mu.Unlock()
	if !running || done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Passes returns the number of completed passes.
func (t *Tracker) Passes() uint64 { return t.passes.Load() }

func (t *Tracker) PollInterval() time.Duration { return t.poll }

func (t *Tracker) run(done chan struct{}) {
	t.log.Debug("tracker loop started", logx.Duration("poll_interval", t.poll))
	for {
		if t.shouldExit(done) {
			t.log.Debug("tracker loop stopped", logx.Uint64("passes", t.passes.Load()))
			return
		}
		t.safePass(t.now())
		t.idle()
	}
}

func (t *Tracker) shouldExit(done chan struct{}) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.exit {
		return false
	}
	t.running = false
	close(done)
	return true
}

func (t *Tracker) idle() {
	if t.poll <= 0 {
		runtime.Gosched()
		return
	}
	timer := time.NewTimer(t.poll)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-t.wake:
	}
}

// safePass keeps the loop alive when a trigger implementation panics.
func (t *Tracker) safePass(now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			t.hookErrors.Add(1)
			t.log.Error("tracker pass panicked",
				logx.Any("panic", r),
				logx.Stack(string(debug.Stack())),
			)
		}
	}()
	t.Pass(now)
}

type entry struct {
	name string
	w    *Worker
}

// Pass runs one scan of the registry against now.
//
// Workers are partitioned first; retirements are processed before
// executions. Each worker is acted on at most once per pass. Workers added
// during the scan may or may not be seen.
func (t *Tracker) Pass(now time.Time) PassResult {
	var (
		res      PassResult
		removes  []entry
		executes []entry
	)
	t.reg.Range(func(name string, w *Worker) bool {
		next := w.NextFireTime()
		switch {
		case trigger.IsStopped(next):
			removes = append(removes, entry{name, w})
		case !next.After(now):
			executes = append(executes, entry{name, w})
		default:
			res.Pending++
		}
		return true
	})

	defer func() {
		t.passes.Add(1)
		t.lastPass.Store(now.UnixNano())
		t.executed.Add(uint64(res.Executed))
		t.removed.Add(uint64(res.Removed))
	}()

	for _, e := range removes {
		ok, err := t.disp.retire(e.name, e.w)
		if ok {
			res.Removed++
		}
		if t.failed(err) {
			res.Aborted = true
			return res
		}
	}
	for _, e := range executes {
		err := t.disp.executeAndAdvance(e.name, e.w)
		res.Executed++
		if t.failed(err) {
			res.Aborted = true
			return res
		}
	}
	if res.Executed > 0 || res.Removed > 0 {
		t.log.Trace("tracker pass",
			logx.Int("executed", res.Executed),
			logx.Int("removed", res.Removed),
			logx.Int("pending", res.Pending),
		)
	}
	return res
}

// failed records err and reports whether the pass must stop.
func (t *Tracker) failed(err error) bool {
	if err == nil {
		return false
	}
	t.hookErrors.Add(1)
	var he *HookError
	name := ""
	if errors.As(err, &he) {
		name = he.Worker
	}
	if t.policy == HookFailPass {
		t.log.Warn("hook failed, aborting pass", logx.String("worker", name), logx.Err(err))
		return true
	}
	t.log.Warn("hook failed", logx.String("worker", name), logx.Err(err))
	return false
}

func (t *Tracker) String() string {
	return fmt.Sprintf("tracker(passes=%d, running=%v)", t.Passes(), t.Running())
}
