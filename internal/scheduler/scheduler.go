package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"jobtrack/internal/job"
	"jobtrack/internal/trigger"
	"jobtrack/pkg/logx"
)

// Scheduler owns the registry, the hooks, and the tracker.
type Scheduler struct {
	mu    sync.Mutex // serializes state transitions; never held across hooks
	state atomic.Int32
	gen   uint64 // bumped by every Start, guarded by mu

	reg     *Registry
	hooks   Hooks
	tracker atomic.Pointer[Tracker]

	policy HookPolicy
	poll   time.Duration
	now    func() time.Time
	log    logx.Logger
}

type Option func(*Scheduler)

// WithPollInterval sets the idle time between passes. Zero polls continuously.
func WithPollInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.poll = d }
}

func WithHookPolicy(p HookPolicy) Option {
	return func(s *Scheduler) { s.policy = p }
}

// WithClock replaces time.Now for the tracker's notion of "now".
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

func WithLogger(log logx.Logger) Option {
	return func(s *Scheduler) { s.log = log }
}

func New(hooks Hooks, opts ...Option) *Scheduler {
	s := &Scheduler{
		reg:   NewRegistry(),
		hooks: hooks,
		poll:  DefaultPollInterval,
		now:   time.Now,
		log:   logx.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(logx.String("comp", "scheduler"))
	return s
}

func (s *Scheduler) State() State { return State(s.state.Load()) }

// Start transitions NEW or SHUTDOWN to RUNNING. It invokes the track-start hook
// with the tracker before the loop begins. A failing track-start hook is logged
// and does not prevent the start. Returns false if already started.
//
// The hook runs without the scheduler lock held, so it may call Snapshot,
// Wait or even Shutdown. A Shutdown from inside the hook wins: the loop is
// not launched and the scheduler stays in SHUTDOWN.
func (s *Scheduler) Start() bool {
	s.mu.Lock()
	switch s.State() {
	case StateNew, StateShutdown:
	default:
		s.mu.Unlock()
		return false
	}
	t := s.tracker.Load()
	if t == nil {
		t = newTracker(s.reg, s, s.policy, s.poll, s.now, s.log)
		s.tracker.Store(t)
	}
	s.state.Store(int32(StateRunnable))
	t.ready()
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	if err := s.call("track_start", "", func() error {
		if s.hooks.OnTrackStart == nil {
			return nil
		}
		return s.hooks.OnTrackStart(TrackStartEvent, t)
	}); err != nil {
		t.hookErrors.Add(1)
		s.log.Warn("track start hook failed", logx.Err(err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen || s.State() != StateRunnable {
		s.log.Info("scheduler shut down during track start")
		return true
	}
	t.launch()
	s.state.Store(int32(StateRunning))
	s.log.Info("scheduler started", logx.Int("workers", s.reg.Len()))
	return true
}

// Shutdown asks the tracker to stop after its current pass. It does not wait;
// use Wait for that. Returns false if never started or already shut down.
func (s *Scheduler) Shutdown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.State() {
	case StateNew, StateShutdown:
		return false
	}
	s.tracker.Load().stop()
	s.state.Store(int32(StateShutdown))
	s.log.Info("scheduler shutdown requested")
	return true
}

// Wait blocks until the tracker goroutine has exited or ctx is done.
func (s *Scheduler) Wait(ctx context.Context) error {
	t := s.tracker.Load()
	if t == nil {
		return nil
	}
	return t.Wait(ctx)
}

// AddWorker registers w under name, replacing any previous worker.
// It is legal in every state; the tracker picks it up on a later pass.
func (s *Scheduler) AddWorker(name string, w *Worker) {
	if w == nil {
		s.log.Warn("ignoring nil worker", logx.String("worker", name))
		return
	}
	s.reg.Add(name, w)
	s.log.Debug("worker added", logx.String("worker", name), logx.String("trigger", trigger.Describe(w.Trigger())))
}

// Register builds a worker for key and adds it under key.QualifiedName().
func (s *Scheduler) Register(key job.Key, trig trigger.Trigger, payload any) *Worker {
	w := NewWorker(key, trig, payload)
	s.AddWorker(key.QualifiedName(), w)
	return w
}

// RemoveWorker deletes name from the registry without invoking any hook.
func (s *Scheduler) RemoveWorker(name string) (*Worker, bool) {
	return s.reg.Remove(name)
}

// RemoveAndNotify removes name and, when w is non-nil, invokes the remove hook
// with (name, w). It reports whether the hook was invoked and succeeded.
func (s *Scheduler) RemoveAndNotify(name string, w *Worker) bool {
	s.reg.Remove(name)
	if w == nil {
		return false
	}
	if err := s.notifyRemove(name, w); err != nil {
		s.log.Warn("remove hook failed", logx.String("worker", name), logx.Err(err))
		return false
	}
	return true
}

// ExecuteAndAdvance invokes the execute hook for (name, w) and then advances
// the worker's trigger. The advance happens even when the hook fails.
// It reports whether the hook succeeded.
func (s *Scheduler) ExecuteAndAdvance(name string, w *Worker) bool {
	if w == nil {
		return false
	}
	if err := s.executeAndAdvance(name, w); err != nil {
		s.log.Warn("execute hook failed", logx.String("worker", name), logx.Err(err))
		return false
	}
	return true
}

func (s *Scheduler) executeAndAdvance(name string, w *Worker) error {
	defer w.advance()
	return s.call("execute", name, func() error {
		if s.hooks.OnExecute == nil {
			return nil
		}
		return s.hooks.OnExecute(name, w)
	})
}

// retire removes w only if it is still the worker registered under name, so a
// replacement added during the pass is neither removed nor notified.
func (s *Scheduler) retire(name string, w *Worker) (bool, error) {
	if !s.reg.CompareAndRemove(name, w) {
		return false, nil
	}
	s.log.Debug("worker retired", logx.String("worker", name))
	return true, s.notifyRemove(name, w)
}

func (s *Scheduler) notifyRemove(name string, w *Worker) error {
	return s.call("remove", name, func() error {
		if s.hooks.OnRemove == nil {
			return nil
		}
		return s.hooks.OnRemove(name, w)
	})
}

// call runs a hook and converts a panic into a *HookError.
func (s *Scheduler) call(hook, name string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("hook panicked",
				logx.String("hook", hook),
				logx.String("worker", name),
				logx.Any("panic", r),
				logx.Stack(string(debug.Stack())),
			)
			err = &HookError{Hook: hook, Worker: name, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	if e := fn(); e != nil {
		return &HookError{Hook: hook, Worker: name, Err: e}
	}
	return nil
}

// Len returns the number of registered workers.
func (s *Scheduler) Len() int { return s.reg.Len() }

// Worker looks up a registered worker.
func (s *Scheduler) Worker(name string) (*Worker, bool) { return s.reg.Get(name) }

// Registry exposes the worker registry.
func (s *Scheduler) Registry() *Registry { return s.reg }

// Tracker returns the tracker, or nil before the first Start.
func (s *Scheduler) Tracker() *Tracker { return s.tracker.Load() }
