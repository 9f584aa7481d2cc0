package scheduler

import (
	"fmt"
	"time"
)

// State is the lifecycle state of a Scheduler.
type State int32

const (
	StateNew State = iota
	StateRunnable
	StateRunning
	StateShutdown
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateRunnable:
		return "runnable"
	case StateRunning:
		return "running"
	case StateShutdown:
		return "shutdown"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// TrackStartEvent is the event name passed to Hooks.OnTrackStart.
const TrackStartEvent = "start"

// WorkerHook is invoked with the worker's qualified name.
type WorkerHook func(qualifiedName string, w *Worker) error

// TrackerHook is invoked with TrackStartEvent when the scheduler starts.
type TrackerHook func(event string, t *Tracker) error

// Hooks are the management callbacks. Nil hooks are no-ops.
//
// All hooks run synchronously on the caller of Start (OnTrackStart) or on the
// tracker goroutine (OnExecute, OnRemove).
type Hooks struct {
	// OnExecute is called once per due worker per pass. The worker's trigger
	// is advanced after it returns, even when it fails.
	OnExecute WorkerHook
	// OnTrackStart is called every time the scheduler transitions to running.
	OnTrackStart TrackerHook
	// OnRemove is called once for every worker retired by the tracker, and
	// by RemoveAndNotify when a worker is supplied.
	OnRemove WorkerHook
}

// HookPolicy controls what a failing hook does to the current tracker pass.
// Panics are always recovered and treated as failures.
type HookPolicy int

const (
	// HookIsolate logs the failure and keeps processing the pass.
	HookIsolate HookPolicy = iota
	// HookFailPass aborts the rest of the pass; the loop resumes on the next pass.
	HookFailPass
)

func (p HookPolicy) String() string {
	switch p {
	case HookIsolate:
		return "isolate"
	case HookFailPass:
		return "fail_pass"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// ParseHookPolicy maps a config string to a HookPolicy. Empty means HookIsolate.
func ParseHookPolicy(s string) (HookPolicy, error) {
	switch s {
	case "", "isolate":
		return HookIsolate, nil
	case "fail_pass", "fail-pass":
		return HookFailPass, nil
	default:
		return HookIsolate, fmt.Errorf("unknown hook policy %q (use isolate or fail_pass)", s)
	}
}

// HookError wraps a failure (error or recovered panic) returned by a hook.
type HookError struct {
	Hook   string // "execute" | "remove" | "track_start"
	Worker string
	Err    error
}

func (e *HookError) Error() string {
	if e.Worker == "" {
		return fmt.Sprintf("%s hook: %v", e.Hook, e.Err)
	}
	return fmt.Sprintf("%s hook (%s): %v", e.Hook, e.Worker, e.Err)
}

func (e *HookError) Unwrap() error { return e.Err }

// PassResult summarizes one tracker pass.
type PassResult struct {
	Executed int
	Removed  int
	Pending  int
	// Aborted is set when a hook failed under HookFailPass.
	Aborted bool
}

// DefaultPollInterval is the idle time between passes. Zero means the tracker
// starts the next pass immediately (continuous poll).
const DefaultPollInterval = time.Duration(0)
