// Package scheduler is the in-process scheduling engine.
//
// It holds a registry of workers (job identity + execution context + trigger)
// and runs one tracker goroutine that repeatedly scans the registry:
//   - workers whose trigger reports trigger.Stopped are removed and the
//     remove hook is invoked
//   - workers whose next fire time is not after now get the execute hook,
//     then their trigger is advanced
//   - everything else is left for a later pass
//
// The scheduler does not execute jobs itself. The execute hook is expected to
// hand work off (for example to internal/engine) and return quickly, because
// hooks run on the tracker goroutine and a slow hook delays every worker.
//
// Lifecycle: NEW -> RUNNABLE -> RUNNING -> SHUTDOWN -> (Start again) RUNNING.
// Start and Shutdown report expected refusals as false instead of errors.
package scheduler
