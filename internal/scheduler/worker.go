package scheduler

import (
	"time"

	"jobtrack/internal/job"
	"jobtrack/internal/trigger"
)

// ExecutionContext is what a worker carries into the hooks. The scheduler only
// looks at Trigger; Payload is owned by the embedding application.
type ExecutionContext struct {
	Trigger   trigger.Trigger
	Payload   any
	CreatedAt time.Time
}

// Worker is one schedulable unit.
type Worker struct {
	Key     job.Key
	Context *ExecutionContext
}

func NewWorker(key job.Key, trig trigger.Trigger, payload any) *Worker {
	return &Worker{
		Key: key,
		Context: &ExecutionContext{
			Trigger:   trig,
			Payload:   payload,
			CreatedAt: time.Now(),
		},
	}
}

func (w *Worker) QualifiedName() string { return w.Key.QualifiedName() }

// Trigger returns the bound trigger, or nil.
func (w *Worker) Trigger() trigger.Trigger {
	if w == nil || w.Context == nil {
		return nil
	}
	return w.Context.Trigger
}

// NextFireTime reports trigger.Stopped for a worker without a trigger, so
// such workers are retired on the next pass.
func (w *Worker) NextFireTime() time.Time {
	t := w.Trigger()
	if t == nil {
		return trigger.Stopped
	}
	return t.NextFireTime()
}

func (w *Worker) advance() {
	if t := w.Trigger(); t != nil {
		t.Advance()
	}
}
