package app

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"jobtrack/internal/config"
	"jobtrack/internal/engine"
	"jobtrack/internal/eventbus"
	"jobtrack/internal/scheduler"
	"jobtrack/internal/trigger"
	"jobtrack/pkg/logx"
)

// jobPayload is what every worker carries in its execution context.
type jobPayload struct {
	Job     config.JobConfig
	Action  Action
	Timeout time.Duration
	Opt     engine.TaskOptions
}

// WorkerEvent is the Data of worker.* bus events. tracker.started carries
// the hook event name as a string.
type WorkerEvent struct {
	Worker string    `json:"worker"`
	Next   time.Time `json:"next,omitempty"`
	Error  string    `json:"error,omitempty"`
}

// buildTrigger creates the trigger for j, evaluated in loc.
func buildTrigger(j config.JobConfig, loc *time.Location, now func() time.Time) (trigger.Trigger, error) {
	endAt, err := config.ParseTimeField("end_at", j.EndAt)
	if err != nil {
		return nil, err
	}
	return trigger.Parse(j.Schedule, trigger.Options{
		Location: loc,
		Limit:    j.Limit,
		EndAt:    endAt,
		Spread:   j.Spread,
		Name:     j.QualifiedName(),
		Now:      now,
	})
}

// Preview returns up to n fire times of j starting at from, without
// registering anything. It stops early when the trigger retires.
func Preview(j config.JobConfig, loc *time.Location, from time.Time, n int) ([]time.Time, error) {
	clock := from
	trig, err := buildTrigger(j, loc, func() time.Time { return clock })
	if err != nil {
		return nil, err
	}
	out := make([]time.Time, 0, n)
	for i := 0; i < n; i++ {
		next := trig.NextFireTime()
		if trigger.IsStopped(next) {
			break
		}
		out = append(out, next)
		clock = next
		trig.Advance()
	}
	return out, nil
}

// registerJob builds and adds the worker for j. It returns the qualified name.
func (a *App) registerJob(j config.JobConfig, loc *time.Location) (string, error) {
	key, err := j.Key()
	if err != nil {
		return "", err
	}
	name := key.QualifiedName()
	trig, err := buildTrigger(j, loc, a.now)
	if err != nil {
		return name, fmt.Errorf("%s: %w", name, err)
	}
	act, err := buildAction(name, j.Action, a.log, a.units)
	if err != nil {
		return name, fmt.Errorf("%s: %w", name, err)
	}
	timeout, opt, err := jobOptions(j)
	if err != nil {
		return name, fmt.Errorf("%s: %w", name, err)
	}

	w := a.sched.Register(key, trig, &jobPayload{Job: j, Action: act, Timeout: timeout, Opt: opt})
	next := w.NextFireTime()
	a.bus.Publish(eventbus.Event{Type: eventbus.WorkerAdded, Data: WorkerEvent{Worker: name, Next: next}})
	a.log.Debug("job registered",
		logx.String("job", name),
		logx.String("trigger", trigger.Describe(trig)),
		logx.Time("next", next),
	)
	return name, nil
}

// registerJobs registers every job; failures are logged and skipped.
func (a *App) registerJobs(jobs []config.JobConfig, loc *time.Location) int {
	n := 0
	for _, j := range jobs {
		name, err := a.registerJob(j, loc)
		if err != nil {
			a.log.Warn("job not registered", logx.String("job", name), logx.Err(err))
			continue
		}
		n++
	}
	return n
}

// reconcile applies a job diff to the running scheduler. Removed and changed
// jobs are retired through the remove hook; added and changed jobs get fresh
// workers.
func (a *App) reconcile(next *config.Config, diff config.JobDiff, loc *time.Location) {
	for _, name := range append(append([]string(nil), diff.Removed...), diff.Changed...) {
		w, ok := a.sched.Worker(name)
		if !ok {
			continue
		}
		a.sched.RemoveAndNotify(name, w)
	}

	want := map[string]struct{}{}
	for _, name := range diff.Added {
		want[name] = struct{}{}
	}
	for _, name := range diff.Changed {
		want[name] = struct{}{}
	}
	for _, j := range next.Jobs {
		if _, ok := want[j.QualifiedName()]; !ok {
			continue
		}
		if name, err := a.registerJob(j, loc); err != nil {
			a.log.Warn("job not registered", logx.String("job", name), logx.Err(err))
		}
	}
	if !diff.Empty() {
		a.log.Info("jobs reconciled",
			logx.Int("added", len(diff.Added)),
			logx.Int("removed", len(diff.Removed)),
			logx.Int("changed", len(diff.Changed)),
			logx.Int("workers", a.sched.Len()),
		)
	}
}

// rebuildAll replaces every worker, e.g. after a timezone change.
func (a *App) rebuildAll(next *config.Config, loc *time.Location) {
	for _, name := range a.sched.Registry().Names() {
		if w, ok := a.sched.Worker(name); ok {
			a.sched.RemoveAndNotify(name, w)
		}
	}
	n := a.registerJobs(next.Jobs, loc)
	a.log.Info("jobs rebuilt", logx.Int("workers", n))
}

// ---- scheduler hooks ----

// onExecute hands the due job to the engine. It never blocks the tracker.
func (a *App) onExecute(name string, w *scheduler.Worker) error {
	p, ok := w.Context.Payload.(*jobPayload)
	if !ok || p == nil {
		return fmt.Errorf("worker %s has no job payload", name)
	}
	err := a.engine.Enqueue(engine.Task{
		Name:    name,
		Timeout: p.Timeout,
		Run:     p.Action,
		Opt:     p.Opt,
	})
	switch {
	case err == nil:
	case errors.Is(err, engine.ErrOverlapSkip), errors.Is(err, engine.ErrQueueFull):
		// reported by the engine
	case errors.Is(err, engine.ErrDisabled), errors.Is(err, engine.ErrStopped), errors.Is(err, engine.ErrStopping):
		if a.warnAllowed(name) {
			a.log.Warn("job not dispatched", logx.String("job", name), logx.Err(err))
		}
	default:
		return err
	}

	ev := WorkerEvent{Worker: name}
	if err != nil {
		ev.Error = err.Error()
	}
	a.bus.Publish(eventbus.Event{Type: eventbus.WorkerExecuted, Time: a.now(), Data: ev})
	return nil
}

func (a *App) onRemove(name string, w *scheduler.Worker) error {
	a.engine.Forget(name)
	a.dropWarnLimiter(name)
	a.log.Info("job retired", logx.String("job", name), logx.String("trigger", trigger.Describe(w.Trigger())))
	a.bus.Publish(eventbus.Event{Type: eventbus.WorkerRemoved, Time: a.now(), Data: WorkerEvent{Worker: name}})
	return nil
}

func (a *App) onTrackStart(event string, t *scheduler.Tracker) error {
	a.log.Debug("tracker starting", logx.String("event", event), logx.Duration("poll", t.PollInterval()))
	a.bus.Publish(eventbus.Event{Type: eventbus.TrackerStarted, Time: a.now(), Data: event})
	return nil
}

// warnAllowed throttles dispatch warnings per job to one every 30s.
func (a *App) warnAllowed(name string) bool {
	a.warnMu.Lock()
	defer a.warnMu.Unlock()
	lim, ok := a.warn[name]
	if !ok {
		lim = rate.NewLimiter(rate.Every(30*time.Second), 1)
		a.warn[name] = lim
	}
	return lim.Allow()
}

func (a *App) dropWarnLimiter(name string) {
	a.warnMu.Lock()
	delete(a.warn, name)
	a.warnMu.Unlock()
}
