package app

import (
	"context"
	"time"

	"jobtrack/internal/engine"
	"jobtrack/internal/eventbus"
	"jobtrack/internal/storage"
	"jobtrack/pkg/logx"
)

var recordedTypes = []string{
	eventbus.TrackerStarted,
	eventbus.WorkerAdded,
	eventbus.WorkerRemoved,
	eventbus.TaskFinished,
	eventbus.TaskFailed,
	eventbus.TaskSkipped,
	eventbus.TaskDropped,
}

// toRecord maps a bus event onto the persisted schema.
// ok is false for events that carry nothing worth keeping.
func toRecord(e eventbus.Event) (storage.Record, bool) {
	r := storage.Record{At: e.Time, Type: e.Type}
	switch d := e.Data.(type) {
	case engine.TaskEvent:
		r.Worker = d.Name
		r.TaskID = d.ID
		r.Attempts = d.Attempts
		r.Duration = d.Duration
		r.Error = d.Error
	case WorkerEvent:
		r.Worker = d.Worker
		r.Error = d.Error
	case string:
		r.Worker = d
	default:
		return storage.Record{}, false
	}
	if r.At.IsZero() {
		r.At = time.Now()
	}
	return r, true
}

// recordLoop persists events from ch until ctx is done or ch closes.
func recordLoop(ctx context.Context, ch <-chan eventbus.Event, store storage.Store, log logx.Logger) {
	log = log.With(logx.String("comp", "recorder"))
	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			r, keep := toRecord(e)
			if !keep {
				continue
			}
			actx, cancel := context.WithTimeout(ctx, 2*time.Second)
			err := store.Append(actx, r)
			cancel()
			if err != nil {
				failures++
				// first failure, then every 100th
				if failures == 1 || failures%100 == 0 {
					log.Warn("history append failed", logx.Err(err), logx.Int("failures", failures))
				}
				continue
			}
			failures = 0
		}
	}
}
