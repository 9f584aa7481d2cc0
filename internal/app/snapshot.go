package app

import (
	"jobtrack/internal/engine"
	"jobtrack/internal/eventbus"
	"jobtrack/internal/runtime/supervisor"
	"jobtrack/internal/scheduler"
)

// Snapshot is a point-in-time view of the running app.
type Snapshot struct {
	Scheduler  scheduler.Snapshot `json:"scheduler"`
	Engine     engine.Snapshot    `json:"engine"`
	Goroutines []supervisor.Stats `json:"goroutines,omitempty"`
	Workers    []supervisor.Stats `json:"engine_workers,omitempty"`
	BusDropped uint64             `json:"bus_dropped"`
}

func (a *App) Snapshot() Snapshot {
	out := Snapshot{
		Scheduler:  a.sched.Snapshot(),
		Engine:     a.engine.Snapshot(),
		BusDropped: eventbus.Dropped(a.bus),
	}
	a.mu.Lock()
	sup := a.sup
	a.mu.Unlock()
	if sup != nil {
		out.Goroutines = sup.Snapshot()
	}
	if es := a.engine.Supervisor(); es != nil {
		out.Workers = es.Snapshot()
	}
	return out
}
