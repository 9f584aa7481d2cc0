package scheduler

import (
	"sort"
	"time"

	"jobtrack/internal/trigger"
)

type WorkerInfo struct {
	Name    string    `json:"name"`
	Group   string    `json:"group"`
	Job     string    `json:"job"`
	Trigger string    `json:"trigger"`
	Next    time.Time `json:"next,omitempty"`
	Stopped bool      `json:"stopped"`
}

type Snapshot struct {
	State        string        `json:"state"`
	PollInterval time.Duration `json:"poll_interval"`
	Workers      []WorkerInfo  `json:"workers"`
	Passes       uint64        `json:"passes"`
	Executed     uint64        `json:"executed"`
	Removed      uint64        `json:"removed"`
	HookErrors   uint64        `json:"hook_errors"`
	LastPass     time.Time     `json:"last_pass,omitempty"`
}

// Snapshot returns a point-in-time view ordered by job key.
func (s *Scheduler) Snapshot() Snapshot {
	out := Snapshot{
		State:        s.State().String(),
		PollInterval: s.poll,
	}
	type row struct {
		w    *Worker
		info WorkerInfo
	}
	var rows []row
	s.reg.Range(func(name string, w *Worker) bool {
		next := w.NextFireTime()
		info := WorkerInfo{
			Name:    name,
			Group:   w.Key.Group(),
			Job:     w.Key.Name(),
			Trigger: trigger.Describe(w.Trigger()),
			Stopped: trigger.IsStopped(next),
		}
		if !info.Stopped {
			info.Next = next
		}
		rows = append(rows, row{w, info})
		return true
	})
	sort.Slice(rows, func(i, j int) bool {
		if c := rows[i].w.Key.Compare(rows[j].w.Key); c != 0 {
			return c < 0
		}
		return rows[i].info.Name < rows[j].info.Name
	})
	out.Workers = make([]WorkerInfo, 0, len(rows))
	for _, r := range rows {
		out.Workers = append(out.Workers, r.info)
	}

	if t := s.Tracker(); t != nil {
		out.Passes = t.passes.Load()
		out.Executed = t.executed.Load()
		out.Removed = t.removed.Load()
		out.HookErrors = t.hookErrors.Load()
		if ns := t.lastPass.Load(); ns != 0 {
			out.LastPass = time.Unix(0, ns)
		}
	}
	return out
}
