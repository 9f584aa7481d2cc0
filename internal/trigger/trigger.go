package trigger

import (
	"fmt"
	"sync"
	"time"
)

// Stopped is the fire time reported by a retired trigger. It is the zero
// time.Time, which no real fire time can be.
var Stopped time.Time

// IsStopped reports whether t is the Stopped sentinel.
func IsStopped(t time.Time) bool { return t.IsZero() }

// Trigger computes the next fire time of a worker.
//
// Once NextFireTime returns Stopped it must keep returning Stopped.
type Trigger interface {
	NextFireTime() time.Time
	Advance()
}

// Options are shared by all trigger implementations.
type Options struct {
	// Location is used for cron evaluation. Nil means time.Local.
	Location *time.Location
	// Limit retires the trigger after this many advances. 0 = unlimited.
	Limit int
	// EndAt retires the trigger once its next fire time would be after it.
	EndAt time.Time
	// Spread delays the first interval fire by a random jitter (up to
	// min(every, 30s)) to avoid a thundering herd after startup.
	Spread bool
	// Name seeds the spread jitter.
	Name string
	// Now overrides the clock (tests).
	Now func() time.Time
}

func (o Options) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func (o Options) location() *time.Location {
	if o.Location == nil {
		return time.Local
	}
	return o.Location
}

// state holds what every trigger shares: the current next time, the fire
// count and the retirement flag.
type state struct {
	mu      sync.Mutex
	opt     Options
	next    time.Time
	fired   int
	stopped bool
}

func (s *state) NextFireTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return Stopped
	}
	return s.next
}

// Fired returns how many times the trigger has been advanced.
func (s *state) Fired() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fired
}

// Stop retires the trigger immediately.
func (s *state) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
}

// setLocked stores next unless it retires the trigger. Call with s.mu held.
func (s *state) setLocked(next time.Time) {
	if s.stopped {
		return
	}
	if next.IsZero() {
		s.stopped = true
		return
	}
	if !s.opt.EndAt.IsZero() && next.After(s.opt.EndAt) {
		s.stopped = true
		return
	}
	s.next = next
}

// countLocked records one execution and reports whether the trigger is
// still live afterwards. Call with s.mu held.
func (s *state) countLocked() bool {
	if s.stopped {
		return false
	}
	s.fired++
	if s.opt.Limit > 0 && s.fired >= s.opt.Limit {
		s.stopped = true
	}
	return !s.stopped
}

// Describe returns a short human-readable form of t.
func Describe(t Trigger) string {
	switch x := t.(type) {
	case nil:
		return "<nil>"
	case *Cron:
		return "cron(" + x.Spec() + ")"
	case *Interval:
		return "every(" + x.Every().String() + ")"
	case *Once:
		return "once(" + x.At().Format(time.RFC3339) + ")"
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprintf("%T", t)
	}
}
