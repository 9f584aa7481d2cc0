package trigger

import (
	"errors"
	"time"
)

// Once fires a single time at a fixed instant, then retires.
type Once struct {
	state
	at time.Time
}

func NewOnce(at time.Time, opt Options) (*Once, error) {
	if at.IsZero() {
		return nil, errors.New("at required")
	}
	o := &Once{at: at}
	o.opt = opt
	o.mu.Lock()
	o.setLocked(at)
	o.mu.Unlock()
	return o, nil
}

func (o *Once) Advance() {
	o.mu.Lock()
	o.fired++
	o.stopped = true
	o.mu.Unlock()
}

// At returns the fire instant; it does not change after the trigger retires.
func (o *Once) At() time.Time { return o.at }
