package trigger

import (
	"errors"
	"hash/fnv"
	"math/rand"
	"sync/atomic"
	"time"
)

const maxStartupSpread = 30 * time.Second

// Interval fires every fixed duration, measured from the last advance.
type Interval struct {
	state
	every  time.Duration
	jitter time.Duration
}

func NewInterval(every time.Duration, opt Options) (*Interval, error) {
	if every <= 0 {
		return nil, errors.New("interval must be > 0")
	}
	it := &Interval{every: every}
	it.opt = opt
	if opt.Spread {
		it.jitter = startupSpread(every, opt.Name)
	}
	it.mu.Lock()
	it.setLocked(opt.now().Add(every + it.jitter))
	it.mu.Unlock()
	return it, nil
}

func (it *Interval) Advance() {
	it.mu.Lock()
	defer it.mu.Unlock()
	if !it.countLocked() {
		return
	}
	it.setLocked(it.opt.now().Add(it.every))
}

// Every returns the configured period, without startup spread.
func (it *Interval) Every() time.Duration { return it.every }

// Jitter returns the startup spread applied to the first fire time.
func (it *Interval) Jitter() time.Duration { return it.jitter }

var spreadSeq uint64

func startupSpread(every time.Duration, tag string) time.Duration {
	spreadMax := every
	if spreadMax > maxStartupSpread {
		spreadMax = maxStartupSpread
	}
	if spreadMax <= 0 {
		return 0
	}
	seed := time.Now().UnixNano() ^ int64(atomic.AddUint64(&spreadSeq, 1)) ^ int64(fnv64a(tag))
	rng := rand.New(rand.NewSource(seed))
	return time.Duration(rng.Int63n(int64(spreadMax)))
}

func fnv64a(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}
