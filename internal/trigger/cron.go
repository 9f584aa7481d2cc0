package trigger

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Cron fires on a cron expression (robfig/cron syntax, descriptors included).
type Cron struct {
	state
	spec  string
	sched cron.Schedule
}

func NewCron(spec string, opt Options) (*Cron, error) {
	spec = strings.TrimSpace(spec)
	sched, err := cronParser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid cron %q: %w", spec, err)
	}
	c := &Cron{spec: spec, sched: sched}
	c.opt = opt
	c.mu.Lock()
	c.setLocked(sched.Next(opt.now().In(opt.location())))
	c.mu.Unlock()
	return c, nil
}

// Advance moves to the first match strictly after now. Missed matches are
// not replayed.
func (c *Cron) Advance() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.countLocked() {
		return
	}
	c.setLocked(c.sched.Next(c.opt.now().In(c.opt.location())))
}

func (c *Cron) Spec() string { return c.spec }

// NextN previews the next n fire times after from without touching state.
func NextN(spec string, from time.Time, n int) ([]time.Time, error) {
	sched, err := cronParser.Parse(strings.TrimSpace(spec))
	if err != nil {
		return nil, err
	}
	out := make([]time.Time, 0, n)
	t := from
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		out = append(out, t)
	}
	return out, nil
}
