package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"jobtrack/internal/scheduler"
	"jobtrack/internal/trigger"
	"jobtrack/pkg/unitctl"
)

// DefaultPollInterval is used when scheduler.poll_interval is omitted.
const DefaultPollInterval = 10 * time.Millisecond

// Validate checks everything that can be checked without side effects.
// All problems are reported together.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if _, err := cfg.Location(); err != nil {
		add(err)
	}
	_, err := cfg.PollInterval()
	add(err)
	_, err = scheduler.ParseHookPolicy(strings.TrimSpace(cfg.Scheduler.HookPolicy))
	add(err)

	switch strings.ToLower(strings.TrimSpace(cfg.Logging.Format)) {
	case "", "text", "json":
	default:
		add(fmt.Errorf("logging.format: want text or json, got %q", cfg.Logging.Format))
	}
	if cfg.Logging.File.MaxSizeMB < 0 || cfg.Logging.File.MaxBackups < 0 {
		add(errors.New("logging.file: max_size_mb and max_backups must be >= 0"))
	}

	if e := cfg.Engine; e != nil {
		_, err = ParseDurationField("engine.default_timeout", e.DefaultTimeout)
		add(err)
		_, err = ParseDurationField("engine.max_queue_delay", e.MaxQueueDelay)
		add(err)
		if e.Workers < 0 || e.QueueSize < 0 || e.HistorySize < 0 {
			add(errors.New("engine: workers, queue_size and history_size must be >= 0"))
		}
	}

	if s := cfg.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "none":
		case "file", "sqlite", "sqlite3":
			if strings.TrimSpace(s.Path) == "" {
				add(fmt.Errorf("storage.path is required for driver %q", s.Driver))
			}
		default:
			add(fmt.Errorf("storage.driver: unknown driver %q", s.Driver))
		}
		_, err = ParseDurationField("storage.busy_timeout", s.BusyTimeout)
		add(err)
	}

	seen := map[string]int{}
	for i, j := range cfg.Jobs {
		path := fmt.Sprintf("jobs[%d]", i)
		if n := strings.TrimSpace(j.Name); n != "" {
			path = fmt.Sprintf("jobs[%d](%s)", i, n)
		}
		if err := validateJob(path, j); err != nil {
			add(err)
			continue
		}
		q := j.QualifiedName()
		if prev, dup := seen[q]; dup {
			add(fmt.Errorf("%s: duplicate job %q (also jobs[%d])", path, q, prev))
			continue
		}
		seen[q] = i
	}
	return errors.Join(errs...)
}

func validateJob(path string, j JobConfig) error {
	var errs []error
	if _, err := j.Key(); err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", path, err))
	}
	if _, err := trigger.ParseSchedule(j.Schedule); err != nil {
		errs = append(errs, fmt.Errorf("%s.schedule: %w", path, err))
	}
	if j.Limit < 0 {
		errs = append(errs, fmt.Errorf("%s.limit: must be >= 0", path))
	}
	if _, err := ParseTimeField(path+".end_at", j.EndAt); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseDurationField(path+".timeout", j.Timeout); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(strings.TrimSpace(j.Overlap)) {
	case "", "skip", "allow":
	default:
		errs = append(errs, fmt.Errorf("%s.overlap: use skip or allow, got %q", path, j.Overlap))
	}
	switch strings.ToLower(strings.TrimSpace(j.Action.Kind)) {
	case "log":
	case "exec":
		if strings.TrimSpace(j.Action.Command) == "" {
			errs = append(errs, fmt.Errorf("%s.action: exec needs a command", path))
		}
	case "systemd":
		if strings.TrimSpace(j.Action.Unit) == "" {
			errs = append(errs, fmt.Errorf("%s.action: systemd needs a unit", path))
		}
		if _, err := unitctl.ParseOp(j.Action.Op); err != nil {
			errs = append(errs, fmt.Errorf("%s.action.op: %w", path, err))
		}
	case "":
		errs = append(errs, fmt.Errorf("%s.action.kind is required", path))
	default:
		errs = append(errs, fmt.Errorf("%s.action.kind: unknown kind %q", path, j.Action.Kind))
	}
	return errors.Join(errs...)
}

// Location resolves scheduler.timezone. Empty means time.Local.
func (c *Config) Location() (*time.Location, error) {
	tz := strings.TrimSpace(c.Scheduler.Timezone)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("scheduler.timezone: %w", err)
	}
	return loc, nil
}

func (c *Config) PollInterval() (time.Duration, error) {
	return ParseDurationOrDefault("scheduler.poll_interval", c.Scheduler.PollInterval, DefaultPollInterval)
}
