package config

import (
	"encoding/json"
	"hash/fnv"
	"reflect"
	"sort"
	"strings"

	"jobtrack/pkg/logx"
)

// hashBytes returns a stable 64-bit hash of bytes. Empty input returns 0.
func hashBytes(b []byte) uint64 {
	if len(b) == 0 {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}

func hashConfig(cfg *Config) uint64 {
	if cfg == nil {
		return 0
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return 0
	}
	// Generated names are not part of the JSON; fold them in so a renamed
	// unnamed job still counts as a change.
	for _, j := range cfg.Jobs {
		b = append(b, j.autoName...)
	}
	return hashBytes(b)
}

// jobHash hashes a job definition. Whitespace in identity fields is ignored.
func jobHash(j JobConfig) uint64 {
	j.Name = strings.TrimSpace(j.Name)
	j.Group = strings.TrimSpace(j.Group)
	j.Schedule = strings.TrimSpace(j.Schedule)
	b, err := json.Marshal(j)
	if err != nil {
		return 0
	}
	return hashBytes(b)
}

// JobDiff lists qualified names, sorted.
type JobDiff struct {
	Added   []string
	Removed []string
	Changed []string
}

func (d JobDiff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// DiffJobs compares job sets by qualified name. A job is Changed when its
// definition hash differs. Jobs with an invalid identity are ignored.
func DiffJobs(oldCfg, newCfg *Config) JobDiff {
	index := func(c *Config) map[string]uint64 {
		out := map[string]uint64{}
		if c == nil {
			return out
		}
		for _, j := range c.Jobs {
			if q := j.QualifiedName(); q != "" {
				out[q] = jobHash(j)
			}
		}
		return out
	}
	o, n := index(oldCfg), index(newCfg)

	var d JobDiff
	for q, h := range n {
		oh, ok := o[q]
		switch {
		case !ok:
			d.Added = append(d.Added, q)
		case oh != h:
			d.Changed = append(d.Changed, q)
		}
	}
	for q := range o {
		if _, ok := n[q]; !ok {
			d.Removed = append(d.Removed, q)
		}
	}
	sort.Strings(d.Added)
	sort.Strings(d.Removed)
	sort.Strings(d.Changed)
	return d
}

// SummarizeChange returns the changed top-level sections and loggable
// fields describing the new values.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var (
		changed []string
		attrs   []logx.Field
	)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.timezone", newCfg.Scheduler.Timezone),
			logx.String("scheduler.poll_interval", newCfg.Scheduler.PollInterval),
			logx.String("scheduler.hook_policy", newCfg.Scheduler.HookPolicy),
		)
	}

	oE, nE := derefEngine(oldCfg.Engine), derefEngine(newCfg.Engine)
	if (oldCfg.Engine == nil) != (newCfg.Engine == nil) || !reflect.DeepEqual(oE, nE) ||
		oldCfg.EngineEnabled() != newCfg.EngineEnabled() {
		changed = append(changed, "engine")
		attrs = append(attrs,
			logx.Bool("engine.enabled", newCfg.EngineEnabled()),
			logx.Int("engine.workers", nE.Workers),
			logx.Int("engine.queue_size", nE.QueueSize),
			logx.String("engine.default_timeout", nE.DefaultTimeout),
			logx.Int("engine.retry_max", nE.RetryMax),
		)
	}

	oS, nS := derefStorage(oldCfg.Storage), derefStorage(newCfg.Storage)
	if oS != nS {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", nS.Driver),
			logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
		)
	}

	if d := DiffJobs(oldCfg, newCfg); !d.Empty() {
		changed = append(changed, "jobs")
		attrs = append(attrs,
			logx.Int("jobs.added", len(d.Added)),
			logx.Int("jobs.removed", len(d.Removed)),
			logx.Int("jobs.changed", len(d.Changed)),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

func derefEngine(e *EngineConfig) EngineConfig {
	if e == nil {
		return EngineConfig{}
	}
	out := *e
	out.Enabled = nil
	return out
}

func derefStorage(s *StorageConfig) StorageConfig {
	if s == nil {
		return StorageConfig{}
	}
	return *s
}
