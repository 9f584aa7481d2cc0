package config

import (
	"strings"

	"jobtrack/internal/job"
)

type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`

	// Engine controls how due jobs are executed.
	// If omitted, defaults apply and enabled follows scheduler.enabled.
	Engine *EngineConfig `json:"engine,omitempty"`

	// Storage is the optional run-history store. Nil means disabled.
	Storage *StorageConfig `json:"storage,omitempty"`

	Jobs []JobConfig `json:"jobs"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	Format  string      `json:"format,omitempty"` // text|json
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty"`
}

// SchedulerConfig controls the tracker loop.
type SchedulerConfig struct {
	Enabled bool `json:"enabled"`

	// Timezone for cron evaluation (IANA name). Empty means local time.
	Timezone string `json:"timezone,omitempty"`

	// PollInterval is the idle time between tracker passes (Go duration).
	// Empty means 10ms; "0s" polls continuously.
	PollInterval string `json:"poll_interval,omitempty"`

	// HookPolicy is "isolate" (default) or "fail_pass".
	HookPolicy string `json:"hook_policy,omitempty"`
}

// EngineConfig controls the execution engine.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - enabled: scheduler.enabled
//   - workers: 2
//   - queue_size: 256
//   - default_timeout: "0s" (disabled)
//   - max_queue_delay: "0s" (disabled)
//   - history_size: 200
//   - retry_max: 0
type EngineConfig struct {
	Enabled        *bool  `json:"enabled,omitempty"`
	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
	MaxQueueDelay  string `json:"max_queue_delay,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
	RetryMax       int    `json:"retry_max,omitempty"`
}

// StorageConfig controls the run-history store.
//
//	"storage": { "driver": "sqlite", "path": "./jobtrack.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
	MaxRecords  int    `json:"max_records,omitempty"`
}

// JobConfig declares one scheduled job.
type JobConfig struct {
	// Name may be empty; the job then gets a generated unique name that is
	// kept across reloads as long as the definition does not change.
	Name  string `json:"name,omitempty"`
	Group string `json:"group,omitempty"`

	// Schedule: cron ("*/5 * * * *", "@hourly"), duration ("30s"),
	// HH:MM interval ("02:30"), or once:<RFC3339>.
	Schedule string `json:"schedule"`

	// Limit retires the job after this many runs. 0 = unlimited.
	Limit int `json:"limit,omitempty"`
	// EndAt (RFC3339) retires the job once its next fire time passes it.
	EndAt string `json:"end_at,omitempty"`
	// Spread jitters the first fire of interval jobs.
	Spread bool `json:"spread,omitempty"`

	Timeout  string `json:"timeout,omitempty"`
	RetryMax int    `json:"retry_max,omitempty"`
	// Overlap is "skip" (default) or "allow".
	Overlap string `json:"overlap,omitempty"`

	Action ActionConfig `json:"action"`

	autoName string
}

// ActionConfig is what a job does when it fires.
//
// Kinds:
//   - "log": write Message to the log
//   - "exec": run Command with Args (no shell)
//   - "systemd": run Op (start, stop, restart) on Unit via D-Bus
type ActionConfig struct {
	Kind    string   `json:"kind"`
	Message string   `json:"message,omitempty"`
	Command string   `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`
	Dir     string   `json:"dir,omitempty"`
	Env     []string `json:"env,omitempty"`
	Unit    string   `json:"unit,omitempty"`
	Op      string   `json:"op,omitempty"`
}

// EffectiveName returns Name, or the generated name for an unnamed job.
func (j JobConfig) EffectiveName() string {
	if n := strings.TrimSpace(j.Name); n != "" {
		return n
	}
	return j.autoName
}

// Key returns the job identity.
func (j JobConfig) Key() (job.Key, error) {
	return job.NewKey(j.EffectiveName(), strings.TrimSpace(j.Group))
}

// QualifiedName is Key().QualifiedName(), or "" for an invalid identity.
func (j JobConfig) QualifiedName() string {
	k, err := j.Key()
	if err != nil {
		return ""
	}
	return k.QualifiedName()
}

// EngineEnabled resolves engine.enabled against scheduler.enabled.
func (c *Config) EngineEnabled() bool {
	if c.Engine != nil && c.Engine.Enabled != nil {
		return *c.Engine.Enabled
	}
	return c.Scheduler.Enabled
}

// AssignNames gives every unnamed job in cfg a generated name. A job whose
// definition is identical to an unnamed job in prev (same group) reuses
// that job's name, so a reload does not churn workers.
func AssignNames(prev, cfg *Config) {
	if cfg == nil {
		return
	}
	pool := map[uint64][]string{}
	if prev != nil {
		for _, j := range prev.Jobs {
			if strings.TrimSpace(j.Name) == "" && j.autoName != "" {
				h := jobHash(j)
				pool[h] = append(pool[h], j.autoName)
			}
		}
	}
	for i := range cfg.Jobs {
		j := &cfg.Jobs[i]
		if strings.TrimSpace(j.Name) != "" || j.autoName != "" {
			continue
		}
		h := jobHash(*j)
		if names := pool[h]; len(names) > 0 {
			j.autoName = names[0]
			pool[h] = names[1:]
			continue
		}
		j.autoName = job.CreateUniqueName(strings.TrimSpace(j.Group))
	}
}
