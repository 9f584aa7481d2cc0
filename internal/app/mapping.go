package app

import (
	"fmt"
	"strings"
	"time"

	"jobtrack/internal/config"
	"jobtrack/internal/engine"
	"jobtrack/internal/scheduler"
	"jobtrack/internal/storage"
	"jobtrack/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		Format:  cfg.Logging.Format,
		File: logx.FileConfig{
			Enabled:    cfg.Logging.File.Enabled,
			Path:       cfg.Logging.File.Path,
			MaxSizeMB:  cfg.Logging.File.MaxSizeMB,
			MaxBackups: cfg.Logging.File.MaxBackups,
		},
	}
}

func mapEngineConfig(cfg *config.Config) (engine.Config, error) {
	out := engine.Config{Enabled: cfg.EngineEnabled()}
	e := cfg.Engine
	if e == nil {
		return out, nil
	}
	var err error
	if out.DefaultTimeout, err = config.ParseDurationField("engine.default_timeout", e.DefaultTimeout); err != nil {
		return engine.Config{}, err
	}
	if out.MaxQueueDelay, err = config.ParseDurationField("engine.max_queue_delay", e.MaxQueueDelay); err != nil {
		return engine.Config{}, err
	}
	out.Workers = e.Workers
	out.QueueSize = e.QueueSize
	out.HistorySize = e.HistorySize
	out.RetryMax = e.RetryMax
	return out, nil
}

// mapStorageConfig returns ok=false when storage is disabled.
func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "file":
		return storage.Config{Driver: "file", Path: path, MaxRecords: sc.MaxRecords}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy, MaxRecords: sc.MaxRecords}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

// OpenHistory opens the store configured in cfg. It returns
// storage.ErrDisabled when no storage is configured.
func OpenHistory(cfg *config.Config, log logx.Logger) (storage.Store, error) {
	scfg, ok, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, storage.ErrDisabled
	}
	return storage.Open(scfg, log)
}

// schedulerOptions resolves the tracker settings. They are fixed for the
// lifetime of a scheduler.
func schedulerOptions(cfg *config.Config, log logx.Logger) ([]scheduler.Option, error) {
	poll, err := cfg.PollInterval()
	if err != nil {
		return nil, err
	}
	policy, err := scheduler.ParseHookPolicy(strings.TrimSpace(cfg.Scheduler.HookPolicy))
	if err != nil {
		return nil, err
	}
	return []scheduler.Option{
		scheduler.WithPollInterval(poll),
		scheduler.WithHookPolicy(policy),
		scheduler.WithLogger(log),
	}, nil
}

// jobOptions translates per-job execution settings into engine options.
func jobOptions(j config.JobConfig) (time.Duration, engine.TaskOptions, error) {
	timeout, err := config.ParseDurationField("timeout", j.Timeout)
	if err != nil {
		return 0, engine.TaskOptions{}, err
	}
	opt := engine.TaskOptions{Overlap: engine.OverlapSkipIfRunning, RetryMax: j.RetryMax}
	if strings.EqualFold(strings.TrimSpace(j.Overlap), "allow") {
		opt.Overlap = engine.OverlapAllow
	}
	return timeout, opt, nil
}
