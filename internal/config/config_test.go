package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
logging:
  level: debug
  console: true
scheduler:
  enabled: true
  timezone: UTC
  poll_interval: 5ms
  hook_policy: isolate
engine:
  workers: 3
  default_timeout: 10s
storage:
  driver: file
  path: ./hist
jobs:
  - name: heartbeat
    group: ops
    schedule: 30s
    action: { kind: log, message: alive }
  - group: ops
    schedule: "*/5 * * * *"
    overlap: allow
    action: { kind: exec, command: /bin/true }
`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	m := NewManager(writeFile(t, t.TempDir(), "jobs.yaml", sampleYAML))
	cfg, err := m.Load()
	require.NoError(t, err)
	require.Same(t, cfg, m.Get())

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 3, cfg.Engine.Workers)
	assert.True(t, cfg.EngineEnabled())
	require.Len(t, cfg.Jobs, 2)
	assert.Equal(t, "ops.heartbeat", cfg.Jobs[0].QualifiedName())

	auto := cfg.Jobs[1].EffectiveName()
	assert.NotEmpty(t, auto, "unnamed job gets a generated name")
	assert.True(t, strings.HasPrefix(cfg.Jobs[1].QualifiedName(), "ops."))

	d, err := cfg.PollInterval()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Millisecond, d)
	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "UTC", loc.String())
}

func TestDecodeStrict(t *testing.T) {
	t.Parallel()
	_, err := Decode("c.yaml", []byte("scheduler: { enabled: true, bogus: 1 }\n"))
	assert.ErrorContains(t, err, "bogus")

	_, err = Decode("c.json", []byte(`{"jobs":[]} {"jobs":[]}`))
	assert.ErrorContains(t, err, "trailing data")

	cfg, err := Decode("c.json", []byte(`{"scheduler":{"enabled":true}}`))
	require.NoError(t, err)
	assert.True(t, cfg.Scheduler.Enabled)

	cfg, err = Decode("empty.yml", nil)
	require.NoError(t, err)
	assert.Empty(t, cfg.Jobs)

	_, err = Decode("two.yaml", []byte("jobs: []\n---\njobs: []\n"))
	assert.ErrorContains(t, err, "single document")

	cfg, err = Decode("keys.yaml", []byte("jobs:\n  - name: n\n    schedule: 1m\n    action: { kind: exec, command: echo, args: [\"1\", \"on\"] }\n"))
	require.NoError(t, err)
	require.Len(t, cfg.Jobs, 1)
	assert.Equal(t, []string{"1", "on"}, cfg.Jobs[0].Action.Args)
}

func TestValidateCollectsErrors(t *testing.T) {
	t.Parallel()
	cfg := &Config{
		Logging:   LoggingConfig{Format: "xml", File: LoggingFile{MaxBackups: -1}},
		Scheduler: SchedulerConfig{Timezone: "Mars/Olympus", PollInterval: "-1s", HookPolicy: "explode"},
		Storage:   &StorageConfig{Driver: "sqlite"},
		Jobs: []JobConfig{
			{Name: "a", Schedule: "nope nope", Action: ActionConfig{Kind: "log"}},
			{Name: "b", Schedule: "1m", Action: ActionConfig{Kind: "exec"}},
			{Name: "c", Schedule: "1m", Overlap: "sometimes", Action: ActionConfig{Kind: "log"}},
			{Name: "d", Schedule: "1m", EndAt: "tomorrow", Action: ActionConfig{Kind: "teleport"}},
			{Name: "e", Schedule: "1m", Action: ActionConfig{Kind: "log"}},
			{Name: "e", Schedule: "2m", Action: ActionConfig{Kind: "log"}},
			{Name: "f", Schedule: "1m", Action: ActionConfig{Kind: "systemd", Op: "reload-or-kill"}},
		},
	}
	err := Validate(cfg)
	require.Error(t, err)
	msg := err.Error()
	for _, want := range []string{
		"logging.format",
		"max_backups must be >= 0",
		"scheduler.timezone",
		"scheduler.poll_interval",
		"hook policy",
		"storage.path",
		"jobs[0](a).schedule",
		"exec needs a command",
		"jobs[2](c).overlap",
		"end_at",
		"unknown kind",
		"duplicate job",
		"systemd needs a unit",
		"jobs[6](f).action.op",
	} {
		assert.Contains(t, msg, want)
	}
}

func TestValidateOK(t *testing.T) {
	t.Parallel()
	cfg := &Config{Jobs: []JobConfig{
		{Name: "once", Schedule: "once:2030-01-01T00:00:00Z", Limit: 1, Action: ActionConfig{Kind: "log"}},
		{Name: "daily", Group: "g", Schedule: "@daily", EndAt: "2031-01-01T00:00:00Z", Action: ActionConfig{Kind: "log"}},
		{Name: "bounce", Schedule: "04:00", Action: ActionConfig{Kind: "systemd", Unit: "nginx"}},
	}}
	assert.NoError(t, Validate(cfg))
}

func TestDiffJobs(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{Jobs: []JobConfig{
		{Name: "keep", Schedule: "1m", Action: ActionConfig{Kind: "log"}},
		{Name: "edit", Schedule: "1m", Action: ActionConfig{Kind: "log"}},
		{Name: "drop", Schedule: "1m", Action: ActionConfig{Kind: "log"}},
	}}
	newCfg := &Config{Jobs: []JobConfig{
		{Name: "keep", Schedule: " 1m ", Action: ActionConfig{Kind: "log"}},
		{Name: "edit", Schedule: "2m", Action: ActionConfig{Kind: "log"}},
		{Name: "new", Schedule: "1m", Action: ActionConfig{Kind: "log"}},
	}}

	d := DiffJobs(oldCfg, newCfg)
	assert.Equal(t, []string{"DEFAULT_GROUP.new"}, d.Added)
	assert.Equal(t, []string{"DEFAULT_GROUP.drop"}, d.Removed)
	assert.Equal(t, []string{"DEFAULT_GROUP.edit"}, d.Changed)
	assert.True(t, DiffJobs(oldCfg, oldCfg).Empty())

	sections, _ := SummarizeChange(oldCfg, newCfg)
	assert.Equal(t, []string{"jobs"}, sections)
}

func TestAssignNamesStableAcrossReload(t *testing.T) {
	t.Parallel()
	mk := func(schedule string) *Config {
		return &Config{Jobs: []JobConfig{{Group: "g", Schedule: schedule, Action: ActionConfig{Kind: "log"}}}}
	}
	first := mk("1m")
	AssignNames(nil, first)
	name := first.Jobs[0].EffectiveName()
	require.NotEmpty(t, name)

	same := mk("1m")
	AssignNames(first, same)
	assert.Equal(t, name, same.Jobs[0].EffectiveName())
	assert.True(t, DiffJobs(first, same).Empty())
	assert.Equal(t, hashConfig(first), hashConfig(same))

	edited := mk("2m")
	AssignNames(first, edited)
	assert.NotEqual(t, name, edited.Jobs[0].EffectiveName())
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	cases := []struct {
		raw  string
		want time.Duration
		err  bool
	}{
		{"", time.Second, false},
		{"0s", 0, false},
		{"250ms", 250 * time.Millisecond, false},
		{"-1s", 0, true},
		{"soon", 0, true},
	}
	for _, tc := range cases {
		got, err := ParseDurationOrDefault("x", tc.raw, time.Second)
		if tc.err {
			assert.Error(t, err, tc.raw)
			continue
		}
		require.NoError(t, err, tc.raw)
		assert.Equal(t, tc.want, got, tc.raw)
	}
}

func TestSummarizeChangeSections(t *testing.T) {
	t.Parallel()
	on := true
	a := &Config{Scheduler: SchedulerConfig{Enabled: true}}
	b := &Config{
		Logging:   LoggingConfig{Level: "warn"},
		Scheduler: SchedulerConfig{Enabled: true, PollInterval: "1s"},
		Engine:    &EngineConfig{Enabled: &on, Workers: 4},
		Storage:   &StorageConfig{Driver: "file", Path: "x"},
	}
	sections, fields := SummarizeChange(a, b)
	assert.Equal(t, []string{"engine", "logging", "scheduler", "storage"}, sections)
	assert.NotEmpty(t, fields)
}

func TestWatchPublishesReload(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := writeFile(t, dir, "jobs.json", `{"scheduler":{"enabled":true},"jobs":[]}`)
	m := NewManager(path)
	m.debounce = 10 * time.Millisecond
	_, err := m.Load()
	require.NoError(t, err)

	m.SetValidator(func(_ context.Context, cfg *Config) error {
		if len(cfg.Jobs) > 1 {
			return assert.AnError
		}
		return nil
	})

	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()
	time.Sleep(100 * time.Millisecond)

	writeFile(t, dir, "jobs.json", `{"scheduler":{"enabled":true},"jobs":[{"name":"a","schedule":"1m","action":{"kind":"log"}}]}`)

	select {
	case cfg := <-ch:
		require.Len(t, cfg.Jobs, 1)
		assert.Same(t, cfg, m.Get())
	case <-time.After(5 * time.Second):
		t.Fatal("no reload published")
	}
}

func TestExampleConfigLoads(t *testing.T) {
	t.Parallel()
	cfg, err := NewManager(filepath.Join("..", "..", "jobtrack.example.yaml")).Load()
	require.NoError(t, err)
	require.Len(t, cfg.Jobs, 5)
	assert.Equal(t, "systemd", cfg.Jobs[2].Action.Kind)
	assert.NotEmpty(t, cfg.Jobs[4].EffectiveName())
	assert.Equal(t, 20, cfg.Logging.File.MaxSizeMB)
}
