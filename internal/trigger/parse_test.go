package trigger

import (
	"testing"
	"time"
)

func TestParseScheduleVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		raw      string
		kind     SpecKind
		source   string
		duration time.Duration
	}{
		{name: "cron", raw: "*/5 * * * *", kind: SpecCron, source: "cron"},
		{name: "prefixed cron", raw: "cron:0 0 * * *", kind: SpecCron, source: "cron"},
		{name: "descriptor", raw: "@every 30s", kind: SpecCron, source: "cron"},
		{name: "duration", raw: "10m", kind: SpecInterval, source: "duration", duration: 10 * time.Minute},
		{name: "prefixed interval", raw: "interval:45s", kind: SpecInterval, source: "duration", duration: 45 * time.Second},
		{name: "prefixed every", raw: "every:00:05", kind: SpecInterval, source: "hhmm", duration: 5 * time.Minute},
		{name: "hhmm", raw: "01:30", kind: SpecInterval, source: "hhmm", duration: 90 * time.Minute},
		{name: "once", raw: "once:2026-01-02T15:04:05Z", kind: SpecOnce, source: "rfc3339"},
		{name: "bare rfc3339", raw: "2026-01-02T15:04:05Z", kind: SpecOnce, source: "rfc3339"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSchedule(tt.raw)
			if err != nil {
				t.Fatalf("ParseSchedule(%q) error: %v", tt.raw, err)
			}
			if got.Kind != tt.kind {
				t.Fatalf("Kind = %v, want %v", got.Kind, tt.kind)
			}
			if got.Source != tt.source {
				t.Fatalf("Source = %s, want %s", got.Source, tt.source)
			}
			if tt.kind == SpecInterval && got.Every != tt.duration {
				t.Fatalf("Every = %v, want %v", got.Every, tt.duration)
			}
		})
	}
}

func TestParseScheduleInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "not-a-schedule", "cron:", "interval:-5m", "00:60", "0s", "* * *", "once:tomorrow"} {
		if _, err := ParseSchedule(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestParseBuildsTriggers(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	opt := Options{Now: func() time.Time { return now }, Location: time.UTC}

	tr, err := Parse("5m", opt)
	if err != nil {
		t.Fatalf("Parse interval: %v", err)
	}
	if _, ok := tr.(*Interval); !ok {
		t.Fatalf("want *Interval, got %T", tr)
	}
	if got := tr.NextFireTime(); !got.Equal(now.Add(5 * time.Minute)) {
		t.Fatalf("NextFireTime = %v", got)
	}

	tr, err = Parse("@hourly", opt)
	if err != nil {
		t.Fatalf("Parse cron: %v", err)
	}
	if _, ok := tr.(*Cron); !ok {
		t.Fatalf("want *Cron, got %T", tr)
	}

	tr, err = Parse("at:2026-03-01T09:00:00Z", opt)
	if err != nil {
		t.Fatalf("Parse once: %v", err)
	}
	if _, ok := tr.(*Once); !ok {
		t.Fatalf("want *Once, got %T", tr)
	}
}
