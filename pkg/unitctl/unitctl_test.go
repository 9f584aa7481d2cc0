package unitctl

import (
	"errors"
	"testing"
)

func TestParseOp(t *testing.T) {
	cases := map[string]Op{"": OpRestart, "start": OpStart, " STOP ": OpStop, "Restart": OpRestart}
	for in, want := range cases {
		got, err := ParseOp(in)
		if err != nil || got != want {
			t.Fatalf("ParseOp(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseOp("reload-or-kill"); err == nil {
		t.Fatal("expected error")
	}
}

func TestUnitName(t *testing.T) {
	cases := map[string]string{
		"nginx":         "nginx.service",
		"nginx.service": "nginx.service",
		"backup.timer":  "backup.timer",
		" app@1 ":       "app@1.service",
		"my.app":        "my.app.service",
		"":              "",
	}
	for in, want := range cases {
		if got := UnitName(in); got != want {
			t.Fatalf("UnitName(%q) = %q; want %q", in, got, want)
		}
	}
}

func TestJobError(t *testing.T) {
	var err error = &JobError{Unit: "x.service", Op: OpRestart, Result: "failed"}
	var je *JobError
	if !errors.As(err, &je) || je.Result != "failed" {
		t.Fatalf("unexpected %v", err)
	}
	if got := err.Error(); got != "restart x.service: job failed" {
		t.Fatalf("Error() = %q", got)
	}
}

func TestNoSuchUnitDetection(t *testing.T) {
	if !isNoSuchUnitErr(errors.New("org.freedesktop.systemd1.NoSuchUnit: Unit x.service not found.")) {
		t.Fatal("NoSuchUnit not detected")
	}
	if isNoSuchUnitErr(nil) || isNoSuchUnitErr(errors.New("access denied")) {
		t.Fatal("false positive")
	}
}
