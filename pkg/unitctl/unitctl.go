// Package unitctl starts, stops and restarts systemd units over D-Bus.
//
// The connection is opened lazily on first use and reopened after it fails,
// so a Controller can be created on hosts without systemd and simply report
// errors when used.
package unitctl

import (
	"errors"
	"fmt"
	"strings"
)

type Op string

const (
	OpStart   Op = "start"
	OpStop    Op = "stop"
	OpRestart Op = "restart"
)

var (
	// ErrUnsupported is returned on platforms without systemd.
	ErrUnsupported = errors.New("unitctl: unsupported OS (linux only)")
	// ErrNoSuchUnit is returned when systemd does not know the unit.
	ErrNoSuchUnit = errors.New("unitctl: no such unit")
)

// ParseOp accepts start, stop and restart (case-insensitive).
// Empty means restart.
func ParseOp(s string) (Op, error) {
	switch Op(strings.ToLower(strings.TrimSpace(s))) {
	case OpStart:
		return OpStart, nil
	case OpStop:
		return OpStop, nil
	case OpRestart, "":
		return OpRestart, nil
	default:
		return "", fmt.Errorf("unknown unit op %q (use start, stop or restart)", s)
	}
}

// UnitName appends ".service" when name has no unit suffix.
func UnitName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	if i := strings.LastIndexByte(name, '.'); i > 0 {
		switch name[i+1:] {
		case "service", "timer", "socket", "target", "mount", "path", "slice", "scope":
			return name
		}
	}
	return name + ".service"
}

// JobError is returned when systemd finished the job with a result other
// than "done".
type JobError struct {
	Unit   string
	Op     Op
	Result string
}

func (e *JobError) Error() string {
	return fmt.Sprintf("%s %s: job %s", e.Op, e.Unit, e.Result)
}

func isNoSuchUnitErr(err error) bool {
	if err == nil {
		return false
	}
	es := err.Error()
	// systemd returns org.freedesktop.systemd1.NoSuchUnit for missing units.
	return strings.Contains(es, "NoSuchUnit") || strings.Contains(es, "not-found")
}
