package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"strings"
	"time"

	"jobtrack/internal/config"
	"jobtrack/internal/engine"
	"jobtrack/pkg/logx"
	"jobtrack/pkg/unitctl"
)

// maxOutputTail bounds how much command output ends up in an error.
const maxOutputTail = 512

// Action is the body of a job run.
type Action func(ctx context.Context) error

// unitRunner is implemented by *unitctl.Controller.
type unitRunner interface {
	Do(ctx context.Context, op unitctl.Op, unit string) error
}

// buildAction returns the runnable for a job's action config.
func buildAction(name string, ac config.ActionConfig, log logx.Logger, units unitRunner) (Action, error) {
	log = log.With(logx.String("job", name))
	switch strings.ToLower(strings.TrimSpace(ac.Kind)) {
	case "log":
		msg := ac.Message
		if strings.TrimSpace(msg) == "" {
			msg = "job fired"
		}
		return func(context.Context) error {
			log.Info(msg)
			return nil
		}, nil
	case "exec":
		if strings.TrimSpace(ac.Command) == "" {
			return nil, errors.New("exec action needs a command")
		}
		return execAction(ac, log), nil
	case "systemd":
		op, err := unitctl.ParseOp(ac.Op)
		if err != nil {
			return nil, err
		}
		unit := unitctl.UnitName(ac.Unit)
		if unit == "" {
			return nil, errors.New("systemd action needs a unit")
		}
		if units == nil {
			return nil, errors.New("systemd actions are not available")
		}
		return func(ctx context.Context) error {
			err := units.Do(ctx, op, unit)
			switch {
			case err == nil:
				log.Debug("unit job done", logx.String("unit", unit), logx.String("op", string(op)))
				return nil
			case errors.Is(err, unitctl.ErrNoSuchUnit), errors.Is(err, unitctl.ErrUnsupported):
				return engine.NoRetry(err)
			default:
				return err
			}
		}, nil
	default:
		return nil, fmt.Errorf("unknown action kind %q", ac.Kind)
	}
}

func execAction(ac config.ActionConfig, log logx.Logger) Action {
	return func(ctx context.Context) error {
		cmd := exec.CommandContext(ctx, ac.Command, ac.Args...)
		cmd.Dir = ac.Dir
		if len(ac.Env) > 0 {
			cmd.Env = append(os.Environ(), ac.Env...)
		}
		cmd.WaitDelay = 5 * time.Second

		var out bytes.Buffer
		cmd.Stdout = &out
		cmd.Stderr = &out

		start := time.Now()
		err := cmd.Run()
		dur := time.Since(start)
		if err == nil {
			log.Debug("command finished", logx.String("cmd", ac.Command), logx.Duration("dur", dur))
			return nil
		}
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
			return engine.NoRetry(err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			return fmt.Errorf("%s exited with code %d: %s", ac.Command, ee.ExitCode(), outputTail(out.Bytes()))
		}
		return err
	}
}

func outputTail(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > maxOutputTail {
		s = "…" + s[len(s)-maxOutputTail:]
	}
	if s == "" {
		return "(no output)"
	}
	return s
}
