//go:build linux

package unitctl

import (
	"context"
	"fmt"
	"sync"

	"github.com/coreos/go-systemd/v22/dbus"
)

// Controller runs unit jobs on the system bus.
type Controller struct {
	mu   sync.Mutex
	conn *dbus.Conn
}

func New() *Controller { return &Controller{} }

func (c *Controller) connLocked(ctx context.Context) (*dbus.Conn, error) {
	if c.conn != nil && c.conn.Connected() {
		return c.conn, nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	conn, err := dbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to systemd: %w", err)
	}
	c.conn = conn
	return conn, nil
}

// Do queues op for unit in "replace" mode and waits for the job result.
func (c *Controller) Do(ctx context.Context, op Op, unit string) error {
	name := UnitName(unit)
	if name == "" {
		return fmt.Errorf("unit name required")
	}
	c.mu.Lock()
	conn, err := c.connLocked(ctx)
	c.mu.Unlock()
	if err != nil {
		return err
	}

	done := make(chan string, 1)
	switch op {
	case OpStart:
		_, err = conn.StartUnitContext(ctx, name, "replace", done)
	case OpStop:
		_, err = conn.StopUnitContext(ctx, name, "replace", done)
	case OpRestart:
		_, err = conn.RestartUnitContext(ctx, name, "replace", done)
	default:
		return fmt.Errorf("unknown unit op %q", op)
	}
	if err != nil {
		if isNoSuchUnitErr(err) {
			return fmt.Errorf("%w: %s", ErrNoSuchUnit, name)
		}
		return fmt.Errorf("failed to %s %s: %w", op, name, err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-done:
		if res != "done" {
			return &JobError{Unit: name, Op: op, Result: res}
		}
		return nil
	}
}

func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	return nil
}
