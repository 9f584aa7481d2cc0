package storage

import (
	"context"
	"fmt"
	"strings"

	"jobtrack/pkg/logx"
)

// Store persists history records. The app recorder appends; the CLI reads.
type Store interface {
	Append(ctx context.Context, r Record) error
	// Recent returns up to limit records, oldest first.
	Recent(ctx context.Context, limit int) ([]Record, error)
	Close() error
}

type opener func(Config, logx.Logger) (Store, error)

var drivers = map[string]opener{
	"file":    openFile,
	"sqlite":  openSQLite,
	"sqlite3": openSQLite,
}

// Open returns the store for cfg.Driver, or (nil, nil) when the driver is
// empty or "none".
func Open(cfg Config, log logx.Logger) (Store, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if name == "" || name == "none" {
		return nil, nil
	}
	open, ok := drivers[name]
	if !ok {
		return nil, fmt.Errorf("storage: no driver named %q", name)
	}
	return open(cfg, log.With(logx.String("comp", "storage"), logx.String("driver", name)))
}
