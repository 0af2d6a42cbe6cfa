package storage

import (
	"fmt"
	"strings"

	logx "respawnbot/pkg/logx"
)

// Open initializes the configured store. Empty and "none" select the
// in-memory backend, so callers always get a usable Store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	log = log.With(logx.String("comp", "storage"), logx.String("driver", driver))

	switch driver {
	case "", "none", "memory":
		return NewMemory(), nil
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "sqlserver", "mssql":
		return openSQLServer(cfg, log)
	default:
		return nil, fmt.Errorf("unknown storage driver: %q", driver)
	}
}
