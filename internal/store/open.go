// Package store implements core.Store over PostgreSQL and SQLite.
package store

import (
	"context"
	"fmt"

	"github.com/JonMunkholm/pemtool/internal/config"
	"github.com/JonMunkholm/pemtool/internal/core"
)

// Open connects to the store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig) (core.Store, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		return OpenPostgres(ctx, cfg)
	case config.DriverSQLite:
		return OpenSQLite(ctx, cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
