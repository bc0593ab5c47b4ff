package store

import (
	"context"
	"fmt"

	"ohlcvsync/internal/config"
)

// Open returns the relational backend selected by cfg.Storage.Driver.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.Storage.Driver {
	case "sqlite":
		return NewSQLiteStore(cfg.Storage.SQLitePath)
	case "postgres":
		return NewPostgresStore(ctx, cfg.Postgres)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}
