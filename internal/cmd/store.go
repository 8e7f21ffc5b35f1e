package cmd

import (
	"context"
	"fmt"

	"github.com/aether-os/kernel/internal/config"
	"github.com/aether-os/kernel/internal/store"
)

// openStore opens the configured StateStore backend, running migrations as
// a side effect of construction (both store.NewSQLite and store.NewPostgres
// migrate on open).
func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Storage.Driver {
	case "", "sqlite":
		return store.NewSQLite(cfg.Storage.DSN)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Storage.DSN)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}
