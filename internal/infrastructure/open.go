package infrastructure

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ErlanBelekov/keepwarm/config"
	"github.com/ErlanBelekov/keepwarm/internal/infrastructure/filestore"
	"github.com/ErlanBelekov/keepwarm/internal/infrastructure/postgres"
	"github.com/ErlanBelekov/keepwarm/internal/infrastructure/sqlite"
	"github.com/ErlanBelekov/keepwarm/internal/repository"
)

// OpenStore returns the schedule store selected by cfg.StoreDriver.
func OpenStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (repository.ScheduleStore, error) {
	switch cfg.StoreDriver {
	case "file", "":
		return filestore.New(cfg.StorePath, cfg.MaxIntervalMinutes, logger)
	case "sqlite":
		return sqlite.Open(ctx, cfg.StorePath, cfg.MaxIntervalMinutes, logger)
	case "postgres":
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		store := postgres.NewScheduleStore(pool, cfg.MaxIntervalMinutes, logger)
		if err := store.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}
