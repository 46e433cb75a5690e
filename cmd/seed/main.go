// seed writes every catalog model that is not yet scheduled into the
// configured store, disabled and idle, so a fresh dev setup has something to
// start. Run it while the daemon is stopped: go run ./cmd/seed
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/ErlanBelekov/keepwarm/config"
	"github.com/ErlanBelekov/keepwarm/internal/catalog"
	"github.com/ErlanBelekov/keepwarm/internal/domain"
	"github.com/ErlanBelekov/keepwarm/internal/infrastructure"
	"github.com/ErlanBelekov/keepwarm/internal/repository"
	"github.com/lmittmann/tint"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: cfg.SlogLevel(), TimeFormat: time.Kitchen}))

	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		log.Fatalf("catalog: %v", err)
	}

	store, err := infrastructure.OpenStore(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer func() { _ = store.Close() }()

	added, err := seed(ctx, store, cat, cfg.DefaultTimezone, cfg.MaxIntervalMinutes, time.Now())
	if err != nil {
		log.Fatalf("seed: %v", err)
	}
	for _, id := range added {
		fmt.Println("seeded", id)
	}
	fmt.Printf("%d model(s) seeded into %s store\n", len(added), cfg.StoreDriver)
}

// seed saves catalog models missing from store and returns their ids. An
// entry that does not form a valid definition aborts the run.
func seed(ctx context.Context, store repository.ScheduleStore, cat *catalog.Catalog, defaultTZ string, maxInterval int, now time.Time) ([]string, error) {
	existing, err := store.Load(ctx)
	if err != nil {
		return nil, err
	}

	var added []string
	for _, m := range cat.Models {
		if _, ok := existing.Records[m.ID]; ok {
			continue
		}
		def, err := definition(cat.Resolve(m.ID), defaultTZ)
		if err != nil {
			return added, fmt.Errorf("%s: %w", m.ID, err)
		}
		if err := def.Validate(maxInterval); err != nil {
			return added, fmt.Errorf("%s: %w", m.ID, err)
		}
		rec := &domain.ModelRecord{
			Definition: def,
			State:      domain.RunState{Status: domain.StatusIdle},
			UpdatedAt:  now,
		}
		if err := store.Save(ctx, rec); err != nil {
			return added, fmt.Errorf("save %s: %w", m.ID, err)
		}
		added = append(added, m.ID)
	}
	return added, nil
}

func definition(e catalog.Entry, defaultTZ string) (domain.ScheduleDefinition, error) {
	from, err := domain.ParseTimeOfDay(e.From)
	if err != nil {
		return domain.ScheduleDefinition{}, fmt.Errorf("%w: from: %v", domain.ErrConfigInvalid, err)
	}
	to, err := domain.ParseTimeOfDay(e.To)
	if err != nil {
		return domain.ScheduleDefinition{}, fmt.Errorf("%w: to: %v", domain.ErrConfigInvalid, err)
	}
	tz := e.Timezone
	if tz == "" {
		tz = defaultTZ
	}
	return domain.ScheduleDefinition{
		ModelID:         e.ID,
		TargetURL:       e.TargetURL,
		From:            from,
		To:              to,
		WrapsMidnight:   e.WrapsMidnight,
		IntervalMinutes: e.IntervalMinutes,
		Timezone:        tz,
	}, nil
}
