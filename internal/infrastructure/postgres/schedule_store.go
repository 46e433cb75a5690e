package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ErlanBelekov/keepwarm/internal/domain"
	"github.com/ErlanBelekov/keepwarm/internal/repository"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS model_records (
    model_id   TEXT PRIMARY KEY,
    definition JSONB NOT NULL,
    state      JSONB NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

type ScheduleStore struct {
	pool        *pgxpool.Pool
	maxInterval int
	logger      *slog.Logger
}

func NewScheduleStore(pool *pgxpool.Pool, maxIntervalMinutes int, logger *slog.Logger) *ScheduleStore {
	return &ScheduleStore{pool: pool, maxInterval: maxIntervalMinutes, logger: logger.With("component", "schedule_store")}
}

func (s *ScheduleStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate model_records: %w", err)
	}
	return nil
}

func (s *ScheduleStore) Load(ctx context.Context) (repository.LoadResult, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT model_id, definition, state, updated_at
		FROM model_records
		ORDER BY model_id`)
	if err != nil {
		return repository.LoadResult{}, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	res := repository.LoadResult{Records: make(map[string]*domain.ModelRecord)}
	for rows.Next() {
		var (
			id         string
			def, state []byte
			updated    time.Time
		)
		if err := rows.Scan(&id, &def, &state, &updated); err != nil {
			return repository.LoadResult{}, fmt.Errorf("scan record: %w", err)
		}
		rec, err := repository.DecodeJSONRecord(id, def, state, s.maxInterval)
		if err != nil {
			res.Skipped = append(res.Skipped, repository.SkippedRecord{ModelID: id, Err: err})
			continue
		}
		rec.UpdatedAt = updated
		res.Records[id] = rec
	}
	if err := rows.Err(); err != nil {
		return repository.LoadResult{}, fmt.Errorf("iterate records: %w", err)
	}
	return res, nil
}

func (s *ScheduleStore) Save(ctx context.Context, rec *domain.ModelRecord) error {
	def, err := json.Marshal(rec.Definition)
	if err != nil {
		return fmt.Errorf("encode definition: %w", err)
	}
	state, err := json.Marshal(rec.State)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	query := `
		INSERT INTO model_records (model_id, definition, state, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (model_id) DO UPDATE
		SET definition = EXCLUDED.definition,
		    state      = EXCLUDED.state,
		    updated_at = EXCLUDED.updated_at`

	if _, err := s.pool.Exec(ctx, query, rec.Definition.ModelID, def, state, rec.UpdatedAt); err != nil {
		return fmt.Errorf("upsert %s: %w", rec.Definition.ModelID, err)
	}
	return nil
}

func (s *ScheduleStore) Delete(ctx context.Context, modelID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM model_records WHERE model_id = $1`, modelID); err != nil {
		return fmt.Errorf("delete %s: %w", modelID, err)
	}
	return nil
}

func (s *ScheduleStore) ListAll(ctx context.Context) ([]*domain.ModelRecord, error) {
	res, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	return repository.SortedRecords(res.Records), nil
}

func (s *ScheduleStore) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *ScheduleStore) Close() error {
	s.pool.Close()
	return nil
}
