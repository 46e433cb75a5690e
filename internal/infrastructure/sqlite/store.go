package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ErlanBelekov/keepwarm/internal/domain"
	"github.com/ErlanBelekov/keepwarm/internal/repository"
	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrations string

// Store keeps one row per model with the definition and run state as JSON.
type Store struct {
	db          *sql.DB
	maxInterval int
	logger      *slog.Logger
}

// Open creates the database file if needed and applies the schema.
func Open(ctx context.Context, path string, maxIntervalMinutes int, logger *slog.Logger) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := New(db, maxIntervalMinutes, logger)
	if err := s.configure(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing handle. The schema is not touched.
func New(db *sql.DB, maxIntervalMinutes int, logger *slog.Logger) *Store {
	return &Store{db: db, maxInterval: maxIntervalMinutes, logger: logger.With("component", "sqlite_store")}
}

// configure applies the connection pragmas. A database that cannot use WAL
// keeps its rollback journal, which still commits atomically; that is logged
// rather than fatal.
func (s *Store) configure(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	var mode string
	if err := s.db.QueryRowContext(ctx, "PRAGMA journal_mode = WAL").Scan(&mode); err != nil {
		return fmt.Errorf("set journal mode: %w", err)
	}
	if !strings.EqualFold(mode, "wal") {
		s.logger.WarnContext(ctx, "sqlite is not using WAL", "journal_mode", mode)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA synchronous = FULL"); err != nil {
		return fmt.Errorf("set synchronous: %w", err)
	}
	return nil
}

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, migrations); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *Store) Load(ctx context.Context) (repository.LoadResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT model_id, definition, state, updated_at FROM model_records ORDER BY model_id`)
	if err != nil {
		return repository.LoadResult{}, fmt.Errorf("query records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	res := repository.LoadResult{Records: make(map[string]*domain.ModelRecord)}
	for rows.Next() {
		var id, def, state, updated string
		if err := rows.Scan(&id, &def, &state, &updated); err != nil {
			return repository.LoadResult{}, fmt.Errorf("scan record: %w", err)
		}
		rec, err := s.decode(id, def, state, updated)
		if err != nil {
			res.Skipped = append(res.Skipped, repository.SkippedRecord{ModelID: id, Err: err})
			continue
		}
		res.Records[id] = rec
	}
	if err := rows.Err(); err != nil {
		return repository.LoadResult{}, fmt.Errorf("iterate records: %w", err)
	}
	return res, nil
}

func (s *Store) Save(ctx context.Context, rec *domain.ModelRecord) error {
	def, err := json.Marshal(rec.Definition)
	if err != nil {
		return fmt.Errorf("encode definition: %w", err)
	}
	state, err := json.Marshal(rec.State)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO model_records(model_id, definition, state, updated_at) VALUES(?,?,?,?)
		 ON CONFLICT(model_id) DO UPDATE SET definition=excluded.definition, state=excluded.state, updated_at=excluded.updated_at`,
		rec.Definition.ModelID, string(def), string(state), rec.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", rec.Definition.ModelID, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, modelID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM model_records WHERE model_id = ?`, modelID); err != nil {
		return fmt.Errorf("delete %s: %w", modelID, err)
	}
	return nil
}

// ListAll returns decodable records only; Load reports the rest.
func (s *Store) ListAll(ctx context.Context) ([]*domain.ModelRecord, error) {
	res, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	return repository.SortedRecords(res.Records), nil
}

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) decode(id, def, state, updated string) (*domain.ModelRecord, error) {
	rec, err := repository.DecodeJSONRecord(id, []byte(def), []byte(state), s.maxInterval)
	if err != nil {
		return nil, err
	}
	if t, err := time.Parse(time.RFC3339Nano, updated); err == nil {
		rec.UpdatedAt = t
	}
	return rec, nil
}
