package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/ErlanBelekov/keepwarm/internal/domain"
)

// SkippedRecord is a stored record that could not be decoded or validated.
type SkippedRecord struct {
	ModelID string
	Err     error
}

type LoadResult struct {
	Records map[string]*domain.ModelRecord
	Skipped []SkippedRecord
}

// ScheduleStore persists one record per model. The engine depends on this
// interface so drivers can be swapped and faked in tests.
type ScheduleStore interface {
	// Load returns every decodable record. A missing or empty store yields an
	// empty result; one malformed record is reported in Skipped, never fatal.
	Load(ctx context.Context) (LoadResult, error)

	// Save replaces the record for rec.Definition.ModelID. Either the whole
	// record is persisted or the previous one is left untouched.
	Save(ctx context.Context, rec *domain.ModelRecord) error

	// Delete removes a record. Deleting a missing id is not an error.
	Delete(ctx context.Context, modelID string) error

	// ListAll returns all records ordered by model id.
	ListAll(ctx context.Context) ([]*domain.ModelRecord, error)

	Ping(ctx context.Context) error
	Close() error
}

// SortedRecords flattens a record map ordered by model id.
func SortedRecords(m map[string]*domain.ModelRecord) []*domain.ModelRecord {
	out := make([]*domain.ModelRecord, 0, len(m))
	for _, rec := range m {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Definition.ModelID < out[j].Definition.ModelID })
	return out
}

// DecodeJSONRecord rebuilds a record from the JSON columns used by the SQL
// stores and validates it. Every failure is reportable as a SkippedRecord.
func DecodeJSONRecord(id string, def, state []byte, maxIntervalMinutes int) (*domain.ModelRecord, error) {
	var rec domain.ModelRecord
	if err := json.Unmarshal(def, &rec.Definition); err != nil {
		return nil, fmt.Errorf("%w: definition: %v", domain.ErrStoreCorrupt, err)
	}
	if err := json.Unmarshal(state, &rec.State); err != nil {
		return nil, fmt.Errorf("%w: state: %v", domain.ErrStoreCorrupt, err)
	}
	if rec.Definition.ModelID != id {
		return nil, fmt.Errorf("%w: row %q holds model_id %q", domain.ErrStoreCorrupt, id, rec.Definition.ModelID)
	}
	if err := rec.Definition.Validate(maxIntervalMinutes); err != nil {
		return nil, err
	}
	if !rec.State.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", domain.ErrStoreCorrupt, rec.State.Status)
	}
	return &rec, nil
}
