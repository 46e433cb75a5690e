package filestore_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ErlanBelekov/keepwarm/internal/domain"
	"github.com/ErlanBelekov/keepwarm/internal/infrastructure/filestore"
)

var logger = slog.New(slog.NewTextHandler(io.Discard, nil))

func newStore(t *testing.T) (*filestore.Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state", "schedules.yaml")
	s, err := filestore.New(path, 1440, logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s, path
}

func record(id string) *domain.ModelRecord {
	fired := time.Date(2025, 3, 4, 9, 30, 0, 0, time.UTC)
	msg := "HTTP 503: busy"
	return &domain.ModelRecord{
		Definition: domain.ScheduleDefinition{
			ModelID:         id,
			TargetURL:       "https://api.runpod.ai/v2/abc123/openai/v1/chat/completions",
			From:            domain.MustTimeOfDay("07:30"),
			To:              domain.MustTimeOfDay("16:30"),
			IntervalMinutes: 60,
			Timezone:        "Asia/Seoul",
			Enabled:         true,
		},
		State: domain.RunState{
			Status:              domain.StatusRunning,
			LastFireAt:          &fired,
			ConsecutiveFailures: 1,
			LastError:           &msg,
			LastLatencyMS:       420,
		},
		UpdatedAt: fired,
	}
}

func TestLoad_MissingFileIsEmpty(t *testing.T) {
	s, _ := newStore(t)

	res, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(res.Records) != 0 || len(res.Skipped) != 0 {
		t.Fatalf("expected empty result, got %+v", res)
	}
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	s, path := newStore(t)
	ctx := context.Background()
	want := record("llama")

	if err := s.Save(ctx, want); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reopened, err := filestore.New(path, 1440, logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := reopened.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	got, ok := res.Records["llama"]
	if !ok {
		t.Fatalf("record missing after reload: %+v", res)
	}
	if got.Definition != want.Definition {
		t.Errorf("definition = %+v, want %+v", got.Definition, want.Definition)
	}
	if got.State.Status != want.State.Status ||
		got.State.ConsecutiveFailures != want.State.ConsecutiveFailures ||
		got.State.LastLatencyMS != want.State.LastLatencyMS ||
		got.State.LastFireAt == nil || !got.State.LastFireAt.Equal(*want.State.LastFireAt) ||
		got.State.LastError == nil || *got.State.LastError != *want.State.LastError ||
		got.State.LastSuccessAt != nil {
		t.Errorf("state = %+v, want %+v", got.State, want.State)
	}
}

func TestSave_LeavesNoTempFiles(t *testing.T) {
	s, path := newStore(t)
	if err := s.Save(context.Background(), record("llama")); err != nil {
		t.Fatalf("Save: %v", err)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "schedules.yaml" {
		var names []string
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Fatalf("unexpected files: %v", names)
	}
}

func TestLoad_SkipsMalformedAndPreservesIt(t *testing.T) {
	s, path := newStore(t)
	ctx := context.Background()

	doc := `models:
  good:
    definition:
      target_url: https://api.runpod.ai/v2/abc/openai/v1/chat/completions
      from: "08:00"
      to: "18:00"
      interval_minutes: 30
      timezone: UTC
      enabled: true
    state:
      status: running
  broken:
    definition:
      target_url: https://api.runpod.ai/v2/xyz/openai/v1/chat/completions
      from: "25:99"
      to: "18:00"
      interval_minutes: 30
      timezone: UTC
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	res, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := res.Records["good"]; !ok || len(res.Records) != 1 {
		t.Fatalf("records = %v, want only good", res.Records)
	}
	if len(res.Skipped) != 1 || res.Skipped[0].ModelID != "broken" || res.Skipped[0].Err == nil {
		t.Fatalf("skipped = %+v, want broken with error", res.Skipped)
	}

	if err := s.Save(ctx, record("llama")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(data), "25:99") {
		t.Fatalf("malformed record was dropped on rewrite:\n%s", data)
	}
}

func TestLoad_CorruptDocument(t *testing.T) {
	s, path := newStore(t)
	if err := os.WriteFile(path, []byte("models: [unterminated"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := s.Load(context.Background()); err == nil {
		t.Fatal("expected error for corrupt document")
	}
}

func TestDelete(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	if err := s.Delete(ctx, "missing"); err != nil {
		t.Fatalf("Delete missing: %v", err)
	}
	for _, id := range []string{"b", "a"} {
		if err := s.Save(ctx, record(id)); err != nil {
			t.Fatalf("Save %s: %v", id, err)
		}
	}
	if err := s.Delete(ctx, "b"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	all, err := s.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(all) != 1 || all[0].Definition.ModelID != "a" {
		t.Fatalf("ListAll = %+v", all)
	}
}

func TestPing(t *testing.T) {
	s, _ := newStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}
