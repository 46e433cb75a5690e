package catalog

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sample = `
defaults:
  from: "07:30"
  to: "16:30"
  interval_minutes: 60
  timezone: Asia/Seoul
models:
  - id: meta-llama/Llama-3-8B
    target_url: https://api.runpod.ai/v2/abc/openai/v1/chat/completions
  - id: qwen/Qwen2-7B
    target_url: https://api.runpod.ai/v2/def/openai/v1/chat/completions
    interval_minutes: 30
    timezone: UTC
`

func TestParseAndResolve(t *testing.T) {
	c, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	llama := c.Resolve("meta-llama/Llama-3-8B")
	if llama.From != "07:30" || llama.IntervalMinutes != 60 || llama.Timezone != "Asia/Seoul" {
		t.Errorf("llama = %+v, want defaults", llama)
	}
	qwen := c.Resolve("qwen/Qwen2-7B")
	if qwen.IntervalMinutes != 30 || qwen.Timezone != "UTC" || qwen.To != "16:30" {
		t.Errorf("qwen = %+v, want overrides over defaults", qwen)
	}
	unknown := c.Resolve("other")
	if unknown.TargetURL != "" || unknown.From != "07:30" {
		t.Errorf("unknown = %+v", unknown)
	}
	if !c.Has("qwen/Qwen2-7B") || c.Has("other") {
		t.Error("Has mismatch")
	}
}

func TestParse_Rejects(t *testing.T) {
	tests := map[string]string{
		"bad time":     "defaults:\n  from: \"7.30\"\n",
		"bad timezone": "models:\n  - id: a\n    timezone: Nowhere/Land\n",
		"missing id":   "models:\n  - target_url: https://x\n",
		"duplicate id": "models:\n  - id: a\n  - id: a\n",
		"not yaml":     "models: [",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse([]byte(doc)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(c.Models) != 0 {
		t.Fatalf("models = %v", c.Models)
	}
}

func TestWatcher_HotReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	if err := os.WriteFile(path, []byte(sample), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	w, err := NewWatcher(path, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	if got := len(w.Current().Models); got != 2 {
		t.Fatalf("initial models = %d", got)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	time.Sleep(100 * time.Millisecond) // let the watcher register

	// broken edit is ignored
	if err := os.WriteFile(path, []byte("models: ["), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	time.Sleep(2 * debounceDelay)
	if got := len(w.Current().Models); got != 2 {
		t.Fatalf("broken edit replaced catalog: %d models", got)
	}

	if err := os.WriteFile(path, []byte("models:\n  - id: only\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	deadline := time.Now().Add(3 * time.Second)
	for len(w.Current().Models) != 1 {
		if time.Now().After(deadline) {
			t.Fatal("catalog not reloaded")
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
}
