package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ErlanBelekov/keepwarm/internal/catalog"
	"github.com/ErlanBelekov/keepwarm/internal/domain"
	"github.com/ErlanBelekov/keepwarm/internal/transport/http/handler"
	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeController implements the handler's unexported controller interface
// via method matching. Unset functions panic so unexpected calls fail loudly.
type fakeController struct {
	status      func() []domain.ModelStatus
	get         func(id string) (domain.ModelStatus, error)
	addOrUpdate func(ctx context.Context, def domain.ScheduleDefinition) (*domain.ModelRecord, error)
	start       func(ctx context.Context, id string) (*domain.ProbeOutcome, error)
	stop        func(ctx context.Context, id string) error
	remove      func(ctx context.Context, id string) error
	tick        func(ctx context.Context) domain.TickSummary
}

func (f *fakeController) Status() []domain.ModelStatus { return f.status() }

func (f *fakeController) Get(id string) (domain.ModelStatus, error) { return f.get(id) }

func (f *fakeController) AddOrUpdate(ctx context.Context, def domain.ScheduleDefinition) (*domain.ModelRecord, error) {
	return f.addOrUpdate(ctx, def)
}

func (f *fakeController) Start(ctx context.Context, id string) (*domain.ProbeOutcome, error) {
	return f.start(ctx, id)
}

func (f *fakeController) Stop(ctx context.Context, id string) error { return f.stop(ctx, id) }

func (f *fakeController) Remove(ctx context.Context, id string) error { return f.remove(ctx, id) }

func (f *fakeController) Tick(ctx context.Context) domain.TickSummary { return f.tick(ctx) }

type staticCatalog struct{ c *catalog.Catalog }

func (s staticCatalog) Current() *catalog.Catalog { return s.c }

var testCatalog = &catalog.Catalog{
	Defaults: catalog.Entry{From: "07:30", To: "16:30", IntervalMinutes: 60},
	Models: []catalog.Entry{{
		ID:        "llama",
		TargetURL: "https://api.runpod.ai/v2/ep123/openai/v1/chat/completions",
	}},
}

func newTestEngine(ctrl *fakeController) *gin.Engine {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := handler.NewModelHandler(ctrl, staticCatalog{testCatalog}, "Asia/Seoul", logger)

	r := gin.New()
	r.GET("/models", h.List)
	r.POST("/models", h.Upsert)
	r.GET("/models/:id", h.GetByID)
	r.DELETE("/models/:id", h.Delete)
	r.POST("/models/:id/start", h.Start)
	r.POST("/models/:id/stop", h.Stop)
	r.POST("/tick", h.Tick)
	r.GET("/catalog", h.Catalog)
	return r
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func sampleStatus() domain.ModelStatus {
	return domain.ModelStatus{
		Definition: domain.ScheduleDefinition{
			ModelID:         "llama",
			TargetURL:       "https://api.runpod.ai/v2/ep123/openai/v1/chat/completions",
			From:            domain.MustTimeOfDay("07:30"),
			To:              domain.MustTimeOfDay("16:30"),
			IntervalMinutes: 60,
			Timezone:        "Asia/Seoul",
			Enabled:         true,
		},
		State: domain.RunState{Status: domain.StatusRunning},
	}
}

// ---- List / Get ----

func TestList_Returns200WithEndpointID(t *testing.T) {
	ctrl := &fakeController{status: func() []domain.ModelStatus {
		return []domain.ModelStatus{sampleStatus()}
	}}
	w := do(newTestEngine(ctrl), http.MethodGet, "/models", "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body struct {
		Models []struct {
			EndpointID string `json:"endpoint_id"`
			Definition struct {
				From string `json:"from"`
			} `json:"definition"`
			State struct {
				Status string `json:"status"`
			} `json:"state"`
		} `json:"models"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Models) != 1 {
		t.Fatalf("models = %d, want 1", len(body.Models))
	}
	m := body.Models[0]
	if m.EndpointID != "ep123" || m.Definition.From != "07:30" || m.State.Status != "running" {
		t.Errorf("model = %+v", m)
	}
}

func TestGetByID_NotFound_Returns404(t *testing.T) {
	ctrl := &fakeController{get: func(id string) (domain.ModelStatus, error) {
		return domain.ModelStatus{}, fmt.Errorf("%w: %s", domain.ErrModelNotFound, id)
	}}
	w := do(newTestEngine(ctrl), http.MethodGet, "/models/nope", "")

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

// ---- Upsert ----

func TestUpsert_FillsFromCatalogAndDefaults(t *testing.T) {
	var got domain.ScheduleDefinition
	ctrl := &fakeController{addOrUpdate: func(_ context.Context, def domain.ScheduleDefinition) (*domain.ModelRecord, error) {
		got = def
		return &domain.ModelRecord{Definition: def, State: domain.RunState{Status: domain.StatusIdle}}, nil
	}}
	w := do(newTestEngine(ctrl), http.MethodPost, "/models", `{"model_id":"llama","interval_minutes":30}`)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", w.Code, w.Body)
	}
	if got.TargetURL != testCatalog.Models[0].TargetURL {
		t.Errorf("target_url = %q, want catalog value", got.TargetURL)
	}
	if got.From != domain.MustTimeOfDay("07:30") || got.To != domain.MustTimeOfDay("16:30") {
		t.Errorf("window = %s-%s", got.From, got.To)
	}
	if got.IntervalMinutes != 30 {
		t.Errorf("interval = %d, want request value 30", got.IntervalMinutes)
	}
	if got.Timezone != "Asia/Seoul" {
		t.Errorf("timezone = %q, want server default", got.Timezone)
	}
}

func TestUpsert_MissingModelID_Returns400(t *testing.T) {
	w := do(newTestEngine(&fakeController{}), http.MethodPost, "/models", `{"target_url":"https://x.example"}`)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestUpsert_BadTime_Returns400WithoutCallingEngine(t *testing.T) {
	w := do(newTestEngine(&fakeController{}), http.MethodPost, "/models", `{"model_id":"llama","from":"7h"}`)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestUpsert_InvalidDefinition_Returns400(t *testing.T) {
	ctrl := &fakeController{addOrUpdate: func(_ context.Context, _ domain.ScheduleDefinition) (*domain.ModelRecord, error) {
		return nil, fmt.Errorf("%w: window is empty", domain.ErrConfigInvalid)
	}}
	w := do(newTestEngine(ctrl), http.MethodPost, "/models", `{"model_id":"llama","from":"08:00","to":"08:00"}`)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	if !strings.Contains(w.Body.String(), "window is empty") {
		t.Errorf("body = %s, want validation message", w.Body)
	}
}

func TestUpsert_StoreFailure_Returns500(t *testing.T) {
	ctrl := &fakeController{addOrUpdate: func(_ context.Context, _ domain.ScheduleDefinition) (*domain.ModelRecord, error) {
		return nil, errors.New("disk full")
	}}
	w := do(newTestEngine(ctrl), http.MethodPost, "/models", `{"model_id":"llama"}`)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	if strings.Contains(w.Body.String(), "disk full") {
		t.Error("internal error leaked to client")
	}
}

// ---- Start / Stop / Delete ----

func TestStart_ReturnsOutcome(t *testing.T) {
	ctrl := &fakeController{
		start: func(_ context.Context, _ string) (*domain.ProbeOutcome, error) {
			out := domain.Success(1200*time.Millisecond, 1)
			return &out, nil
		},
		get: func(string) (domain.ModelStatus, error) { return sampleStatus(), nil },
	}
	w := do(newTestEngine(ctrl), http.MethodPost, "/models/llama/start", "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body struct {
		Outcome       *domain.ProbeOutcome `json:"outcome"`
		ProbeInFlight bool                 `json:"probe_in_flight"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Outcome == nil || !body.Outcome.OK || body.ProbeInFlight {
		t.Errorf("body = %+v", body)
	}
}

func TestStart_ProbeAlreadyInFlight(t *testing.T) {
	ctrl := &fakeController{
		start: func(_ context.Context, _ string) (*domain.ProbeOutcome, error) { return nil, nil },
		get:   func(string) (domain.ModelStatus, error) { return sampleStatus(), nil },
	}
	w := do(newTestEngine(ctrl), http.MethodPost, "/models/llama/start", "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"probe_in_flight":true`) {
		t.Errorf("body = %s", w.Body)
	}
}

func TestStart_ClientHangupDoesNotCancelEngine(t *testing.T) {
	var engineErr error
	ctrl := &fakeController{
		start: func(ctx context.Context, _ string) (*domain.ProbeOutcome, error) {
			engineErr = ctx.Err()
			out := domain.Success(time.Millisecond, 1)
			return &out, nil
		},
		get: func(string) (domain.ModelStatus, error) { return sampleStatus(), nil },
	}

	reqCtx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/models/llama/start", nil).WithContext(reqCtx)
	w := httptest.NewRecorder()
	newTestEngine(ctrl).ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if engineErr != nil {
		t.Errorf("engine saw ctx err %v, want a context detached from the client", engineErr)
	}
}

func TestStop_Returns204(t *testing.T) {
	var stopped string
	ctrl := &fakeController{stop: func(_ context.Context, id string) error {
		stopped = id
		return nil
	}}
	w := do(newTestEngine(ctrl), http.MethodPost, "/models/llama/stop", "")

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Code)
	}
	if stopped != "llama" {
		t.Errorf("stopped = %q", stopped)
	}
}

func TestDelete_NotFound_Returns404(t *testing.T) {
	ctrl := &fakeController{remove: func(_ context.Context, id string) error {
		return fmt.Errorf("%w: %s", domain.ErrModelNotFound, id)
	}}
	w := do(newTestEngine(ctrl), http.MethodDelete, "/models/nope", "")

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

// ---- Tick / Catalog ----

func TestTick_ReturnsSummary(t *testing.T) {
	ctrl := &fakeController{tick: func(context.Context) domain.TickSummary {
		return domain.TickSummary{TickID: "t-1", Due: 2, Succeeded: 1, Failed: 1}
	}}
	w := do(newTestEngine(ctrl), http.MethodPost, "/tick", "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var s domain.TickSummary
	if err := json.Unmarshal(w.Body.Bytes(), &s); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if s.TickID != "t-1" || s.Due != 2 {
		t.Errorf("summary = %+v", s)
	}
}

func TestCatalog_Returns200(t *testing.T) {
	w := do(newTestEngine(&fakeController{}), http.MethodGet, "/catalog", "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"id":"llama"`) {
		t.Errorf("body = %s", w.Body)
	}
}
