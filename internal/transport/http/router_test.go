package httptransport_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ErlanBelekov/keepwarm/internal/catalog"
	"github.com/ErlanBelekov/keepwarm/internal/domain"
	httptransport "github.com/ErlanBelekov/keepwarm/internal/transport/http"
	"github.com/ErlanBelekov/keepwarm/internal/transport/http/handler"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const testKey = "router-test-secret-of-32-chars!!"

func init() {
	gin.SetMode(gin.TestMode)
}

// getOnly answers Get for any id and records the ids it was asked for.
type getOnly struct {
	asked []string
}

func (g *getOnly) Status() []domain.ModelStatus { return nil }

func (g *getOnly) Get(id string) (domain.ModelStatus, error) {
	g.asked = append(g.asked, id)
	if id == "missing" {
		return domain.ModelStatus{}, fmt.Errorf("%w: %s", domain.ErrModelNotFound, id)
	}
	return domain.ModelStatus{Definition: domain.ScheduleDefinition{ModelID: id}}, nil
}

func (g *getOnly) AddOrUpdate(context.Context, domain.ScheduleDefinition) (*domain.ModelRecord, error) {
	return nil, nil
}

func (g *getOnly) Start(context.Context, string) (*domain.ProbeOutcome, error) { return nil, nil }

func (g *getOnly) Stop(context.Context, string) error { return nil }

func (g *getOnly) Remove(context.Context, string) error { return nil }

func (g *getOnly) Tick(context.Context) domain.TickSummary { return domain.TickSummary{} }

type emptyCatalog struct{}

func (emptyCatalog) Current() *catalog.Catalog { return &catalog.Catalog{} }

func newRouter(ctrl *getOnly) *gin.Engine {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := handler.NewModelHandler(ctrl, emptyCatalog{}, "UTC", logger)
	return httptransport.NewRouter(logger, h, []byte(testKey))
}

func bearer(t *testing.T) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "ops",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testKey))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return "Bearer " + tok
}

func TestRouter_RequiresToken(t *testing.T) {
	w := httptest.NewRecorder()
	newRouter(&getOnly{}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/models", nil))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("request id header missing on rejected request")
	}
}

func TestRouter_EscapedModelIDWithSlash(t *testing.T) {
	ctrl := &getOnly{}
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/models/meta-llama%2FLlama-3-8B", nil)
	req.Header.Set("Authorization", bearer(t))
	newRouter(ctrl).ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", w.Code, w.Body)
	}
	if len(ctrl.asked) != 1 || ctrl.asked[0] != "meta-llama/Llama-3-8B" {
		t.Errorf("asked = %v, want unescaped id", ctrl.asked)
	}
}

func TestRouter_UnknownModel_Returns404(t *testing.T) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/models/missing", nil)
	req.Header.Set("Authorization", bearer(t))
	newRouter(&getOnly{}).ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}
