package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ErlanBelekov/keepwarm/internal/catalog"
	"github.com/ErlanBelekov/keepwarm/internal/domain"
	"github.com/gin-gonic/gin"
)

// modelController is the engine surface the API drives. *scheduler.Engine
// satisfies it.
type modelController interface {
	Status() []domain.ModelStatus
	Get(modelID string) (domain.ModelStatus, error)
	AddOrUpdate(ctx context.Context, def domain.ScheduleDefinition) (*domain.ModelRecord, error)
	Start(ctx context.Context, modelID string) (*domain.ProbeOutcome, error)
	Stop(ctx context.Context, modelID string) error
	Remove(ctx context.Context, modelID string) error
	Tick(ctx context.Context) domain.TickSummary
}

type catalogSource interface {
	Current() *catalog.Catalog
}

type ModelHandler struct {
	ctrl      modelController
	catalog   catalogSource
	defaultTZ string
	logger    *slog.Logger
}

func NewModelHandler(ctrl modelController, cat catalogSource, defaultTZ string, logger *slog.Logger) *ModelHandler {
	return &ModelHandler{
		ctrl:      ctrl,
		catalog:   cat,
		defaultTZ: defaultTZ,
		logger:    logger.With("component", "model_handler"),
	}
}

// upsertModelRequest leaves every schedule field optional; gaps are filled
// from the catalog and then from the server defaults.
type upsertModelRequest struct {
	ModelID         string `json:"model_id"         binding:"required,max=256"`
	TargetURL       string `json:"target_url"       binding:"omitempty,url,max=2048"`
	From            string `json:"from"`
	To              string `json:"to"`
	WrapsMidnight   *bool  `json:"wraps_midnight"`
	IntervalMinutes int    `json:"interval_minutes" binding:"omitempty,min=1"`
	Timezone        string `json:"timezone"`
}

type modelResponse struct {
	Definition domain.ScheduleDefinition `json:"definition"`
	State      domain.RunState           `json:"state"`
	InFlight   bool                      `json:"in_flight"`
	EndpointID string                    `json:"endpoint_id"`
}

func toModelResponse(s domain.ModelStatus) modelResponse {
	return modelResponse{
		Definition: s.Definition,
		State:      s.State,
		InFlight:   s.InFlight,
		EndpointID: s.Definition.EndpointID(),
	}
}

type startResponse struct {
	Outcome *domain.ProbeOutcome `json:"outcome"`
	// ProbeInFlight is set when an earlier probe was still running; the
	// next tick fires the model instead.
	ProbeInFlight bool          `json:"probe_in_flight"`
	Model         modelResponse `json:"model"`
}

func (h *ModelHandler) List(ctx *gin.Context) {
	statuses := h.ctrl.Status()
	items := make([]modelResponse, len(statuses))
	for i, s := range statuses {
		items[i] = toModelResponse(s)
	}
	ctx.JSON(http.StatusOK, gin.H{"models": items})
}

func (h *ModelHandler) Upsert(ctx *gin.Context) {
	var req upsertModelRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	def, err := h.definitionFor(req)
	if err != nil {
		h.writeError(ctx, "build definition", req.ModelID, err)
		return
	}

	rec, err := h.ctrl.AddOrUpdate(ctx.Request.Context(), def)
	if err != nil {
		h.writeError(ctx, "add or update model", req.ModelID, err)
		return
	}

	ctx.JSON(http.StatusOK, toModelResponse(domain.ModelStatus{
		Definition: rec.Definition,
		State:      rec.State,
	}))
}

func (h *ModelHandler) GetByID(ctx *gin.Context) {
	id := ctx.Param("id")

	s, err := h.ctrl.Get(id)
	if err != nil {
		h.writeError(ctx, "get model", id, err)
		return
	}

	ctx.JSON(http.StatusOK, toModelResponse(s))
}

// Start enables a model and waits for its first probe. The probe outlives a
// client that hangs up, like Tick.
func (h *ModelHandler) Start(ctx *gin.Context) {
	id := ctx.Param("id")

	out, err := h.ctrl.Start(context.WithoutCancel(ctx.Request.Context()), id)
	if err != nil {
		h.writeError(ctx, "start model", id, err)
		return
	}

	resp := startResponse{Outcome: out, ProbeInFlight: out == nil}
	if s, err := h.ctrl.Get(id); err == nil {
		resp.Model = toModelResponse(s)
	}
	ctx.JSON(http.StatusOK, resp)
}

func (h *ModelHandler) Stop(ctx *gin.Context) {
	id := ctx.Param("id")

	if err := h.ctrl.Stop(ctx.Request.Context(), id); err != nil {
		h.writeError(ctx, "stop model", id, err)
		return
	}

	ctx.Status(http.StatusNoContent)
}

func (h *ModelHandler) Delete(ctx *gin.Context) {
	id := ctx.Param("id")

	if err := h.ctrl.Remove(ctx.Request.Context(), id); err != nil {
		h.writeError(ctx, "remove model", id, err)
		return
	}

	ctx.Status(http.StatusNoContent)
}

// Tick runs one engine tick. A client that hangs up does not cancel probes
// already under way.
func (h *ModelHandler) Tick(ctx *gin.Context) {
	summary := h.ctrl.Tick(context.WithoutCancel(ctx.Request.Context()))
	ctx.JSON(http.StatusOK, summary)
}

func (h *ModelHandler) Catalog(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, h.catalog.Current())
}

func (h *ModelHandler) definitionFor(req upsertModelRequest) (domain.ScheduleDefinition, error) {
	base := h.catalog.Current().Resolve(req.ModelID)

	def := domain.ScheduleDefinition{
		ModelID:         req.ModelID,
		TargetURL:       firstNonEmpty(req.TargetURL, base.TargetURL),
		WrapsMidnight:   base.WrapsMidnight,
		IntervalMinutes: base.IntervalMinutes,
		Timezone:        firstNonEmpty(req.Timezone, base.Timezone, h.defaultTZ),
	}
	if req.WrapsMidnight != nil {
		def.WrapsMidnight = *req.WrapsMidnight
	}
	if req.IntervalMinutes != 0 {
		def.IntervalMinutes = req.IntervalMinutes
	}

	var err error
	if def.From, err = domain.ParseTimeOfDay(firstNonEmpty(req.From, base.From)); err != nil {
		return def, fmt.Errorf("%w: from: %v", domain.ErrConfigInvalid, err)
	}
	if def.To, err = domain.ParseTimeOfDay(firstNonEmpty(req.To, base.To)); err != nil {
		return def, fmt.Errorf("%w: to: %v", domain.ErrConfigInvalid, err)
	}
	return def, nil
}

func (h *ModelHandler) writeError(ctx *gin.Context, op, modelID string, err error) {
	switch {
	case errors.Is(err, domain.ErrConfigInvalid):
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrModelNotFound):
		ctx.JSON(http.StatusNotFound, gin.H{"error": errModelNotFound})
	default:
		h.logger.ErrorContext(ctx.Request.Context(), op, "model_id", modelID, "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
