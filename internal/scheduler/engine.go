package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ErlanBelekov/keepwarm/internal/domain"
	ctxlog "github.com/ErlanBelekov/keepwarm/internal/log"
	"github.com/ErlanBelekov/keepwarm/internal/metrics"
	"github.com/ErlanBelekov/keepwarm/internal/repository"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Prober sends one keep-warm probe. Implementations must absorb every error
// into the outcome and must not touch engine state.
type Prober interface {
	Send(ctx context.Context, def domain.ScheduleDefinition) domain.ProbeOutcome
}

// Publisher receives engine events. Delivery is best-effort; errors are logged.
type Publisher interface {
	Publish(ctx context.Context, evt domain.Event) error
}

type EngineConfig struct {
	FailureThreshold   int
	ColdStartSoftLimit int
	MaxConcurrency     int
	MaxIntervalMinutes int
	ProbeTimeout       time.Duration
}

type entry struct {
	rec *domain.ModelRecord

	// epoch changes on start, stop and removal; a probe result whose epoch no
	// longer matches is discarded at commit.
	epoch uint64

	rev      uint64
	savedRev uint64

	inWindow    bool
	windowKnown bool
}

func (e *entry) touch(now time.Time) {
	e.rev++
	e.rec.UpdatedAt = now
}

func (e *entry) dirty() bool { return e.rev != e.savedRev }

// Engine is the single writer of every model's RunState. It has no timers of
// its own: callers drive it through Tick.
type Engine struct {
	store  repository.ScheduleStore
	prober Prober
	pub    Publisher
	logger *slog.Logger
	cfg    EngineConfig
	now    func() time.Time

	tickMu  sync.Mutex // one tick at a time
	storeMu sync.Mutex // serializes store writes so a removed model is never re-saved

	mu             sync.Mutex
	models         map[string]*entry
	inflight       map[string]struct{}
	pendingDeletes map[string]struct{}
}

type Option func(*Engine)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(store repository.ScheduleStore, prober Prober, pub Publisher, logger *slog.Logger, cfg EngineConfig, opts ...Option) *Engine {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.ColdStartSoftLimit >= cfg.FailureThreshold {
		cfg.ColdStartSoftLimit = cfg.FailureThreshold - 1
	}
	if cfg.ColdStartSoftLimit < 0 {
		cfg.ColdStartSoftLimit = 0
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 10
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 10 * time.Minute
	}

	e := &Engine{
		store:          store,
		prober:         prober,
		pub:            pub,
		logger:         logger.With("component", "engine"),
		cfg:            cfg,
		now:            time.Now,
		models:         make(map[string]*entry),
		inflight:       make(map[string]struct{}),
		pendingDeletes: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Load replaces the in-memory model set with the store's contents.
func (e *Engine) Load(ctx context.Context) error {
	res, err := e.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load schedules: %w", err)
	}
	for _, s := range res.Skipped {
		e.logger.Warn("skipping malformed schedule record", "model_id", s.ModelID, "error", s.Err)
	}

	e.mu.Lock()
	e.models = make(map[string]*entry, len(res.Records))
	for id, rec := range res.Records {
		e.models[id] = &entry{rec: rec}
	}
	e.updateStatusGaugeLocked()
	e.mu.Unlock()

	e.logger.Info("schedules loaded", "models", len(res.Records), "skipped", len(res.Skipped))
	return nil
}

type dueProbe struct {
	def   domain.ScheduleDefinition
	ent   *entry
	epoch uint64
}

// Tick runs one evaluation pass: every enabled model whose window is open and
// whose interval has elapsed gets one probe, fanned out concurrently. Ticks
// are serialized, so calling Tick again at the same instant fires nothing new.
func (e *Engine) Tick(ctx context.Context) domain.TickSummary {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	started := time.Now()
	now := e.now()
	summary := domain.TickSummary{TickID: uuid.NewString(), At: now}
	ctx = ctxlog.WithTickID(ctx, summary.TickID)

	due, events := e.collectDue(now, &summary)
	outcomes := e.fanOut(ctx, due)
	events = append(events, e.commit(ctx, now, due, outcomes, &summary)...)
	e.persistDirty(ctx)

	summary.Duration = time.Since(started)
	events = append(events, domain.Event{Kind: domain.EventTickSummary, At: now, Summary: &summary})
	e.publish(ctx, events)

	metrics.TicksTotal.Inc()
	metrics.TickDuration.Observe(summary.Duration.Seconds())
	if summary.Due > 0 || summary.Skipped > 0 {
		e.logger.InfoContext(ctx, "tick completed",
			"due", summary.Due,
			"succeeded", summary.Succeeded,
			"failed", summary.Failed,
			"skipped", summary.Skipped,
			"discarded", summary.Discarded,
			"duration", summary.Duration,
		)
	}
	return summary
}

// collectDue snapshots every due model and marks it in flight. Definitions
// are copied, so edits arriving mid-tick only affect the next tick.
func (e *Engine) collectDue(now time.Time, summary *domain.TickSummary) ([]dueProbe, []domain.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var (
		due    []dueProbe
		events []domain.Event
	)
	for _, id := range e.sortedIDsLocked() {
		ent := e.models[id]
		def := ent.rec.Definition
		if !def.Enabled {
			ent.windowKnown = false
			continue
		}

		in := InWindow(&def, now)
		if ent.windowKnown && in != ent.inWindow {
			kind := domain.EventWindowClosed
			if in {
				kind = domain.EventWindowOpened
			}
			events = append(events, domain.Event{Kind: kind, ModelID: id, At: now, Definition: &def})
		}
		ent.inWindow, ent.windowKnown = in, true

		if !IsDue(&def, &ent.rec.State, now) {
			continue
		}
		if _, busy := e.inflight[id]; busy {
			summary.Skipped++
			continue
		}
		e.inflight[id] = struct{}{}
		due = append(due, dueProbe{def: def, ent: ent, epoch: ent.epoch})
	}
	summary.Due = len(due)
	return due, events
}

func (e *Engine) fanOut(ctx context.Context, due []dueProbe) []domain.ProbeOutcome {
	outcomes := make([]domain.ProbeOutcome, len(due))

	var g errgroup.Group
	g.SetLimit(e.cfg.MaxConcurrency)
	for i, p := range due {
		g.Go(func() error {
			outcomes[i] = e.probe(ctx, p.def)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// errProbeTimeout is the cancellation cause of a probe that ran out of time,
// as opposed to one whose caller went away.
var errProbeTimeout = errors.New("probe timeout")

// probe runs one probe under the probe timeout. A probe that overruns is
// reported as a timeout and abandoned; the model stays in flight until the
// abandoned call actually returns. A probe whose parent context ends first is
// reported as interrupted.
func (e *Engine) probe(ctx context.Context, def domain.ScheduleDefinition) domain.ProbeOutcome {
	ctx, cancel := context.WithTimeoutCause(ctx, e.cfg.ProbeTimeout, errProbeTimeout)
	defer cancel()

	metrics.ProbesInFlight.Inc()
	done := make(chan domain.ProbeOutcome, 1)
	go func() {
		out := e.prober.Send(ctx, def)
		e.release(def.ModelID)
		metrics.ProbesInFlight.Dec()
		done <- out
	}()

	select {
	case out := <-done:
		if !out.OK && interrupted(ctx) {
			return interruptedOutcome(ctx)
		}
		return out
	case <-ctx.Done():
		if interrupted(ctx) {
			e.logger.InfoContext(ctx, "probe interrupted", "model_id", def.ModelID, "cause", context.Cause(ctx))
			return interruptedOutcome(ctx)
		}
		e.logger.WarnContext(ctx, "probe abandoned", "model_id", def.ModelID, "timeout", e.cfg.ProbeTimeout)
		return domain.Failure(domain.KindTimeout, fmt.Sprintf("probe exceeded %s", e.cfg.ProbeTimeout))
	}
}

func interrupted(ctx context.Context) bool {
	return ctx.Err() != nil && !errors.Is(context.Cause(ctx), errProbeTimeout)
}

func interruptedOutcome(ctx context.Context) domain.ProbeOutcome {
	return domain.Failure(domain.KindInterrupted, fmt.Sprintf("probe interrupted: %v", context.Cause(ctx)))
}

func (e *Engine) release(modelID string) {
	e.mu.Lock()
	delete(e.inflight, modelID)
	e.mu.Unlock()
}

func (e *Engine) commit(ctx context.Context, now time.Time, due []dueProbe, outcomes []domain.ProbeOutcome, summary *domain.TickSummary) []domain.Event {
	e.mu.Lock()
	defer e.mu.Unlock()

	var events []domain.Event
	for i, p := range due {
		out := outcomes[i]
		id := p.def.ModelID

		cur, ok := e.models[id]
		if !ok || cur != p.ent || cur.epoch != p.epoch || !cur.rec.Definition.Enabled {
			summary.Discarded++
			e.logger.InfoContext(ctx, "discarding probe result for stopped or restarted model", "model_id", id)
			continue
		}
		if out.Kind == domain.KindInterrupted {
			summary.Discarded++
			e.logger.InfoContext(ctx, "discarding interrupted probe", "model_id", id, "error", out.Message)
			continue
		}

		if out.OK {
			summary.Succeeded++
		} else {
			summary.Failed++
			e.logger.WarnContext(ctx, "probe failed",
				"model_id", id,
				"kind", out.Kind,
				"attempts", out.Attempts,
				"error", out.Message,
			)
		}
		metrics.ProbesTotal.WithLabelValues(outcomeLabel(out)).Inc()

		old := cur.rec.State.Status
		applyOutcome(&cur.rec.State, out, now, e.cfg)
		cur.touch(now)
		if cur.rec.State.Status != old {
			events = append(events, statusEvent(cur.rec, old, now))
		}
	}
	e.updateStatusGaugeLocked()
	return events
}

// applyOutcome folds one probe outcome into the run state.
func applyOutcome(st *domain.RunState, out domain.ProbeOutcome, now time.Time, cfg EngineConfig) {
	fired := now
	st.LastFireAt = &fired

	if out.OK {
		st.Status = domain.StatusRunning
		st.LastSuccessAt = &fired
		st.ConsecutiveFailures = 0
		st.LastError = nil
		st.LastLatencyMS = out.Latency.Milliseconds()
		return
	}

	msg := out.Message
	if msg == "" {
		msg = string(out.Kind)
	}
	st.LastError = &msg

	switch out.Kind {
	case domain.KindAuth:
		st.ConsecutiveFailures++
		st.Status = domain.StatusError
	case domain.KindColdStart:
		// expected while the endpoint spins up; counted only up to the soft limit
		if st.ConsecutiveFailures < cfg.ColdStartSoftLimit {
			st.ConsecutiveFailures++
		}
		if st.Status != domain.StatusError {
			st.Status = domain.StatusRunning
		}
	default:
		st.ConsecutiveFailures++
		if st.ConsecutiveFailures >= cfg.FailureThreshold {
			st.Status = domain.StatusError
		} else if st.Status != domain.StatusError {
			st.Status = domain.StatusRunning
		}
	}
}

func statusEvent(rec *domain.ModelRecord, old domain.Status, now time.Time) domain.Event {
	def := rec.Definition
	evt := domain.Event{
		Kind:       domain.EventStatusChanged,
		ModelID:    def.ModelID,
		OldStatus:  old,
		NewStatus:  rec.State.Status,
		Alert:      rec.State.Status == domain.StatusError,
		At:         now,
		Definition: &def,
	}
	if rec.State.Status == domain.StatusError && rec.State.LastError != nil {
		evt.Error = *rec.State.LastError
	}
	return evt
}

func outcomeLabel(out domain.ProbeOutcome) string {
	if out.OK {
		return "success"
	}
	return string(out.Kind)
}

// persistDirty saves every record changed since its last successful save and
// retries deletes that failed earlier. Failures leave the record dirty for
// the next tick.
func (e *Engine) persistDirty(ctx context.Context) {
	e.mu.Lock()
	ids := make([]string, 0)
	for id, ent := range e.models {
		if ent.dirty() {
			ids = append(ids, id)
		}
	}
	deletes := make([]string, 0, len(e.pendingDeletes))
	for id := range e.pendingDeletes {
		deletes = append(deletes, id)
	}
	e.mu.Unlock()

	for _, id := range deletes {
		e.deleteFromStore(ctx, id)
	}
	for _, id := range ids {
		e.persist(ctx, id)
	}
}

func (e *Engine) persist(ctx context.Context, modelID string) {
	e.storeMu.Lock()
	defer e.storeMu.Unlock()

	e.mu.Lock()
	ent, ok := e.models[modelID]
	if !ok || !ent.dirty() {
		e.mu.Unlock()
		return
	}
	rec := ent.rec.Clone()
	rev := ent.rev
	e.mu.Unlock()

	if err := e.store.Save(ctx, rec); err != nil {
		metrics.PersistFailuresTotal.Inc()
		e.logger.WarnContext(ctx, "persist schedule failed, keeping in-memory state until next tick",
			"model_id", modelID,
			"error", err,
		)
		return
	}

	e.mu.Lock()
	if ent.savedRev < rev {
		ent.savedRev = rev
	}
	e.mu.Unlock()
}

func (e *Engine) deleteFromStore(ctx context.Context, modelID string) {
	e.storeMu.Lock()
	defer e.storeMu.Unlock()

	e.mu.Lock()
	_, pending := e.pendingDeletes[modelID]
	e.mu.Unlock()
	if !pending {
		return
	}

	if err := e.store.Delete(ctx, modelID); err != nil {
		metrics.PersistFailuresTotal.Inc()
		e.logger.WarnContext(ctx, "delete schedule failed, will retry next tick", "model_id", modelID, "error", err)
		return
	}

	e.mu.Lock()
	delete(e.pendingDeletes, modelID)
	e.mu.Unlock()
}

func (e *Engine) publish(ctx context.Context, events []domain.Event) {
	if e.pub == nil {
		return
	}
	for _, evt := range events {
		if err := e.pub.Publish(ctx, evt); err != nil {
			e.logger.WarnContext(ctx, "publish event", "kind", evt.Kind, "model_id", evt.ModelID, "error", err)
		}
	}
}

func (e *Engine) sortedIDsLocked() []string {
	ids := make([]string, 0, len(e.models))
	for id := range e.models {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (e *Engine) updateStatusGaugeLocked() {
	counts := map[domain.Status]int{
		domain.StatusIdle:    0,
		domain.StatusRunning: 0,
		domain.StatusError:   0,
		domain.StatusStopped: 0,
	}
	for _, ent := range e.models {
		counts[ent.rec.State.Status]++
	}
	for status, n := range counts {
		metrics.ModelsByStatus.WithLabelValues(string(status)).Set(float64(n))
	}
}
