package scheduler

import (
	"context"
	"fmt"

	"github.com/ErlanBelekov/keepwarm/internal/domain"
)

// AddOrUpdate validates def and installs it. An existing model keeps its
// enabled flag and run state; a new one starts disabled and idle.
func (e *Engine) AddOrUpdate(ctx context.Context, def domain.ScheduleDefinition) (*domain.ModelRecord, error) {
	if err := def.Validate(e.cfg.MaxIntervalMinutes); err != nil {
		return nil, err
	}
	now := e.now()

	e.mu.Lock()
	ent, ok := e.models[def.ModelID]
	if ok {
		def.Enabled = ent.rec.Definition.Enabled
		ent.rec.Definition = def
		ent.windowKnown = false
	} else {
		def.Enabled = false
		ent = &entry{rec: &domain.ModelRecord{
			Definition: def,
			State:      domain.RunState{Status: domain.StatusIdle},
		}}
		e.models[def.ModelID] = ent
	}
	delete(e.pendingDeletes, def.ModelID)
	ent.touch(now)
	out := ent.rec.Clone()
	e.updateStatusGaugeLocked()
	e.mu.Unlock()

	e.logger.InfoContext(ctx, "schedule saved", "model_id", def.ModelID, "created", !ok)
	e.persist(ctx, def.ModelID)
	return out, nil
}

// Start enables a model and fires one probe immediately. When a probe for
// the model is already in flight, no second one is sent: the model is made
// due again and the next tick probes it after the current one returns. The
// same happens when ctx ends before the probe does.
func (e *Engine) Start(ctx context.Context, modelID string) (*domain.ProbeOutcome, error) {
	now := e.now()

	e.mu.Lock()
	ent, ok := e.models[modelID]
	if !ok {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", domain.ErrModelNotFound, modelID)
	}
	old := ent.rec.State.Status
	ent.rec.Definition.Enabled = true
	ent.rec.State.ConsecutiveFailures = 0
	ent.rec.State.LastError = nil
	ent.rec.State.Status = domain.StatusRunning
	ent.epoch++
	ent.windowKnown = false
	ent.touch(now)

	var events []domain.Event
	if old != domain.StatusRunning {
		events = append(events, statusEvent(ent.rec, old, now))
	}

	if _, busy := e.inflight[modelID]; busy {
		ent.rec.State.LastFireAt = nil
		e.updateStatusGaugeLocked()
		e.mu.Unlock()

		e.logger.InfoContext(ctx, "model started, probe already in flight", "model_id", modelID)
		e.persist(ctx, modelID)
		e.publish(ctx, events)
		return nil, nil
	}

	e.inflight[modelID] = struct{}{}
	def := ent.rec.Definition
	epoch := ent.epoch
	e.updateStatusGaugeLocked()
	e.mu.Unlock()

	e.logger.InfoContext(ctx, "model started", "model_id", modelID)
	e.publish(ctx, events)

	out := e.probe(ctx, def)
	// the outcome is committed even if the caller has gone away
	ctx = context.WithoutCancel(ctx)

	var evts []domain.Event
	if out.Kind != domain.KindInterrupted {
		evts = append(evts, domain.Event{
			Kind:       domain.EventStartProbe,
			ModelID:    modelID,
			At:         now,
			Definition: &def,
			Outcome:    &out,
		})
	}

	e.mu.Lock()
	if cur, ok := e.models[modelID]; ok && cur == ent && cur.epoch == epoch && cur.rec.Definition.Enabled {
		if out.Kind == domain.KindInterrupted {
			// nothing was learned about the endpoint: leave the state alone
			// and let the next tick probe it
			cur.rec.State.LastFireAt = nil
			cur.touch(now)
		} else {
			prev := cur.rec.State.Status
			applyOutcome(&cur.rec.State, out, now, e.cfg)
			cur.touch(now)
			if cur.rec.State.Status != prev {
				evts = append(evts, statusEvent(cur.rec, prev, now))
			}
			e.updateStatusGaugeLocked()
		}
	}
	e.mu.Unlock()

	e.persist(ctx, modelID)
	e.publish(ctx, evts)
	return &out, nil
}

// Stop disables a model. Any in-flight probe result for it is discarded.
// Stopping an already stopped model is a no-op.
func (e *Engine) Stop(ctx context.Context, modelID string) error {
	now := e.now()

	e.mu.Lock()
	ent, ok := e.models[modelID]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", domain.ErrModelNotFound, modelID)
	}
	old := ent.rec.State.Status
	if !ent.rec.Definition.Enabled && old == domain.StatusStopped {
		e.mu.Unlock()
		return nil
	}
	ent.rec.Definition.Enabled = false
	ent.rec.State.Status = domain.StatusStopped
	ent.epoch++
	ent.windowKnown = false
	ent.touch(now)
	evt := statusEvent(ent.rec, old, now)
	e.updateStatusGaugeLocked()
	e.mu.Unlock()

	e.logger.InfoContext(ctx, "model stopped", "model_id", modelID)
	e.persist(ctx, modelID)
	if old != domain.StatusStopped {
		e.publish(ctx, []domain.Event{evt})
	}
	return nil
}

// Remove deletes a model from the engine and the store. A failed store
// delete is retried on later ticks.
func (e *Engine) Remove(ctx context.Context, modelID string) error {
	e.mu.Lock()
	if _, ok := e.models[modelID]; !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", domain.ErrModelNotFound, modelID)
	}
	delete(e.models, modelID)
	e.pendingDeletes[modelID] = struct{}{}
	e.updateStatusGaugeLocked()
	e.mu.Unlock()

	e.logger.InfoContext(ctx, "model removed", "model_id", modelID)
	e.deleteFromStore(ctx, modelID)
	return nil
}

// Status returns a snapshot of every model ordered by id.
func (e *Engine) Status() []domain.ModelStatus {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]domain.ModelStatus, 0, len(e.models))
	for _, id := range e.sortedIDsLocked() {
		out = append(out, e.statusLocked(id))
	}
	return out
}

func (e *Engine) Get(modelID string) (domain.ModelStatus, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.models[modelID]; !ok {
		return domain.ModelStatus{}, fmt.Errorf("%w: %s", domain.ErrModelNotFound, modelID)
	}
	return e.statusLocked(modelID), nil
}

func (e *Engine) statusLocked(modelID string) domain.ModelStatus {
	rec := e.models[modelID].rec.Clone()
	_, busy := e.inflight[modelID]
	return domain.ModelStatus{
		Definition: rec.Definition,
		State:      rec.State,
		InFlight:   busy,
	}
}

// ModelIDs lists the known model ids in order.
func (e *Engine) ModelIDs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sortedIDsLocked()
}
