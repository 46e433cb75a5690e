package scheduler

import (
	"sync"
	"time"

	"github.com/ErlanBelekov/keepwarm/internal/domain"
)

var locations sync.Map // timezone name -> *time.Location

func location(name string) (*time.Location, error) {
	if loc, ok := locations.Load(name); ok {
		return loc.(*time.Location), nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, err
	}
	locations.Store(name, loc)
	return loc, nil
}

// InWindow reports whether now falls inside the definition's daily
// [From, To) window, evaluated in the definition's timezone.
func InWindow(def *domain.ScheduleDefinition, now time.Time) bool {
	loc, err := location(def.Timezone)
	if err != nil {
		return false
	}
	local := now.In(loc)
	m := local.Hour()*60 + local.Minute()
	from, to := def.From.Minutes(), def.To.Minutes()
	if from <= to {
		return m >= from && m < to
	}
	return m >= from || m < to
}

// IsDue decides whether a probe should fire for def at now.
//
// Intervals are measured at minute granularity from the last actual fire,
// not from a fixed grid, so trigger jitter is absorbed instead of compounded.
// A tick reports at most one fire per model regardless of how many
// boundaries were crossed since the last one.
func IsDue(def *domain.ScheduleDefinition, state *domain.RunState, now time.Time) bool {
	if !def.Enabled {
		return false
	}
	if !InWindow(def, now) {
		return false
	}
	if state.LastFireAt == nil {
		return true
	}
	elapsed := now.Truncate(time.Minute).Sub(state.LastFireAt.Truncate(time.Minute))
	return elapsed >= time.Duration(def.IntervalMinutes)*time.Minute
}
