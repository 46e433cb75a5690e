package domain

import "time"

type EventKind string

const (
	EventStatusChanged EventKind = "status_changed"
	EventTickSummary   EventKind = "tick_summary"
	EventStartProbe    EventKind = "start_probe"
	EventWindowOpened  EventKind = "window_opened"
	EventWindowClosed  EventKind = "window_closed"
)

type Event struct {
	Kind      EventKind `json:"kind"`
	ModelID   string    `json:"model_id,omitempty"`
	OldStatus Status    `json:"old_status,omitempty"`
	NewStatus Status    `json:"new_status,omitempty"`
	Error     string    `json:"error,omitempty"`

	// Alert marks events worth paging someone for (transition into Error).
	Alert      bool                `json:"alert,omitempty"`
	At         time.Time           `json:"at"`
	Definition *ScheduleDefinition `json:"definition,omitempty"`
	Outcome    *ProbeOutcome       `json:"outcome,omitempty"`
	Summary    *TickSummary        `json:"summary,omitempty"`
}

type TickSummary struct {
	TickID    string        `json:"tick_id"`
	At        time.Time     `json:"at"`
	Due       int           `json:"due"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Discarded int           `json:"discarded"`
	Duration  time.Duration `json:"duration"`
}
