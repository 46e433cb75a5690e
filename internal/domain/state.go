package domain

import "time"

type Status string

const (
	StatusIdle    Status = "idle"
	StatusRunning Status = "running"
	StatusError   Status = "error"
	StatusStopped Status = "stopped"
)

func (s Status) Valid() bool {
	switch s {
	case StatusIdle, StatusRunning, StatusError, StatusStopped:
		return true
	}
	return false
}

// RunState is owned by the engine; nothing else mutates it.
type RunState struct {
	Status              Status     `json:"status"                    yaml:"status"`
	LastFireAt          *time.Time `json:"last_fire_at,omitempty"    yaml:"last_fire_at,omitempty"`
	LastSuccessAt       *time.Time `json:"last_success_at,omitempty" yaml:"last_success_at,omitempty"`
	ConsecutiveFailures int        `json:"consecutive_failures"      yaml:"consecutive_failures"`
	LastError           *string    `json:"last_error,omitempty"      yaml:"last_error,omitempty"`
	LastLatencyMS       int64      `json:"last_latency_ms,omitempty" yaml:"last_latency_ms,omitempty"`
}

// ModelRecord is the unit of persistence: one per model id.
type ModelRecord struct {
	Definition ScheduleDefinition `json:"definition" yaml:"definition"`
	State      RunState           `json:"state"      yaml:"state"`
	UpdatedAt  time.Time          `json:"updated_at" yaml:"updated_at"`
}

// Clone returns a deep copy so callers can hand records across goroutines.
func (r *ModelRecord) Clone() *ModelRecord {
	c := *r
	c.State.LastFireAt = cloneTime(r.State.LastFireAt)
	c.State.LastSuccessAt = cloneTime(r.State.LastSuccessAt)
	if r.State.LastError != nil {
		msg := *r.State.LastError
		c.State.LastError = &msg
	}
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// ModelStatus is the read-only view returned by status queries.
type ModelStatus struct {
	Definition ScheduleDefinition
	State      RunState
	InFlight   bool
}
