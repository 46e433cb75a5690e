package domain

import "time"

type FailureKind string

const (
	KindTimeout     FailureKind = "timeout"
	KindTransient   FailureKind = "transient"
	KindColdStart   FailureKind = "cold_start"
	KindAuth        FailureKind = "auth"
	KindRateLimited FailureKind = "rate_limited"
	KindClient      FailureKind = "client"
	KindConfig      FailureKind = "config"

	// KindInterrupted marks a probe cut short by its caller going away. It
	// says nothing about the endpoint and is never folded into run state.
	KindInterrupted FailureKind = "interrupted"
)

// Retryable reports whether another attempt may succeed.
func (k FailureKind) Retryable() bool {
	switch k {
	case KindTimeout, KindTransient, KindColdStart, KindRateLimited:
		return true
	}
	return false
}

// ProbeOutcome is the fully absorbed result of one probe, retries included.
type ProbeOutcome struct {
	OK         bool          `json:"ok"`
	Kind       FailureKind   `json:"kind,omitempty"`
	Message    string        `json:"message,omitempty"`
	StatusCode int           `json:"status_code,omitempty"`
	Attempts   int           `json:"attempts"`
	Latency    time.Duration `json:"latency"`
}

func Success(latency time.Duration, attempts int) ProbeOutcome {
	return ProbeOutcome{OK: true, Latency: latency, Attempts: attempts}
}

func Failure(kind FailureKind, msg string) ProbeOutcome {
	return ProbeOutcome{Kind: kind, Message: msg}
}
