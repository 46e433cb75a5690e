package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ErlanBelekov/keepwarm/internal/domain"
	"github.com/ErlanBelekov/keepwarm/internal/metrics"
)

// maxBodyRead bounds how much of a probe response is buffered for classification.
const maxBodyRead = 64 << 10

type ProberConfig struct {
	APIKey         string
	Message        string
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	AttemptTimeout time.Duration
}

// HTTPProber sends keep-warm requests to OpenAI-compatible serverless
// endpoints. It holds no per-model state and is safe for concurrent use.
type HTTPProber struct {
	client *http.Client
	cfg    ProberConfig
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewHTTPProber(cfg ProberConfig, logger *slog.Logger) *HTTPProber {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 5 * time.Second
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 2 * time.Minute
	}
	if cfg.Message == "" {
		cfg.Message = "keep-warm probe"
	}
	cfg.APIKey = strings.TrimPrefix(strings.TrimSpace(cfg.APIKey), "Bearer ")

	return &HTTPProber{
		client: &http.Client{}, // no global timeout, each attempt sets its own
		cfg:    cfg,
		logger: logger.With("component", "prober"),
		sleep:  sleepCtx,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens"`
}

type attemptResult struct {
	kind         domain.FailureKind // empty on success
	statusCode   int
	message      string
	initializing bool
	duration     time.Duration
}

// Send probes def.TargetURL, retrying transient failures with exponential
// backoff. Every failure is absorbed into the returned outcome.
func (p *HTTPProber) Send(ctx context.Context, def domain.ScheduleDefinition) domain.ProbeOutcome {
	start := time.Now()

	var (
		last     attemptResult
		attempts int
		sawInit  bool
	)
	for attempts = 1; attempts <= p.cfg.MaxAttempts; attempts++ {
		last = p.attempt(ctx, def)
		metrics.ProbeAttemptDuration.WithLabelValues(attemptLabel(last.kind)).Observe(last.duration.Seconds())
		if last.initializing {
			sawInit = true
		}
		if last.kind == "" {
			out := domain.Success(last.duration, attempts)
			out.StatusCode = last.statusCode
			return out
		}
		if !last.kind.Retryable() || attempts == p.cfg.MaxAttempts {
			break
		}

		delay := BackoffDelay(attempts, p.cfg.BaseDelay, p.cfg.MaxDelay)
		p.logger.Debug("probe attempt failed, backing off",
			"model_id", def.ModelID,
			"attempt", attempts,
			"kind", last.kind,
			"delay", delay,
		)
		if err := p.sleep(ctx, delay); err != nil {
			last = attemptResult{kind: domain.KindTimeout, message: fmt.Sprintf("probe cancelled during backoff: %v", err)}
			break
		}
	}
	kind := last.kind
	if kind == domain.KindTimeout && sawInit {
		kind = domain.KindColdStart
	}
	out := domain.Failure(kind, last.message)
	out.StatusCode = last.statusCode
	out.Attempts = attempts
	out.Latency = time.Since(start)
	return out
}

func (p *HTTPProber) attempt(ctx context.Context, def domain.ScheduleDefinition) attemptResult {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, p.cfg.AttemptTimeout)
	defer cancel()

	body, err := json.Marshal(chatRequest{
		Model:     def.ModelID,
		Messages:  []chatMessage{{Role: "user", Content: p.cfg.Message}},
		MaxTokens: 1,
	})
	if err != nil {
		return attemptResult{kind: domain.KindConfig, message: fmt.Sprintf("encode request: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, def.TargetURL, bytes.NewReader(body))
	if err != nil {
		return attemptResult{kind: domain.KindConfig, message: fmt.Sprintf("build request: %v", err), duration: time.Since(start)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	req.Header.Set("User-Agent", "keepwarm")

	resp, err := p.client.Do(req)
	if err != nil {
		return attemptResult{kind: classify(0, err, false), message: fmt.Sprintf("do request: %v", err), duration: time.Since(start)}
	}
	defer func() { _ = resp.Body.Close() }()

	payload, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyRead))
	_, _ = io.Copy(io.Discard, resp.Body) // drain so the connection can be reused by the pool

	initializing := isInitializing(resp.StatusCode, payload)
	res := attemptResult{
		kind:         classify(resp.StatusCode, nil, initializing),
		statusCode:   resp.StatusCode,
		initializing: initializing,
		duration:     time.Since(start),
	}
	if res.kind != "" {
		res.message = fmt.Sprintf("HTTP %d: %s", resp.StatusCode, truncate(strings.TrimSpace(string(payload)), 200))
	}
	return res
}

// classify maps one attempt's result to a failure kind; "" means success.
func classify(statusCode int, err error, initializing bool) domain.FailureKind {
	if err != nil {
		var netErr net.Error
		switch {
		case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
			return domain.KindTimeout
		case errors.As(err, &netErr) && netErr.Timeout():
			return domain.KindTimeout
		default:
			return domain.KindTransient
		}
	}

	switch {
	case initializing:
		return domain.KindColdStart
	case statusCode >= 200 && statusCode < 300:
		return ""
	case statusCode == http.StatusUnauthorized, statusCode == http.StatusForbidden:
		return domain.KindAuth
	case statusCode == http.StatusTooManyRequests:
		return domain.KindRateLimited
	case statusCode >= 500:
		return domain.KindTransient
	default:
		return domain.KindClient
	}
}

var initializingStates = map[string]bool{
	"IN_QUEUE":     true,
	"IN_PROGRESS":  true,
	"INITIALIZING": true,
	"COLD_START":   true,
}

// isInitializing recognises the endpoint's "still spinning up" signal: a 202
// or 503 whose JSON body reports a queued or initializing status.
func isInitializing(statusCode int, body []byte) bool {
	if statusCode != http.StatusAccepted && statusCode != http.StatusServiceUnavailable {
		return false
	}
	var payload struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return false
	}
	return initializingStates[strings.ToUpper(strings.TrimSpace(payload.Status))]
}

func attemptLabel(kind domain.FailureKind) string {
	if kind == "" {
		return "success"
	}
	return string(kind)
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "…"
}
