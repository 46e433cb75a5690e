package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Engine metrics

	TicksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "keepwarm",
		Name:      "ticks_total",
		Help:      "Total scheduler ticks evaluated.",
	})

	TickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "keepwarm",
		Name:      "tick_duration_seconds",
		Help:      "Wall time of one tick including all probes it fired.",
		Buckets:   []float64{.01, .1, .5, 1, 5, 15, 30, 60, 120, 300, 600},
	})

	ModelsByStatus = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "keepwarm",
		Name:      "models",
		Help:      "Number of configured models, by status.",
	}, []string{"status"})

	PersistFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "keepwarm",
		Name:      "persist_failures_total",
		Help:      "Store writes that failed and were left for retry.",
	})

	EngineStartTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "keepwarm",
		Name:      "engine_start_time_seconds",
		Help:      "Unix timestamp when the engine started.",
	})

	// Probe metrics

	ProbesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "keepwarm",
		Name:      "probes_total",
		Help:      "Total probes committed, by outcome.",
	}, []string{"outcome"})

	ProbeAttemptDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "keepwarm",
		Name:      "probe_attempt_duration_seconds",
		Help:      "Duration of a single probe HTTP attempt.",
		Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"outcome"})

	ProbesInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "keepwarm",
		Name:      "probes_in_flight",
		Help:      "Probes currently outstanding, including abandoned ones.",
	})

	// Notification metrics

	NotificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "keepwarm",
		Name:      "notifications_total",
		Help:      "Notifications delivered to sinks, by sink and result.",
	}, []string{"sink", "result"})

	NotificationsDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "keepwarm",
		Name:      "notifications_dropped_total",
		Help:      "Events dropped because the notification queue was full.",
	})

	// HTTP metrics

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "keepwarm",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "keepwarm",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests.",
	}, []string{"method", "path", "status"})
)

func Register() {
	prometheus.MustRegister(
		TicksTotal,
		TickDuration,
		ModelsByStatus,
		PersistFailuresTotal,
		EngineStartTime,
		ProbesTotal,
		ProbeAttemptDuration,
		ProbesInFlight,
		NotificationsTotal,
		NotificationsDroppedTotal,
		HTTPRequestDuration,
		HTTPRequestsTotal,
	)
}

// Checker reports readiness of the process's dependencies.
type Checker interface {
	Check(ctx context.Context) error
}

// NewServer serves /metrics, plus /healthz (liveness) and /readyz backed by
// checker when it is non-nil.
func NewServer(addr string, checker Checker) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := checker.Check(ctx); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	return &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
}
