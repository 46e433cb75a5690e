package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ErlanBelekov/keepwarm/internal/domain"
	"github.com/ErlanBelekov/keepwarm/internal/metrics"
	"golang.org/x/time/rate"
)

var ErrQueueFull = errors.New("notification queue full")

type DispatcherConfig struct {
	Workers     int
	QueueSize   int
	RatePerSec  float64
	MaxAttempts int
	RetryDelay  time.Duration
}

// Dispatcher decouples the engine from slow sinks. Publish never blocks:
// events are queued and delivered by a small worker pool. Each sink has its
// own rate limit so a burst of alerts cannot trip a chat API's own limits,
// and events a sink filters out cost it nothing.
type Dispatcher struct {
	sinks    []Sink
	limiters []*rate.Limiter
	cfg      DispatcherConfig
	logger   *slog.Logger

	mu     sync.RWMutex
	queue  chan domain.Event
	closed bool
	wg     sync.WaitGroup
}

func NewDispatcher(cfg DispatcherConfig, logger *slog.Logger, sinks ...Sink) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}

	burst := max(int(cfg.RatePerSec), 1)
	limiters := make([]*rate.Limiter, len(sinks))
	for i := range sinks {
		limiters[i] = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
	}
	return &Dispatcher{
		sinks:    sinks,
		limiters: limiters,
		cfg:      cfg,
		logger:   logger.With("component", "notify"),
		queue:    make(chan domain.Event, cfg.QueueSize),
	}
}

// Start launches the workers. They exit once Close has drained the queue or
// ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.work(ctx)
		}()
	}
}

// Publish enqueues evt. It returns ErrQueueFull when the queue is saturated;
// the event is dropped in that case.
func (d *Dispatcher) Publish(_ context.Context, evt domain.Event) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return errors.New("dispatcher closed")
	}
	select {
	case d.queue <- evt:
		return nil
	default:
		metrics.NotificationsDroppedTotal.Inc()
		return ErrQueueFull
	}
}

// Close stops accepting events and waits for queued ones to be delivered.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-d.queue:
			if !ok {
				return
			}
			for i, sink := range d.sinks {
				d.deliver(ctx, sink, d.limiters[i], evt)
			}
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, sink Sink, limiter *rate.Limiter, evt domain.Event) {
	if f, ok := sink.(Filter); ok && !f.Accepts(evt) {
		return
	}
	var err error
	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		if err = limiter.Wait(ctx); err != nil {
			break
		}
		if err = sink.Publish(ctx, evt); err == nil {
			metrics.NotificationsTotal.WithLabelValues(sink.Name(), "ok").Inc()
			return
		}
		if attempt == d.cfg.MaxAttempts {
			break
		}
		t := time.NewTimer(d.cfg.RetryDelay * time.Duration(attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			err = ctx.Err()
		case <-t.C:
			continue
		}
		break
	}
	metrics.NotificationsTotal.WithLabelValues(sink.Name(), "error").Inc()
	d.logger.WarnContext(ctx, "notification delivery failed",
		"sink", sink.Name(),
		"kind", evt.Kind,
		"model_id", evt.ModelID,
		"error", err,
	)
}
