package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ErlanBelekov/keepwarm/config"
	"github.com/ErlanBelekov/keepwarm/internal/catalog"
	"github.com/ErlanBelekov/keepwarm/internal/health"
	"github.com/ErlanBelekov/keepwarm/internal/infrastructure"
	ctxlog "github.com/ErlanBelekov/keepwarm/internal/log"
	"github.com/ErlanBelekov/keepwarm/internal/metrics"
	"github.com/ErlanBelekov/keepwarm/internal/notify"
	"github.com/ErlanBelekov/keepwarm/internal/scheduler"
	httptransport "github.com/ErlanBelekov/keepwarm/internal/transport/http"
	"github.com/ErlanBelekov/keepwarm/internal/transport/http/handler"
	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/gin-gonic/gin"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
)

const shutdownGrace = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger := newLogger(cfg.Env, cfg.SlogLevel())

	if cfg.Env != "local" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.Register()

	store, err := infrastructure.OpenStore(ctx, cfg, logger)
	if err != nil {
		stop()
		log.Fatalf("store: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("store close", "error", err)
		}
	}()
	logger.Info("store opened", "driver", cfg.StoreDriver)

	sinks, err := buildSinks(ctx, cfg, logger)
	if err != nil {
		stop()
		log.Fatalf("notify: %v", err)
	}
	defer sinks.close(logger)

	// notification workers outlive the signal context so Close can drain them
	dispatcher := notify.NewDispatcher(notify.DispatcherConfig{
		Workers:    cfg.NotifyWorkers,
		QueueSize:  cfg.NotifyQueueSize,
		RatePerSec: float64(cfg.NotifyRatePerSec),
	}, logger, sinks.list...)
	dispatcher.Start(context.Background())

	prober := scheduler.NewHTTPProber(scheduler.ProberConfig{
		APIKey:         cfg.RunPodAPIKey,
		Message:        cfg.ProbeMessage,
		MaxAttempts:    cfg.ProbeMaxAttempts,
		BaseDelay:      cfg.ProbeBaseDelay,
		MaxDelay:       cfg.ProbeMaxDelay,
		AttemptTimeout: cfg.ProbeAttemptTimeout,
	}, logger)

	engine := scheduler.NewEngine(store, prober, dispatcher, logger, scheduler.EngineConfig{
		FailureThreshold:   cfg.FailureThreshold,
		ColdStartSoftLimit: cfg.ColdStartSoftLimit,
		MaxConcurrency:     cfg.MaxConcurrency,
		MaxIntervalMinutes: cfg.MaxIntervalMinutes,
		ProbeTimeout:       cfg.ProbeTimeout,
	})
	if err := engine.Load(ctx); err != nil {
		stop()
		log.Fatalf("load schedules: %v", err)
	}
	metrics.EngineStartTime.SetToCurrentTime()

	watcher, err := catalog.NewWatcher(cfg.CatalogPath, logger)
	if err != nil {
		stop()
		log.Fatalf("catalog: %v", err)
	}
	go func() {
		if err := watcher.Run(ctx); err != nil {
			logger.Warn("catalog hot reload disabled", "error", err)
		}
	}()

	// ticks get their own context so a shutdown lets running probes finish
	tickCtx, cancelTicks := context.WithCancel(context.Background())
	defer cancelTicks()

	cronLog := cronLogger{logger.With("component", "cron")}
	trigger := cron.New(cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)))
	if _, err := trigger.AddFunc(cfg.TickSpec, func() { engine.Tick(tickCtx) }); err != nil {
		stop()
		log.Fatalf("tick spec %q: %v", cfg.TickSpec, err)
	}
	trigger.Start()
	logger.Info("tick trigger started", "spec", cfg.TickSpec)

	checker := health.NewChecker(sinks.pingers(store), logger, prometheus.DefaultRegisterer)

	models := handler.NewModelHandler(engine, watcher, cfg.DefaultTimezone, logger)
	srv := http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           httptransport.NewRouter(logger, models, []byte(cfg.ControlJWTSecret)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	metricsSrv := metrics.NewServer(":"+cfg.MetricsPort, checker)

	go func() {
		logger.Info("server started", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	go func() {
		logger.Info("metrics server started", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()

	notifySystemd(logger, daemon.SdNotifyReady)
	go watchdog(ctx, logger)

	<-ctx.Done()
	stop()
	logger.Info("shutting down...")
	notifySystemd(logger, daemon.SdNotifyStopping)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	select {
	case <-trigger.Stop().Done():
	case <-shutdownCtx.Done():
		logger.Warn("tick still running at shutdown, abandoning probes")
	}
	cancelTicks()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "error", err)
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown", "error", err)
	}
	dispatcher.Close()
	logger.Info("keepwarm shut down")
}

func newLogger(env string, level slog.Level) *slog.Logger {
	var inner slog.Handler
	if env == "local" {
		inner = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	} else {
		inner = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}
	return slog.New(ctxlog.NewContextHandler(inner))
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error(msg, append(keysAndValues, "error", err)...)
}

func notifySystemd(logger *slog.Logger, state string) {
	if _, err := daemon.SdNotify(false, state); err != nil {
		logger.Warn("sd_notify", "state", state, "error", err)
	}
}

// watchdog pings systemd at half the configured WatchdogSec. It does nothing
// when the unit has no watchdog.
func watchdog(ctx context.Context, logger *slog.Logger) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return
	}
	t := time.NewTicker(interval / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			notifySystemd(logger, daemon.SdNotifyWatchdog)
		}
	}
}
