package main

import (
	"context"
	"io"
	"log/slog"

	"github.com/ErlanBelekov/keepwarm/config"
	"github.com/ErlanBelekov/keepwarm/internal/email"
	"github.com/ErlanBelekov/keepwarm/internal/health"
	"github.com/ErlanBelekov/keepwarm/internal/notify"
)

type sinkSet struct {
	list    []notify.Sink
	closers map[string]io.Closer
	deps    map[string]health.Pinger
}

// buildSinks wires every notification channel that has configuration. The
// log sink is always on.
func buildSinks(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sinkSet, error) {
	s := &sinkSet{
		list:    []notify.Sink{notify.NewLogSink(logger)},
		closers: make(map[string]io.Closer),
		deps:    make(map[string]health.Pinger),
	}

	if cfg.SlackWebhookURL != "" || cfg.SlackBotToken != "" {
		s.list = append(s.list, notify.NewSlack(notify.SlackConfig{
			WebhookURL:  cfg.SlackWebhookURL,
			BotToken:    cfg.SlackBotToken,
			Channel:     cfg.SlackChannel,
			MentionUser: cfg.SlackMentionUser,
			Username:    cfg.SlackUsername,
			IconEmoji:   cfg.SlackIconEmoji,
		}, logger))
	}

	if cfg.AlertEmailTo != "" {
		sender := email.NewSender(cfg.Env, cfg.ResendAPIKey, cfg.ResendFrom, logger)
		s.list = append(s.list, notify.NewEmailSink(sender, cfg.AlertEmailTo))
	}

	if cfg.TelegramToken != "" {
		tg, err := notify.NewTelegram(cfg.TelegramToken, cfg.TelegramChatID, "")
		if err != nil {
			return nil, err
		}
		s.list = append(s.list, tg)
	}

	if cfg.RedisAddr != "" {
		r, err := notify.NewRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisChannel)
		if err != nil {
			s.close(logger)
			return nil, err
		}
		s.list = append(s.list, r)
		s.closers["redis"] = r
		s.deps["redis"] = r
	}

	if cfg.NatsURL != "" {
		n, err := notify.NewNATS(cfg.NatsURL, cfg.NatsSubject, logger)
		if err != nil {
			s.close(logger)
			return nil, err
		}
		s.list = append(s.list, n)
		s.closers["nats"] = n
		s.deps["nats"] = n
	}

	names := make([]string, len(s.list))
	for i, sink := range s.list {
		names[i] = sink.Name()
	}
	logger.Info("notification sinks ready", "sinks", names)
	return s, nil
}

// pingers returns the readiness dependencies, store included.
func (s *sinkSet) pingers(store health.Pinger) map[string]health.Pinger {
	out := make(map[string]health.Pinger, len(s.deps)+1)
	for name, p := range s.deps {
		out[name] = p
	}
	out["store"] = store
	return out
}

func (s *sinkSet) close(logger *slog.Logger) {
	for name, c := range s.closers {
		if err := c.Close(); err != nil {
			logger.Error("close sink", "sink", name, "error", err)
		}
	}
}
