package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ErlanBelekov/keepwarm/internal/domain"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
)

// envelope is the wire form of an event on the message brokers.
type envelope struct {
	Version int          `json:"version"`
	Title   string       `json:"title"`
	Event   domain.Event `json:"event"`
}

func encodeEvent(evt domain.Event) ([]byte, error) {
	b, err := json.Marshal(envelope{Version: 1, Title: Title(evt), Event: evt})
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	return b, nil
}

// redisPublisher is the subset of *redis.Client the sink needs.
type redisPublisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

// Redis publishes every event as JSON on a pub/sub channel, so dashboards
// and other services can follow the scheduler live.
type Redis struct {
	client  redisPublisher
	channel string
}

func NewRedis(ctx context.Context, addr, password string, db int, channel string) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return &Redis{client: rdb, channel: channel}, nil
}

func (r *Redis) Name() string { return "redis" }

func (r *Redis) Publish(ctx context.Context, evt domain.Event) error {
	payload, err := encodeEvent(evt)
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

func (r *Redis) Ping(ctx context.Context) error { return r.client.Ping(ctx).Err() }

func (r *Redis) Close() error { return r.client.Close() }

// NATS publishes every event on <subject>.<kind>.
type NATS struct {
	conn    *nats.Conn
	subject string
}

func NewNATS(url, subject string, logger *slog.Logger) (*NATS, error) {
	log := logger.With("component", "nats")
	nc, err := nats.Connect(url,
		nats.Name("keepwarm"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &NATS{conn: nc, subject: subject}, nil
}

func (n *NATS) Name() string { return "nats" }

func (n *NATS) Publish(_ context.Context, evt domain.Event) error {
	payload, err := encodeEvent(evt)
	if err != nil {
		return err
	}
	if err := n.conn.Publish(n.subject+"."+string(evt.Kind), payload); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	return nil
}

func (n *NATS) Ping(ctx context.Context) error {
	if !n.conn.IsConnected() {
		return errors.New("nats not connected")
	}
	return n.conn.FlushWithContext(ctx)
}

func (n *NATS) Close() error {
	return n.conn.Drain()
}
