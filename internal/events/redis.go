package events

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bytedance/sonic"
	"github.com/careeros/careeros-back/internal/domain"
	"github.com/redis/go-redis/v9"
)

// RedisBus carries lifecycle events over a Redis pub/sub channel, fanning
// them out across processes (API, workers, notification gateways).
type RedisBus struct {
	rdb     redis.UniversalClient
	channel string
	log     *slog.Logger
}

func NewRedisBus(rdb redis.UniversalClient, channel string, log *slog.Logger) *RedisBus {
	if channel == "" {
		channel = DefaultChannel
	}
	if log == nil {
		log = slog.Default()
	}
	return &RedisBus{rdb: rdb, channel: channel, log: log}
}

func (b *RedisBus) Publish(ctx context.Context, event domain.Event) error {
	raw, err := encodeEvent(event)
	if err != nil {
		return err
	}
	if err := b.rdb.Publish(ctx, b.channel, raw).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context) (<-chan domain.Event, func(), error) {
	sub := b.rdb.Subscribe(ctx, b.channel)
	// Force the subscription onto the wire before returning so callers
	// never miss events published right after Subscribe.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("subscribe: %w", err)
	}

	out := make(chan domain.Event, 64)
	go func() {
		defer close(out)
		for message := range sub.Channel() {
			var event domain.Event
			if err := sonic.Unmarshal([]byte(message.Payload), &event); err != nil {
				b.log.Warn("dropping undecodable event", "error", err)
				continue
			}
			select {
			case out <- event:
			default:
				// Slow subscriber: drop rather than block the pump.
				b.log.Warn("subscriber backlog full, dropping event", "event", event.Kind, "job_id", event.JobID)
			}
		}
	}()

	stop := func() { _ = sub.Close() }
	return out, stop, nil
}
