package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"

	"ugcserver/internal/domain"
	"ugcserver/internal/infra"
)

const redisChannelPrefix = "progress:"

// RedisBus relays progress events through Redis pub/sub so API and worker
// processes can run separately.
type RedisBus struct {
	rdb    *redis.Client
	buffer int
	logger *infra.Logger
}

// NewRedisClient parses a redis:// URL.
func NewRedisClient(rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("events: parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

func NewRedisBus(rdb *redis.Client, buffer int, logger *infra.Logger) *RedisBus {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &RedisBus{rdb: rdb, buffer: buffer, logger: infra.LoggerOrDiscard(logger)}
}

// Subscribe returns once Redis has confirmed the subscription.
func (b *RedisBus) Subscribe(ctx context.Context, key string) (*Subscription, error) {
	ps := b.rdb.Subscribe(ctx, redisChannelPrefix+key)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("events: subscribe %s: %w", key, err)
	}

	out := make(chan domain.ProgressEvent, b.buffer)
	msgs := ps.Channel()
	go func() {
		defer close(out)
		for msg := range msgs {
			var ev domain.ProgressEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				b.logger.Debug().Err(err).Str("key", key).Msg("events: skipping malformed payload")
				continue
			}
			select {
			case out <- ev:
			default:
				b.logger.Debug().Str("key", key).Str("step", string(ev.Step)).Msg("events: subscriber buffer full, dropping")
			}
		}
	}()

	s := newSubscription(out, func() { _ = ps.Close() })
	s.closeOn(ctx)
	return s, nil
}

func (b *RedisBus) Publish(ctx context.Context, key string, ev domain.ProgressEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("events: encode event: %w", err)
	}
	if err := b.rdb.Publish(ctx, redisChannelPrefix+key, payload).Err(); err != nil {
		return fmt.Errorf("events: publish %s: %w", key, err)
	}
	return nil
}

var _ Bus = (*RedisBus)(nil)
