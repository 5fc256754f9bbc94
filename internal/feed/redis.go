package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.io/infrasutra/postbox/internal/sse"
)

const (
	DefaultChannel = "postbox:changes"
	publishTimeout = 2 * time.Second
)

// Redis publishes changes on a pub/sub channel. Run relays everything seen on
// the channel, including this instance's own changes, into the local hub.
type Redis struct {
	client  *redis.Client
	channel string
	local   *Local
	logger  *slog.Logger
}

func NewRedis(ctx context.Context, redisURL string, hub *sse.Hub, logger *slog.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	local := NewLocal(hub, logger)
	return &Redis{client: client, channel: DefaultChannel, local: local, logger: local.logger}, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Notify publishes a change. When Redis is unreachable the change still
// reaches subscribers of this instance.
func (r *Redis) Notify(owners ...string) {
	change := NewChange(owners...)
	payload, err := json.Marshal(change)
	if err != nil {
		r.logger.Warn("encode change", "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		r.logger.Warn("publish change", "channel", r.channel, "error", err)
		r.local.deliver(change)
	}
}

// Run subscribes to the channel until ctx is done.
func (r *Redis) Run(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	r.logger.Info("change feed subscribed", "channel", r.channel)

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			change, err := decodeChange([]byte(msg.Payload))
			if err != nil {
				r.logger.Warn("relay change", "error", err)
				continue
			}
			r.local.deliver(change)
		}
	}
}
