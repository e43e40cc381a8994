package eventbroker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// channelPrefix namespaces pub/sub channels the same way the pack's Redis
// queue example pre-computes key prefixes to avoid per-call allocation.
const channelPrefix = "flowerpower:events:"

// Redis publishes envelopes over go-redis/v9 PUBLISH/SUBSCRIBE, one
// channel per EventType. Connection pool tuning mirrors the pack's Redis
// queue example (internal-queue-redis.go): long-lived connections,
// context-aware timeouts, bounded retries.
type Redis struct {
	client *redis.Client
}

func NewRedis(uri string) (*Redis, error) {
	opts, err := redis.ParseURL(uri)
	if err != nil {
		return nil, fmt.Errorf("parse redis uri: %w", err)
	}
	opts.PoolSize = 25
	opts.MinIdleConns = 3
	opts.ContextTimeoutEnabled = true
	opts.MaxRetries = 3

	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis event broker: %w", err)
	}
	return &Redis{client: client}, nil
}

func (r *Redis) channel(t EventType) string {
	return channelPrefix + string(t)
}

func (r *Redis) Publish(ctx context.Context, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.channel(env.EventType), body).Err()
}

var allEventTypes = []EventType{
	EventJobAdded, EventJobStarted, EventJobFinished, EventJobFailed,
	EventScheduleAdded, EventScheduleRemoved,
}

func (r *Redis) Subscribe(ctx context.Context, types ...EventType) (<-chan Envelope, error) {
	if len(types) == 0 {
		types = allEventTypes
	}
	channels := make([]string, len(types))
	for i, t := range types {
		channels[i] = r.channel(t)
	}

	sub := r.client.Subscribe(ctx, channels...)
	out := make(chan Envelope, 64)

	go func() {
		defer close(out)
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var env Envelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					continue
				}
				select {
				case out <- env:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
