package eventbroker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// channelName is the single Postgres NOTIFY channel every envelope is
// published on; EventType filtering happens client-side after decode,
// since LISTEN channel names can't be parameterized per-subscriber.
const channelName = "flowerpower_events"

// Postgres publishes envelopes over LISTEN/NOTIFY using jackc/pgx/v5, the
// same driver ErlanBelekov/dist-job-scheduler's postgres.NewPool wraps for
// its data store.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) Publish(ctx context.Context, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, "select pg_notify($1, $2)", channelName, string(body))
	if err != nil {
		return fmt.Errorf("notify %s: %w", channelName, err)
	}
	return nil
}

func (p *Postgres) Subscribe(ctx context.Context, types ...EventType) (<-chan Envelope, error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire listen connection: %w", err)
	}
	if _, err := conn.Exec(ctx, "listen "+channelName); err != nil {
		conn.Release()
		return nil, fmt.Errorf("listen %s: %w", channelName, err)
	}

	out := make(chan Envelope, 64)
	go func() {
		defer close(out)
		defer conn.Release()
		for {
			notification, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				return
			}
			var env Envelope
			if err := json.Unmarshal([]byte(notification.Payload), &env); err != nil {
				continue
			}
			if !matches(types, env.EventType) {
				continue
			}
			select {
			case out <- env:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

func (p *Postgres) Close() error {
	return nil
}
