// Package wiring turns a resolved backend.Descriptor into the concrete
// datastore.Store and eventbroker.Broker realizations the queue manager
// runs on top of, the same dispatch-by-kind shape
// ErlanBelekov/dist-job-scheduler's cmd/server/main.go uses to pick a
// postgres.Pool-backed repository.
package wiring

import (
	"context"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/legout/flowerpower/internal/backend"
	"github.com/legout/flowerpower/internal/datastore"
	"github.com/legout/flowerpower/internal/datastore/memory"
	"github.com/legout/flowerpower/internal/datastore/mongostore"
	"github.com/legout/flowerpower/internal/datastore/redisqueue"
	"github.com/legout/flowerpower/internal/datastore/sqlstore"
	"github.com/legout/flowerpower/internal/eventbroker"
)

// NewStore builds the datastore.Store realization for d.Kind.
func NewStore(ctx context.Context, d *backend.Descriptor) (datastore.Store, error) {
	switch d.Kind {
	case backend.KindMemory:
		return memory.New(), nil
	case backend.KindPostgreSQL:
		return sqlstore.NewPostgres(ctx, d.URI)
	case backend.KindMySQL:
		return sqlstore.NewGenericSQL(ctx, backend.KindMySQL, "mysql", d.URI)
	case backend.KindSQLite:
		return sqlstore.NewGenericSQL(ctx, backend.KindSQLite, "sqlite", d.Database)
	case backend.KindMongoDB:
		return mongostore.New(ctx, d.URI, d.Database)
	case backend.KindRedis:
		return redisqueue.New(d.URI)
	default:
		return nil, fmt.Errorf("kind %q has no data store realization", d.Kind)
	}
}

// NewBroker builds the eventbroker.Broker realization for d.Kind. Kinds
// with no dedicated broker (SQLite, MySQL, MongoDB) share the in-process
// broker: single-instance deployments don't need cross-process delivery,
// and spec.md's event-broker contract only requires at-least-one-consumer
// delivery, not a specific transport.
func NewBroker(ctx context.Context, d *backend.Descriptor, nowUnixMillis func() int64) (eventbroker.Broker, error) {
	switch d.Kind {
	case backend.KindPostgreSQL:
		pool, err := pgxpool.New(ctx, d.URI)
		if err != nil {
			return nil, fmt.Errorf("postgres event broker pool: %w", err)
		}
		return eventbroker.NewPostgres(pool), nil
	case backend.KindRedis:
		return eventbroker.NewRedis(d.URI)
	case backend.KindMQTT:
		return eventbroker.NewMQTT(d.URI, "flowerpower-"+string(d.Kind))
	default:
		return eventbroker.NewInProcess(nowUnixMillis), nil
	}
}

// pinger is satisfied by any store realization that exposes a liveness
// check; health.Checker depends on this narrower interface rather than
// the full datastore.Store contract.
type pinger interface {
	Ping(ctx context.Context) error
}

// alwaysUpPinger backs the health checker for realizations without a Ping
// method of their own, which is currently every datastore realization; it
// reports up without probing any connection.
type alwaysUpPinger struct{}

func (alwaysUpPinger) Ping(context.Context) error { return nil }

// NewPinger adapts store into a health.Pinger, falling back to an
// always-up check when the realization doesn't expose one of its own.
func NewPinger(store datastore.Store) pinger {
	if p, ok := store.(pinger); ok {
		return p
	}
	return alwaysUpPinger{}
}
