// Package backend normalizes backend-type identity — default
// host/port/database, URI scheme and TLS placement, and role-based
// validation — for every broker the Queue Manager can sit on top of.
// It is a direct Go port of the original source's
// flowerpower/backend/base.py BaseBackendType/BaseBackend, grounded in
// the same idiom ErlanBelekov/dist-job-scheduler uses for its own
// postgres.NewPool: a small constructor that validates then connects.
package backend

import "fmt"

// Kind enumerates the backend identities from spec.md §3.
type Kind string

const (
	KindMemory     Kind = "memory"
	KindSQLite     Kind = "sqlite"
	KindPostgreSQL Kind = "postgresql"
	KindMySQL      Kind = "mysql"
	KindMongoDB    Kind = "mongodb"
	KindRedis      Kind = "redis"
	KindMQTT       Kind = "mqtt"
	KindNATSKV     Kind = "nats-kv"
)

// IsSQL reports whether the kind is relational (shares the SQL data store
// realization, just with a different dialect).
func (k Kind) IsSQL() bool {
	switch k {
	case KindPostgreSQL, KindMySQL, KindSQLite:
		return true
	}
	return false
}

// IsKeyValue reports whether the kind is a key-value store.
func (k Kind) IsKeyValue() bool {
	return k == KindRedis || k == KindNATSKV
}

// IsMessageBus reports whether the kind is a pub/sub transport rather than
// a store.
func (k Kind) IsMessageBus() bool {
	return k == KindMQTT
}

// IsInMemory reports whether the kind keeps no state outside the process.
func (k Kind) IsInMemory() bool {
	return k == KindMemory
}

// DefaultHost returns the conventional local-dev host for the kind.
func (k Kind) DefaultHost() string {
	switch k {
	case KindSQLite, KindMemory:
		return ""
	default:
		return "localhost"
	}
}

// DefaultPort returns the conventional port for the kind, or 0 when the
// kind has none (sqlite, memory).
func (k Kind) DefaultPort() int {
	switch k {
	case KindPostgreSQL:
		return 5432
	case KindMySQL:
		return 3306
	case KindMongoDB:
		return 27017
	case KindRedis:
		return 6379
	case KindMQTT:
		return 1883
	case KindNATSKV:
		return 4222
	default:
		return 0
	}
}

// DefaultDatabase returns the conventional default database/namespace.
func (k Kind) DefaultDatabase() string {
	switch k {
	case KindMySQL:
		return "mysql"
	case KindPostgreSQL:
		return "postgres"
	case KindMongoDB:
		return "admin"
	case KindRedis:
		return "0"
	case KindMQTT:
		return "mqtt"
	case KindNATSKV:
		return "default"
	default:
		return ""
	}
}

// uriScheme returns the base URI scheme for the kind, before any SSL
// variant substitution performed by BuildURI.
func (k Kind) uriScheme() string {
	switch k {
	case KindSQLite:
		return "sqlite://"
	case KindMySQL:
		return "mysql://"
	case KindPostgreSQL:
		return "postgresql://"
	case KindMongoDB:
		return "mongodb://"
	case KindMQTT:
		return "mqtt://"
	case KindRedis:
		return "redis://"
	case KindNATSKV:
		return "nats://"
	case KindMemory:
		return "memory://"
	default:
		return ""
	}
}

// Role is a consumer-declared set of kinds it accepts, used to validate a
// Descriptor against its intended use (spec.md §4.1). Queue-oriented
// brokers accept only {redis, memory}; scheduler-oriented brokers accept
// {postgresql, mysql, sqlite, mongodb, mqtt, redis, memory}.
type Role struct {
	Name     string
	Accepted map[Kind]bool
}

func NewRole(name string, kinds ...Kind) Role {
	accepted := make(map[Kind]bool, len(kinds))
	for _, k := range kinds {
		accepted[k] = true
	}
	return Role{Name: name, Accepted: accepted}
}

var (
	// RoleQueueBroker is the redis-queue realization's accepted set.
	RoleQueueBroker = NewRole("queue-broker", KindRedis, KindMemory)
	// RoleSchedulerBroker is the richer scheduler's accepted set.
	RoleSchedulerBroker = NewRole("scheduler-broker",
		KindPostgreSQL, KindMySQL, KindSQLite, KindMongoDB, KindMQTT, KindRedis, KindMemory)
)

// Validate returns InvalidBackendKind-wrapped error if kind isn't accepted
// by role.
func (r Role) Validate(k Kind) error {
	if !r.Accepted[k] {
		return fmt.Errorf("%w: %q is not a valid backend kind for role %q", ErrInvalidBackendKind, k, r.Name)
	}
	return nil
}
