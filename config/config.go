package config

import (
	"fmt"
	"log/slog"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"

	"github.com/legout/flowerpower/internal/backend"
)

// Config is loaded once at process start and handed to every component
// that needs it; nothing re-reads the environment afterward.
type Config struct {
	Env  string `env:"ENV" envDefault:"local" validate:"required,oneof=local staging production"`
	Port string `env:"PORT" envDefault:"8080" validate:"required"`

	// QueueBackend and SchedulerBackend select the datastore.Store/
	// eventbroker.Broker realization the queue manager sits on top of.
	// A queue-only deployment can run on Redis or memory; the richer
	// scheduler accepts any of the SQL/Mongo/MQTT/Redis/memory kinds
	// (backend.RoleQueueBroker vs backend.RoleSchedulerBroker).
	QueueBackend     string `env:"QUEUE_BACKEND"     envDefault:"memory" validate:"required,oneof=memory redis"`
	SchedulerBackend string `env:"SCHEDULER_BACKEND" envDefault:"memory" validate:"required,oneof=memory redis postgresql mysql sqlite mongodb mqtt"`

	BackendURI      string `env:"BACKEND_URI"`
	BackendHost     string `env:"BACKEND_HOST"`
	BackendPort     int    `env:"BACKEND_PORT"`
	BackendUsername string `env:"BACKEND_USERNAME"`
	BackendPassword string `env:"BACKEND_PASSWORD"`
	BackendDatabase string `env:"BACKEND_DATABASE"`
	BackendSSL      bool   `env:"BACKEND_SSL" envDefault:"false"`

	// Per-kind fallbacks let an operator point at an already-running
	// Postgres/MySQL/Mongo/Redis/MQTT instance without renaming its own
	// connection env vars to the generic BACKEND_* ones above.
	PostgresURL string `env:"DATABASE_URL"`
	MySQLURL    string `env:"MYSQL_URL"`
	MongoURL    string `env:"MONGO_URL"`
	RedisURL    string `env:"REDIS_URL"`
	MQTTURL     string `env:"MQTT_URL"`
	SQLitePath  string `env:"SQLITE_PATH" envDefault:"flowerpower.db"`

	WorkerCount         int `env:"WORKER_COUNT" envDefault:"5" validate:"min=1,max=100"`
	PollIntervalSec     int `env:"POLL_INTERVAL_SEC" envDefault:"1" validate:"min=1,max=60"`
	DispatchIntervalSec int `env:"DISPATCH_INTERVAL_SEC" envDefault:"5" validate:"min=1,max=60"`
	ReapIntervalSec     int `env:"REAP_INTERVAL_SEC" envDefault:"30" validate:"min=1,max=3600"`
	HeartbeatTimeoutSec int `env:"HEARTBEAT_TIMEOUT_SEC" envDefault:"60" validate:"min=1,max=3600"`

	MetricsPort string `env:"METRICS_PORT" envDefault:"9090"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info" validate:"required,oneof=debug info warn error"`

	// ClerkJWKSURL is the JWKS endpoint for RS256 token verification (Clerk).
	// When set, it takes precedence over JWTSecret.
	ClerkJWKSURL string `env:"CLERK_JWKS_URL"`

	// JWTSecret is kept for local dev / migration period.
	JWTSecret     string `env:"JWT_SECRET"`
	ResendAPIKey  string `env:"RESEND_API_KEY"         validate:"required_if=Env production,required_if=Env staging"`
	ResendFrom    string `env:"RESEND_FROM"            validate:"required_if=Env production,required_if=Env staging"`
	MagicLinkBase string `env:"MAGIC_LINK_BASE_URL"    envDefault:"http://localhost:8080"`
}

func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// SlogLevel converts the LOG_LEVEL string to a slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SchedulerDescriptor builds the backend.Descriptor the scheduler-facing
// store/broker should connect to, applying the BACKEND_* overrides first
// and falling back to the kind-specific env vars (DATABASE_URL, MONGO_URL,
// ...) before finally letting backend.New apply its own host/port
// defaults.
func (c *Config) SchedulerDescriptor() (*backend.Descriptor, error) {
	return c.descriptor(backend.Kind(c.SchedulerBackend), backend.RoleSchedulerBroker)
}

// QueueDescriptor builds the backend.Descriptor for the plain job queue.
func (c *Config) QueueDescriptor() (*backend.Descriptor, error) {
	return c.descriptor(backend.Kind(c.QueueBackend), backend.RoleQueueBroker)
}

func (c *Config) descriptor(kind backend.Kind, role backend.Role) (*backend.Descriptor, error) {
	uri := c.BackendURI
	if uri == "" {
		switch kind {
		case backend.KindPostgreSQL:
			uri = c.PostgresURL
		case backend.KindMySQL:
			uri = c.MySQLURL
		case backend.KindMongoDB:
			uri = c.MongoURL
		case backend.KindRedis:
			uri = c.RedisURL
		case backend.KindMQTT:
			uri = c.MQTTURL
		case backend.KindSQLite:
			uri = c.SQLitePath
		}
	}

	opts := backend.Options{
		Kind:     kind,
		URI:      uri,
		Host:     c.BackendHost,
		Port:     c.BackendPort,
		Username: c.BackendUsername,
		Password: c.BackendPassword,
		Database: c.BackendDatabase,
		SSL:      c.BackendSSL,
	}
	if kind == backend.KindSQLite && opts.Database == "" {
		opts.Database = c.SQLitePath
	}

	return backend.New(opts, role)
}
