package backend

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Executor selects how a job's user function runs once a worker has
// acquired it (spec.md §4.1, §5).
type Executor string

const (
	ExecutorAsync       Executor = "async"
	ExecutorThreadPool  Executor = "thread-pool"
	ExecutorProcessPool Executor = "process-pool"
)

// Options carries the constructor inputs for a Descriptor. Host/Port/
// Database are optional: when absent, New fills them from Kind's defaults
// before BuildURI runs. New reads no environment variables; per-kind
// connection env vars are resolved by config.Config before it calls New.
type Options struct {
	Kind Kind
	URI  string

	Host     string
	Port     int
	Username string
	Password string
	Database string
	SSL      bool

	SchemaOrQueueList   []string
	CleanupInterval     time.Duration
	MaxConcurrentJobs   int
	DefaultJobExecutor  Executor
}

// Descriptor is the immutable backend identity from spec.md §4.1. Two
// Descriptors are equal (same backend) iff every field except tuning
// knobs (CleanupInterval, MaxConcurrentJobs) match.
type Descriptor struct {
	Kind     Kind
	URI      string
	Host     string
	Port     int
	Username string
	Password string
	Database string
	SSL      bool

	SchemaOrQueueList  []string
	CleanupInterval    time.Duration
	MaxConcurrentJobs  int
	DefaultJobExecutor Executor
}

// New validates opts.Kind against role and builds the immutable
// Descriptor, computing URI when not supplied explicitly.
func New(opts Options, role Role) (*Descriptor, error) {
	if err := role.Validate(opts.Kind); err != nil {
		return nil, err
	}

	host := opts.Host
	if host == "" {
		host = opts.Kind.DefaultHost()
	}
	port := opts.Port
	if port == 0 {
		port = opts.Kind.DefaultPort()
	}
	database := opts.Database
	if database == "" {
		database = opts.Kind.DefaultDatabase()
	}

	uri := opts.URI
	if uri == "" {
		uri = BuildURI(opts.Kind, host, port, opts.Username, opts.Password, database, opts.SSL)
	}

	executor := opts.DefaultJobExecutor
	if executor == "" {
		executor = ExecutorThreadPool
	}

	d := &Descriptor{
		Kind:               opts.Kind,
		URI:                uri,
		Host:               host,
		Port:               port,
		Username:           opts.Username,
		Password:           opts.Password,
		Database:           database,
		SSL:                opts.SSL,
		SchemaOrQueueList:  opts.SchemaOrQueueList,
		CleanupInterval:    opts.CleanupInterval,
		MaxConcurrentJobs:  opts.MaxConcurrentJobs,
		DefaultJobExecutor: executor,
	}
	return d, nil
}

// BuildURI implements the pure function spec.md §3/§4.1 describes:
//
//	scheme(kind, ssl) :// [percent(user)[:percent(pass)]@] host:port [/database] [?tls-parameters]
//
// with per-kind escaping, scheme switching, and TLS parameter placement.
func BuildURI(kind Kind, host string, port int, username, password, database string, ssl bool) string {
	scheme := scheme(kind, ssl)

	if kind == KindMemory {
		return "memory://"
	}

	var authPart string
	switch {
	case username != "" && password != "":
		authPart = fmt.Sprintf("%s:%s@", url.QueryEscape(username), url.QueryEscape(password))
	case username != "":
		authPart = fmt.Sprintf("%s@", url.QueryEscape(username))
	case password != "":
		authPart = fmt.Sprintf(":%s@", url.QueryEscape(password))
	}

	if kind == KindSQLite {
		return strings.TrimSuffix(scheme+database, "None")
	}

	hostport := host
	if port != 0 {
		hostport = fmt.Sprintf("%s:%d", host, adjustedPort(kind, port, ssl))
	}

	var base string
	switch {
	case kind.IsSQL(), kind == KindMongoDB:
		base = strings.TrimRight(fmt.Sprintf("%s%s%s/%s", scheme, authPart, hostport, database), "/")
	case kind == KindNATSKV, kind == KindMQTT:
		base = fmt.Sprintf("%s%s%s", scheme, authPart, hostport)
	case kind == KindRedis:
		base = fmt.Sprintf("%s%s%s/%s", scheme, authPart, hostport, database)
	default:
		base = fmt.Sprintf("%s%s%s", scheme, authPart, hostport)
	}

	return appendTLSParams(kind, base, ssl)
}

// scheme returns the URI scheme, switching to the TLS variant for kinds
// that signal SSL in the scheme rather than with query parameters.
func scheme(kind Kind, ssl bool) string {
	switch kind {
	case KindRedis:
		if ssl {
			return "rediss://"
		}
		return "redis://"
	case KindMQTT:
		if ssl {
			return "mqtts://"
		}
		return "mqtt://"
	case KindNATSKV:
		if ssl {
			return "nats+tls://"
		}
		return "nats://"
	default:
		return kind.uriScheme()
	}
}

// adjustedPort implements the MQTT 1883->8883 upgrade when SSL is
// requested and no explicit non-default port was given.
func adjustedPort(kind Kind, port int, ssl bool) int {
	if kind == KindMQTT && ssl && port == 1883 {
		return 8883
	}
	return port
}

// appendTLSParams places TLS query parameters per kind (spec.md §4.1):
// PostgreSQL `?ssl=allow`, MySQL `?ssl=true`, MongoDB
// `?ssl=true&tlsAllowInvalidCertificates=true`. SQLite, memory, Redis,
// MQTT and NATS-KV signal TLS in the scheme instead and take no query
// parameters.
func appendTLSParams(kind Kind, base string, ssl bool) string {
	if !ssl {
		return base
	}
	switch kind {
	case KindPostgreSQL:
		return joinQuery(base, "ssl=allow")
	case KindMySQL:
		return joinQuery(base, "ssl=true")
	case KindMongoDB:
		return joinQuery(base, "ssl=true&tlsAllowInvalidCertificates=true")
	default:
		return base
	}
}

func joinQuery(base, params string) string {
	if strings.Contains(base, "?") {
		return base + "&" + params
	}
	return base + "?" + params
}
