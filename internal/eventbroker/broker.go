// Package eventbroker publishes and subscribes to the lifecycle events a
// Queue Manager and its workers emit (job added/started/finished/failed,
// schedule added/removed) — spec.md's Event Broker (C3). Each realization
// is grounded on the same pair of libraries the corpus already pulls in
// for its storage layer: Postgres LISTEN/NOTIFY over jackc/pgx/v5, Redis
// pub/sub over redis/go-redis/v9, MQTT over eclipse/paho.mqtt.golang, and
// an in-process fan-out channel broker for the memory backend.
package eventbroker

import (
	"context"
	"encoding/json"
	"time"
)

// EventType enumerates the lifecycle events spec.md §5 describes.
type EventType string

const (
	EventJobAdded        EventType = "job_added"
	EventJobStarted      EventType = "job_started"
	EventJobFinished     EventType = "job_finished"
	EventJobFailed       EventType = "job_failed"
	EventScheduleAdded   EventType = "schedule_added"
	EventScheduleRemoved EventType = "schedule_removed"
)

// Envelope is the wire format every realization publishes and decodes
// (spec.md §5): a typed event tagged with the affected entity and when it
// occurred, carrying an opaque JSON payload specific to EventType.
type Envelope struct {
	EventType   EventType       `json:"eventType"`
	EntityID    string          `json:"entityId"`
	TimestampMS int64           `json:"timestampMs"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// Broker is the Event Broker contract. Subscribe delivers envelopes on the
// returned channel until ctx is canceled or Close is called; the channel
// is closed when delivery stops.
type Broker interface {
	Publish(ctx context.Context, env Envelope) error
	Subscribe(ctx context.Context, types ...EventType) (<-chan Envelope, error)
	Close() error
}

func newEnvelope(eventType EventType, entityID string, payload any, now time.Time) (Envelope, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, err
		}
		raw = b
	}
	return Envelope{EventType: eventType, EntityID: entityID, TimestampMS: now.UnixMilli(), Payload: raw}, nil
}

func matches(types []EventType, e EventType) bool {
	if len(types) == 0 {
		return true
	}
	for _, t := range types {
		if t == e {
			return true
		}
	}
	return false
}
