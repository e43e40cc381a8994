// Package queuemanager implements the Queue Manager façade (spec.md's
// C5) — the single entry point applications use to add jobs and
// schedules, introspect their state, and control workers, fronting
// whichever datastore.Store and eventbroker.Broker realization the
// configured backends resolve to. Its shape is grounded on
// ErlanBelekov/dist-job-scheduler's usecase layer (the thin
// domain-orchestration layer sitting between HTTP handlers and
// repositories), generalized from webhook-specific usecases to the
// broader function-dispatch domain.
package queuemanager

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/legout/flowerpower/internal/datastore"
	"github.com/legout/flowerpower/internal/domain"
	"github.com/legout/flowerpower/internal/eventbroker"
	"github.com/legout/flowerpower/internal/functionregistry"
	"github.com/legout/flowerpower/internal/worker"
)

// UnsupportedOperation describes a capability a caller asked for that the
// configured backend lacks. No Manager method returns it: every operation
// is passed to the store, and the store's own error surfaces unchanged.
type UnsupportedOperation struct {
	Operation string
	Backend   string
}

func (e *UnsupportedOperation) Error() string {
	return fmt.Sprintf("operation %q is not supported by backend %q", e.Operation, e.Backend)
}

// Manager is the Queue Manager. It depends on datastore.Store and
// eventbroker.Broker interfaces, not concrete realizations — the same
// "usecase depends on interface, not implementation" shape the teacher's
// usecase package follows.
type Manager struct {
	store  datastore.Store
	broker eventbroker.Broker
	logger *slog.Logger

	defaultQueues []string
	retryBackoffs []time.Duration

	supervisor *worker.Supervisor
}

func New(store datastore.Store, broker eventbroker.Broker, registry *functionregistry.Registry, logger *slog.Logger, defaultQueues []string) *Manager {
	logger = logger.With("component", "queue_manager")
	return &Manager{
		store:         store,
		broker:        broker,
		logger:        logger,
		defaultQueues: defaultQueues,
		retryBackoffs: []time.Duration{100 * time.Millisecond, 400 * time.Millisecond, 1600 * time.Millisecond},
		supervisor:    worker.NewSupervisor(store, broker, registry, logger),
	}
}

// withRetry retries op on a transient backend-unavailable condition with
// the backoff schedule spec.md's Resilience section specifies
// (100ms/400ms/1600ms), mirroring the retry cadence the teacher's
// Dispatcher ticker loop tolerates via its own periodic retry.
func (m *Manager) withRetry(ctx context.Context, op func() error) error {
	var err error
	for attempt := 0; attempt <= len(m.retryBackoffs); attempt++ {
		err = op()
		if err == nil {
			return nil
		}
		if !isTransient(err) || attempt == len(m.retryBackoffs) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.retryBackoffs[attempt]):
		}
	}
	return err
}

// temporary is satisfied by drivers (pgx, go-redis, mongo-driver) that tag
// connection-level failures as retryable.
type temporary interface {
	Temporary() bool
}

func isTransient(err error) bool {
	t, ok := err.(temporary)
	return ok && t.Temporary()
}

// AddJob enqueues a new job for immediate or deferred execution and
// publishes a job_added event.
func (m *Manager) AddJob(ctx context.Context, job *domain.Job) (*domain.Job, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.QueueName == "" {
		job.QueueName = m.randomQueue()
	}
	job.EnqueueTimestamp = time.Now().UTC()
	if job.Status == "" {
		if job.ScheduledFireTime != nil && job.ScheduledFireTime.After(job.EnqueueTimestamp) {
			job.Status = domain.StatusDeferred
		} else {
			job.Status = domain.StatusQueued
		}
	}

	if err := m.withRetry(ctx, func() error { return m.store.PutJob(ctx, job) }); err != nil {
		return nil, fmt.Errorf("add job: %w", err)
	}

	m.publish(ctx, eventbroker.EventJobAdded, job.ID, job)
	return job, nil
}

// RunJob adds a job and blocks until it reaches a terminal state or ctx
// expires, for callers that want a synchronous call/response shape over
// the otherwise fire-and-forget queue.
func (m *Manager) RunJob(ctx context.Context, job *domain.Job) (*domain.Job, error) {
	job, err := m.AddJob(ctx, job)
	if err != nil {
		return nil, err
	}

	events, err := m.broker.Subscribe(ctx, eventbroker.EventJobFinished, eventbroker.EventJobFailed)
	if err != nil {
		return nil, fmt.Errorf("run job: subscribe: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", domain.ErrJobTimedOut, ctx.Err())
		case env, ok := <-events:
			if !ok {
				return nil, domain.ErrJobTimedOut
			}
			if env.EntityID != job.ID {
				continue
			}
			return m.GetJob(ctx, job.ID)
		}
	}
}

func (m *Manager) randomQueue() string {
	if len(m.defaultQueues) == 0 {
		return "default"
	}
	return m.defaultQueues[rand.Intn(len(m.defaultQueues))]
}

func (m *Manager) publish(ctx context.Context, eventType eventbroker.EventType, entityID string, payload any) {
	env := eventbroker.Envelope{EventType: eventType, EntityID: entityID, TimestampMS: time.Now().UnixMilli()}
	if err := m.broker.Publish(ctx, env); err != nil {
		m.logger.WarnContext(ctx, "publish event failed", "event_type", eventType, "entity_id", entityID, "error", err)
	}
}
