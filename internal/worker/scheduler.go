package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/legout/flowerpower/internal/datastore"
	"github.com/legout/flowerpower/internal/domain"
	"github.com/legout/flowerpower/internal/eventbroker"
	"github.com/legout/flowerpower/internal/trigger"
)

// Dispatcher claims due schedules and fires a job per occurrence,
// grounded on the teacher's scheduler.Dispatcher, generalized from
// cron-only webhook schedules to the full Trigger variant family (C4).
type Dispatcher struct {
	store    datastore.Store
	broker   eventbroker.Broker
	logger   *slog.Logger
	interval time.Duration

	stop chan struct{}
	done chan struct{}
}

func NewDispatcher(store datastore.Store, broker eventbroker.Broker, logger *slog.Logger, interval time.Duration) *Dispatcher {
	return &Dispatcher{
		store:    store,
		broker:   broker,
		logger:   logger.With("component", "dispatcher"),
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (d *Dispatcher) Start(ctx context.Context) {
	defer close(d.done)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.logger.Info("dispatcher started", "interval", d.interval)

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher shut down (context canceled)")
			return
		case <-d.stop:
			d.logger.Info("dispatcher shut down")
			return
		case <-ticker.C:
			d.dispatch(ctx)
		}
	}
}

func (d *Dispatcher) Stop() {
	close(d.stop)
	<-d.done
}

func (d *Dispatcher) dispatch(ctx context.Context) {
	now := time.Now().UTC()
	due, err := d.store.ClaimDueSchedules(ctx, now, 100)
	if err != nil {
		d.logger.Error("claim due schedules", "error", err)
		return
	}
	if len(due) == 0 {
		return
	}

	d.logger.Info("dispatching due schedules", "count", len(due))
	for _, sched := range due {
		d.fire(ctx, sched, now)
	}
}

// fire enqueues one job for the schedule's current occurrence and advances
// the schedule to its next fire time, applying Coalesce when more than one
// occurrence was missed since the last tick.
func (d *Dispatcher) fire(ctx context.Context, sched *domain.Schedule, now time.Time) {
	computer, err := trigger.New(sched.Trigger)
	if err != nil {
		d.logger.Error("invalid trigger in schedule, skipping", "schedule_id", sched.ID, "error", err)
		return
	}

	firedAt := sched.NextFireTime

	job := &domain.Job{
		ID:                uuid.NewString(),
		UserID:            sched.UserID,
		FunctionRef:       sched.FunctionRef,
		PositionalArgs:    sched.PositionalArgs,
		KeywordArgs:       sched.KeywordArgs,
		QueueName:         sched.QueueName,
		ScheduleID:        &sched.ID,
		ScheduledFireTime: &firedAt,
		Status:            domain.StatusQueued,
		EnqueueTimestamp:  now,
		Retry:             domain.RetryPolicy{Max: sched.MaxRetries, Backoff: sched.Backoff},
		ResultTTL:         sched.ResultTTL,
	}
	if err := d.store.PutJob(ctx, job); err != nil {
		d.logger.Error("enqueue scheduled job failed", "schedule_id", sched.ID, "error", err)
		return
	}
	d.publish(ctx, eventbroker.EventJobAdded, job.ID)

	next, ok := computer.Next(now)
	if !ok {
		if err := d.store.DeleteSchedule(ctx, sched.ID); err != nil {
			d.logger.Error("retire exhausted schedule failed", "schedule_id", sched.ID, "error", err)
		}
		return
	}

	// Coalesce governs missed-fire catch-up: "all" fires every missed
	// occurrence (handled one per dispatch tick naturally since
	// ClaimDueSchedules re-surfaces the schedule as still due), while
	// "latest"/"earliest" skip straight past any occurrences missed by a
	// misfire grace window, since only one job was fired above regardless.
	if sched.Coalesce != domain.CoalesceAll {
		for next.Before(now) {
			n, ok := computer.Next(next)
			if !ok {
				break
			}
			next = n
		}
	}

	if err := d.store.AdvanceSchedule(ctx, sched.ID, next, firedAt); err != nil {
		d.logger.Error("advance schedule failed", "schedule_id", sched.ID, "error", err)
	}
}

func (d *Dispatcher) publish(ctx context.Context, eventType eventbroker.EventType, entityID string) {
	env := eventbroker.Envelope{EventType: eventType, EntityID: entityID, TimestampMS: time.Now().UnixMilli()}
	if err := d.broker.Publish(ctx, env); err != nil {
		d.logger.Warn("publish event failed", "event_type", eventType, "error", err)
	}
}
