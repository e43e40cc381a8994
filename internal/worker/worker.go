// Package worker implements the Worker Process Supervisor (spec.md's C6):
// it claims due jobs from a datastore.Store, dispatches them through a
// functionregistry.Registry, and reports completion/failure back to the
// store and event broker. Shape grounded on
// ErlanBelekov/dist-job-scheduler's internal/scheduler/{worker,reaper,
// dispatcher,executor}.go, generalized from HTTP-only webhook execution to
// arbitrary registered functions.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/legout/flowerpower/internal/datastore"
	"github.com/legout/flowerpower/internal/domain"
	"github.com/legout/flowerpower/internal/eventbroker"
	"github.com/legout/flowerpower/internal/functionregistry"
)

// Pool runs one polling loop claiming up to Concurrency jobs per tick and
// executing each on its own goroutine, mirroring the teacher's
// Worker.processBatch/runJob shape.
type Pool struct {
	ID           string
	store        datastore.Store
	broker       eventbroker.Broker
	registry     *functionregistry.Registry
	logger       *slog.Logger
	queueNames   []string
	pollInterval time.Duration
	concurrency  int

	stop chan struct{}
	done chan struct{}
}

// NewPool builds a worker pool. id defaults to "<hostname>-<pid>" when
// empty, following the teacher's Worker.id convention.
func NewPool(id string, store datastore.Store, broker eventbroker.Broker, registry *functionregistry.Registry, logger *slog.Logger, queueNames []string, pollInterval time.Duration, concurrency int) *Pool {
	if id == "" {
		hostname, _ := os.Hostname()
		id = fmt.Sprintf("%s-%d", hostname, os.Getpid())
	}
	return &Pool{
		ID:           id,
		store:        store,
		broker:       broker,
		registry:     registry,
		logger:       logger.With("component", "worker", "worker_id", id),
		queueNames:   queueNames,
		pollInterval: pollInterval,
		concurrency:  concurrency,
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Start runs the poll loop until ctx is canceled or Stop is called. It
// blocks the caller; run it in its own goroutine.
func (p *Pool) Start(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	p.logger.Info("worker started", "concurrency", p.concurrency, "queues", p.queueNames)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("worker shut down (context canceled)")
			return
		case <-p.stop:
			p.logger.Info("worker shut down")
			return
		case <-ticker.C:
			p.processBatch(ctx)
		}
	}
}

// Stop requests a cooperative shutdown and waits up to 10s for the current
// batch to drain before returning, per spec.md's worker shutdown
// semantics.
func (p *Pool) Stop() {
	close(p.stop)
	select {
	case <-p.done:
	case <-time.After(10 * time.Second):
		p.logger.Warn("worker did not drain within 10s, abandoning")
	}
}

func (p *Pool) processBatch(ctx context.Context) {
	jobs, err := p.store.AcquireNext(ctx, p.queueNames, p.ID, p.concurrency)
	if err != nil {
		p.logger.Error("claim error", "error", err)
		return
	}
	if len(jobs) == 0 {
		return
	}

	p.logger.Info("claimed jobs", "count", len(jobs))

	var wg sync.WaitGroup
	for _, job := range jobs {
		wg.Add(1)
		go func(j *domain.Job) {
			defer wg.Done()
			p.runJob(ctx, j)
		}(job)
	}
	wg.Wait()
}

func (p *Pool) runJob(ctx context.Context, job *domain.Job) {
	heartbeatCtx, cancelHeartbeat := context.WithCancel(ctx)
	defer cancelHeartbeat()
	go p.heartbeat(heartbeatCtx, job.ID)

	p.logger.Info("executing job", "job_id", job.ID, "function", job.FunctionRef.String())
	p.publish(ctx, eventbroker.EventJobStarted, job.ID)

	started := time.Now()
	result, err := p.registry.Invoke(ctx, job.FunctionRef, job.PositionalArgs, job.KeywordArgs)
	duration := time.Since(started)

	attempt := &domain.JobAttempt{
		JobID:      job.ID,
		AttemptNum: job.RetryCount + 1,
		WorkerID:   p.ID,
		StartedAt:  started,
	}
	completedAt := time.Now()
	attempt.CompletedAt = &completedAt
	durMS := duration.Milliseconds()
	attempt.DurationMS = &durMS

	if err == nil {
		if putErr := p.store.CompleteJob(ctx, job.ID, result); putErr != nil {
			p.logger.Error("complete job failed", "job_id", job.ID, "error", putErr)
		}
		if putErr := p.store.PutAttempt(ctx, attempt); putErr != nil {
			p.logger.Error("put attempt failed", "job_id", job.ID, "error", putErr)
		}
		p.logger.Info("job completed", "job_id", job.ID, "duration", duration)
		p.publish(ctx, eventbroker.EventJobFinished, job.ID)
		return
	}

	errMsg := err.Error()
	attempt.Error = &errMsg
	if putErr := p.store.PutAttempt(ctx, attempt); putErr != nil {
		p.logger.Error("put attempt failed", "job_id", job.ID, "error", putErr)
	}

	if job.RetryCount < job.Retry.Max {
		retryAt := time.Now().Add(retryDelay(job.Retry.Backoff, job.Retry.Delay, job.RetryCount))
		if failErr := p.store.FailJob(ctx, job.ID, errMsg, &retryAt); failErr != nil {
			p.logger.Error("reschedule job failed", "job_id", job.ID, "error", failErr)
		}
		p.logger.Info("job failed, retrying", "job_id", job.ID, "retry", job.RetryCount+1, "max_retries", job.Retry.Max, "retry_at", retryAt)
		return
	}

	if failErr := p.store.FailJob(ctx, job.ID, errMsg, nil); failErr != nil {
		p.logger.Error("fail job failed", "job_id", job.ID, "error", failErr)
	}
	p.logger.Info("job permanently failed", "job_id", job.ID, "error", errMsg)
	p.publish(ctx, eventbroker.EventJobFailed, job.ID)
}

func (p *Pool) heartbeat(ctx context.Context, jobID string) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.store.Heartbeat(ctx, jobID, p.ID); err != nil {
				p.logger.Warn("heartbeat failed", "job_id", jobID, "error", err)
			}
		}
	}
}

func (p *Pool) publish(ctx context.Context, eventType eventbroker.EventType, entityID string) {
	env := eventbroker.Envelope{EventType: eventType, EntityID: entityID, TimestampMS: time.Now().UnixMilli()}
	if err := p.broker.Publish(ctx, env); err != nil {
		p.logger.Warn("publish event failed", "event_type", eventType, "error", err)
	}
}

// retryDelay mirrors the teacher's retryDelay: exponential backoff capped
// at one hour with +-25% jitter, or a flat linear ramp, seeded off the
// job's configured base delay rather than a hardcoded 30s.
func retryDelay(backoff domain.Backoff, base time.Duration, retryCount int) time.Duration {
	if base <= 0 {
		base = 30 * time.Second
	}
	switch backoff {
	case domain.BackoffExponential:
		delay := time.Duration(float64(base) * math.Pow(2, float64(retryCount)))
		if delay > time.Hour {
			delay = time.Hour
		}
		jitter := time.Duration(rand.Int63n(int64(delay/2+1))) - delay/4
		return delay + jitter
	case domain.BackoffLinear:
		return base * time.Duration(retryCount+1)
	default:
		return base
	}
}
