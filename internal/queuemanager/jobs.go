package queuemanager

import (
	"context"
	"fmt"
	"time"

	"github.com/legout/flowerpower/internal/datastore"
	"github.com/legout/flowerpower/internal/domain"
	"github.com/legout/flowerpower/internal/eventbroker"
)

func (m *Manager) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	job, err := m.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	return m.evictIfExpired(ctx, job)
}

func (m *Manager) GetJobs(ctx context.Context, input datastore.ListJobsInput) ([]*domain.Job, error) {
	return m.store.ListJobs(ctx, input)
}

func isTerminal(status domain.Status) bool {
	switch status {
	case domain.StatusFinished, domain.StatusFailed, domain.StatusCanceled:
		return true
	default:
		return false
	}
}

// evictIfExpired implements spec.md invariant #8 (result_ttl) and the
// job_ttl/result_ttl precedence decision: job_ttl bounds the job's entire
// lifetime from enqueue and is checked first; result_ttl only bounds how
// long a terminal job's result stays readable after completion. Either
// one tripping purges the job and surfaces ErrJobNotFound, matching
// get_job_result's documented post-expiry behavior.
func (m *Manager) evictIfExpired(ctx context.Context, job *domain.Job) (*domain.Job, error) {
	now := time.Now().UTC()

	if job.JobTTL > 0 && now.After(job.EnqueueTimestamp.Add(job.JobTTL)) {
		_ = m.store.DeleteJob(ctx, job.ID)
		return nil, domain.ErrJobNotFound
	}

	if isTerminal(job.Status) && job.ResultTTL > 0 && job.CompletedAt != nil &&
		now.After(job.CompletedAt.Add(job.ResultTTL)) {
		_ = m.store.DeleteJob(ctx, job.ID)
		return nil, domain.ErrJobNotFound
	}

	return job, nil
}

// GetJobResult returns the job's result once it reaches a terminal state.
// wait=true blocks until that happens, bounded by the job's own job_ttl
// (spec.md §9's suspension-point deadline rule), surfacing
// ErrJobTimedOut on expiry. wait=false returns (nil, nil) immediately for
// a job still in flight. delete_after=true purges the job once its
// (possibly awaited) terminal result has been read.
func (m *Manager) GetJobResult(ctx context.Context, id string, wait, deleteAfter bool) (*domain.Job, error) {
	job, err := m.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	job, err = m.evictIfExpired(ctx, job)
	if err != nil {
		return nil, err
	}

	if !isTerminal(job.Status) {
		if !wait {
			return nil, nil
		}
		job, err = m.waitForTerminal(ctx, job)
		if err != nil {
			return nil, err
		}
	}

	if deleteAfter {
		if err := m.store.DeleteJob(ctx, id); err != nil {
			return nil, fmt.Errorf("delete job %s after read: %w", id, err)
		}
	}
	return job, nil
}

// waitForTerminal blocks on the same event-broker subscription RunJob
// uses, and re-reads the job every 50ms, until id reaches a terminal
// state, bounded by the job's job_ttl when it has one.
func (m *Manager) waitForTerminal(ctx context.Context, job *domain.Job) (*domain.Job, error) {
	waitCtx := ctx
	if job.JobTTL > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, job.JobTTL)
		defer cancel()
	}

	events, err := m.broker.Subscribe(waitCtx, eventbroker.EventJobFinished, eventbroker.EventJobFailed)
	if err != nil {
		return nil, fmt.Errorf("get job result: subscribe: %w", err)
	}

	// The job may have finished between our initial GetJob and the
	// subscription taking effect; re-check before blocking on it.
	if current, err := m.store.GetJob(ctx, job.ID); err == nil && isTerminal(current.Status) {
		return current, nil
	}

	// Stores that change state without publishing (e.g. memory) are
	// covered by re-reading the job periodically.
	poll := time.NewTicker(50 * time.Millisecond)
	defer poll.Stop()

	for {
		select {
		case <-waitCtx.Done():
			return nil, fmt.Errorf("%w: %v", domain.ErrJobTimedOut, waitCtx.Err())
		case <-poll.C:
			if current, err := m.store.GetJob(ctx, job.ID); err == nil && isTerminal(current.Status) {
				return current, nil
			}
		case env, ok := <-events:
			if !ok {
				return nil, domain.ErrJobTimedOut
			}
			if env.EntityID != job.ID {
				continue
			}
			return m.store.GetJob(ctx, job.ID)
		}
	}
}

func (m *Manager) CancelJob(ctx context.Context, id string) error {
	if err := m.store.CancelJob(ctx, id); err != nil {
		return fmt.Errorf("cancel job %s: %w", id, err)
	}
	m.publish(ctx, eventbroker.EventJobFailed, id, nil)
	return nil
}

// CancelAllJobs cancels every cancellable job for userID, tolerating
// individual ErrJobNotCancellable failures rather than aborting the batch.
func (m *Manager) CancelAllJobs(ctx context.Context, userID string) (int, error) {
	jobs, err := m.store.ListJobs(ctx, datastore.ListJobsInput{UserID: userID})
	if err != nil {
		return 0, fmt.Errorf("list jobs: %w", err)
	}
	n := 0
	for _, j := range jobs {
		if err := m.store.CancelJob(ctx, j.ID); err == nil {
			n++
		}
	}
	return n, nil
}

func (m *Manager) DeleteJob(ctx context.Context, id string) error {
	if err := m.store.DeleteJob(ctx, id); err != nil {
		return fmt.Errorf("delete job %s: %w", id, err)
	}
	return nil
}

func (m *Manager) DeleteAllJobs(ctx context.Context, userID string) (int, error) {
	n, err := m.store.DeleteJobsByStatus(ctx, userID, domain.Status(""))
	if err != nil {
		return 0, fmt.Errorf("delete all jobs: %w", err)
	}
	return n, nil
}

func (m *Manager) ListAttempts(ctx context.Context, jobID string) ([]*domain.JobAttempt, error) {
	return m.store.ListAttempts(ctx, jobID)
}

// ScheduleResults applies a domain.ResultSelector over the jobs a
// schedule produced, per spec.md §4.5 schedule_results semantics.
func (m *Manager) ScheduleResults(ctx context.Context, scheduleID string, selector domain.ResultSelector) ([]*domain.Job, error) {
	jobs, err := m.store.ListJobs(ctx, datastore.ListJobsInput{ScheduleID: &scheduleID})
	if err != nil {
		return nil, fmt.Errorf("list schedule jobs: %w", err)
	}

	switch {
	case selector.Token == "latest" && len(jobs) > 0:
		return jobs[:1], nil
	case selector.Token == "earliest" && len(jobs) > 0:
		return jobs[len(jobs)-1:], nil
	case selector.Token == "all" || selector.Token == "":
		return jobs, nil
	case selector.Index != nil:
		if *selector.Index < 0 || *selector.Index >= len(jobs) {
			return nil, fmt.Errorf("schedule result index %d out of range", *selector.Index)
		}
		return jobs[*selector.Index : *selector.Index+1], nil
	case len(selector.Indices) > 0:
		out := make([]*domain.Job, 0, len(selector.Indices))
		for _, i := range selector.Indices {
			if i < 0 || i >= len(jobs) {
				continue
			}
			out = append(out, jobs[i])
		}
		return out, nil
	case selector.Start != nil || selector.End != nil:
		start, end := 0, len(jobs)
		if selector.Start != nil {
			start = *selector.Start
		}
		if selector.End != nil {
			end = *selector.End
		}
		if start < 0 {
			start = 0
		}
		if end > len(jobs) {
			end = len(jobs)
		}
		if start > end {
			return nil, nil
		}
		return jobs[start:end], nil
	default:
		return jobs, nil
	}
}
