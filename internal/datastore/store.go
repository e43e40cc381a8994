// Package datastore defines the Data Store contract (spec.md's C2) that
// every backend realization (memory, sqlstore, mongostore, redisqueue)
// must satisfy, and the shared errors/types its realizations return.
package datastore

import (
	"context"
	"time"

	"github.com/legout/flowerpower/internal/domain"
)

// ListJobsInput is the cursor-paginated job listing filter, adapted from
// ErlanBelekov/dist-job-scheduler's repository.ListJobsInput.
type ListJobsInput struct {
	UserID      string
	QueueName   string
	Status      domain.Status
	ScheduleID  *string
	CursorTime  *time.Time
	CursorID    string
	Limit       int
}

// ListSchedulesInput mirrors ListJobsInput for schedules.
type ListSchedulesInput struct {
	UserID     string
	CursorID   string
	Limit      int
}

// Store is the Data Store contract spec.md §4.2 describes: job and
// schedule persistence plus the atomic operations a Queue Manager needs
// (AcquireNext for worker claiming, ClaimDueSchedules for the scheduler
// loop). Every method is safe for concurrent use; realizations that sit
// atop a transactional backend use it to make the compound operations
// atomic (FOR UPDATE SKIP LOCKED, findAndModify, Lua scripts).
type Store interface {
	// Jobs
	PutJob(ctx context.Context, job *domain.Job) error
	GetJob(ctx context.Context, id string) (*domain.Job, error)
	ListJobs(ctx context.Context, input ListJobsInput) ([]*domain.Job, error)
	AcquireNext(ctx context.Context, queueNames []string, workerID string, limit int) ([]*domain.Job, error)
	Heartbeat(ctx context.Context, jobID, workerID string) error
	CompleteJob(ctx context.Context, jobID string, result any) error
	FailJob(ctx context.Context, jobID string, reason string, retryAt *time.Time) error
	CancelJob(ctx context.Context, jobID string) error
	DeleteJob(ctx context.Context, jobID string) error
	DeleteJobsByStatus(ctx context.Context, userID string, status domain.Status) (int, error)
	RescueStaleJobs(ctx context.Context, staleCutoff time.Time, limit int) (int, error)

	PutAttempt(ctx context.Context, attempt *domain.JobAttempt) error
	ListAttempts(ctx context.Context, jobID string) ([]*domain.JobAttempt, error)

	// Schedules
	PutSchedule(ctx context.Context, schedule *domain.Schedule) error
	GetSchedule(ctx context.Context, id string) (*domain.Schedule, error)
	ListSchedules(ctx context.Context, input ListSchedulesInput) ([]*domain.Schedule, error)
	DeleteSchedule(ctx context.Context, id string) error
	PauseSchedule(ctx context.Context, id string) error
	ResumeSchedule(ctx context.Context, id string) error
	ClaimDueSchedules(ctx context.Context, before time.Time, limit int) ([]*domain.Schedule, error)
	AdvanceSchedule(ctx context.Context, id string, nextFireTime time.Time, lastFireTime time.Time) error

	Close() error
}
