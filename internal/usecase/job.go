package usecase

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/legout/flowerpower/internal/datastore"
	"github.com/legout/flowerpower/internal/domain"
	"github.com/legout/flowerpower/internal/queuemanager"
)

// JobUsecase is the thin orchestration layer the HTTP shell calls into,
// fronting the Queue Manager façade the same way the teacher's usecases
// front a repository.
type JobUsecase struct {
	qm *queuemanager.Manager
}

func NewJobUsecase(qm *queuemanager.Manager) *JobUsecase {
	return &JobUsecase{qm: qm}
}

type CreateJobInput struct {
	UserID            string
	IdempotencyKey    string
	FunctionRef       domain.FunctionRef
	PositionalArgs    json.RawMessage
	KeywordArgs       json.RawMessage
	QueueName         string
	ScheduledFireTime *time.Time
	ResultTTL         time.Duration
	JobTTL            time.Duration
	MaxRetries        int
	Backoff           domain.Backoff
}

func (u *JobUsecase) CreateJob(ctx context.Context, input CreateJobInput) (*domain.Job, error) {
	job := &domain.Job{
		UserID:            input.UserID,
		IdempotencyKey:    input.IdempotencyKey,
		FunctionRef:       input.FunctionRef,
		PositionalArgs:    input.PositionalArgs,
		KeywordArgs:       input.KeywordArgs,
		QueueName:         input.QueueName,
		ScheduledFireTime: input.ScheduledFireTime,
		ResultTTL:         input.ResultTTL,
		JobTTL:            input.JobTTL,
		Retry:             domain.RetryPolicy{Max: input.MaxRetries, Backoff: input.Backoff},
	}

	created, err := u.qm.AddJob(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	return created, nil
}

func (u *JobUsecase) GetByID(ctx context.Context, id, userID string) (*domain.Job, error) {
	job, err := u.qm.GetJob(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	if job.UserID != userID {
		return nil, domain.ErrJobNotFound
	}
	return job, nil
}

// GetResult fronts queuemanager.GetJobResult with the same ownership
// check GetByID applies, so a caller can't probe another user's result by
// guessing a job id.
func (u *JobUsecase) GetResult(ctx context.Context, id, userID string, wait, deleteAfter bool) (*domain.Job, error) {
	if _, err := u.GetByID(ctx, id, userID); err != nil {
		return nil, err
	}
	result, err := u.qm.GetJobResult(ctx, id, wait, deleteAfter)
	if err != nil {
		return nil, fmt.Errorf("get job result: %w", err)
	}
	return result, nil
}

func (u *JobUsecase) CancelJob(ctx context.Context, id, userID string) error {
	if _, err := u.GetByID(ctx, id, userID); err != nil {
		return err
	}
	if err := u.qm.CancelJob(ctx, id); err != nil {
		return fmt.Errorf("cancel job: %w", err)
	}
	return nil
}

func (u *JobUsecase) ListAttempts(ctx context.Context, id, userID string) ([]*domain.JobAttempt, error) {
	if _, err := u.GetByID(ctx, id, userID); err != nil {
		return nil, err
	}
	attempts, err := u.qm.ListAttempts(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	return attempts, nil
}

type ListJobsInput struct {
	UserID string
	Status string
	Cursor string
	Limit  int
}

type ListJobsResult struct {
	Jobs       []*domain.Job
	NextCursor *string
}

type jobCursor struct {
	CreatedAt time.Time `json:"c"`
	ID        string    `json:"i"`
}

func decodeCursor(s string) (*time.Time, string, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, "", fmt.Errorf("decode cursor: %w", err)
	}
	var c jobCursor
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, "", fmt.Errorf("unmarshal cursor: %w", err)
	}
	return &c.CreatedAt, c.ID, nil
}

func encodeCursor(createdAt time.Time, id string) string {
	b, _ := json.Marshal(jobCursor{CreatedAt: createdAt, ID: id})
	return base64.RawURLEncoding.EncodeToString(b)
}

func (u *JobUsecase) ListJobs(ctx context.Context, input ListJobsInput) (ListJobsResult, error) {
	limit := input.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	var status domain.Status
	if input.Status != "" {
		status = domain.Status(input.Status)
		switch status {
		case domain.StatusQueued, domain.StatusDeferred, domain.StatusStarted,
			domain.StatusFinished, domain.StatusFailed, domain.StatusCanceled:
		default:
			return ListJobsResult{}, domain.ErrInvalidStatus
		}
	}

	listInput := datastore.ListJobsInput{
		UserID: input.UserID,
		Status: status,
		Limit:  limit + 1,
	}
	if input.Cursor != "" {
		cursorTime, cursorID, err := decodeCursor(input.Cursor)
		if err != nil {
			return ListJobsResult{}, domain.ErrInvalidStatus
		}
		listInput.CursorTime = cursorTime
		listInput.CursorID = cursorID
	}

	jobs, err := u.qm.GetJobs(ctx, listInput)
	if err != nil {
		return ListJobsResult{}, fmt.Errorf("list jobs: %w", err)
	}

	var nextCursor *string
	if len(jobs) == limit+1 {
		last := jobs[limit]
		s := encodeCursor(last.CreatedAt, last.ID)
		nextCursor = &s
		jobs = jobs[:limit]
	}

	return ListJobsResult{Jobs: jobs, NextCursor: nextCursor}, nil
}
