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

type ScheduleUsecase struct {
	qm *queuemanager.Manager
}

func NewScheduleUsecase(qm *queuemanager.Manager) *ScheduleUsecase {
	return &ScheduleUsecase{qm: qm}
}

type CreateScheduleInput struct {
	UserID         string
	Name           string
	FunctionRef    domain.FunctionRef
	PositionalArgs json.RawMessage
	KeywordArgs    json.RawMessage
	QueueName      string
	Trigger        domain.Trigger
	Coalesce       domain.CoalescePolicy
	MaxRetries     int
	Backoff        domain.Backoff
	ResultTTL      time.Duration
	ConflictPolicy domain.ConflictPolicy
}

func (u *ScheduleUsecase) CreateSchedule(ctx context.Context, input CreateScheduleInput) (*domain.Schedule, error) {
	if input.Coalesce == "" {
		input.Coalesce = domain.CoalesceLatest
	}
	if input.Backoff == "" {
		input.Backoff = domain.BackoffExponential
	}
	if input.ConflictPolicy == "" {
		input.ConflictPolicy = domain.ConflictDoNothing
	}

	sched := &domain.Schedule{
		UserID:         input.UserID,
		Name:           input.Name,
		FunctionRef:    input.FunctionRef,
		PositionalArgs: input.PositionalArgs,
		KeywordArgs:    input.KeywordArgs,
		QueueName:      input.QueueName,
		Trigger:        input.Trigger,
		Coalesce:       input.Coalesce,
		MaxRetries:     input.MaxRetries,
		Backoff:        input.Backoff,
		ResultTTL:      input.ResultTTL,
		ConflictPolicy: input.ConflictPolicy,
	}

	created, err := u.qm.AddSchedule(ctx, sched)
	if err != nil {
		return nil, fmt.Errorf("create schedule: %w", err)
	}
	return created, nil
}

func (u *ScheduleUsecase) GetSchedule(ctx context.Context, id, userID string) (*domain.Schedule, error) {
	s, err := u.qm.GetSchedule(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get schedule: %w", err)
	}
	if s.UserID != userID {
		return nil, domain.ErrScheduleNotFound
	}
	return s, nil
}

type ListSchedulesInput struct {
	UserID string
	Cursor string
	Limit  int
}

type ListSchedulesResult struct {
	Schedules  []*domain.Schedule
	NextCursor *string
}

type scheduleCursor struct {
	CreatedAt time.Time `json:"c"`
	ID        string    `json:"i"`
}

func decodeScheduleCursor(s string) (string, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return "", fmt.Errorf("decode cursor: %w", err)
	}
	var c scheduleCursor
	if err := json.Unmarshal(b, &c); err != nil {
		return "", fmt.Errorf("unmarshal cursor: %w", err)
	}
	return c.ID, nil
}

func encodeScheduleCursor(createdAt time.Time, id string) string {
	b, _ := json.Marshal(scheduleCursor{CreatedAt: createdAt, ID: id})
	return base64.RawURLEncoding.EncodeToString(b)
}

func (u *ScheduleUsecase) ListSchedules(ctx context.Context, input ListSchedulesInput) (ListSchedulesResult, error) {
	limit := input.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	qmInput := datastore.ListSchedulesInput{
		UserID: input.UserID,
		Limit:  limit + 1,
	}

	if input.Cursor != "" {
		cursorID, err := decodeScheduleCursor(input.Cursor)
		if err != nil {
			return ListSchedulesResult{}, domain.ErrInvalidTrigger
		}
		qmInput.CursorID = cursorID
	}

	schedules, err := u.qm.GetSchedules(ctx, qmInput)
	if err != nil {
		return ListSchedulesResult{}, fmt.Errorf("list schedules: %w", err)
	}

	var nextCursor *string
	if len(schedules) == limit+1 {
		last := schedules[limit]
		s := encodeScheduleCursor(last.CreatedAt, last.ID)
		nextCursor = &s
		schedules = schedules[:limit]
	}

	return ListSchedulesResult{Schedules: schedules, NextCursor: nextCursor}, nil
}

func (u *ScheduleUsecase) PauseSchedule(ctx context.Context, id, userID string) error {
	if _, err := u.GetSchedule(ctx, id, userID); err != nil {
		return err
	}
	if err := u.qm.PauseSchedule(ctx, id); err != nil {
		return fmt.Errorf("pause schedule: %w", err)
	}
	return nil
}

func (u *ScheduleUsecase) ResumeSchedule(ctx context.Context, id, userID string) error {
	if _, err := u.GetSchedule(ctx, id, userID); err != nil {
		return err
	}
	if err := u.qm.ResumeSchedule(ctx, id); err != nil {
		return fmt.Errorf("resume schedule: %w", err)
	}
	return nil
}

func (u *ScheduleUsecase) DeleteSchedule(ctx context.Context, id, userID string) error {
	if _, err := u.GetSchedule(ctx, id, userID); err != nil {
		return err
	}
	if err := u.qm.DeleteSchedule(ctx, id); err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	return nil
}

type ListScheduleJobsInput struct {
	ScheduleID string
	UserID     string
	Selector   domain.ResultSelector
}

func (u *ScheduleUsecase) ListScheduleJobs(ctx context.Context, input ListScheduleJobsInput) ([]*domain.Job, error) {
	if _, err := u.GetSchedule(ctx, input.ScheduleID, input.UserID); err != nil {
		return nil, fmt.Errorf("get schedule: %w", err)
	}

	jobs, err := u.qm.ScheduleResults(ctx, input.ScheduleID, input.Selector)
	if err != nil {
		return nil, fmt.Errorf("list schedule jobs: %w", err)
	}
	return jobs, nil
}
