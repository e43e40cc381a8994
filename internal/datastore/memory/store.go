// Package memory realizes datastore.Store over in-process maps guarded by
// a single mutex. It backs the "memory" backend kind (spec.md §4.2) and
// is the realization the test suite uses by default, the same role
// lightweight map-backed fakes play in ErlanBelekov/dist-job-scheduler's
// usecase tests.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/legout/flowerpower/internal/datastore"
	"github.com/legout/flowerpower/internal/domain"
)

type Store struct {
	mu        sync.Mutex
	jobs      map[string]*domain.Job
	attempts  map[string][]*domain.JobAttempt
	schedules map[string]*domain.Schedule
}

func New() *Store {
	return &Store{
		jobs:      make(map[string]*domain.Job),
		attempts:  make(map[string][]*domain.JobAttempt),
		schedules: make(map[string]*domain.Schedule),
	}
}

func (s *Store) PutJob(_ context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if _, exists := s.jobs[job.ID]; exists {
		return domain.ErrDuplicateJob
	}
	if job.IdempotencyKey != "" {
		for _, j := range s.jobs {
			if j.UserID == job.UserID && j.IdempotencyKey == job.IdempotencyKey {
				return domain.ErrDuplicateJob
			}
		}
	}
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *Store) GetJob(_ context.Context, id string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

func (s *Store) ListJobs(_ context.Context, input datastore.ListJobsInput) ([]*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*domain.Job
	for _, j := range s.jobs {
		if input.UserID != "" && j.UserID != input.UserID {
			continue
		}
		if input.QueueName != "" && j.QueueName != input.QueueName {
			continue
		}
		if input.Status != "" && j.Status != input.Status {
			continue
		}
		if input.ScheduleID != nil && (j.ScheduleID == nil || *j.ScheduleID != *input.ScheduleID) {
			continue
		}
		cp := *j
		matched = append(matched, &cp)
	}
	sort.Slice(matched, func(i, k int) bool {
		if matched[i].CreatedAt.Equal(matched[k].CreatedAt) {
			return matched[i].ID > matched[k].ID
		}
		return matched[i].CreatedAt.After(matched[k].CreatedAt)
	})

	if input.CursorID != "" {
		for i, j := range matched {
			if j.ID == input.CursorID {
				matched = matched[i+1:]
				break
			}
		}
	}
	limit := input.Limit
	if limit <= 0 || limit > len(matched) {
		limit = len(matched)
	}
	return matched[:limit], nil
}

func (s *Store) AcquireNext(_ context.Context, queueNames []string, workerID string, limit int) ([]*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	queueSet := make(map[string]bool, len(queueNames))
	for _, q := range queueNames {
		queueSet[q] = true
	}

	var candidates []*domain.Job
	now := time.Now().UTC()
	for _, j := range s.jobs {
		if len(queueSet) > 0 && !queueSet[j.QueueName] {
			continue
		}
		if j.Status == domain.StatusDeferred && j.ScheduledFireTime != nil && !j.ScheduledFireTime.After(now) {
			j.Status = domain.StatusQueued
		}
		if j.Status == domain.StatusQueued {
			candidates = append(candidates, j)
		}
	}
	sort.Slice(candidates, func(i, k int) bool { return candidates[i].CreatedAt.Before(candidates[k].CreatedAt) })

	if limit <= 0 || limit > len(candidates) {
		limit = len(candidates)
	}

	claimed := make([]*domain.Job, 0, limit)
	for _, j := range candidates[:limit] {
		j.Status = domain.StatusStarted
		j.OriginWorkerID = &workerID
		claimedAt := now
		j.ClaimedAt = &claimedAt
		j.HeartbeatAt = &claimedAt
		cp := *j
		claimed = append(claimed, &cp)
	}
	return claimed, nil
}

func (s *Store) Heartbeat(_ context.Context, jobID, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return domain.ErrJobNotFound
	}
	now := time.Now().UTC()
	j.HeartbeatAt = &now
	return nil
}

func (s *Store) CompleteJob(_ context.Context, jobID string, result any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return domain.ErrJobNotFound
	}
	j.Status = domain.StatusFinished
	now := time.Now().UTC()
	j.CompletedAt = &now
	if result != nil {
		b, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		j.ResultValue = b
	}
	return nil
}

func (s *Store) FailJob(_ context.Context, jobID string, reason string, retryAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return domain.ErrJobNotFound
	}
	j.FailureReason = &reason
	j.RetryCount++
	if retryAt != nil {
		j.Status = domain.StatusDeferred
		j.ScheduledFireTime = retryAt
		j.ClaimedAt = nil
		j.HeartbeatAt = nil
	} else {
		j.Status = domain.StatusFailed
		now := time.Now().UTC()
		j.CompletedAt = &now
	}
	return nil
}

func (s *Store) CancelJob(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return domain.ErrJobNotFound
	}
	if j.Status != domain.StatusQueued && j.Status != domain.StatusDeferred {
		return domain.ErrJobNotCancellable
	}
	j.Status = domain.StatusCanceled
	now := time.Now().UTC()
	j.CompletedAt = &now
	return nil
}

func (s *Store) DeleteJob(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[jobID]; !ok {
		return domain.ErrJobNotFound
	}
	delete(s.jobs, jobID)
	delete(s.attempts, jobID)
	return nil
}

func (s *Store) DeleteJobsByStatus(_ context.Context, userID string, status domain.Status) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, j := range s.jobs {
		if j.UserID != userID {
			continue
		}
		if status != "" && j.Status != status {
			continue
		}
		delete(s.jobs, id)
		delete(s.attempts, id)
		n++
	}
	return n, nil
}

func (s *Store) RescueStaleJobs(_ context.Context, staleCutoff time.Time, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, j := range s.jobs {
		if limit > 0 && n >= limit {
			break
		}
		if j.Status != domain.StatusStarted || j.HeartbeatAt == nil || !j.HeartbeatAt.Before(staleCutoff) {
			continue
		}
		if j.RetryCount < j.Retry.Max {
			j.Status = domain.StatusQueued
			j.RetryCount++
		} else {
			j.Status = domain.StatusFailed
			now := time.Now().UTC()
			j.CompletedAt = &now
			reason := "worker heartbeat expired"
			j.FailureReason = &reason
		}
		j.ClaimedAt = nil
		j.HeartbeatAt = nil
		n++
	}
	return n, nil
}

func (s *Store) PutAttempt(_ context.Context, attempt *domain.JobAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if attempt.ID == "" {
		attempt.ID = uuid.NewString()
	}
	cp := *attempt
	s.attempts[attempt.JobID] = append(s.attempts[attempt.JobID], &cp)
	return nil
}

func (s *Store) ListAttempts(_ context.Context, jobID string) ([]*domain.JobAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*domain.JobAttempt(nil), s.attempts[jobID]...), nil
}

func (s *Store) PutSchedule(_ context.Context, sched *domain.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, exists := s.schedules[sched.ID]; exists {
		switch sched.ConflictPolicy {
		case domain.ConflictDoNothing:
			return nil
		case domain.ConflictUpdate:
			merged := *existing
			merged.Trigger = sched.Trigger
			merged.PositionalArgs = sched.PositionalArgs
			merged.KeywordArgs = sched.KeywordArgs
			merged.UpdatedAt = time.Now().UTC()
			s.schedules[sched.ID] = &merged
			return nil
		}
	}
	if sched.ID == "" {
		sched.ID = uuid.NewString()
	}
	cp := *sched
	s.schedules[sched.ID] = &cp
	return nil
}

func (s *Store) GetSchedule(_ context.Context, id string) (*domain.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.schedules[id]
	if !ok {
		return nil, domain.ErrScheduleNotFound
	}
	cp := *sc
	return &cp, nil
}

func (s *Store) ListSchedules(_ context.Context, input datastore.ListSchedulesInput) ([]*domain.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []*domain.Schedule
	for _, sc := range s.schedules {
		if input.UserID != "" && sc.UserID != input.UserID {
			continue
		}
		cp := *sc
		matched = append(matched, &cp)
	}
	sort.Slice(matched, func(i, k int) bool { return matched[i].ID < matched[k].ID })
	if input.CursorID != "" {
		for i, sc := range matched {
			if sc.ID == input.CursorID {
				matched = matched[i+1:]
				break
			}
		}
	}
	limit := input.Limit
	if limit <= 0 || limit > len(matched) {
		limit = len(matched)
	}
	return matched[:limit], nil
}

func (s *Store) DeleteSchedule(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.schedules[id]; !ok {
		return domain.ErrScheduleNotFound
	}
	delete(s.schedules, id)
	return nil
}

func (s *Store) PauseSchedule(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.schedules[id]
	if !ok {
		return domain.ErrScheduleNotFound
	}
	if sc.Paused {
		return domain.ErrScheduleAlreadyPaused
	}
	sc.Paused = true
	return nil
}

func (s *Store) ResumeSchedule(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.schedules[id]
	if !ok {
		return domain.ErrScheduleNotFound
	}
	if !sc.Paused {
		return domain.ErrScheduleNotPaused
	}
	sc.Paused = false
	return nil
}

func (s *Store) ClaimDueSchedules(_ context.Context, before time.Time, limit int) ([]*domain.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*domain.Schedule
	for _, sc := range s.schedules {
		if sc.Paused || sc.NextFireTime.After(before) {
			continue
		}
		cp := *sc
		due = append(due, &cp)
	}
	sort.Slice(due, func(i, k int) bool { return due[i].NextFireTime.Before(due[k].NextFireTime) })
	if limit > 0 && limit < len(due) {
		due = due[:limit]
	}
	return due, nil
}

func (s *Store) AdvanceSchedule(_ context.Context, id string, nextFireTime time.Time, lastFireTime time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.schedules[id]
	if !ok {
		return fmt.Errorf("advance schedule: %w", domain.ErrScheduleNotFound)
	}
	sc.NextFireTime = nextFireTime
	sc.LastFireTime = &lastFireTime
	sc.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) Close() error { return nil }
