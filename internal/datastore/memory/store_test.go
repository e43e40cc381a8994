package memory

import (
	"context"
	"testing"
	"time"

	"github.com/legout/flowerpower/internal/datastore"
	"github.com/legout/flowerpower/internal/domain"
)

func TestStore_PutAndGetJob(t *testing.T) {
	s := New()
	ctx := context.Background()
	job := &domain.Job{UserID: "u1", Status: domain.StatusQueued, QueueName: "default", CreatedAt: time.Now()}
	if err := s.PutJob(ctx, job); err != nil {
		t.Fatalf("PutJob: %v", err)
	}
	if job.ID == "" {
		t.Fatal("expected PutJob to assign an ID")
	}

	got, err := s.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.UserID != "u1" {
		t.Errorf("GetJob UserID = %q, want u1", got.UserID)
	}
}

func TestStore_GetJob_NotFound(t *testing.T) {
	s := New()
	if _, err := s.GetJob(context.Background(), "missing"); err != domain.ErrJobNotFound {
		t.Errorf("GetJob error = %v, want ErrJobNotFound", err)
	}
}

func TestStore_PutJob_DuplicateIdempotencyKey(t *testing.T) {
	s := New()
	ctx := context.Background()
	first := &domain.Job{UserID: "u1", IdempotencyKey: "k1", Status: domain.StatusQueued, CreatedAt: time.Now()}
	if err := s.PutJob(ctx, first); err != nil {
		t.Fatalf("PutJob: %v", err)
	}
	second := &domain.Job{UserID: "u1", IdempotencyKey: "k1", Status: domain.StatusQueued, CreatedAt: time.Now()}
	if err := s.PutJob(ctx, second); err != domain.ErrDuplicateJob {
		t.Errorf("PutJob duplicate = %v, want ErrDuplicateJob", err)
	}
}

func TestStore_AcquireNext_ClaimsQueuedJobsOnly(t *testing.T) {
	s := New()
	ctx := context.Background()
	queued := &domain.Job{UserID: "u1", QueueName: "default", Status: domain.StatusQueued, CreatedAt: time.Now()}
	started := &domain.Job{UserID: "u1", QueueName: "default", Status: domain.StatusStarted, CreatedAt: time.Now()}
	_ = s.PutJob(ctx, queued)
	_ = s.PutJob(ctx, started)

	claimed, err := s.AcquireNext(ctx, []string{"default"}, "worker-1", 10)
	if err != nil {
		t.Fatalf("AcquireNext: %v", err)
	}
	if len(claimed) != 1 || claimed[0].ID != queued.ID {
		t.Fatalf("AcquireNext claimed %v, want only %v", claimed, queued.ID)
	}

	refetched, _ := s.GetJob(ctx, queued.ID)
	if refetched.Status != domain.StatusStarted {
		t.Errorf("claimed job status = %v, want started", refetched.Status)
	}
}

func TestStore_CancelJob_RejectsTerminalState(t *testing.T) {
	s := New()
	ctx := context.Background()
	job := &domain.Job{UserID: "u1", Status: domain.StatusFinished, CreatedAt: time.Now()}
	_ = s.PutJob(ctx, job)

	if err := s.CancelJob(ctx, job.ID); err != domain.ErrJobNotCancellable {
		t.Errorf("CancelJob = %v, want ErrJobNotCancellable", err)
	}
}

func TestStore_FailJob_RetriesWhenRetryAtSet(t *testing.T) {
	s := New()
	ctx := context.Background()
	job := &domain.Job{UserID: "u1", Status: domain.StatusStarted, CreatedAt: time.Now()}
	_ = s.PutJob(ctx, job)

	retryAt := time.Now().Add(time.Minute)
	if err := s.FailJob(ctx, job.ID, "boom", &retryAt); err != nil {
		t.Fatalf("FailJob: %v", err)
	}
	got, _ := s.GetJob(ctx, job.ID)
	if got.Status != domain.StatusDeferred {
		t.Errorf("status = %v, want deferred", got.Status)
	}
	if got.RetryCount != 1 {
		t.Errorf("retry count = %d, want 1", got.RetryCount)
	}
}

func TestStore_ClaimDueSchedules_SkipsPaused(t *testing.T) {
	s := New()
	ctx := context.Background()
	due := &domain.Schedule{UserID: "u1", NextFireTime: time.Now().Add(-time.Minute)}
	_ = s.PutSchedule(ctx, due)
	paused := &domain.Schedule{UserID: "u1", NextFireTime: time.Now().Add(-time.Minute), Paused: true}
	_ = s.PutSchedule(ctx, paused)

	claimed, err := s.ClaimDueSchedules(ctx, time.Now(), 10)
	if err != nil {
		t.Fatalf("ClaimDueSchedules: %v", err)
	}
	if len(claimed) != 1 || claimed[0].ID != due.ID {
		t.Fatalf("ClaimDueSchedules = %v, want only %v", claimed, due.ID)
	}
}

func TestStore_PauseSchedule_RejectsDoublePause(t *testing.T) {
	s := New()
	ctx := context.Background()
	sc := &domain.Schedule{UserID: "u1"}
	_ = s.PutSchedule(ctx, sc)

	if err := s.PauseSchedule(ctx, sc.ID); err != nil {
		t.Fatalf("PauseSchedule: %v", err)
	}
	if err := s.PauseSchedule(ctx, sc.ID); err != domain.ErrScheduleAlreadyPaused {
		t.Errorf("second PauseSchedule = %v, want ErrScheduleAlreadyPaused", err)
	}
}

func TestStore_ListJobs_FiltersByStatus(t *testing.T) {
	s := New()
	ctx := context.Background()
	_ = s.PutJob(ctx, &domain.Job{UserID: "u1", Status: domain.StatusQueued, CreatedAt: time.Now()})
	_ = s.PutJob(ctx, &domain.Job{UserID: "u1", Status: domain.StatusFinished, CreatedAt: time.Now()})

	got, err := s.ListJobs(ctx, datastore.ListJobsInput{UserID: "u1", Status: domain.StatusFinished, Limit: 10})
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(got) != 1 || got[0].Status != domain.StatusFinished {
		t.Fatalf("ListJobs = %v, want one finished job", got)
	}
}
