package worker_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/legout/flowerpower/internal/datastore/memory"
	"github.com/legout/flowerpower/internal/domain"
	"github.com/legout/flowerpower/internal/worker"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestReaper_RescuesStaleJobWithRetriesRemaining(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	staleHeartbeat := time.Now().Add(-time.Hour)
	workerID := "dead-worker"
	job := &domain.Job{
		ID:             "job-1",
		FunctionRef:    domain.FunctionRef{ModulePath: "pkg", Symbol: "Fn"},
		Status:         domain.StatusStarted,
		RetryCount:     0,
		Retry:          domain.RetryPolicy{Max: 3},
		HeartbeatAt:    &staleHeartbeat,
		ClaimedAt:      &staleHeartbeat,
		OriginWorkerID: &workerID,
	}
	if err := store.PutJob(ctx, job); err != nil {
		t.Fatalf("put job: %v", err)
	}

	reaper := worker.NewReaper(store, testLogger(), 10*time.Millisecond, 30*time.Second)
	go reaper.Start(ctx)
	defer reaper.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got, err := store.GetJob(ctx, "job-1")
		if err != nil {
			t.Fatalf("get job: %v", err)
		}
		if got.Status == domain.StatusQueued {
			if got.RetryCount != 1 {
				t.Errorf("retry count = %d, want 1", got.RetryCount)
			}
			if got.HeartbeatAt != nil {
				t.Errorf("expected heartbeat cleared, got %v", got.HeartbeatAt)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("job was never rescued to queued within deadline")
}

func TestReaper_FailsStaleJobWithNoRetriesRemaining(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	staleHeartbeat := time.Now().Add(-time.Hour)
	job := &domain.Job{
		ID:          "job-2",
		FunctionRef: domain.FunctionRef{ModulePath: "pkg", Symbol: "Fn"},
		Status:      domain.StatusStarted,
		RetryCount:  3,
		Retry:       domain.RetryPolicy{Max: 3},
		HeartbeatAt: &staleHeartbeat,
	}
	if err := store.PutJob(ctx, job); err != nil {
		t.Fatalf("put job: %v", err)
	}

	reaper := worker.NewReaper(store, testLogger(), 10*time.Millisecond, 30*time.Second)
	go reaper.Start(ctx)
	defer reaper.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got, err := store.GetJob(ctx, "job-2")
		if err != nil {
			t.Fatalf("get job: %v", err)
		}
		if got.Status == domain.StatusFailed {
			if got.FailureReason == nil || *got.FailureReason == "" {
				t.Error("expected a failure reason to be set")
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("job was never failed within deadline")
}

func TestReaper_LeavesFreshHeartbeatAlone(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	fresh := time.Now()
	job := &domain.Job{
		ID:          "job-3",
		FunctionRef: domain.FunctionRef{ModulePath: "pkg", Symbol: "Fn"},
		Status:      domain.StatusStarted,
		Retry:       domain.RetryPolicy{Max: 3},
		HeartbeatAt: &fresh,
	}
	if err := store.PutJob(ctx, job); err != nil {
		t.Fatalf("put job: %v", err)
	}

	reaper := worker.NewReaper(store, testLogger(), 10*time.Millisecond, 30*time.Second)
	go reaper.Start(ctx)
	defer reaper.Stop()

	time.Sleep(100 * time.Millisecond)

	got, err := store.GetJob(ctx, "job-3")
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.Status != domain.StatusStarted {
		t.Errorf("status = %q, want unchanged %q", got.Status, domain.StatusStarted)
	}
}
