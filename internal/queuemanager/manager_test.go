package queuemanager_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/legout/flowerpower/internal/datastore"
	"github.com/legout/flowerpower/internal/datastore/memory"
	"github.com/legout/flowerpower/internal/domain"
	"github.com/legout/flowerpower/internal/eventbroker"
	"github.com/legout/flowerpower/internal/functionregistry"
	"github.com/legout/flowerpower/internal/queuemanager"
)

func newTestManager(t *testing.T) (*queuemanager.Manager, *eventbroker.InProcess, *functionregistry.Registry) {
	t.Helper()
	mgr, _, broker, registry := newTestManagerWithStore(t)
	return mgr, broker, registry
}

// newTestManagerWithStore additionally exposes the backing store so tests
// can drive job state transitions (e.g. CompleteJob) directly rather than
// through a running worker.
func newTestManagerWithStore(t *testing.T) (*queuemanager.Manager, datastore.Store, *eventbroker.InProcess, *functionregistry.Registry) {
	t.Helper()
	store := memory.New()
	broker := eventbroker.NewInProcess(func() int64 { return time.Now().UnixMilli() })
	registry := functionregistry.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return queuemanager.New(store, broker, registry, logger, []string{"default"}), store, broker, registry
}

func TestAddJob_AssignsIDAndQueuedStatus(t *testing.T) {
	mgr, _, _ := newTestManager(t)

	job := &domain.Job{FunctionRef: domain.FunctionRef{ModulePath: "pkg", Symbol: "Fn"}}
	got, err := mgr.AddJob(context.Background(), job)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID == "" {
		t.Error("expected ID to be assigned")
	}
	if got.Status != domain.StatusQueued {
		t.Errorf("status = %q, want %q", got.Status, domain.StatusQueued)
	}
}

func TestAddJob_FutureFireTime_IsDeferred(t *testing.T) {
	mgr, _, _ := newTestManager(t)

	future := time.Now().Add(time.Hour)
	job := &domain.Job{
		FunctionRef:       domain.FunctionRef{ModulePath: "pkg", Symbol: "Fn"},
		ScheduledFireTime: &future,
	}
	got, err := mgr.AddJob(context.Background(), job)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != domain.StatusDeferred {
		t.Errorf("status = %q, want %q", got.Status, domain.StatusDeferred)
	}
}

func TestAddJob_PublishesJobAddedEvent(t *testing.T) {
	mgr, broker, _ := newTestManager(t)

	events, err := broker.Subscribe(context.Background(), eventbroker.EventJobAdded)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	job, err := mgr.AddJob(context.Background(), &domain.Job{FunctionRef: domain.FunctionRef{ModulePath: "pkg", Symbol: "Fn"}})
	if err != nil {
		t.Fatalf("add job: %v", err)
	}

	select {
	case env := <-events:
		if env.EntityID != job.ID {
			t.Errorf("entity id = %q, want %q", env.EntityID, job.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for job_added event")
	}
}

func TestGetJobResult_NilUntilTerminal(t *testing.T) {
	mgr, _, _ := newTestManager(t)

	job, err := mgr.AddJob(context.Background(), &domain.Job{FunctionRef: domain.FunctionRef{ModulePath: "pkg", Symbol: "Fn"}})
	if err != nil {
		t.Fatalf("add job: %v", err)
	}

	result, err := mgr.GetJobResult(context.Background(), job.ID, false, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != nil {
		t.Errorf("expected nil result for queued job, got %+v", result)
	}
}

func TestGetJobResult_WaitBlocksUntilFinished(t *testing.T) {
	mgr, store, _, _ := newTestManagerWithStore(t)

	job, err := mgr.AddJob(context.Background(), &domain.Job{FunctionRef: domain.FunctionRef{ModulePath: "pkg", Symbol: "Fn"}})
	if err != nil {
		t.Fatalf("add job: %v", err)
	}

	done := make(chan error, 1)
	var result *domain.Job
	go func() {
		var err error
		result, err = mgr.GetJobResult(context.Background(), job.ID, true, false)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	if err := store.CompleteJob(context.Background(), job.ID, map[string]int{"sum": 5}); err != nil {
		t.Fatalf("complete job: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result == nil || result.Status != domain.StatusFinished {
			t.Errorf("expected a finished job, got %+v", result)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("GetJobResult(wait=true) did not return within deadline")
	}
}

func TestGetJobResult_DeleteAfterPurgesJob(t *testing.T) {
	mgr, store, _, _ := newTestManagerWithStore(t)

	job, err := mgr.AddJob(context.Background(), &domain.Job{FunctionRef: domain.FunctionRef{ModulePath: "pkg", Symbol: "Fn"}})
	if err != nil {
		t.Fatalf("add job: %v", err)
	}
	if err := store.CompleteJob(context.Background(), job.ID, map[string]int{"sum": 5}); err != nil {
		t.Fatalf("complete job: %v", err)
	}

	result, err := mgr.GetJobResult(context.Background(), job.ID, false, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result == nil || result.Status != domain.StatusFinished {
		t.Fatalf("expected a finished job, got %+v", result)
	}

	if _, err := mgr.GetJob(context.Background(), job.ID); !errors.Is(err, domain.ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound after delete_after read, got %v", err)
	}
}

func TestGetJobResult_ResultTTLExpired_ReturnsNotFound(t *testing.T) {
	mgr, store, _, _ := newTestManagerWithStore(t)

	job, err := mgr.AddJob(context.Background(), &domain.Job{
		FunctionRef: domain.FunctionRef{ModulePath: "pkg", Symbol: "Fn"},
		ResultTTL:   time.Millisecond,
	})
	if err != nil {
		t.Fatalf("add job: %v", err)
	}
	if err := store.CompleteJob(context.Background(), job.ID, map[string]int{"sum": 5}); err != nil {
		t.Fatalf("complete job: %v", err)
	}

	time.Sleep(20 * time.Millisecond)

	if _, err := mgr.GetJobResult(context.Background(), job.ID, false, false); !errors.Is(err, domain.ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound after result_ttl elapsed, got %v", err)
	}
}

func TestGetJobResult_JobTTLTakesPrecedenceOverResultTTL(t *testing.T) {
	mgr, store, _, _ := newTestManagerWithStore(t)

	job, err := mgr.AddJob(context.Background(), &domain.Job{
		FunctionRef: domain.FunctionRef{ModulePath: "pkg", Symbol: "Fn"},
		ResultTTL:   time.Hour,
		JobTTL:      time.Millisecond,
	})
	if err != nil {
		t.Fatalf("add job: %v", err)
	}
	if err := store.CompleteJob(context.Background(), job.ID, map[string]int{"sum": 5}); err != nil {
		t.Fatalf("complete job: %v", err)
	}

	time.Sleep(20 * time.Millisecond)

	if _, err := mgr.GetJobResult(context.Background(), job.ID, false, false); !errors.Is(err, domain.ErrJobNotFound) {
		t.Errorf("expected job_ttl expiry to evict despite a long result_ttl, got %v", err)
	}
}

func TestCancelJob_RejectsAlreadyCanceled(t *testing.T) {
	mgr, _, _ := newTestManager(t)

	job, err := mgr.AddJob(context.Background(), &domain.Job{FunctionRef: domain.FunctionRef{ModulePath: "pkg", Symbol: "Fn"}})
	if err != nil {
		t.Fatalf("add job: %v", err)
	}
	if err := mgr.CancelJob(context.Background(), job.ID); err != nil {
		t.Fatalf("first cancel: %v", err)
	}
	if err := mgr.CancelJob(context.Background(), job.ID); err == nil {
		t.Error("expected error canceling an already-canceled job")
	}
}

func TestScheduleResults_FiltersByToken(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	scheduleID := "sched-1"

	for i := 0; i < 3; i++ {
		job := &domain.Job{
			FunctionRef: domain.FunctionRef{ModulePath: "pkg", Symbol: "Fn"},
			ScheduleID:  &scheduleID,
		}
		if _, err := mgr.AddJob(context.Background(), job); err != nil {
			t.Fatalf("add job %d: %v", i, err)
		}
	}

	all, err := mgr.ScheduleResults(context.Background(), scheduleID, domain.ResultSelector{Token: "all"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len(all) = %d, want 3", len(all))
	}

	latest, err := mgr.ScheduleResults(context.Background(), scheduleID, domain.ResultSelector{Token: "latest"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(latest) != 1 {
		t.Fatalf("len(latest) = %d, want 1", len(latest))
	}
}

func TestAddSchedule_ComputesNextFireTime(t *testing.T) {
	mgr, _, _ := newTestManager(t)

	sched := &domain.Schedule{
		FunctionRef: domain.FunctionRef{ModulePath: "pkg", Symbol: "Fn"},
		Trigger: domain.Trigger{
			Kind:     domain.TriggerInterval,
			Minutes:  5,
			Timezone: time.UTC,
		},
	}
	got, err := mgr.AddSchedule(context.Background(), sched)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.NextFireTime.IsZero() {
		t.Error("expected NextFireTime to be computed")
	}
}

func TestAddSchedule_InvalidTrigger_ReturnsError(t *testing.T) {
	mgr, _, _ := newTestManager(t)

	sched := &domain.Schedule{
		FunctionRef: domain.FunctionRef{ModulePath: "pkg", Symbol: "Fn"},
		Trigger:     domain.Trigger{Kind: domain.TriggerInterval},
	}
	if _, err := mgr.AddSchedule(context.Background(), sched); err == nil {
		t.Error("expected error for a zero-period interval trigger")
	}
}

func TestPauseSchedule_ThenResume(t *testing.T) {
	mgr, _, _ := newTestManager(t)

	sched, err := mgr.AddSchedule(context.Background(), &domain.Schedule{
		FunctionRef: domain.FunctionRef{ModulePath: "pkg", Symbol: "Fn"},
		Trigger:     domain.Trigger{Kind: domain.TriggerInterval, Minutes: 5, Timezone: time.UTC},
	})
	if err != nil {
		t.Fatalf("add schedule: %v", err)
	}

	if err := mgr.PauseSchedule(context.Background(), sched.ID); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if err := mgr.PauseSchedule(context.Background(), sched.ID); err == nil {
		t.Error("expected error pausing an already-paused schedule")
	}
	if err := mgr.ResumeSchedule(context.Background(), sched.ID); err != nil {
		t.Fatalf("resume: %v", err)
	}
}

func TestStartWorker_DuplicateID_Errors(t *testing.T) {
	mgr, _, _ := newTestManager(t)

	if err := mgr.StartWorker("w1", []string{"default"}, 10*time.Millisecond, 1); err != nil {
		t.Fatalf("start worker: %v", err)
	}
	defer mgr.StopWorkerPool()

	if err := mgr.StartWorker("w1", []string{"default"}, 10*time.Millisecond, 1); err == nil {
		t.Error("expected error starting a worker with a duplicate id")
	}
}

func TestStartWorker_ExecutesRegisteredFunction(t *testing.T) {
	mgr, _, registry := newTestManager(t)

	ref := domain.FunctionRef{ModulePath: "pkg", Symbol: "Echo"}
	registry.Register(ref, func(_ context.Context, positionalArgs, _ json.RawMessage) (any, error) {
		return positionalArgs, nil
	})

	job := &domain.Job{FunctionRef: ref}
	job, err := mgr.AddJob(context.Background(), job)
	if err != nil {
		t.Fatalf("add job: %v", err)
	}

	if err := mgr.StartWorker("w1", []string{job.QueueName}, 5*time.Millisecond, 1); err != nil {
		t.Fatalf("start worker: %v", err)
	}
	defer mgr.StopWorkerPool()

	deadline := time.After(2 * time.Second)
	for {
		got, err := mgr.GetJob(context.Background(), job.ID)
		if err != nil {
			t.Fatalf("get job: %v", err)
		}
		if got.Status == domain.StatusFinished {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("job never reached finished status, got %q", got.Status)
		case <-time.After(10 * time.Millisecond):
		}
	}
}
