package worker_test

import (
	"context"
	"testing"
	"time"

	"github.com/legout/flowerpower/internal/datastore"
	"github.com/legout/flowerpower/internal/datastore/memory"
	"github.com/legout/flowerpower/internal/domain"
	"github.com/legout/flowerpower/internal/eventbroker"
	"github.com/legout/flowerpower/internal/worker"
)

func TestDispatcher_FiresDueScheduleAndAdvancesNextFireTime(t *testing.T) {
	store := memory.New()
	broker := eventbroker.NewInProcess(func() int64 { return time.Now().UnixMilli() })
	ctx := context.Background()

	sched := &domain.Schedule{
		ID:          "sched-1",
		FunctionRef: domain.FunctionRef{ModulePath: "pkg", Symbol: "Fn"},
		QueueName:   "default",
		Trigger: domain.Trigger{
			Kind:    domain.TriggerInterval,
			Seconds: 1,
		},
		NextFireTime: time.Now().Add(-time.Second),
		Coalesce:     domain.CoalesceLatest,
	}
	if err := store.PutSchedule(ctx, sched); err != nil {
		t.Fatalf("put schedule: %v", err)
	}

	dispatcher := worker.NewDispatcher(store, broker, testLogger(), 10*time.Millisecond)
	go dispatcher.Start(ctx)
	defer dispatcher.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		jobs, err := store.ListJobs(ctx, datastore.ListJobsInput{ScheduleID: &sched.ID})
		if err != nil {
			t.Fatalf("list jobs: %v", err)
		}
		if len(jobs) > 0 {
			got, err := store.GetSchedule(ctx, sched.ID)
			if err != nil {
				t.Fatalf("get schedule: %v", err)
			}
			if !got.NextFireTime.After(sched.NextFireTime) {
				t.Errorf("next fire time = %v, want after %v", got.NextFireTime, sched.NextFireTime)
			}
			if got.LastFireTime == nil {
				t.Error("expected last fire time to be set")
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("schedule never fired a job within deadline")
}

func TestDispatcher_RetiresScheduleWhenTriggerExhausted(t *testing.T) {
	store := memory.New()
	broker := eventbroker.NewInProcess(func() int64 { return time.Now().UnixMilli() })
	ctx := context.Background()

	runAt := time.Now().Add(-time.Second)
	sched := &domain.Schedule{
		ID:          "sched-2",
		FunctionRef: domain.FunctionRef{ModulePath: "pkg", Symbol: "Fn"},
		QueueName:   "default",
		Trigger: domain.Trigger{
			Kind:  domain.TriggerDate,
			RunAt: runAt,
		},
		NextFireTime: runAt,
	}
	if err := store.PutSchedule(ctx, sched); err != nil {
		t.Fatalf("put schedule: %v", err)
	}

	dispatcher := worker.NewDispatcher(store, broker, testLogger(), 10*time.Millisecond)
	go dispatcher.Start(ctx)
	defer dispatcher.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := store.GetSchedule(ctx, sched.ID); err == domain.ErrScheduleNotFound {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("one-shot schedule was never retired within deadline")
}
