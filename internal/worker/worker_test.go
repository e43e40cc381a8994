package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/legout/flowerpower/internal/datastore/memory"
	"github.com/legout/flowerpower/internal/domain"
	"github.com/legout/flowerpower/internal/eventbroker"
	"github.com/legout/flowerpower/internal/functionregistry"
	"github.com/legout/flowerpower/internal/worker"
)

func TestPool_ExecutesRegisteredFunctionAndCompletesJob(t *testing.T) {
	store := memory.New()
	broker := eventbroker.NewInProcess(func() int64 { return time.Now().UnixMilli() })
	registry := functionregistry.New()
	ref := domain.FunctionRef{ModulePath: "pkg", Symbol: "Fn"}
	registry.Register(ref, func(_ context.Context, _, _ json.RawMessage) (any, error) {
		return map[string]string{"ok": "true"}, nil
	})

	ctx := context.Background()
	job := &domain.Job{FunctionRef: ref, Status: domain.StatusQueued, QueueName: "default", Retry: domain.RetryPolicy{Max: 1}}
	if err := store.PutJob(ctx, job); err != nil {
		t.Fatalf("put job: %v", err)
	}

	pool := worker.NewPool("test-worker", store, broker, registry, testLogger(), []string{"default"}, 10*time.Millisecond, 2)
	go pool.Start(ctx)
	defer pool.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got, err := store.GetJob(ctx, job.ID)
		if err != nil {
			t.Fatalf("get job: %v", err)
		}
		if got.Status == domain.StatusFinished {
			if got.ResultValue == nil {
				t.Error("expected a result value to be set")
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("job never reached finished status within deadline")
}

func TestPool_RetriesOnFailureWhenRetriesRemain(t *testing.T) {
	store := memory.New()
	broker := eventbroker.NewInProcess(func() int64 { return time.Now().UnixMilli() })
	registry := functionregistry.New()
	ref := domain.FunctionRef{ModulePath: "pkg", Symbol: "AlwaysFails"}
	registry.Register(ref, func(_ context.Context, _, _ json.RawMessage) (any, error) {
		return nil, errors.New("boom")
	})

	ctx := context.Background()
	job := &domain.Job{
		FunctionRef: ref,
		Status:      domain.StatusQueued,
		QueueName:   "default",
		Retry:       domain.RetryPolicy{Max: 2, Delay: time.Millisecond},
	}
	if err := store.PutJob(ctx, job); err != nil {
		t.Fatalf("put job: %v", err)
	}

	pool := worker.NewPool("test-worker", store, broker, registry, testLogger(), []string{"default"}, 10*time.Millisecond, 2)
	go pool.Start(ctx)
	defer pool.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got, err := store.GetJob(ctx, job.ID)
		if err != nil {
			t.Fatalf("get job: %v", err)
		}
		if got.RetryCount > 0 {
			if got.Status == domain.StatusFinished {
				t.Error("job should not have finished")
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("job was never retried within deadline")
}

func TestPool_PublishesJobFailedEventWhenRetriesExhausted(t *testing.T) {
	store := memory.New()
	broker := eventbroker.NewInProcess(func() int64 { return time.Now().UnixMilli() })
	registry := functionregistry.New()
	ref := domain.FunctionRef{ModulePath: "pkg", Symbol: "AlwaysFails"}
	registry.Register(ref, func(_ context.Context, _, _ json.RawMessage) (any, error) {
		return nil, errors.New("boom")
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := broker.Subscribe(ctx, eventbroker.EventJobFailed)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	job := &domain.Job{FunctionRef: ref, Status: domain.StatusQueued, QueueName: "default", Retry: domain.RetryPolicy{Max: 0}}
	if err := store.PutJob(ctx, job); err != nil {
		t.Fatalf("put job: %v", err)
	}

	pool := worker.NewPool("test-worker", store, broker, registry, testLogger(), []string{"default"}, 10*time.Millisecond, 2)
	go pool.Start(ctx)
	defer pool.Stop()

	select {
	case env := <-events:
		if env.EntityID != job.ID {
			t.Errorf("entity id = %q, want %q", env.EntityID, job.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("did not receive job_failed event within deadline")
	}
}
