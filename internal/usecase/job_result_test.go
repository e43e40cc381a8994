package usecase_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/legout/flowerpower/internal/datastore/memory"
	"github.com/legout/flowerpower/internal/domain"
	"github.com/legout/flowerpower/internal/eventbroker"
	"github.com/legout/flowerpower/internal/functionregistry"
	"github.com/legout/flowerpower/internal/queuemanager"
	"github.com/legout/flowerpower/internal/usecase"
)

func newTestJobUsecase(t *testing.T) (*usecase.JobUsecase, *queuemanager.Manager) {
	t.Helper()
	store := memory.New()
	broker := eventbroker.NewInProcess(func() int64 { return time.Now().UnixMilli() })
	registry := functionregistry.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	qm := queuemanager.New(store, broker, registry, logger, []string{"default"})
	return usecase.NewJobUsecase(qm), qm
}

func TestJobUsecase_GetResult_RejectsOtherUsersJob(t *testing.T) {
	u, qm := newTestJobUsecase(t)

	job, err := qm.AddJob(context.Background(), &domain.Job{
		UserID:      "owner",
		FunctionRef: domain.FunctionRef{ModulePath: "pkg", Symbol: "Fn"},
	})
	if err != nil {
		t.Fatalf("add job: %v", err)
	}

	if _, err := u.GetResult(context.Background(), job.ID, "someone-else", false, false); !errors.Is(err, domain.ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound for a mismatched owner, got %v", err)
	}
}

func TestJobUsecase_GetResult_NilUntilTerminal(t *testing.T) {
	u, qm := newTestJobUsecase(t)

	job, err := qm.AddJob(context.Background(), &domain.Job{
		UserID:      "owner",
		FunctionRef: domain.FunctionRef{ModulePath: "pkg", Symbol: "Fn"},
	})
	if err != nil {
		t.Fatalf("add job: %v", err)
	}

	result, err := u.GetResult(context.Background(), job.ID, "owner", false, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != nil {
		t.Errorf("expected nil result for a queued job, got %+v", result)
	}
}
