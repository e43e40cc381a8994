// seed enqueues a batch of sample jobs against a running flowerpower
// backend, for exercising the API without wiring up a real producer.
// Run: go run ./cmd/seed
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/legout/flowerpower/config"
	"github.com/legout/flowerpower/internal/domain"
	"github.com/legout/flowerpower/internal/functionregistry"
	"github.com/legout/flowerpower/internal/queuemanager"
	"github.com/legout/flowerpower/internal/wiring"
)

// seedUserID is a fixed Clerk-style user ID for local dev seeding.
const seedUserID = "user_seed_dev_local"

type jobSpec struct {
	key     string
	url     string
	method  string
	retries int
	backoff domain.Backoff
}

var jobs = []jobSpec{
	// Happy path — should complete successfully
	{"seed-001", "https://httpbin.org/post", "POST", 3, domain.BackoffExponential},
	{"seed-002", "https://httpbin.org/post", "POST", 3, domain.BackoffExponential},
	{"seed-003", "https://httpbin.org/get", "GET", 3, domain.BackoffExponential},

	// Will fail — server returns 500, triggers retries
	{"seed-004", "https://httpbin.org/status/500", "POST", 3, domain.BackoffExponential},
	{"seed-005", "https://httpbin.org/status/500", "POST", 2, domain.BackoffLinear},

	// Will fail — not found, no retries worth trying
	{"seed-006", "https://httpbin.org/status/404", "GET", 1, domain.BackoffLinear},

	// Mixed methods
	{"seed-007", "https://httpbin.org/put", "PUT", 3, domain.BackoffExponential},
	{"seed-008", "https://httpbin.org/delete", "DELETE", 3, domain.BackoffExponential},
}

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	descriptor, err := cfg.SchedulerDescriptor()
	if err != nil {
		log.Fatalf("backend descriptor: %v", err)
	}

	store, err := wiring.NewStore(ctx, descriptor)
	if err != nil {
		log.Fatalf("data store: %v", err)
	}

	broker, err := wiring.NewBroker(ctx, descriptor, func() int64 { return time.Now().UnixMilli() })
	if err != nil {
		log.Fatalf("event broker: %v", err)
	}

	registry := functionregistry.New()
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	httpRequestRef := domain.FunctionRef{ModulePath: "builtin", Symbol: "http_request"}
	registry.Register(httpRequestRef, functionregistry.NewHTTPRequestFunc(logger))

	qm := queuemanager.New(store, broker, registry, logger, []string{"default"})

	scheduledAt := time.Now().Add(time.Minute)

	var created []string
	for _, spec := range jobs {
		args, err := json.Marshal(map[string]any{
			"url":    spec.url,
			"method": spec.method,
		})
		if err != nil {
			log.Fatalf("marshal args for %s: %v", spec.key, err)
		}

		job, err := qm.AddJob(ctx, &domain.Job{
			UserID:            seedUserID,
			IdempotencyKey:    spec.key,
			FunctionRef:       httpRequestRef,
			KeywordArgs:       args,
			ScheduledFireTime: &scheduledAt,
			Retry:             domain.RetryPolicy{Max: spec.retries, Backoff: spec.backoff},
		})
		if err != nil {
			log.Fatalf("add job %s: %v", spec.key, err)
		}
		created = append(created, job.ID)
	}

	fmt.Println("Seed complete")
	fmt.Println()
	fmt.Printf("  User ID:      %s\n", seedUserID)
	fmt.Printf("  Jobs created: %d\n", len(created))
	fmt.Printf("  Scheduled at: %s  (~1 minute from now)\n", scheduledAt.Format(time.RFC3339))
	fmt.Println()
	fmt.Println("  Job IDs:")
	for _, id := range created {
		fmt.Printf("    %s\n", id)
	}
}
