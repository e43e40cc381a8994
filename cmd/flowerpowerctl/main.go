// flowerpowerctl is the operational CLI surface for a running flowerpower
// deployment: start a worker pool or the full scheduler process in the
// foreground, or issue one-off control/introspection commands (cancel,
// delete, pause, resume, list) against the configured backend.
//
// Exit codes: 0 success, 1 invocation error (bad args), 2 backend
// unavailable or command failed against it.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/legout/flowerpower/config"
	"github.com/legout/flowerpower/internal/datastore"
	"github.com/legout/flowerpower/internal/domain"
	"github.com/legout/flowerpower/internal/eventbroker"
	"github.com/legout/flowerpower/internal/functionregistry"
	"github.com/legout/flowerpower/internal/health"
	"github.com/legout/flowerpower/internal/metrics"
	"github.com/legout/flowerpower/internal/queuemanager"
	"github.com/legout/flowerpower/internal/wiring"
	"github.com/legout/flowerpower/internal/worker"
)

const usage = `flowerpowerctl <command> [args]

Commands:
  start-worker                 run a worker pool in the foreground
  start-scheduler               run worker pool + reaper + dispatcher in the foreground
  cancel-job <id>                cancel a queued or deferred job
  delete-job <id>                delete a job record
  get-job-result <id> [--wait] [--delete-after]
                                  print a job's result, optionally blocking
                                  until it finishes and/or purging it after
  pause-schedule <id>             pause a schedule
  resume-schedule <id>            resume a paused schedule
  show-jobs [user-id]             list jobs as a table
  show-schedules [user-id]        list schedules as a table
  show-job-ids [user-id]          list job IDs, one per line
  show-schedule-ids [user-id]     list schedule IDs, one per line
`

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return 1
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	descriptor, err := cfg.SchedulerDescriptor()
	if err != nil {
		fmt.Fprintf(os.Stderr, "backend descriptor: %v\n", err)
		return 1
	}

	store, err := wiring.NewStore(ctx, descriptor)
	if err != nil {
		fmt.Fprintf(os.Stderr, "data store: %v\n", err)
		return 2
	}

	broker, err := wiring.NewBroker(ctx, descriptor, func() int64 { return time.Now().UnixMilli() })
	if err != nil {
		fmt.Fprintf(os.Stderr, "event broker: %v\n", err)
		return 2
	}

	cmd, rest := args[0], args[1:]

	switch cmd {
	case "start-worker":
		return startWorker(ctx, cfg, store, broker, logger)
	case "start-scheduler":
		return startScheduler(ctx, cfg, store, broker, logger)
	case "cancel-job":
		return jobCommand(ctx, store, broker, logger, rest, func(qm *queuemanager.Manager, id string) error {
			return qm.CancelJob(ctx, id)
		})
	case "delete-job":
		return jobCommand(ctx, store, broker, logger, rest, func(qm *queuemanager.Manager, id string) error {
			return qm.DeleteJob(ctx, id)
		})
	case "get-job-result":
		return getJobResult(ctx, store, broker, logger, rest)
	case "pause-schedule":
		return jobCommand(ctx, store, broker, logger, rest, func(qm *queuemanager.Manager, id string) error {
			return qm.PauseSchedule(ctx, id)
		})
	case "resume-schedule":
		return jobCommand(ctx, store, broker, logger, rest, func(qm *queuemanager.Manager, id string) error {
			return qm.ResumeSchedule(ctx, id)
		})
	case "show-jobs":
		return showJobs(ctx, store, broker, logger, rest, true)
	case "show-job-ids":
		return showJobs(ctx, store, broker, logger, rest, false)
	case "show-schedules":
		return showSchedules(ctx, store, broker, logger, rest, true)
	case "show-schedule-ids":
		return showSchedules(ctx, store, broker, logger, rest, false)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		return 1
	}
}

func newManager(store datastore.Store, broker eventbroker.Broker, logger *slog.Logger) *queuemanager.Manager {
	registry := functionregistry.New()
	registry.Register(domain.FunctionRef{ModulePath: "builtin", Symbol: "http_request"}, functionregistry.NewHTTPRequestFunc(logger))
	return queuemanager.New(store, broker, registry, logger, []string{"default"})
}

func jobCommand(ctx context.Context, store datastore.Store, broker eventbroker.Broker, logger *slog.Logger, args []string, fn func(*queuemanager.Manager, string) error) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "expected exactly one ID argument")
		return 1
	}
	qm := newManager(store, broker, logger)
	if err := fn(qm, args[0]); err != nil {
		fmt.Fprintf(os.Stderr, "command failed: %v\n", err)
		return 2
	}
	fmt.Println("OK")
	return 0
}

// getJobResult implements get_job_result(id, wait?, delete_after?) for the
// CLI surface: the ID is the first positional argument, --wait and
// --delete-after are optional trailing flags in either order.
func getJobResult(ctx context.Context, store datastore.Store, broker eventbroker.Broker, logger *slog.Logger, args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "expected a job id argument")
		return 1
	}
	id := args[0]
	var wait, deleteAfter bool
	for _, a := range args[1:] {
		switch a {
		case "--wait":
			wait = true
		case "--delete-after":
			deleteAfter = true
		default:
			fmt.Fprintf(os.Stderr, "unknown flag %q\n", a)
			return 1
		}
	}

	qm := newManager(store, broker, logger)
	job, err := qm.GetJobResult(ctx, id, wait, deleteAfter)
	if err != nil {
		fmt.Fprintf(os.Stderr, "get job result: %v\n", err)
		return 2
	}
	if job == nil {
		fmt.Println("not finished yet")
		return 0
	}
	fmt.Printf("status=%s result=%s\n", job.Status, string(job.ResultValue))
	return 0
}

func showJobs(ctx context.Context, store datastore.Store, broker eventbroker.Broker, logger *slog.Logger, args []string, table bool) int {
	var userID string
	if len(args) == 1 {
		userID = args[0]
	}
	qm := newManager(store, broker, logger)
	jobs, err := qm.GetJobs(ctx, datastore.ListJobsInput{UserID: userID, Limit: 100})
	if err != nil {
		fmt.Fprintf(os.Stderr, "list jobs: %v\n", err)
		return 2
	}
	if table {
		fmt.Print(queuemanager.FormatJobsTable(jobs))
		return 0
	}
	for _, j := range jobs {
		fmt.Println(j.ID)
	}
	return 0
}

func showSchedules(ctx context.Context, store datastore.Store, broker eventbroker.Broker, logger *slog.Logger, args []string, table bool) int {
	var userID string
	if len(args) == 1 {
		userID = args[0]
	}
	qm := newManager(store, broker, logger)
	scheds, err := qm.GetSchedules(ctx, datastore.ListSchedulesInput{UserID: userID, Limit: 100})
	if err != nil {
		fmt.Fprintf(os.Stderr, "list schedules: %v\n", err)
		return 2
	}
	if table {
		fmt.Print(queuemanager.FormatSchedulesTable(scheds))
		return 0
	}
	for _, s := range scheds {
		fmt.Println(s.ID)
	}
	return 0
}

func startWorker(ctx context.Context, cfg *config.Config, store datastore.Store, broker eventbroker.Broker, logger *slog.Logger) int {
	registry := functionregistry.New()
	registry.Register(domain.FunctionRef{ModulePath: "builtin", Symbol: "http_request"}, functionregistry.NewHTTPRequestFunc(logger))

	pool := worker.NewPool("flowerpowerctl-worker", store, broker, registry, logger,
		[]string{"default"}, time.Duration(cfg.PollIntervalSec)*time.Second, cfg.WorkerCount)
	runWithMetrics(ctx, cfg, store, logger, func(ctx context.Context) { pool.Start(ctx) })
	return 0
}

func startScheduler(ctx context.Context, cfg *config.Config, store datastore.Store, broker eventbroker.Broker, logger *slog.Logger) int {
	registry := functionregistry.New()
	registry.Register(domain.FunctionRef{ModulePath: "builtin", Symbol: "http_request"}, functionregistry.NewHTTPRequestFunc(logger))

	pool := worker.NewPool("flowerpowerctl-scheduler", store, broker, registry, logger,
		[]string{"default"}, time.Duration(cfg.PollIntervalSec)*time.Second, cfg.WorkerCount)
	reaper := worker.NewReaper(store, logger,
		time.Duration(cfg.ReapIntervalSec)*time.Second, time.Duration(cfg.HeartbeatTimeoutSec)*time.Second)
	dispatcher := worker.NewDispatcher(store, broker, logger, time.Duration(cfg.DispatchIntervalSec)*time.Second)

	runWithMetrics(ctx, cfg, store, logger, func(ctx context.Context) {
		go reaper.Start(ctx)
		go dispatcher.Start(ctx)
		pool.Start(ctx)
	})
	return 0
}

// runWithMetrics starts the health/metrics server alongside the given
// foreground loop and blocks until ctx is cancelled.
func runWithMetrics(ctx context.Context, cfg *config.Config, store datastore.Store, logger *slog.Logger, loop func(context.Context)) {
	metrics.Register()
	checker := health.NewChecker(wiring.NewPinger(store), logger, prometheus.DefaultRegisterer)
	metricsSrv := metrics.NewServer(":"+cfg.MetricsPort, checker)
	go func() {
		logger.Info("metrics server started", "port", cfg.MetricsPort)
		_ = metricsSrv.ListenAndServe()
	}()

	loop(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
}
