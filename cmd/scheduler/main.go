package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/legout/flowerpower/config"
	"github.com/legout/flowerpower/internal/domain"
	"github.com/legout/flowerpower/internal/functionregistry"
	"github.com/legout/flowerpower/internal/health"
	ctxlog "github.com/legout/flowerpower/internal/log"
	"github.com/legout/flowerpower/internal/metrics"
	"github.com/legout/flowerpower/internal/wiring"
	"github.com/legout/flowerpower/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := newLogger(cfg.Env, cfg.SlogLevel())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	logger.Info("backend connected", "kind", descriptor.Kind)

	registry := functionregistry.New()
	registry.Register(domain.FunctionRef{ModulePath: "builtin", Symbol: "http_request"}, functionregistry.NewHTTPRequestFunc(logger))

	metrics.Register()
	checker := health.NewChecker(wiring.NewPinger(store), logger, prometheus.DefaultRegisterer)

	wpool := worker.NewPool("scheduler-worker", store, broker, registry, logger,
		[]string{"default"}, time.Duration(cfg.PollIntervalSec)*time.Second, cfg.WorkerCount)
	go wpool.Start(ctx)

	reaper := worker.NewReaper(store, logger,
		time.Duration(cfg.ReapIntervalSec)*time.Second, time.Duration(cfg.HeartbeatTimeoutSec)*time.Second)
	go reaper.Start(ctx)

	dispatcher := worker.NewDispatcher(store, broker, logger, time.Duration(cfg.DispatchIntervalSec)*time.Second)
	go dispatcher.Start(ctx)

	metricsSrv := metrics.NewServer(":"+cfg.MetricsPort, checker)
	go func() {
		logger.Info("metrics server started", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()

	<-ctx.Done()
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown", "error", err)
	}

	logger.Info("scheduler shut down")
}

func newLogger(env string, level slog.Level) *slog.Logger {
	var inner slog.Handler
	if env == "local" {
		inner = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	} else {
		inner = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}
	return slog.New(ctxlog.NewContextHandler(inner))
}
