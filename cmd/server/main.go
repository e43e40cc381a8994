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
	"github.com/legout/flowerpower/internal/backend"
	"github.com/legout/flowerpower/internal/domain"
	"github.com/legout/flowerpower/internal/email"
	"github.com/legout/flowerpower/internal/functionregistry"
	"github.com/legout/flowerpower/internal/health"
	httptransport "github.com/legout/flowerpower/internal/http"
	"github.com/legout/flowerpower/internal/http/handler"
	"github.com/legout/flowerpower/internal/infrastructure/postgres"
	ctxlog "github.com/legout/flowerpower/internal/log"
	"github.com/legout/flowerpower/internal/metrics"
	"github.com/legout/flowerpower/internal/queuemanager"
	"github.com/legout/flowerpower/internal/repository"
	"github.com/legout/flowerpower/internal/usecase"
	"github.com/legout/flowerpower/internal/wiring"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
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

	registry := functionregistry.New()
	registry.Register(domain.FunctionRef{ModulePath: "builtin", Symbol: "http_request"}, functionregistry.NewHTTPRequestFunc(logger))

	qm := queuemanager.New(store, broker, registry, logger, []string{"default"})

	jobUsecase := usecase.NewJobUsecase(qm)
	jobHandler := handler.NewJobHandler(jobUsecase, logger)

	scheduleUsecase := usecase.NewScheduleUsecase(qm)
	scheduleHandler := handler.NewScheduleHandler(scheduleUsecase, logger)

	// Auth — the legacy HS256 magic-link flow still backs local dev; Clerk
	// JWKS verification bypasses it in staging/production. User records
	// persist to Postgres when that's the scheduler backend, otherwise fall
	// back to an in-process map.
	userRepo, err := newUserRepo(ctx, descriptor)
	if err != nil {
		log.Fatalf("user repository: %v", err)
	}
	emailSender := email.NewSender(cfg.Env, cfg.ResendAPIKey, cfg.ResendFrom, logger)
	authUsecase := usecase.NewAuthUsecase(userRepo, emailSender, []byte(cfg.JWTSecret), cfg.MagicLinkBase)
	authHandler := handler.NewAuthHandler(authUsecase, logger)

	metrics.Register()
	checker := health.NewChecker(wiring.NewPinger(store), logger, prometheus.DefaultRegisterer)

	router := httptransport.NewRouter(logger, jobHandler, scheduleHandler, authHandler, userRepo, cfg.ClerkJWKSURL, []byte(cfg.JWTSecret))

	srv := http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	metricsSrv := metrics.NewServer(":"+cfg.MetricsPort, checker)

	go func() {
		logger.Info("server started", "port", cfg.Port, "backend", descriptor.Kind)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	go func() {
		logger.Info("metrics server started", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()

	<-ctx.Done()
	stop()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "error", err)
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown", "error", err)
	}
}

// newUserRepo picks a durable Postgres-backed repository when the scheduler
// backend is Postgres, and an in-memory one for every other backend kind.
func newUserRepo(ctx context.Context, descriptor *backend.Descriptor) (repository.UserRepository, error) {
	if descriptor.Kind != backend.KindPostgreSQL {
		return repository.NewInMemoryUserRepository(), nil
	}

	pool, err := postgres.NewPool(ctx, descriptor.URI)
	if err != nil {
		return nil, err
	}
	return postgres.NewUserRepository(pool), nil
}

func newLogger(env string, level slog.Level) *slog.Logger {
	var inner slog.Handler
	if env == "local" {
		inner = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	} else {
		inner = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	return slog.New(ctxlog.NewContextHandler(inner))
}
