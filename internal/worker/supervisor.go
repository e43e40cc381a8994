package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/legout/flowerpower/internal/datastore"
	"github.com/legout/flowerpower/internal/eventbroker"
	"github.com/legout/flowerpower/internal/functionregistry"
)

// Supervisor owns the lifecycle of named worker pools, spawning one
// goroutine per pool and restarting the bookkeeping needed for an
// operator to start/stop individual workers or the whole pool, per
// spec.md's worker-control operations.
type Supervisor struct {
	store    datastore.Store
	broker   eventbroker.Broker
	registry *functionregistry.Registry
	logger   *slog.Logger

	mu      sync.Mutex
	pools   map[string]*runningPool
	cancel  map[string]context.CancelFunc
}

type runningPool struct {
	pool *Pool
	wg   sync.WaitGroup
}

func NewSupervisor(store datastore.Store, broker eventbroker.Broker, registry *functionregistry.Registry, logger *slog.Logger) *Supervisor {
	return &Supervisor{
		store:    store,
		broker:   broker,
		registry: registry,
		logger:   logger.With("component", "worker_supervisor"),
		pools:    make(map[string]*runningPool),
		cancel:   make(map[string]context.CancelFunc),
	}
}

// StartWorker launches a single named worker pool with the given queues,
// poll interval, and concurrency. It is a no-op (returning an error) if a
// worker with that id is already running.
func (s *Supervisor) StartWorker(id string, queueNames []string, pollInterval time.Duration, concurrency int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.pools[id]; exists {
		return fmt.Errorf("worker %q is already running", id)
	}

	pool := NewPool(id, s.store, s.broker, s.registry, s.logger, queueNames, pollInterval, concurrency)
	ctx, cancel := context.WithCancel(context.Background())
	rp := &runningPool{pool: pool}
	rp.wg.Add(1)
	go func() {
		defer rp.wg.Done()
		pool.Start(ctx)
	}()

	s.pools[pool.ID] = rp
	s.cancel[pool.ID] = cancel
	s.logger.Info("worker started", "worker_id", pool.ID)
	return nil
}

// StartWorkerPool launches n identically-configured workers, suffixing
// each generated id, and returns their ids.
func (s *Supervisor) StartWorkerPool(n int, queueNames []string, pollInterval time.Duration, concurrency int) ([]string, error) {
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("pool-%d-%d", time.Now().UnixNano(), i)
		if err := s.StartWorker(id, queueNames, pollInterval, concurrency); err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// StopWorker requests cooperative shutdown of the named worker, waiting
// up to 10s for its current batch to drain before the pool's own Stop
// forcefully returns.
func (s *Supervisor) StopWorker(id string) error {
	s.mu.Lock()
	rp, exists := s.pools[id]
	cancel := s.cancel[id]
	if exists {
		delete(s.pools, id)
		delete(s.cancel, id)
	}
	s.mu.Unlock()

	if !exists {
		return fmt.Errorf("worker %q is not running", id)
	}

	rp.pool.Stop()
	cancel()
	rp.wg.Wait()
	s.logger.Info("worker stopped", "worker_id", id)
	return nil
}

// StopWorkerPool stops every currently running worker.
func (s *Supervisor) StopWorkerPool() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.pools))
	for id := range s.pools {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		if err := s.StopWorker(id); err != nil {
			s.logger.Warn("stop worker failed", "worker_id", id, "error", err)
		}
	}
}

// RunningWorkers returns the ids of all currently running workers.
func (s *Supervisor) RunningWorkers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.pools))
	for id := range s.pools {
		ids = append(ids, id)
	}
	return ids
}
