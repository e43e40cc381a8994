package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/legout/flowerpower/internal/datastore"
)

// Reaper periodically rescues jobs whose worker stopped heartbeating,
// grounded on the teacher's scheduler.Reaper.
type Reaper struct {
	store            datastore.Store
	logger           *slog.Logger
	interval         time.Duration
	heartbeatTimeout time.Duration
	batchSize        int

	stop chan struct{}
	done chan struct{}
}

func NewReaper(store datastore.Store, logger *slog.Logger, interval, heartbeatTimeout time.Duration) *Reaper {
	return &Reaper{
		store:            store,
		logger:           logger.With("component", "reaper"),
		interval:         interval,
		heartbeatTimeout: heartbeatTimeout,
		batchSize:        100,
		stop:             make(chan struct{}),
		done:             make(chan struct{}),
	}
}

func (r *Reaper) Start(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("reaper started", "interval", r.interval, "heartbeat_timeout", r.heartbeatTimeout)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reaper shut down (context canceled)")
			return
		case <-r.stop:
			r.logger.Info("reaper shut down")
			return
		case <-ticker.C:
			r.reap(ctx)
		}
	}
}

func (r *Reaper) Stop() {
	close(r.stop)
	<-r.done
}

func (r *Reaper) reap(ctx context.Context) {
	staleCutoff := time.Now().Add(-r.heartbeatTimeout)

	rescued, err := r.store.RescueStaleJobs(ctx, staleCutoff, r.batchSize)
	if err != nil {
		r.logger.Error("rescue stale jobs", "error", err)
		return
	}
	if rescued > 0 {
		r.logger.Info("rescued stale jobs", "count", rescued)
	}
}
