package worker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/prodflow/backend/internal/cache"
	"github.com/example/prodflow/backend/internal/logging"
	"github.com/example/prodflow/backend/internal/models"
)

// Refresher is the part of the progress cache the warmer drives.
type Refresher interface {
	Refresh(ctx context.Context, dept models.Department) ([]models.PendingOrder, error)
	Peek(dept models.Department) (cache.Snapshot, bool)
}

// WarmerOptions tunes how often each department is refreshed.
type WarmerOptions struct {
	// Tick is how often entries are inspected.
	Tick time.Duration
	// Interval is the refresh age for departments with a small backlog.
	Interval time.Duration
	// LargeBacklog is the queue length above which LargeInterval applies.
	LargeBacklog int
	// LargeInterval trades freshness for load on long queues.
	LargeInterval time.Duration
}

// CacheWarmer periodically refreshes department queues ahead of reads.
type CacheWarmer struct {
	id    string
	cache Refresher
	opts  WarmerOptions
	now   func() time.Time
	log   *zap.Logger
}

// NewCacheWarmer creates the warmer with random identifier.
func NewCacheWarmer(c Refresher, opts WarmerOptions, log *zap.Logger) *CacheWarmer {
	if opts.Interval <= 0 {
		opts.Interval = 3 * time.Second
	}
	if opts.LargeInterval < opts.Interval {
		opts.LargeInterval = opts.Interval
	}
	if opts.Tick <= 0 {
		opts.Tick = opts.Interval / 3
	}
	if opts.Tick < 100*time.Millisecond {
		opts.Tick = 100 * time.Millisecond
	}
	id := uuid.New().String()
	return &CacheWarmer{
		id:    id,
		cache: c,
		opts:  opts,
		now:   time.Now,
		log:   logging.OrNop(log).Named("cache_warmer").With(zap.String("warmer_id", id)),
	}
}

// Run starts the refresh loop and should be launched in its own goroutine.
func (w *CacheWarmer) Run(ctx context.Context) {
	ticker := time.NewTicker(w.opts.Tick)
	defer ticker.Stop()

	w.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			w.log.Info("cache warmer shutting down")
			return
		case <-ticker.C:
			w.poll(ctx)
		}
	}
}

func (w *CacheWarmer) poll(ctx context.Context) {
	for _, dept := range models.Departments() {
		if ctx.Err() != nil {
			return
		}
		if !w.due(dept) {
			continue
		}
		orders, err := w.cache.Refresh(ctx, dept)
		if err != nil {
			w.log.Warn("refresh failed", zap.String("department", dept.String()), zap.Error(err))
			continue
		}
		w.log.Debug("refreshed", zap.String("department", dept.String()), zap.Int("pending", len(orders)))
	}
}

// due reports whether dept should be reloaded on this tick.
func (w *CacheWarmer) due(dept models.Department) bool {
	snap, ok := w.cache.Peek(dept)
	if !ok || snap.Stale {
		return true
	}
	return w.now().Sub(snap.FetchedAt) >= w.intervalFor(len(snap.Orders))
}

func (w *CacheWarmer) intervalFor(backlog int) time.Duration {
	if w.opts.LargeBacklog > 0 && backlog > w.opts.LargeBacklog {
		return w.opts.LargeInterval
	}
	return w.opts.Interval
}
