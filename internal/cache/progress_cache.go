// Package cache keeps a short-lived, per-department view of pending activities.
//
// The cache is derived state. Writers invalidate the departments they touched
// before returning, a background warmer refreshes entries ahead of expiry, and
// readers fall back to the last good result, or a smaller query, when the
// store is slow or down.
package cache

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/example/prodflow/backend/internal/logging"
	"github.com/example/prodflow/backend/internal/models"
)

// Loader fetches the pending activities of a department. A positive limit caps
// the result.
type Loader func(ctx context.Context, dept models.Department, limit int) ([]models.PendingOrder, error)

// Snapshot is one read of a department queue.
type Snapshot struct {
	Department models.Department     `json:"department"`
	Orders     []models.PendingOrder `json:"orders"`
	FetchedAt  time.Time             `json:"fetchedAt"`
	// Stale is set when the data is older than the TTL or was invalidated and
	// could not be reloaded.
	Stale bool `json:"stale"`
	// Partial is set when only the capped fallback query could be served.
	Partial bool `json:"partial"`
}

// Options tunes a ProgressCache.
type Options struct {
	TTL           time.Duration
	ReadTimeout   time.Duration
	FallbackLimit int
	Logger        *zap.Logger
	Now           func() time.Time
}

type entry struct {
	orders    []models.PendingOrder
	fetchedAt time.Time
	valid     bool
}

// ProgressCache is keyed by department.
type ProgressCache struct {
	load Loader
	opts Options
	log  *zap.Logger

	mu          sync.RWMutex
	entries     map[models.Department]entry
	generations map[models.Department]uint64

	group singleflight.Group
}

// New creates a cache on top of load.
func New(load Loader, opts Options) *ProgressCache {
	if opts.TTL <= 0 {
		opts.TTL = 5 * time.Second
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 2 * time.Second
	}
	if opts.FallbackLimit <= 0 {
		opts.FallbackLimit = 25
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &ProgressCache{
		load:        load,
		opts:        opts,
		log:         logging.OrNop(opts.Logger).Named("progress_cache"),
		entries:     make(map[models.Department]entry),
		generations: make(map[models.Department]uint64),
	}
}

// Get returns the pending queue of dept. It never fails: when the store cannot
// answer in time the last good data is returned marked Stale, or failing that
// a capped query marked Partial, or an empty Partial snapshot.
func (c *ProgressCache) Get(ctx context.Context, dept models.Department) Snapshot {
	c.mu.RLock()
	e, ok := c.entries[dept]
	c.mu.RUnlock()
	if ok && c.fresh(e) {
		return Snapshot{Department: dept, Orders: slices.Clone(e.orders), FetchedAt: e.fetchedAt}
	}

	orders, err := c.Refresh(ctx, dept)
	if err == nil {
		return Snapshot{Department: dept, Orders: slices.Clone(orders), FetchedAt: c.opts.Now()}
	}

	if ok {
		c.log.Warn("serving stale pending queue", zap.String("department", dept.String()), zap.Error(err))
		return Snapshot{Department: dept, Orders: slices.Clone(e.orders), FetchedAt: e.fetchedAt, Stale: true}
	}

	c.log.Warn("pending queue unavailable, trying capped query", zap.String("department", dept.String()), zap.Error(err))
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.ReadTimeout)
	defer cancel()
	orders, err = c.load(fctx, dept, c.opts.FallbackLimit)
	if err != nil {
		c.log.Warn("capped pending query failed", zap.String("department", dept.String()), zap.Error(err))
		return Snapshot{Department: dept, Orders: []models.PendingOrder{}, FetchedAt: c.opts.Now(), Partial: true}
	}
	return Snapshot{Department: dept, Orders: orders, FetchedAt: c.opts.Now(), Partial: true}
}

// Refresh reloads dept from the store and caches the result unless the
// department was invalidated while the load was running. Concurrent refreshes
// of the same department generation share one query.
func (c *ProgressCache) Refresh(ctx context.Context, dept models.Department) ([]models.PendingOrder, error) {
	c.mu.RLock()
	gen := c.generations[dept]
	c.mu.RUnlock()

	key := fmt.Sprintf("%s#%d", dept, gen)
	v, err, _ := c.group.Do(key, func() (any, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.ReadTimeout)
		defer cancel()
		orders, err := c.load(lctx, dept, 0)
		if err != nil {
			return nil, err
		}
		c.store(dept, gen, orders)
		return orders, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]models.PendingOrder), nil
}

func (c *ProgressCache) store(dept models.Department, gen uint64, orders []models.PendingOrder) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generations[dept] != gen {
		c.log.Debug("discarding refresh raced by invalidation", zap.String("department", dept.String()))
		return
	}
	c.entries[dept] = entry{orders: orders, fetchedAt: c.opts.Now(), valid: true}
}

// Invalidate marks the given departments for reload. The last data is kept
// only as a fallback for failed reloads.
func (c *ProgressCache) Invalidate(depts ...models.Department) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, dept := range depts {
		c.generations[dept]++
		if e, ok := c.entries[dept]; ok {
			e.valid = false
			c.entries[dept] = e
		}
	}
	c.log.Debug("invalidated departments", zap.Any("departments", depts))
}

// Peek returns the cached entry of dept without loading. Stale reports whether
// the entry was invalidated since it was loaded; age is left to the caller.
func (c *ProgressCache) Peek(dept models.Department) (Snapshot, bool) {
	c.mu.RLock()
	e, ok := c.entries[dept]
	c.mu.RUnlock()
	if !ok {
		return Snapshot{Department: dept}, false
	}
	return Snapshot{Department: dept, Orders: e.orders, FetchedAt: e.fetchedAt, Stale: !e.valid}, true
}

func (c *ProgressCache) fresh(e entry) bool {
	return e.valid && c.opts.Now().Sub(e.fetchedAt) < c.opts.TTL
}
