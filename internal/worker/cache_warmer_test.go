package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/example/prodflow/backend/internal/cache"
	"github.com/example/prodflow/backend/internal/models"
)

type stubCache struct {
	mu        sync.Mutex
	snaps     map[models.Department]cache.Snapshot
	refreshed []models.Department
	failing   map[models.Department]bool
}

func (s *stubCache) Refresh(ctx context.Context, dept models.Department) ([]models.PendingOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshed = append(s.refreshed, dept)
	if s.failing[dept] {
		return nil, errors.New("timeout")
	}
	return nil, nil
}

func (s *stubCache) Peek(dept models.Department) (cache.Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snaps[dept]
	return snap, ok
}

func backlog(n int) []models.PendingOrder { return make([]models.PendingOrder, n) }

func TestPollRefreshesDueDepartments(t *testing.T) {
	now := time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC)
	stub := &stubCache{
		snaps: map[models.Department]cache.Snapshot{
			// fresh, small backlog
			models.DepartmentGabarito: {FetchedAt: now.Add(-time.Second), Orders: backlog(2)},
			// old enough for the short interval
			models.DepartmentImpressao: {FetchedAt: now.Add(-4 * time.Second), Orders: backlog(2)},
			// large backlog, not yet due on the long interval
			models.DepartmentBatida: {FetchedAt: now.Add(-4 * time.Second), Orders: backlog(80)},
			// invalidated
			models.DepartmentCostura: {FetchedAt: now, Stale: true},
			// embalagem missing entirely
		},
		failing: map[models.Department]bool{models.DepartmentCostura: true},
	}
	w := NewCacheWarmer(stub, WarmerOptions{Interval: 3 * time.Second, LargeBacklog: 50, LargeInterval: 10 * time.Second}, nil)
	w.now = func() time.Time { return now }

	w.poll(context.Background())

	assert.Equal(t, []models.Department{
		models.DepartmentImpressao,
		models.DepartmentCostura,
		models.DepartmentEmbalagem,
	}, stub.refreshed)
}

func TestIntervalForBacklog(t *testing.T) {
	w := NewCacheWarmer(&stubCache{}, WarmerOptions{Interval: 2 * time.Second, LargeBacklog: 10, LargeInterval: time.Second}, nil)
	// a long interval shorter than the base one is raised to it
	assert.Equal(t, 2*time.Second, w.intervalFor(11))
	assert.Equal(t, 2*time.Second, w.intervalFor(3))
	assert.GreaterOrEqual(t, w.opts.Tick, 100*time.Millisecond)
}

func TestRunStopsOnCancel(t *testing.T) {
	stub := &stubCache{snaps: map[models.Department]cache.Snapshot{}}
	w := NewCacheWarmer(stub, WarmerOptions{Interval: time.Hour}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("warmer did not stop")
	}
}
