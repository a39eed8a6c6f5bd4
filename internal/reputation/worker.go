package reputation

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultWarmCount is how many of the most reported receivers the worker
// keeps warm in the cache.
const DefaultWarmCount = 200

// Primer is implemented by stores that can be pre-filled, e.g. CachedStore.
type Primer interface {
	Prime(ctx context.Context, recs []*Record)
}

// Worker periodically refreshes the suspicious-receiver gauge and warms the
// cache with the most reported receivers.
type Worker struct {
	service  *Service
	cache    Primer
	count    int
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	stopOnce sync.Once
}

// NewWorker creates a reputation refresh worker. cache may be nil.
func NewWorker(service *Service, cache Primer, interval time.Duration, logger *slog.Logger) *Worker {
	return &Worker{
		service:  service,
		cache:    cache,
		count:    DefaultWarmCount,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Start begins the refresh loop. Call in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// Run once immediately on start
	w.refresh(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
			w.refresh(ctx)
		}
	}
}

// Stop signals the worker to stop. Safe to call more than once.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
}

func (w *Worker) refresh(ctx context.Context) {
	recs, err := w.service.Top(ctx, w.count)
	if err != nil {
		w.logger.Warn("reputation refresh failed to list receivers", "error", err)
		return
	}

	suspicious := 0
	for _, rec := range recs {
		if w.service.Suspicious(rec) {
			suspicious++
		}
	}
	suspiciousReceivers.Set(float64(suspicious))

	if w.cache != nil && len(recs) > 0 {
		w.cache.Prime(ctx, recs)
	}
	w.logger.Debug("reputation refreshed", "receivers", len(recs), "suspicious", suspicious)
}
