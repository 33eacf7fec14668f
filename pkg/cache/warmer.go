package cache

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// WarmFunc re-executes one warming pattern's capability call with cache
// bypass, returning the fingerprint the result belongs under and the fresh
// value to write through every tier.
type WarmFunc func(ctx context.Context, pattern string) (fingerprint string, value []byte, err error)

// Warmer is the background scheduler from spec.md §4.2 "Background cache
// warming": a static configured pattern set plus a learned top-K set
// refreshed on a fixed interval, and time-sensitive static patterns also
// refreshed once an hour, counted from Start. The hourly pass is not aligned
// to hour or day boundaries, and learned patterns are not checked for time
// sensitivity. The learned set ranks patterns by their observation count
// since the Warmer was built; counts are never aged out. Modeled on the
// teacher's worker-pool
// start/stop-once shape (pkg/queue/pool.go), narrowed to a single
// scheduling goroutine since warming has no per-item concurrency need.
type Warmer struct {
	cache    *Cache
	fn       WarmFunc
	interval time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	static   []string
	learned  map[string]int64 // pattern -> observation count since construction

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// NewWarmer builds a Warmer. static is the configured pattern set; learned
// patterns are added via Observe as queries are served.
func NewWarmer(cache *Cache, fn WarmFunc, interval time.Duration, static []string) *Warmer {
	return &Warmer{
		cache:    cache,
		fn:       fn,
		interval: interval,
		logger:   slog.Default(),
		static:   static,
		learned:  make(map[string]int64),
	}
}

// Observe records a served query's alias for the learned top-K set.
func (w *Warmer) Observe(alias string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.learned[alias]++
}

// topK returns the k most frequently observed learned patterns.
func (w *Warmer) topK(k int) []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	type kv struct {
		pattern string
		count   int64
	}
	all := make([]kv, 0, len(w.learned))
	for p, c := range w.learned {
		all = append(all, kv{p, c})
	}
	for i := 0; i < len(all); i++ {
		for j := i + 1; j < len(all); j++ {
			if all[j].count > all[i].count {
				all[i], all[j] = all[j], all[i]
			}
		}
	}
	if k > len(all) {
		k = len(all)
	}
	out := make([]string, k)
	for i := 0; i < k; i++ {
		out[i] = all[i].pattern
	}
	return out
}

const learnedTopK = 20

// isTimeSensitive reports whether a pattern names a relative period
// ("today", "now", "this week"); Start's hourly pass refreshes such static
// patterns in addition to the fixed interval.
func isTimeSensitive(pattern string) bool {
	for _, kw := range []string{"today", "now", "this week", "this-week"} {
		if strings.Contains(strings.ToLower(pattern), kw) {
			return true
		}
	}
	return false
}

// Start launches the warming loop. Calling Start twice is a no-op.
func (w *Warmer) Start(ctx context.Context) {
	if w.cancel != nil {
		return
	}
	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})

	go func() {
		defer close(w.done)
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		hourly := time.NewTicker(time.Hour)
		defer hourly.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.runAll(ctx)
			case <-hourly.C:
				w.runTimeSensitive(ctx)
			}
		}
	}()
}

// Stop signals the warming loop to exit and waits for it to finish.
func (w *Warmer) Stop() {
	w.stopOnce.Do(func() {
		if w.cancel != nil {
			w.cancel()
			<-w.done
		}
	})
}

func (w *Warmer) runAll(ctx context.Context) {
	patterns := append(append([]string{}, w.static...), w.topK(learnedTopK)...)
	for _, p := range patterns {
		w.warmOne(ctx, p)
	}
}

func (w *Warmer) runTimeSensitive(ctx context.Context) {
	for _, p := range w.static {
		if isTimeSensitive(p) {
			w.warmOne(ctx, p)
		}
	}
}

// warmOne re-executes a pattern's call with cache bypass, logging (never
// surfacing) any failure, per spec.md §4.2.
func (w *Warmer) warmOne(ctx context.Context, pattern string) {
	fingerprint, value, err := w.fn(ctx, pattern)
	if err != nil {
		w.logger.Warn("cache warmer: pattern refresh failed", "pattern", pattern, "error", err)
		return
	}
	w.cache.PutWithAlias(ctx, fingerprint, pattern, value, 1.0)
}
