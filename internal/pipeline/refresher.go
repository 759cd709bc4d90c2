package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/incubator.report/internal/monitoring"
	"github.com/banshee-data/incubator.report/internal/timeutil"
)

// Refresher recomputes a value on a ticker and on demand. Runs may overlap;
// a finished run is applied only if no later run has started since, so the
// published value always comes from the newest request. In-flight runs are
// not cancelled and a superseded result is discarded whole.
type Refresher[T any] struct {
	clock    timeutil.Clock
	interval time.Duration
	compute  func(ctx context.Context) (T, error)
	metrics  *monitoring.Metrics

	token   atomic.Uint64
	trigger chan struct{}
	wg      sync.WaitGroup

	mu      sync.RWMutex
	latest  T
	updated time.Time
	lastErr error
	ok      bool
}

// NewRefresher returns a refresher that calls compute every interval once
// Run is started.
func NewRefresher[T any](clock timeutil.Clock, interval time.Duration, compute func(ctx context.Context) (T, error), metrics *monitoring.Metrics) *Refresher[T] {
	return &Refresher[T]{
		clock:    clock,
		interval: interval,
		compute:  compute,
		metrics:  metrics,
		trigger:  make(chan struct{}, 1),
	}
}

// Refresh runs compute now and reports whether its result was published.
// A run overtaken by a newer one returns false and a nil error.
func (r *Refresher[T]) Refresh(ctx context.Context) (bool, error) {
	token := r.token.Add(1)
	start := time.Now()
	v, err := r.compute(ctx)
	r.metrics.Since("refresh", start)

	if r.token.Load() != token {
		return false, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	// re-check under the lock so an older run cannot overwrite a newer one
	if r.token.Load() != token {
		return false, nil
	}
	if err != nil {
		r.lastErr = err
		return false, err
	}
	r.latest = v
	r.updated = r.clock.Now()
	r.lastErr = nil
	r.ok = true
	return true, nil
}

// Trigger asks Run for an immediate refresh without waiting for it.
// Requests made while one is pending are coalesced.
func (r *Refresher[T]) Trigger() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

// Latest returns the newest published value and when it was computed. ok
// is false until the first successful run.
func (r *Refresher[T]) Latest() (v T, updated time.Time, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.latest, r.updated, r.ok
}

// Err returns the error of the newest run, if it failed.
func (r *Refresher[T]) Err() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastErr
}

// Run refreshes once immediately, then on every tick and trigger, until ctx
// is cancelled. It waits for in-flight runs before returning.
func (r *Refresher[T]) Run(ctx context.Context) {
	ticker := r.clock.NewTicker(r.interval)
	defer ticker.Stop()
	defer r.wg.Wait()

	r.spawn(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			r.spawn(ctx)
		case <-r.trigger:
			r.spawn(ctx)
		}
	}
}

func (r *Refresher[T]) spawn(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if _, err := r.Refresh(ctx); err != nil && ctx.Err() == nil {
			monitoring.Logf("pipeline: refresh failed: %v", err)
		}
	}()
}
