package statusworker

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"fibermap/core-go/internal/metrics"
	"fibermap/core-go/internal/topology"
)

// Refresher is the slice of network.Service the worker drives.
type Refresher interface {
	ResolveStatuses(ctx context.Context, ids []string) (map[string]topology.Status, error)
	ApplyStatuses(ctx context.Context, statuses map[string]topology.Status) (int, error)
}

type Worker struct {
	log        zerolog.Logger
	svc        Refresher
	interval   time.Duration
	maxRuntime time.Duration
	maxBackoff time.Duration
	metrics    *metrics.Metrics
}

type Options struct {
	Interval   time.Duration
	MaxRuntime time.Duration
	MaxBackoff time.Duration
}

func New(log zerolog.Logger, svc Refresher, opts Options, m *metrics.Metrics) *Worker {
	interval := opts.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	mr := opts.MaxRuntime
	if mr <= 0 {
		mr = 30 * time.Second
	}
	mb := opts.MaxBackoff
	if mb <= 0 {
		mb = 10 * time.Minute
	}
	return &Worker{
		log:        log,
		svc:        svc,
		interval:   interval,
		maxRuntime: mr,
		maxBackoff: mb,
		metrics:    m,
	}
}

// Run refreshes every item's status each interval until ctx is done. Consecutive failures back
// off exponentially up to maxBackoff.
func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.svc == nil {
		return
	}

	timer := time.NewTimer(w.interval)
	defer timer.Stop()

	var consecutiveFailures int
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if _, err := w.runOnce(ctx); err != nil {
			consecutiveFailures++
		} else {
			consecutiveFailures = 0
		}

		timer.Reset(backoffDuration(w.interval, w.maxBackoff, consecutiveFailures))
	}
}

func backoffDuration(base, ceiling time.Duration, failures int) time.Duration {
	if base <= 0 {
		base = time.Minute
	}
	if failures <= 0 {
		return base
	}

	if failures > 6 {
		failures = 6
	}
	d := base * time.Duration(1<<failures)
	if d > ceiling {
		return ceiling
	}
	return d
}

// runOnce resolves and persists one round, returning how many items changed.
func (w *Worker) runOnce(ctx context.Context) (int, error) {
	w.metrics.IncStatusRun()
	start := time.Now()
	defer func() {
		w.metrics.ObserveStatusRunDuration(time.Since(start))
	}()

	execCtx, cancel := context.WithTimeout(ctx, w.maxRuntime)
	defer cancel()

	statuses, err := w.svc.ResolveStatuses(execCtx, nil)
	if err != nil {
		w.log.Error().Err(err).Msg("status worker failed to resolve statuses")
		return 0, err
	}
	changed, err := w.svc.ApplyStatuses(execCtx, statuses)
	if err != nil {
		w.log.Error().Err(err).Int("changed", changed).Msg("status worker failed to persist statuses")
		return changed, err
	}

	w.log.Debug().Int("items", len(statuses)).Int("changed", changed).Dur("took", time.Since(start)).Msg("status refresh complete")
	return changed, nil
}
