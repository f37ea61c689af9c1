package statusworker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"fibermap/core-go/internal/topology"
)

type fakeRefresher struct {
	resolveFn func(ctx context.Context, ids []string) (map[string]topology.Status, error)
	applyFn   func(ctx context.Context, statuses map[string]topology.Status) (int, error)
}

func (f *fakeRefresher) ResolveStatuses(ctx context.Context, ids []string) (map[string]topology.Status, error) {
	return f.resolveFn(ctx, ids)
}

func (f *fakeRefresher) ApplyStatuses(ctx context.Context, statuses map[string]topology.Status) (int, error) {
	if f.applyFn == nil {
		return 0, nil
	}
	return f.applyFn(ctx, statuses)
}

func TestBackoffDuration(t *testing.T) {
	base := time.Second
	ceiling := 20 * time.Second
	if got := backoffDuration(base, ceiling, 0); got != base {
		t.Fatalf("expected base, got %s", got)
	}
	if got := backoffDuration(base, ceiling, 2); got != 4*time.Second {
		t.Fatalf("expected 4s, got %s", got)
	}
	if got := backoffDuration(base, ceiling, 10); got != ceiling {
		t.Fatalf("expected ceiling, got %s", got)
	}
}

func TestRunOnce_ResolvesEverythingAndApplies(t *testing.T) {
	var gotIDs []string
	var applied map[string]topology.Status
	f := &fakeRefresher{
		resolveFn: func(_ context.Context, ids []string) (map[string]topology.Status, error) {
			gotIDs = ids
			return map[string]topology.Status{"onu-1": topology.StatusOnline}, nil
		},
		applyFn: func(_ context.Context, statuses map[string]topology.Status) (int, error) {
			applied = statuses
			return 1, nil
		},
	}
	w := New(zerolog.Nop(), f, Options{}, nil)

	changed, err := w.runOnce(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if changed != 1 || gotIDs != nil || applied["onu-1"] != topology.StatusOnline {
		t.Fatalf("unexpected run: changed=%d ids=%v applied=%v", changed, gotIDs, applied)
	}
}

func TestRunOnce_ResolveFailureSkipsApply(t *testing.T) {
	f := &fakeRefresher{
		resolveFn: func(context.Context, []string) (map[string]topology.Status, error) {
			return nil, context.DeadlineExceeded
		},
		applyFn: func(context.Context, map[string]topology.Status) (int, error) {
			t.Fatalf("apply should not run after a failed resolve")
			return 0, nil
		},
	}
	w := New(zerolog.Nop(), f, Options{}, nil)
	if _, err := w.runOnce(context.Background()); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
}

func TestRun_TicksUntilCancelled(t *testing.T) {
	var runs int32
	ctx, cancel := context.WithCancel(context.Background())
	f := &fakeRefresher{
		resolveFn: func(context.Context, []string) (map[string]topology.Status, error) {
			if atomic.AddInt32(&runs, 1) >= 3 {
				cancel()
			}
			return map[string]topology.Status{}, nil
		},
	}
	w := New(zerolog.Nop(), f, Options{Interval: time.Millisecond}, nil)

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("worker did not stop after cancellation")
	}
	if atomic.LoadInt32(&runs) < 3 {
		t.Fatalf("expected at least 3 runs, got %d", runs)
	}
}

func TestRun_NilWorkerReturns(t *testing.T) {
	var w *Worker
	w.Run(context.Background())
}
