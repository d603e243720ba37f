package relay

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestDispatchQueueRunsWorkAndReturnsResult(t *testing.T) {
	q := newDispatchQueue(zap.NewNop())
	id, err := q.Submit(context.Background(), "dest1", func(ctx context.Context) (string, error) {
		return "msg1", nil
	})
	if err != nil || id != "msg1" {
		t.Fatalf("Submit = (%q, %v), want (msg1, nil)", id, err)
	}
}

func TestDispatchQueuePropagatesWorkError(t *testing.T) {
	q := newDispatchQueue(zap.NewNop())
	wantErr := errors.New("boom")
	_, err := q.Submit(context.Background(), "dest1", func(ctx context.Context) (string, error) {
		return "", wantErr
	})
	if err != wantErr {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
}

func TestDispatchQueueSerializesSameDestination(t *testing.T) {
	q := newDispatchQueue(zap.NewNop())
	var running int32
	var maxConcurrent int32
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = q.Submit(context.Background(), "same-dest", func(ctx context.Context) (string, error) {
				n := atomic.AddInt32(&running, 1)
				if n > atomic.LoadInt32(&maxConcurrent) {
					atomic.StoreInt32(&maxConcurrent, n)
				}
				time.Sleep(2 * time.Millisecond)
				atomic.AddInt32(&running, -1)
				return "ok", nil
			})
		}()
	}
	wg.Wait()

	if maxConcurrent != 1 {
		t.Errorf("max concurrent jobs for same destination = %d, want 1", maxConcurrent)
	}
}

func TestDispatchQueueParallelizesDistinctDestinations(t *testing.T) {
	q := newDispatchQueue(zap.NewNop())
	var wg sync.WaitGroup
	start := make(chan struct{})
	results := make(chan time.Duration, 5)

	for i := 0; i < 5; i++ {
		dest := string(rune('a' + i))
		wg.Add(1)
		go func(dest string) {
			defer wg.Done()
			<-start
			t0 := time.Now()
			_, _ = q.Submit(context.Background(), dest, func(ctx context.Context) (string, error) {
				time.Sleep(20 * time.Millisecond)
				return "ok", nil
			})
			results <- time.Since(t0)
		}(dest)
	}
	close(start)
	wg.Wait()
	close(results)

	for d := range results {
		if d > 60*time.Millisecond {
			t.Errorf("distinct-destination job took %v, want ~20ms (should not serialize across destinations)", d)
		}
	}
}

func TestDispatchQueueWorkerRetiresBetweenBursts(t *testing.T) {
	q := newDispatchQueue(zap.NewNop())
	ctx := context.Background()
	if _, err := q.Submit(ctx, "dest1", func(context.Context) (string, error) { return "a", nil }); err != nil {
		t.Fatalf("first: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	q.mu.Lock()
	_, stillRunning := q.workers["dest1"]
	q.mu.Unlock()
	if stillRunning {
		t.Error("expected the worker to retire once its queue drained")
	}

	if _, err := q.Submit(ctx, "dest1", func(context.Context) (string, error) { return "b", nil }); err != nil {
		t.Fatalf("second: %v", err)
	}
}
