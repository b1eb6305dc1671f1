package exchange

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestWorkerPoolBoundsParallelism(t *testing.T) {
	t.Parallel()
	pool := NewWorkerPool(2)

	var current, max int32
	done := make(chan struct{})

	for i := 0; i < 5; i++ {
		go func() {
			_ = pool.Do(context.Background(), func() error {
				n := atomic.AddInt32(&current, 1)
				for {
					old := atomic.LoadInt32(&max)
					if n <= old || atomic.CompareAndSwapInt32(&max, old, n) {
						break
					}
				}
				time.Sleep(20 * time.Millisecond)
				atomic.AddInt32(&current, -1)
				return nil
			})
			done <- struct{}{}
		}()
	}
	for i := 0; i < 5; i++ {
		<-done
	}

	if atomic.LoadInt32(&max) > 2 {
		t.Errorf("observed %d concurrent slots, pool size was 2", max)
	}
}

func TestWorkerPoolAcquireRespectsContext(t *testing.T) {
	t.Parallel()
	pool := NewWorkerPool(1)
	if err := pool.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer pool.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := pool.Acquire(ctx); err == nil {
		t.Error("expected context deadline error, got nil")
	}
}
