package worker

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// capacity counts how many permits can be taken before Acquire blocks
func capacity(t *testing.T, p *Permits) int {
	t.Helper()
	var releases []func()
	defer func() {
		for _, release := range releases {
			release()
		}
	}()
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		release, err := p.Acquire(ctx)
		cancel()
		if err != nil {
			return len(releases)
		}
		releases = append(releases, release)
	}
}

func TestNewPermits(t *testing.T) {
	if got := capacity(t, NewPermits(3)); got != 3 {
		t.Errorf("expected 3 permits, got %d", got)
	}
	if got := capacity(t, NewPermits(0)); got != runtime.NumCPU() {
		t.Errorf("expected NumCPU permits for 0, got %d", got)
	}
	if got := capacity(t, NewPermits(-4)); got < 1 {
		t.Errorf("expected at least 1 permit, got %d", got)
	}
}

func TestPermits_BoundsConcurrency(t *testing.T) {
	permits := NewPermits(2)

	var current, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := permits.Acquire(context.Background())
			if err != nil {
				t.Errorf("Acquire failed: %v", err)
				return
			}
			defer release()

			n := atomic.AddInt32(&current, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&current, -1)
		}()
	}
	wg.Wait()

	if peak > 2 {
		t.Errorf("peak concurrency %d exceeded 2 permits", peak)
	}
	if n := permits.inUse.Load(); n != 0 {
		t.Errorf("expected all permits released, %d in use", n)
	}
	if got := capacity(t, permits); got != 2 {
		t.Errorf("expected 2 free permits after release, got %d", got)
	}
}

func TestPermits_ReleaseIsIdempotent(t *testing.T) {
	permits := NewPermits(1)
	release, err := permits.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	release()
	release()

	if n := permits.inUse.Load(); n != 0 {
		t.Errorf("expected 0 in use, got %d", n)
	}

	// a double release must not create a second permit
	r1, err := permits.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer r1()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := permits.Acquire(ctx); err == nil {
		t.Error("expected second Acquire to block until timeout")
	}
}

func TestPermits_AcquireHonoursCancel(t *testing.T) {
	permits := NewPermits(1)
	release, _ := permits.Acquire(context.Background())
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := permits.Acquire(ctx); err == nil {
		t.Error("expected error from cancelled context")
	}
}
