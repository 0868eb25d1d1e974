package worker

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/ppiankov/markxiv/internal/metrics"
)

// Permits bounds how many external conversion processes run at once,
// independent of how many requests are in flight.
type Permits struct {
	sem   *semaphore.Weighted
	inUse atomic.Int64
}

// NewPermits creates a pool of n permits. n <= 0 means one per CPU.
func NewPermits(n int) *Permits {
	if n <= 0 {
		n = runtime.NumCPU()
	}
	if n < 1 {
		n = 1
	}
	return &Permits{
		sem: semaphore.NewWeighted(int64(n)),
	}
}

// Acquire blocks until a permit is free. The returned release func is safe
// to call more than once. Acquire only fails when ctx is done.
func (p *Permits) Acquire(ctx context.Context) (release func(), err error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	metrics.PermitsInUse.Set(float64(p.inUse.Add(1)))

	var once sync.Once
	return func() {
		once.Do(func() {
			metrics.PermitsInUse.Set(float64(p.inUse.Add(-1)))
			p.sem.Release(1)
		})
	}, nil
}
