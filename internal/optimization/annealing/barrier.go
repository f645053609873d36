package annealing

import (
	"context"
	"sync"
)

// barrier is a reusable rendezvous for a fixed number of goroutines. The
// last goroutine to arrive runs action, if any, before releasing the others,
// so action observes every write made before the rendezvous and nothing
// made after it.
type barrier struct {
	mu      sync.Mutex
	parties int
	waiting int
	release chan struct{}
	action  func()
}

func newBarrier(parties int, action func()) *barrier {
	return &barrier{
		parties: parties,
		release: make(chan struct{}),
		action:  action,
	}
}

// Wait blocks until all parties have called Wait or ctx is done. Once a
// party leaves through ctx the barrier is broken and must not be reused.
func (b *barrier) Wait(ctx context.Context) error {
	b.mu.Lock()
	release := b.release
	b.waiting++
	if b.waiting == b.parties {
		if b.action != nil {
			b.action()
		}
		b.waiting = 0
		b.release = make(chan struct{})
		close(release)
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	select {
	case <-release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
