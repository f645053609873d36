package annealing

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBarrierRounds(t *testing.T) {
	const (
		parties = 4
		rounds  = 50
	)
	var arrived atomic.Int64
	var generations int
	var mismatches atomic.Int64

	b := newBarrier(parties, func() {
		generations++
	})

	var wg sync.WaitGroup
	for p := 0; p < parties; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for r := 1; r <= rounds; r++ {
				arrived.Add(1)
				assert.NoError(t, b.Wait(context.Background()))
				// Nobody may leave round r before everyone entered it.
				if arrived.Load() < int64(r*parties) {
					mismatches.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, rounds, generations)
	assert.Zero(t, mismatches.Load())
}

func TestBarrierCancel(t *testing.T) {
	b := newBarrier(2, nil)
	ctx, cancel := context.WithCancel(context.Background())

	errc := make(chan error, 1)
	go func() { errc <- b.Wait(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("barrier did not release on cancel")
	}
}
