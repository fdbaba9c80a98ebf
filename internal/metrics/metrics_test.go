package metrics

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSnapshotRates(t *testing.T) {
	var c Counters
	assert.Equal(t, Rates{}, c.Snapshot().Rates)

	c.Evaluations.Add(6)
	c.ShortCircuit.Add(2)
	c.QueueSaturated.Add(2)
	c.StaleDiscarded.Add(3)

	s := c.Snapshot()
	assert.Equal(t, uint64(6), s.Evaluations)
	assert.InDelta(t, 0.2, s.Rates.Saturation, 1e-9)
	assert.InDelta(t, 0.5, s.Rates.Stale, 1e-9)
}

func TestCountersConcurrent(t *testing.T) {
	var c Counters
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 1000 {
				c.Reveals.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, uint64(8000), c.Snapshot().Reveals)
}
