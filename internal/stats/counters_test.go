package stats

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCountersConcurrentInc(t *testing.T) {
	c := NewCounters()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Inc(Key("mutate", "attempt", "negate"))
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 800.0, c.Get("mutate.attempt.negate"))
}

func TestCountersSnapshotSorted(t *testing.T) {
	c := NewCounters()
	c.Inc("b")
	c.Add("a", 2.5)
	c.Set("c", 7)
	c.Set("c", 3)
	rows := c.Snapshot()
	require.Len(t, rows, 3)
	require.Equal(t, "a", rows[0].Name)
	require.Equal(t, 2.5, rows[0].Value)
	require.Equal(t, 3.0, rows[2].Value)
	require.Equal(t, 3.5, c.Sum("a")+c.Sum("b"))

	c.Reset()
	require.Empty(t, c.Snapshot())
}

func TestNopSink(t *testing.T) {
	var s Sink = Nop{}
	s.Inc("x")
	s.Add("x", 1)
	s.Set("x", 1)
}
