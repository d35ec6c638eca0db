package temporal

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInfinityOrdering(t *testing.T) {
	assert.True(t, Infinity.After(time.Now().UTC()))
	assert.True(t, Infinity.After(time.Date(9000, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.True(t, IsInfinity(Infinity))
	assert.False(t, IsInfinity(time.Now()))
}

func TestInfinityJSONRoundTrip(t *testing.T) {
	b, err := json.Marshal(Infinity)
	require.NoError(t, err)

	var got time.Time
	require.NoError(t, json.Unmarshal(b, &got))
	assert.True(t, IsInfinity(got))
}

func TestIntervalContains(t *testing.T) {
	from := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	to := from.Add(time.Hour)
	iv := Interval{From: from, To: to}

	assert.True(t, iv.Contains(from), "half-open interval includes From")
	assert.True(t, iv.Contains(from.Add(30*time.Minute)))
	assert.False(t, iv.Contains(to), "half-open interval excludes To")
	assert.False(t, iv.Contains(from.Add(-time.Second)))
}

func TestIntervalOpen(t *testing.T) {
	from := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	open := Interval{From: from, To: Infinity}
	closed := Interval{From: from, To: from.Add(time.Minute)}

	assert.True(t, open.Open())
	assert.True(t, open.Contains(time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.False(t, closed.Open())
}

func TestTxClockMonotonic(t *testing.T) {
	clock := NewTxClock()
	prev := clock.Now()
	for i := 0; i < 1000; i++ {
		next := clock.Now()
		require.True(t, next.After(prev), "tx_at must be strictly increasing")
		prev = next
	}
}

func TestTxClockConcurrent(t *testing.T) {
	clock := NewTxClock()

	const goroutines = 16
	const perGoroutine = 200

	var mu sync.Mutex
	seen := make(map[time.Time]bool, goroutines*perGoroutine)

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				ts := clock.Now()
				mu.Lock()
				seen[ts] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, goroutines*perGoroutine, "timestamps must be unique")
}

func TestTxClockUTCMicrosecond(t *testing.T) {
	ts := NewTxClock().Now()
	assert.Equal(t, time.UTC, ts.Location())
	assert.Zero(t, ts.Nanosecond()%1000, "resolution is microseconds")
}
