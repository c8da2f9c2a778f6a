package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStepClock_StartsAtEpoch(t *testing.T) {
	clock := NewStepClock()
	assert.Equal(t, DefaultEpoch, clock.Now())
	assert.Equal(t, DefaultEpoch.Add(time.Second), clock.Now())
	assert.Equal(t, int64(2), clock.Calls())
}

func TestStepClock_CustomStep(t *testing.T) {
	epoch := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := NewStepClockAt(epoch, time.Minute)

	clock.Now()
	clock.Now()
	assert.Equal(t, epoch.Add(2*time.Minute), clock.Now())
}

func TestStepClock_ZeroStepIsFrozen(t *testing.T) {
	clock := NewStepClockAt(DefaultEpoch, 0)
	for range 5 {
		assert.Equal(t, DefaultEpoch, clock.Now())
	}
}

func TestStepClock_Reset(t *testing.T) {
	clock := NewStepClock()
	clock.Now()
	clock.Now()

	clock.Reset()
	assert.Equal(t, int64(0), clock.Calls())
	assert.Equal(t, DefaultEpoch, clock.Now())
}

func TestStepClock_ThreadSafe(t *testing.T) {
	clock := NewStepClock()
	const numGoroutines = 50
	const callsPerGoroutine = 40

	var mu sync.Mutex
	seen := make(map[time.Time]bool)

	var wg sync.WaitGroup
	wg.Add(numGoroutines)
	for range numGoroutines {
		go func() {
			defer wg.Done()
			for range callsPerGoroutine {
				now := clock.Now()
				mu.Lock()
				seen[now] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, seen, numGoroutines*callsPerGoroutine, "every call returns a distinct instant")
	assert.Equal(t, int64(numGoroutines*callsPerGoroutine), clock.Calls())
}
