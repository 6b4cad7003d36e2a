package engine

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClock(t *testing.T) {
	tests := []struct {
		name  string
		clock *Clock
		want  []int64
	}{
		{"fresh", NewClock(), []int64{1, 2, 3}},
		{"resumed", NewClockAt(41), []int64{42, 43}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, want := range tt.want {
				assert.Equal(t, want, tt.clock.Next())
			}
			last := tt.want[len(tt.want)-1]
			assert.Equal(t, last, tt.clock.Current())
			assert.Equal(t, last, tt.clock.Current(), "Current must not advance")
		})
	}
}

func TestClock_ConcurrentNext(t *testing.T) {
	c := NewClock()

	var (
		mu   sync.Mutex
		seen = make(map[int64]bool)
		wg   sync.WaitGroup
	)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				seq := c.Next()
				mu.Lock()
				seen[seq] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 1000)
	assert.Equal(t, int64(1000), c.Current())
}
