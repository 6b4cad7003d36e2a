package testutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSequentialIDs_Sequence(t *testing.T) {
	gen := NewSequentialIDs("call")

	assert.Equal(t, "call-1", gen.Generate())
	assert.Equal(t, "call-2", gen.Generate())
	assert.Equal(t, "call-3", gen.Generate())
}

func TestSequentialIDs_DefaultPrefix(t *testing.T) {
	gen := NewSequentialIDs("")
	assert.Equal(t, "inv-1", gen.Generate())
}

func TestSequentialIDs_Reset(t *testing.T) {
	gen := NewSequentialIDs("inv")
	gen.Generate()
	gen.Generate()

	gen.Reset()
	assert.Equal(t, "inv-1", gen.Generate())
}

func TestSequentialIDs_ConcurrentUnique(t *testing.T) {
	gen := NewSequentialIDs("inv")
	const n = 200

	var mu sync.Mutex
	seen := make(map[string]bool)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := gen.Generate()
			mu.Lock()
			seen[id] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, n)
}
