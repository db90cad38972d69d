package txcounter

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNextIsStrictlyIncreasing(t *testing.T) {
	c := New()
	assert.Equal(t, 1, c.Next())
	assert.Equal(t, 2, c.Next())
	assert.Equal(t, 3, c.Next())
}

func TestNextIsUniqueUnderConcurrency(t *testing.T) {
	c := New()
	const n = 500
	seen := make(chan int, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seen <- c.Next()
		}()
	}
	wg.Wait()
	close(seen)

	ids := make(map[int]bool)
	for id := range seen {
		assert.False(t, ids[id], "duplicate transaction id %d", id)
		ids[id] = true
	}
	assert.Len(t, ids, n)
}
