package ids

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNextIsUniqueUnderConcurrency(t *testing.T) {
	const n = 2000
	var mu sync.Mutex
	seen := make(map[int64]struct{}, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := Next()
			mu.Lock()
			seen[id] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, seen, n)
}

func TestNextStringIsDecimal(t *testing.T) {
	s := NextString()
	assert.NotEmpty(t, s)
	for _, r := range s {
		assert.True(t, r >= '0' && r <= '9')
	}
}
