package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManualClock_AdvanceAndSet(t *testing.T) {
	c := NewManualClockMillis(1_000)
	assert.Equal(t, int64(1_000), c.Now().UnixMilli())

	got := c.Advance(250 * time.Millisecond)
	assert.Equal(t, int64(1_250), got.UnixMilli())
	assert.Equal(t, int64(1_250), c.Now().UnixMilli())

	c.Set(time.UnixMilli(10))
	assert.Equal(t, int64(10), c.Now().UnixMilli())
}

func TestSequenceIDs(t *testing.T) {
	g := NewSequenceIDs("")
	assert.Equal(t, "doc-1", g.Generate())
	assert.Equal(t, "doc-2", g.Generate())

	p := NewSequenceIDs("post")
	assert.Equal(t, "post-1", p.Generate())
}

func TestSequenceIDs_ConcurrentUnique(t *testing.T) {
	g := NewSequenceIDs("x")
	var mu sync.Mutex
	seen := map[string]bool{}
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				id := g.Generate()
				mu.Lock()
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 500)
}
