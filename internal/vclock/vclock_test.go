package vclock

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedClock struct{ t time.Time }

func (c *fixedClock) Now() time.Time { return c.t }

func TestVersioner_StrictlyIncreasingWithinSameMillisecond(t *testing.T) {
	c := &fixedClock{t: time.UnixMilli(1_000)}
	v := NewVersioner(c)

	assert.Equal(t, int64(1_000), v.Next())
	assert.Equal(t, int64(1_001), v.Next())
	assert.Equal(t, int64(1_002), v.Next())
	assert.Equal(t, int64(1_002), v.Current())
}

func TestVersioner_ClockStepsBackwards(t *testing.T) {
	c := &fixedClock{t: time.UnixMilli(5_000)}
	v := NewVersioner(c)
	require.Equal(t, int64(5_000), v.Next())

	c.t = time.UnixMilli(4_000)
	assert.Equal(t, int64(5_001), v.Next())

	c.t = time.UnixMilli(9_000)
	assert.Equal(t, int64(9_000), v.Next())
}

func TestVersioner_Observe(t *testing.T) {
	c := &fixedClock{t: time.UnixMilli(100)}
	v := NewVersioner(c)

	v.Observe(500)
	assert.Equal(t, int64(501), v.Next())

	v.Observe(10)
	assert.Equal(t, int64(502), v.Next())
}

func TestVersioner_ConcurrentUnique(t *testing.T) {
	v := NewVersioner(&fixedClock{t: time.UnixMilli(1)})

	const goroutines, per = 8, 200
	seen := make(chan int64, goroutines*per)
	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < per; i++ {
				seen <- v.Next()
			}
		}()
	}
	wg.Wait()
	close(seen)

	unique := make(map[int64]bool)
	for n := range seen {
		require.False(t, unique[n], "duplicate version %d", n)
		unique[n] = true
	}
	assert.Len(t, unique, goroutines*per)
}

func TestNewVersioner_DefaultsToSystemClock(t *testing.T) {
	v := NewVersioner(nil)
	before := time.Now().UnixMilli()
	got := v.Next()
	assert.GreaterOrEqual(t, got, before)
}
