package clock

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLamport_New(t *testing.T) {
	c := New()
	assert.Equal(t, int64(0), c.Current(), "new clock should start at 0")
}

func TestLamport_NewAt(t *testing.T) {
	c := NewAt(41)
	assert.Equal(t, int64(41), c.Current())
	assert.Equal(t, int64(42), c.TickLocal(), "seeded clock must not reuse the seed")
}

func TestLamport_TickLocal_StrictlyIncreasing(t *testing.T) {
	c := New()

	prev := int64(0)
	for i := 0; i < 1000; i++ {
		v := c.TickLocal()
		assert.Greater(t, v, prev)
		prev = v
	}
	assert.Equal(t, int64(1000), c.Current())
}

func TestLamport_Observe(t *testing.T) {
	tests := []struct {
		name   string
		start  int64
		remote int64
		want   int64
	}{
		{"remote ahead", 3, 10, 11},
		{"remote behind", 10, 3, 11},
		{"remote equal", 5, 5, 6},
		{"zero remote", 0, 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewAt(tt.start)
			assert.Equal(t, tt.want, c.Observe(tt.remote))
			assert.Equal(t, tt.want, c.Current())
		})
	}
}

func TestLamport_Observe_DecreasingRemoteNeverDecreases(t *testing.T) {
	c := New()
	c.Observe(100)

	prev := c.Current()
	for r := int64(99); r >= 0; r-- {
		v := c.Observe(r)
		assert.Greater(t, v, prev, "observe(%d) went backwards", r)
		prev = v
	}
}

func TestLamport_ExceedsEverythingSeen(t *testing.T) {
	c := New()
	seen := []int64{c.TickLocal(), c.Observe(7), 9, c.TickLocal(), c.Observe(3)}
	c.Observe(9)

	next := c.TickLocal()
	for _, v := range seen {
		assert.Greater(t, next, v)
	}
}

func TestLamport_ThreadSafe(t *testing.T) {
	c := New()
	const goroutines = 50
	const callsPerGoroutine = 100

	var wg sync.WaitGroup
	values := make(chan int64, goroutines*callsPerGoroutine)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < callsPerGoroutine; j++ {
				if i%2 == 0 {
					values <- c.TickLocal()
				} else {
					values <- c.Observe(int64(j))
				}
			}
		}(i)
	}

	wg.Wait()
	close(values)

	seen := make(map[int64]bool)
	for v := range values {
		assert.False(t, seen[v], "value %d produced twice", v)
		seen[v] = true
	}
	assert.Len(t, seen, goroutines*callsPerGoroutine)
}
