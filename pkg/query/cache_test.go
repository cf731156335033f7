package query

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCacheExpiresLazily(t *testing.T) {
	c := NewCache(10, time.Millisecond)
	fixed := time.Now()
	c.now = func() time.Time { return fixed }

	c.Set("a", 1)
	v, ok := c.Get("a")
	require.True(t, ok)
	require.Equal(t, 1, v)

	c.now = func() time.Time { return fixed.Add(time.Second) }
	_, ok = c.Get("a")
	require.False(t, ok)
	require.Equal(t, 0, c.Len())
}

func TestCacheEvictsOldestInsertionOnOverflow(t *testing.T) {
	c := NewCache(2, time.Hour)
	fixed := time.Now()
	tick := 0
	c.now = func() time.Time {
		tick++
		return fixed.Add(time.Duration(tick) * time.Millisecond)
	}

	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)

	_, ok := c.Get("a")
	require.False(t, ok, "oldest-inserted entry should have been evicted")
	_, ok = c.Get("b")
	require.True(t, ok)
	_, ok = c.Get("c")
	require.True(t, ok)
}
