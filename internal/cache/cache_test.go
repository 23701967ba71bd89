package cache_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tgasco/portfolio-sync/internal/cache"
	"github.com/tgasco/portfolio-sync/internal/pipeline"
)

func TestGetMiss(t *testing.T) {
	t.Parallel()

	c := cache.New(time.Minute)
	defer c.Stop()

	_, ok := c.Get("projects")
	require.False(t, ok)
}

func TestSetAndGet(t *testing.T) {
	t.Parallel()

	c := cache.New(time.Minute)
	defer c.Stop()

	projects := []pipeline.Project{{Title: "blog"}}
	c.Set("projects", projects)

	got, ok := c.Get("projects")
	require.True(t, ok)
	require.Equal(t, projects, got)
}

func TestEntryExpires(t *testing.T) {
	t.Parallel()

	c := cache.New(50 * time.Millisecond)
	defer c.Stop()

	c.Set("projects", []pipeline.Project{{Title: "blog"}})

	require.Eventually(t, func() bool {
		_, ok := c.Get("projects")
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestGetDoesNotExtendTTL(t *testing.T) {
	t.Parallel()

	c := cache.New(100 * time.Millisecond)
	defer c.Stop()

	c.Set("projects", []pipeline.Project{{Title: "blog"}})

	// Keep reading; the entry must still expire on schedule.
	deadline := time.Now().Add(400 * time.Millisecond)
	for time.Now().Before(deadline) {
		if _, ok := c.Get("projects"); !ok {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("entry never expired despite reads")
}

func TestExtendKeepsEntryAlive(t *testing.T) {
	t.Parallel()

	c := cache.New(100 * time.Millisecond)
	defer c.Stop()

	c.Set("projects", []pipeline.Project{{Title: "blog"}})

	// Extend repeatedly past the original TTL.
	for i := 0; i < 5; i++ {
		time.Sleep(50 * time.Millisecond)
		c.Extend("projects")
	}

	_, ok := c.Get("projects")
	require.True(t, ok)
}
