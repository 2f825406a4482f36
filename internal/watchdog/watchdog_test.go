package watchdog

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestWatchdog() (*Watchdog, *clock) {
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	w := NewWatchdog(time.Second)
	w.now = c.now
	return w, c
}

func TestStalledComponentTurnsUnhealthy(t *testing.T) {
	w, c := newTestWatchdog()
	w.RegisterComponent("sweeper", 5*time.Second)

	c.advance(3 * time.Second)
	w.checkAllComponents()
	assert.True(t, w.IsHealthy("sweeper"))
	require.NoError(t, w.Check(context.Background()))

	c.advance(3 * time.Second)
	w.checkAllComponents()
	assert.False(t, w.IsHealthy("sweeper"))
	assert.ErrorContains(t, w.Check(context.Background()), "sweeper")

	w.Heartbeat("sweeper")
	assert.True(t, w.IsHealthy("sweeper"))
	assert.Equal(t, map[string]bool{"sweeper": true}, w.GetStatus())
}

func TestUnknownComponent(t *testing.T) {
	w, _ := newTestWatchdog()
	w.Heartbeat("ghost")
	assert.False(t, w.IsHealthy("ghost"))
	assert.NoError(t, w.Check(context.Background()))
}

func TestRunStopsOnCancel(t *testing.T) {
	w := NewWatchdog(time.Millisecond)
	w.RegisterComponent("sweeper", time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watchdog did not stop")
	}
}
