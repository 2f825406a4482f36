package quarantine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedMutexSerializesPerKey(t *testing.T) {
	k := newKeyedMutex()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		active  int
		maxSeen int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("g1/u1")
			mu.Lock()
			active++
			if active > maxSeen {
				maxSeen = active
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen)
	assert.Zero(t, k.size())
}

func TestKeyedMutexIndependentKeys(t *testing.T) {
	k := newKeyedMutex()

	unlockA := k.Lock("a")
	done := make(chan struct{})
	go func() {
		k.Lock("b")()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on b blocked behind a")
	}
	unlockA()
	assert.Zero(t, k.size())
}

func TestMemRecentIndex(t *testing.T) {
	ctx := context.Background()
	idx := NewMemRecentIndex(16, time.Minute)

	fresh, err := idx.Mark(ctx, "g1", "u1", time.Now())
	require.NoError(t, err)
	assert.True(t, fresh)

	fresh, err = idx.Mark(ctx, "g1", "u1", time.Now())
	require.NoError(t, err)
	assert.False(t, fresh)

	seen, _ := idx.Contains(ctx, "g1", "u2")
	assert.False(t, seen)

	require.NoError(t, idx.Remove(ctx, "g1", "u1"))
	seen, _ = idx.Contains(ctx, "g1", "u1")
	assert.False(t, seen)
}

func TestMemRecentIndexExpires(t *testing.T) {
	ctx := context.Background()
	idx := NewMemRecentIndex(16, 20*time.Millisecond)

	_, err := idx.Mark(ctx, "g1", "u1", time.Now())
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		seen, _ := idx.Contains(ctx, "g1", "u1")
		return !seen
	}, time.Second, 10*time.Millisecond)
}
