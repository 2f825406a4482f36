package ratetracker

import (
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"nukeguard/internal/models"
)

// Key identifies one sliding window.
type Key struct {
	Principal string
	Community string
	Action    models.ActionType
}

type window struct {
	stamps []time.Time
	span   time.Duration
}

// Tracker counts actions per Key. Record appends without pruning; Sweep
// drops expired timestamps and empty keys, so a count may include entries
// up to one sweep interval stale.
type Tracker struct {
	windows *xsync.MapOf[Key, window]
	now     func() time.Time
}

func New() *Tracker {
	return &Tracker{
		windows: xsync.NewMapOf[Key, window](),
		now:     time.Now,
	}
}

// WithClock replaces the time source. Intended for tests.
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

// Record appends the current time for key and reports whether the number
// of retained timestamps is now strictly greater than maxAllowed. The
// append and the length check happen under the key's lock.
func (t *Tracker) Record(key Key, timeFrame time.Duration, maxAllowed int) bool {
	ts := t.now()

	w, _ := t.windows.Compute(key, func(old window, loaded bool) (window, bool) {
		old.stamps = append(old.stamps, ts)
		old.span = timeFrame
		return old, false
	})

	return len(w.stamps) > maxAllowed
}

// Count returns the number of retained timestamps for key.
func (t *Tracker) Count(key Key) int {
	w, ok := t.windows.Load(key)
	if !ok {
		return 0
	}
	return len(w.stamps)
}

// Reset forgets every window held by a principal in a community.
func (t *Tracker) Reset(principal, community string) {
	for _, a := range models.ActionTypes {
		t.windows.Delete(Key{Principal: principal, Community: community, Action: a})
	}
}

// Size is the number of tracked keys.
func (t *Tracker) Size() int {
	return t.windows.Size()
}

// Sweep keeps, for each key, the timestamps newer than now minus that
// key's time frame and removes keys left empty. It returns the number of
// keys removed. Safe to run concurrently with Record and to abandon
// midway.
func (t *Tracker) Sweep(now time.Time) int {
	var keys []Key
	t.windows.Range(func(k Key, _ window) bool {
		keys = append(keys, k)
		return true
	})

	removed := 0
	for _, k := range keys {
		t.windows.Compute(k, func(old window, loaded bool) (window, bool) {
			if !loaded {
				return old, true
			}
			cutoff := now.Add(-old.span)
			kept := make([]time.Time, 0, len(old.stamps))
			for _, ts := range old.stamps {
				if ts.After(cutoff) {
					kept = append(kept, ts)
				}
			}
			if len(kept) == 0 {
				removed++
				return old, true
			}
			old.stamps = kept
			return old, false
		})
	}

	return removed
}
