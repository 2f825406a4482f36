package quarantine

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// RecentIndex remembers principals restricted during the current burst so
// repeated triggers do not re-snapshot or re-notify.
type RecentIndex interface {
	// Mark records the pair and reports whether it was absent before.
	Mark(ctx context.Context, communityID, principalID string, at time.Time) (bool, error)
	Contains(ctx context.Context, communityID, principalID string) (bool, error)
	Remove(ctx context.Context, communityID, principalID string) error
}

// MemRecentIndex is a process-local RecentIndex. Entries expire after ttl.
type MemRecentIndex struct {
	data *expirable.LRU[string, time.Time]
}

func NewMemRecentIndex(capacity int, ttl time.Duration) *MemRecentIndex {
	return &MemRecentIndex{
		data: expirable.NewLRU[string, time.Time](capacity, nil, ttl),
	}
}

func (m *MemRecentIndex) Mark(_ context.Context, communityID, principalID string, at time.Time) (bool, error) {
	key := pairKey(communityID, principalID)
	// callers hold the pair lock, so Contains then Add does not race
	if _, ok := m.data.Get(key); ok {
		return false, nil
	}
	m.data.Add(key, at)
	return true, nil
}

func (m *MemRecentIndex) Contains(_ context.Context, communityID, principalID string) (bool, error) {
	_, ok := m.data.Get(pairKey(communityID, principalID))
	return ok, nil
}

func (m *MemRecentIndex) Remove(_ context.Context, communityID, principalID string) error {
	m.data.Remove(pairKey(communityID, principalID))
	return nil
}

var _ RecentIndex = (*MemRecentIndex)(nil)
