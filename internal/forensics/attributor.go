// Package forensics attributes structural changes to the principal that
// made them, using the platform's audit trail.
package forensics

import (
	"context"
	"fmt"
	"time"

	"nukeguard/internal/logging"
	"nukeguard/internal/metrics"
	"nukeguard/internal/platform"
)

const DefaultLookupLimit = 5

// Attributor resolves the actor behind an event. A miss is final: the
// event is dropped rather than pinned on a guess.
type Attributor struct {
	api     platform.AuditAPI
	cache   *AuditCache
	matcher *AuditMatcher
	limit   int
	delay   time.Duration
}

func NewAttributor(api platform.AuditAPI, cache *AuditCache, window, delay time.Duration, limit int) *Attributor {
	if limit <= 0 {
		limit = DefaultLookupLimit
	}
	return &Attributor{
		api:     api,
		cache:   cache,
		matcher: NewAuditMatcher(window),
		limit:   limit,
		delay:   delay,
	}
}

// Attribute returns the actor recorded for (kind, targetID) near at, or ""
// when the audit trail has no matching entry.
func (a *Attributor) Attribute(ctx context.Context, communityID string, kind platform.AuditKind, targetID string, at time.Time) (string, error) {
	if entry, ok := a.fromCache(communityID, kind, targetID, at); ok {
		metrics.Attributions.WithLabelValues("cache").Inc()
		return entry.ActorID, nil
	}

	// update entries tend to reach the audit trail after the gateway event
	if isUpdate(kind) && a.delay > 0 {
		t := time.NewTimer(a.delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return "", ctx.Err()
		case <-t.C:
		}
		if entry, ok := a.fromCache(communityID, kind, targetID, at); ok {
			metrics.Attributions.WithLabelValues("cache").Inc()
			return entry.ActorID, nil
		}
	}

	entries, err := a.api.AuditLog(ctx, communityID, kind, a.limit)
	if err != nil {
		metrics.Attributions.WithLabelValues("error").Inc()
		return "", fmt.Errorf("fetch audit log: %w", err)
	}

	entry := a.matcher.Match(at, entries, targetID)
	if entry == nil || entry.ActorID == "" {
		metrics.Attributions.WithLabelValues("miss").Inc()
		logging.Debug("no audit entry for %s on %s in %s", kind, targetID, communityID)
		return "", nil
	}
	if a.cache != nil {
		a.cache.Observe(communityID, *entry)
	}
	metrics.Attributions.WithLabelValues("lookup").Inc()
	return entry.ActorID, nil
}

// Observe feeds a gateway-delivered audit entry into the cache.
func (a *Attributor) Observe(communityID string, entry platform.AuditEntry) {
	if a.cache != nil {
		a.cache.Observe(communityID, entry)
	}
}

func (a *Attributor) fromCache(communityID string, kind platform.AuditKind, targetID string, at time.Time) (platform.AuditEntry, bool) {
	if a.cache == nil {
		return platform.AuditEntry{}, false
	}
	entry, ok := a.cache.Lookup(communityID, kind, targetID)
	if !ok || !a.matcher.within(at, entry.At) {
		return platform.AuditEntry{}, false
	}
	return entry, true
}

func isUpdate(kind platform.AuditKind) bool {
	switch kind {
	case platform.AuditChannelUpdate, platform.AuditRoleUpdate, platform.AuditMemberRoleUpdate:
		return true
	}
	return false
}
