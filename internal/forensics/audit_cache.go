package forensics

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"nukeguard/internal/platform"
)

// AuditCache holds audit entries pushed by the gateway so most
// attributions never hit the REST audit endpoint.
type AuditCache struct {
	entries *expirable.LRU[string, platform.AuditEntry]
}

func NewAuditCache(size int, ttl time.Duration) *AuditCache {
	return &AuditCache{
		entries: expirable.NewLRU[string, platform.AuditEntry](size, nil, ttl),
	}
}

func auditCacheKey(communityID string, kind platform.AuditKind, targetID string) string {
	return communityID + "/" + kind.String() + "/" + targetID
}

// Observe stores an entry. A later entry for the same target replaces it.
func (c *AuditCache) Observe(communityID string, entry platform.AuditEntry) {
	if entry.ActorID == "" {
		return
	}
	c.entries.Add(auditCacheKey(communityID, entry.Kind, entry.TargetID), entry)
}

func (c *AuditCache) Lookup(communityID string, kind platform.AuditKind, targetID string) (platform.AuditEntry, bool) {
	return c.entries.Get(auditCacheKey(communityID, kind, targetID))
}

func (c *AuditCache) Len() int {
	return c.entries.Len()
}
