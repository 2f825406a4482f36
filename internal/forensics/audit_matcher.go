package forensics

import (
	"time"

	"nukeguard/internal/platform"
)

// AuditMatcher picks the audit entry that explains an observed event.
type AuditMatcher struct {
	tolerance time.Duration
}

func NewAuditMatcher(tolerance time.Duration) *AuditMatcher {
	return &AuditMatcher{tolerance: tolerance}
}

// Match returns the first entry naming targetID whose timestamp lies within
// the tolerance of eventTime, or nil.
func (am *AuditMatcher) Match(eventTime time.Time, entries []platform.AuditEntry, targetID string) *platform.AuditEntry {
	for i := range entries {
		entry := &entries[i]
		if entry.TargetID != targetID {
			continue
		}
		if !am.within(eventTime, entry.At) {
			continue
		}
		return entry
	}
	return nil
}

func (am *AuditMatcher) within(eventTime, entryTime time.Time) bool {
	d := eventTime.Sub(entryTime)
	if d < 0 {
		d = -d
	}
	return d <= am.tolerance
}
