package quarantine

import (
	"context"
	"fmt"
	"strings"

	"nukeguard/internal/database"
	"nukeguard/internal/logging"
	"nukeguard/internal/metrics"
)

// Enforce corrects a role change observed on a restricted principal.
//
// If the principal held the restricted role before the change, any role it
// gained is revoked. If the restricted role was just applied by someone
// else and other roles remain, those are stripped and, when no snapshot
// exists yet, captured first so the principal can be restored later.
//
// before and after are the member's role ids around the change. It returns
// the roles revoked.
func (m *Manager) Enforce(ctx context.Context, communityID, principalID string, before, after []string) ([]string, error) {
	if principalID == m.platform.SelfID() {
		return nil, nil
	}

	restrictedID, err := m.lookupRestrictedRole(ctx, communityID)
	if err != nil {
		return nil, err
	}
	if restrictedID == "" || !contains(after, restrictedID) {
		return nil, nil
	}

	defaultID := communityID
	hadRestricted := contains(before, restrictedID)

	var revoke []string
	if hadRestricted {
		for _, id := range after {
			if id != restrictedID && id != defaultID && !contains(before, id) {
				revoke = append(revoke, id)
			}
		}
	} else {
		revoke = snapshotRoles(after, defaultID, restrictedID)
	}
	if len(revoke) == 0 {
		return nil, nil
	}

	unlock := m.locks.Lock(pairKey(communityID, principalID))
	defer unlock()

	if !hadRestricted {
		snap, err := m.store.GetSnapshot(ctx, communityID, principalID)
		if err != nil {
			logging.Error("snapshot read failed for %s in %s: %v", principalID, communityID, err)
		} else if snap == nil {
			if err := m.store.UpsertSnapshot(ctx, &database.QuarantineSnapshot{
				PrincipalID: principalID,
				CommunityID: communityID,
				GroupingIDs: revoke,
				CreatedAt:   m.now().Unix(),
			}); err != nil {
				logging.Error("snapshot write failed for %s in %s: %v", principalID, communityID, err)
			}
		}
	}

	var revoked []string
	for _, id := range revoke {
		err := m.platform.RemoveMemberRole(ctx, communityID, principalID, id, "Anti-nuke: principal is restricted")
		if err != nil && !isNotFound(err) {
			_, err = m.fail("enforce", fmt.Errorf("revoke role %s from %s: %w", id, principalID, err))
			return revoked, err
		}
		revoked = append(revoked, id)
	}

	metrics.SelfHealRemovals.Add(float64(len(revoked)))
	m.audit(ctx, communityID, principalID, EventSelfHealed, "roles="+strings.Join(revoked, ","))
	logging.Info("self-heal revoked %v from restricted %s in %s", revoked, principalID, communityID)
	return revoked, nil
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
