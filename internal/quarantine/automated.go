package quarantine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"nukeguard/internal/database"
	"nukeguard/internal/logging"
	"nukeguard/internal/metrics"
	"nukeguard/internal/notifier"
	"nukeguard/internal/platform"
)

// DemoteAutomatedAccount zeroes the permissions of every role a newly
// joined bot holds, backing up each bitmask first. The roles stay assigned.
// It returns the ids of the roles zeroed.
func (m *Manager) DemoteAutomatedAccount(ctx context.Context, communityID string, account *platform.Member) ([]string, error) {
	unlock := m.locks.Lock(pairKey(communityID, account.UserID))
	defer unlock()

	community, err := m.platform.Community(ctx, communityID)
	if err != nil {
		_, err = m.fail("demote", fmt.Errorf("resolve community: %w", err))
		return nil, err
	}

	roles, err := m.platform.Roles(ctx, communityID)
	if err != nil {
		_, err = m.fail("demote", fmt.Errorf("list roles: %w", err))
		return nil, err
	}
	byID := make(map[string]*platform.Role, len(roles))
	for _, r := range roles {
		byID[r.ID] = r
	}

	var zeroed []string
	for _, id := range account.Roles {
		role, ok := byID[id]
		if !ok || id == community.DefaultRoleID() || role.Permissions == 0 {
			continue
		}

		if err := m.store.UpsertPermissionBackup(ctx, &database.PermissionBackup{
			AccountID:   account.UserID,
			CommunityID: communityID,
			GroupingID:  id,
			Permissions: role.Permissions,
			CreatedAt:   m.now().Unix(),
		}); err != nil {
			logging.Error("permission backup failed for role %s (bot %s): %v", id, account.UserID, err)
		}

		err := m.platform.EditRolePermissions(ctx, communityID, id, 0, "Anti-nuke: bot quarantined on join")
		if errors.Is(err, platform.ErrNotFound) {
			continue
		}
		if err != nil {
			_, err = m.fail("demote", fmt.Errorf("zero role %s: %w", id, err))
			return zeroed, err
		}
		zeroed = append(zeroed, id)
	}

	incident := notifier.Incident{
		ID:            uuid.NewString(),
		Kind:          notifier.KindBotQuarantined,
		CommunityID:   communityID,
		CommunityName: community.Name,
		PrincipalID:   account.UserID,
		PrincipalName: account.Username,
		AvatarURL:     account.AvatarURL,
		Reason:        "Automated account joined; role permissions stripped pending review",
		Groupings:     zeroed,
		At:            m.now(),
	}

	m.audit(ctx, communityID, account.UserID, EventBotQuarantined,
		fmt.Sprintf("roles=%s; incident=%s", strings.Join(zeroed, ","), incident.ID))

	if _, err := m.publisher.Publish(ctx, incident); err != nil {
		logging.Warn("bot notice for %s in %s not delivered: %v", account.UserID, communityID, err)
	}

	logging.Info("quarantined bot %s in %s, zeroed roles %v", account.UserID, communityID, zeroed)
	metrics.QuarantineTransitions.WithLabelValues("demote", "demoted").Inc()
	return zeroed, nil
}

// RestoreAutomatedAccount puts back the bitmasks saved by
// DemoteAutomatedAccount and drops the backups.
func (m *Manager) RestoreAutomatedAccount(ctx context.Context, communityID, accountID, actorID string) ([]string, error) {
	unlock := m.locks.Lock(pairKey(communityID, accountID))
	defer unlock()

	backups, err := m.store.ListPermissionBackups(ctx, communityID, accountID)
	if err != nil {
		_, err = m.fail("restore_bot", fmt.Errorf("list backups: %w", err))
		return nil, err
	}
	if len(backups) == 0 {
		logging.Info("no permission backups for bot %s in %s", accountID, communityID)
		return nil, nil
	}

	restored := make([]string, 0, len(backups))
	for _, b := range backups {
		err := m.platform.EditRolePermissions(ctx, communityID, b.GroupingID, b.Permissions, "Anti-nuke: bot restored")
		if err != nil && !errors.Is(err, platform.ErrNotFound) {
			_, err = m.fail("restore_bot", fmt.Errorf("restore role %s: %w", b.GroupingID, err))
			return restored, err
		}
		if err == nil {
			restored = append(restored, b.GroupingID)
		}
		if err := m.store.DeletePermissionBackup(ctx, accountID, b.GroupingID); err != nil {
			logging.Error("backup delete failed for role %s (bot %s): %v", b.GroupingID, accountID, err)
		}
	}

	m.audit(ctx, communityID, accountID, EventBotRestored,
		fmt.Sprintf("by=%s; roles=%s", actorID, strings.Join(restored, ",")))
	metrics.QuarantineTransitions.WithLabelValues("restore_bot", "restored").Inc()
	return restored, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, platform.ErrNotFound)
}
