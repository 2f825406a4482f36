package quarantine

import (
	"context"
	"errors"
	"fmt"

	"nukeguard/internal/database"
	"nukeguard/internal/logging"
	"nukeguard/internal/platform"
)

// ErrLockdownActive is returned by Lockdown while an earlier lockdown's
// backup has not been unlocked.
var ErrLockdownActive = errors.New("community is already in lockdown")

// LockdownResult summarizes a Lockdown or Unlock run.
type LockdownResult struct {
	Changed []string
	// Skipped roles could not be edited, usually because they sit above the
	// bot in the hierarchy.
	Skipped []string
}

// Lockdown zeroes the permissions of every non-default, unmanaged role and
// saves the previous bitmasks for Unlock. A second Lockdown before Unlock
// fails with ErrLockdownActive and leaves the saved bitmasks untouched.
func (m *Manager) Lockdown(ctx context.Context, communityID, actorID string) (*LockdownResult, error) {
	unlock := m.locks.Lock("lockdown/" + communityID)
	defer unlock()

	existing, err := m.store.ListLockdownBackups(ctx, communityID)
	if err != nil {
		return nil, fmt.Errorf("read lockdown backup: %w", err)
	}
	if len(existing) > 0 {
		return nil, ErrLockdownActive
	}

	roles, err := m.platform.Roles(ctx, communityID)
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}

	var backups []*database.LockdownBackup
	for _, r := range roles {
		if r.ID == communityID || r.Managed || r.Name == m.roleName || r.Permissions == 0 {
			continue
		}
		backups = append(backups, &database.LockdownBackup{
			CommunityID: communityID,
			GroupingID:  r.ID,
			Permissions: r.Permissions,
		})
	}

	// without the backup there is nothing to unlock to, so stop here
	if err := m.store.ReplaceLockdownBackups(ctx, communityID, backups); err != nil {
		return nil, fmt.Errorf("save lockdown backup: %w", err)
	}

	res := &LockdownResult{}
	for _, b := range backups {
		err := m.platform.EditRolePermissions(ctx, communityID, b.GroupingID, 0, "Anti-nuke: lockdown by "+actorID)
		switch {
		case err == nil:
			res.Changed = append(res.Changed, b.GroupingID)
		case errors.Is(err, platform.ErrForbidden), errors.Is(err, platform.ErrNotFound):
			res.Skipped = append(res.Skipped, b.GroupingID)
		default:
			return res, fmt.Errorf("zero role %s: %w", b.GroupingID, err)
		}
	}

	m.audit(ctx, communityID, actorID, EventLockdown, fmt.Sprintf("changed=%d; skipped=%d", len(res.Changed), len(res.Skipped)))
	logging.Info("lockdown in %s by %s: %d roles zeroed, %d skipped", communityID, actorID, len(res.Changed), len(res.Skipped))
	return res, nil
}

// Unlock restores the bitmasks saved by the last Lockdown.
func (m *Manager) Unlock(ctx context.Context, communityID, actorID string) (*LockdownResult, error) {
	unlock := m.locks.Lock("lockdown/" + communityID)
	defer unlock()

	backups, err := m.store.ListLockdownBackups(ctx, communityID)
	if err != nil {
		return nil, fmt.Errorf("read lockdown backup: %w", err)
	}

	res := &LockdownResult{}
	for _, b := range backups {
		err := m.platform.EditRolePermissions(ctx, communityID, b.GroupingID, b.Permissions, "Anti-nuke: unlock by "+actorID)
		switch {
		case err == nil:
			res.Changed = append(res.Changed, b.GroupingID)
		case errors.Is(err, platform.ErrForbidden), errors.Is(err, platform.ErrNotFound):
			res.Skipped = append(res.Skipped, b.GroupingID)
		default:
			return res, fmt.Errorf("restore role %s: %w", b.GroupingID, err)
		}
	}

	if err := m.store.ClearLockdownBackups(ctx, communityID); err != nil {
		logging.Error("clear lockdown backup failed for %s: %v", communityID, err)
	}

	m.audit(ctx, communityID, actorID, EventUnlock, fmt.Sprintf("changed=%d; skipped=%d", len(res.Changed), len(res.Skipped)))
	logging.Info("unlock in %s by %s: %d roles restored", communityID, actorID, len(res.Changed))
	return res, nil
}
