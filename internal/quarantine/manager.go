package quarantine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"nukeguard/internal/database"
	"nukeguard/internal/logging"
	"nukeguard/internal/metrics"
	"nukeguard/internal/notifier"
	"nukeguard/internal/platform"
)

// Audit log event names.
const (
	EventRestricted     = "restricted"
	EventRestored       = "restored"
	EventSelfHealed     = "self_healed"
	EventBotQuarantined = "bot_quarantined"
	EventBotRestored    = "bot_restored"
	EventKicked         = "kicked"
	EventBanned         = "banned"
	EventLockdown       = "lockdown"
	EventUnlock         = "unlock"
)

// Store is the persistence the manager writes snapshots and audit rows to.
type Store interface {
	UpsertSnapshot(ctx context.Context, snap *database.QuarantineSnapshot) error
	GetSnapshot(ctx context.Context, communityID, principalID string) (*database.QuarantineSnapshot, error)
	DeleteSnapshot(ctx context.Context, communityID, principalID string) error
	AppendAuditLog(ctx context.Context, entry *database.AuditLogEntry) error

	UpsertPermissionBackup(ctx context.Context, b *database.PermissionBackup) error
	ListPermissionBackups(ctx context.Context, communityID, accountID string) ([]*database.PermissionBackup, error)
	DeletePermissionBackup(ctx context.Context, accountID, groupingID string) error

	ReplaceLockdownBackups(ctx context.Context, communityID string, backups []*database.LockdownBackup) error
	ListLockdownBackups(ctx context.Context, communityID string) ([]*database.LockdownBackup, error)
	ClearLockdownBackups(ctx context.Context, communityID string) error
}

// Publisher delivers incident notices.
type Publisher interface {
	Publish(ctx context.Context, inc notifier.Incident) (*platform.Message, error)
	Delete(ctx context.Context, channelID, messageID string) error
}

// Resetter forgets a principal's rate windows after a restore.
type Resetter interface {
	Reset(principal, community string)
}

// Outcome of an Enact call.
type Outcome int

const (
	// Unknown accompanies an error; no transition completed.
	Unknown Outcome = iota
	// Restricted means the principal was moved into the restricted state.
	Restricted
	// Duplicate means the principal still holds the restricted role and was
	// restricted earlier in the same burst.
	Duplicate
	// AlreadyRestricted means the principal held the restricted role and a
	// snapshot already existed; extra roles were stripped, nothing else.
	AlreadyRestricted
)

func (o Outcome) String() string {
	switch o {
	case Unknown:
		return "unknown"
	case Restricted:
		return "restricted"
	case Duplicate:
		return "duplicate"
	case AlreadyRestricted:
		return "already_restricted"
	default:
		return "unknown"
	}
}

// Manager owns the Unrestricted/Restricted state machine per
// (principal, community) pair. Transitions for one pair never overlap.
type Manager struct {
	platform  platform.Platform
	store     Store
	publisher Publisher
	recent    RecentIndex
	resetter  Resetter
	roleName  string

	locks *keyedMutex
	roles singleflight.Group

	mu        sync.Mutex
	roleCache map[string]string

	now func() time.Time
}

func NewManager(p platform.Platform, store Store, publisher Publisher, recent RecentIndex, restrictedRole string) *Manager {
	return &Manager{
		platform:  p,
		store:     store,
		publisher: publisher,
		recent:    recent,
		roleName:  restrictedRole,
		locks:     newKeyedMutex(),
		roleCache: make(map[string]string),
		now:       time.Now,
	}
}

// SetResetter registers the rate tracker cleared on restore.
func (m *Manager) SetResetter(r Resetter) {
	m.resetter = r
}

// Enact moves a principal into the restricted state: snapshot the roles it
// holds, strip them, grant the restricted role, log and notify.
func (m *Manager) Enact(ctx context.Context, communityID, principalID, reason string) (Outcome, error) {
	unlock := m.locks.Lock(pairKey(communityID, principalID))
	defer unlock()

	community, err := m.platform.Community(ctx, communityID)
	if err != nil {
		return m.fail("enact", fmt.Errorf("resolve community: %w", err))
	}

	restrictedID, err := m.RestrictedRole(ctx, communityID)
	if err != nil {
		return m.fail("enact", err)
	}

	member, err := m.platform.Member(ctx, communityID, principalID)
	if err != nil {
		return m.fail("enact", fmt.Errorf("resolve member %s: %w", principalID, err))
	}

	// the recent index only gates the notice; the member's roles decide
	// whether the transition runs
	seen, err := m.recent.Contains(ctx, communityID, principalID)
	if err != nil {
		logging.Warn("recent index lookup failed for %s in %s: %v", principalID, communityID, err)
	}

	snap, err := m.store.GetSnapshot(ctx, communityID, principalID)
	if err != nil {
		logging.Error("snapshot read failed for %s in %s: %v", principalID, communityID, err)
	}

	if snap != nil && member.HasRole(restrictedID) {
		if _, err := m.stripRoles(ctx, communityID, member, restrictedID, community.DefaultRoleID(), "Restricted principal re-triggered"); err != nil {
			return m.fail("enact", err)
		}
		m.mark(ctx, communityID, principalID)
		out := AlreadyRestricted
		if seen {
			out = Duplicate
		}
		metrics.QuarantineTransitions.WithLabelValues("enact", out.String()).Inc()
		return out, nil
	}

	keep := snapshotRoles(member.Roles, community.DefaultRoleID(), restrictedID)
	if snap != nil {
		keep = mergeRoles(snap.GroupingIDs, keep)
	}
	if err := m.store.UpsertSnapshot(ctx, &database.QuarantineSnapshot{
		PrincipalID: principalID,
		CommunityID: communityID,
		GroupingIDs: keep,
		CreatedAt:   m.now().Unix(),
	}); err != nil {
		// the role changes still go ahead; the missing row shows up as a
		// restore that finds nothing to re-grant
		logging.Error("snapshot write failed for %s in %s: %v", principalID, communityID, err)
	}

	auditReason := "Anti-nuke: " + reason
	if _, err := m.stripRoles(ctx, communityID, member, restrictedID, community.DefaultRoleID(), auditReason); err != nil {
		return m.fail("enact", err)
	}
	if err := m.grant(ctx, communityID, principalID, restrictedID, auditReason); err != nil {
		return m.fail("enact", err)
	}

	incident := notifier.Incident{
		Kind:          notifier.KindRestricted,
		CommunityID:   communityID,
		CommunityName: community.Name,
		PrincipalID:   principalID,
		PrincipalName: member.Username,
		AvatarURL:     member.AvatarURL,
		Reason:        reason,
		At:            m.now(),
		ID:            uuid.NewString(),
	}

	m.audit(ctx, communityID, principalID, EventRestricted,
		fmt.Sprintf("reason=%s; roles=%s; incident=%s", reason, strings.Join(keep, ","), incident.ID))

	m.mark(ctx, communityID, principalID)

	if seen {
		logging.Debug("notice for %s in %s already sent in this burst", principalID, communityID)
	} else if _, err := m.publisher.Publish(ctx, incident); err != nil {
		logging.Warn("notice for %s in %s not delivered: %v", principalID, communityID, err)
	}

	logging.Info("restricted %s in %s (%s), snapshot %v", principalID, communityID, reason, keep)
	metrics.QuarantineTransitions.WithLabelValues("enact", Restricted.String()).Inc()
	return Restricted, nil
}

// Restore returns a principal to the roles captured by its snapshot. Roles
// deleted since are skipped. Without a snapshot this is a no-op returning a
// nil slice; a restore that re-grants nothing returns an empty one.
func (m *Manager) Restore(ctx context.Context, communityID, principalID, actorID string) ([]string, error) {
	unlock := m.locks.Lock(pairKey(communityID, principalID))
	defer unlock()

	snap, err := m.store.GetSnapshot(ctx, communityID, principalID)
	if err != nil {
		_, err = m.fail("restore", fmt.Errorf("read snapshot: %w", err))
		return nil, err
	}
	if snap == nil {
		logging.Info("restore requested for %s in %s but no snapshot exists", principalID, communityID)
		metrics.QuarantineTransitions.WithLabelValues("restore", "noop").Inc()
		return nil, nil
	}

	member, err := m.platform.Member(ctx, communityID, principalID)
	if err != nil {
		_, err = m.fail("restore", fmt.Errorf("resolve member %s: %w", principalID, err))
		return nil, err
	}

	roles, err := m.platform.Roles(ctx, communityID)
	if err != nil {
		_, err = m.fail("restore", fmt.Errorf("list roles: %w", err))
		return nil, err
	}
	existing := make(map[string]bool, len(roles))
	restrictedID := ""
	for _, r := range roles {
		existing[r.ID] = true
		if r.Name == m.roleName && restrictedID == "" {
			restrictedID = r.ID
		}
	}

	reason := "Anti-nuke: restored"
	if actorID != "" {
		reason = "Anti-nuke: restored by " + actorID
	}

	if restrictedID != "" && member.HasRole(restrictedID) {
		if err := m.platform.RemoveMemberRole(ctx, communityID, principalID, restrictedID, reason); err != nil && !errors.Is(err, platform.ErrNotFound) {
			_, err = m.fail("restore", fmt.Errorf("remove restricted role: %w", err))
			return nil, err
		}
	}

	restored := make([]string, 0, len(snap.GroupingIDs))
	for _, id := range snap.GroupingIDs {
		if !existing[id] {
			logging.Debug("restore %s in %s: role %s no longer exists", principalID, communityID, id)
			continue
		}
		err := m.platform.AddMemberRole(ctx, communityID, principalID, id, reason)
		if errors.Is(err, platform.ErrNotFound) {
			continue
		}
		if err != nil {
			_, err = m.fail("restore", fmt.Errorf("re-grant role %s: %w", id, err))
			return restored, err
		}
		restored = append(restored, id)
	}

	if err := m.store.DeleteSnapshot(ctx, communityID, principalID); err != nil {
		logging.Error("snapshot delete failed for %s in %s: %v", principalID, communityID, err)
	}
	m.forget(ctx, communityID, principalID)
	if m.resetter != nil {
		m.resetter.Reset(principalID, communityID)
	}

	m.audit(ctx, communityID, principalID, EventRestored,
		fmt.Sprintf("by=%s; roles=%s", actorID, strings.Join(restored, ",")))

	logging.Info("restored %s in %s, roles %v", principalID, communityID, restored)
	metrics.QuarantineTransitions.WithLabelValues("restore", "restored").Inc()
	return restored, nil
}

// IsRestricted reports whether a snapshot exists for the pair.
func (m *Manager) IsRestricted(ctx context.Context, communityID, principalID string) (bool, error) {
	snap, err := m.store.GetSnapshot(ctx, communityID, principalID)
	return snap != nil, err
}

// RestrictedRole returns the id of the restricted role, creating it without
// permissions when missing. Concurrent callers share one creation; a failed
// create is retried as a lookup by name.
func (m *Manager) RestrictedRole(ctx context.Context, communityID string) (string, error) {
	m.mu.Lock()
	id, ok := m.roleCache[communityID]
	m.mu.Unlock()
	if ok {
		return id, nil
	}

	v, err, _ := m.roles.Do(communityID, func() (interface{}, error) {
		id, err := m.findRole(ctx, communityID)
		if err != nil {
			return "", err
		}
		if id == "" {
			role, cerr := m.platform.CreateRole(ctx, communityID, m.roleName, 0, "Anti-nuke: restricted role")
			if cerr != nil {
				again, ferr := m.findRole(ctx, communityID)
				if ferr != nil || again == "" {
					return "", fmt.Errorf("create restricted role: %w", cerr)
				}
				id = again
			} else {
				id = role.ID
				logging.Info("created restricted role %s in %s", id, communityID)
			}
		}

		m.mu.Lock()
		m.roleCache[communityID] = id
		m.mu.Unlock()
		return id, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// lookupRestrictedRole is RestrictedRole without the create: it returns ""
// when the community has no restricted role.
func (m *Manager) lookupRestrictedRole(ctx context.Context, communityID string) (string, error) {
	m.mu.Lock()
	id, ok := m.roleCache[communityID]
	m.mu.Unlock()
	if ok {
		return id, nil
	}

	id, err := m.findRole(ctx, communityID)
	if err != nil || id == "" {
		return "", err
	}
	m.mu.Lock()
	m.roleCache[communityID] = id
	m.mu.Unlock()
	return id, nil
}

func (m *Manager) findRole(ctx context.Context, communityID string) (string, error) {
	roles, err := m.platform.Roles(ctx, communityID)
	if err != nil {
		return "", fmt.Errorf("list roles: %w", err)
	}
	for _, r := range roles {
		if r.Name == m.roleName {
			return r.ID, nil
		}
	}
	return "", nil
}

func (m *Manager) forgetRole(communityID string) {
	m.mu.Lock()
	delete(m.roleCache, communityID)
	m.mu.Unlock()
}

// grant adds the restricted role, re-resolving it once if the cached id
// was deleted.
func (m *Manager) grant(ctx context.Context, communityID, principalID, roleID, reason string) error {
	err := m.platform.AddMemberRole(ctx, communityID, principalID, roleID, reason)
	if errors.Is(err, platform.ErrNotFound) {
		m.forgetRole(communityID)
		roleID, err = m.RestrictedRole(ctx, communityID)
		if err != nil {
			return err
		}
		err = m.platform.AddMemberRole(ctx, communityID, principalID, roleID, reason)
	}
	if err != nil {
		return fmt.Errorf("grant restricted role: %w", err)
	}
	return nil
}

// stripRoles removes every role except the default and restricted ones and
// returns the ids removed. Roles already gone are skipped.
func (m *Manager) stripRoles(ctx context.Context, communityID string, member *platform.Member, restrictedID, defaultID, reason string) ([]string, error) {
	var removed []string
	for _, id := range member.Roles {
		if id == restrictedID || id == defaultID {
			continue
		}
		err := m.platform.RemoveMemberRole(ctx, communityID, member.UserID, id, reason)
		if errors.Is(err, platform.ErrNotFound) {
			continue
		}
		if err != nil {
			return removed, fmt.Errorf("remove role %s from %s: %w", id, member.UserID, err)
		}
		removed = append(removed, id)
	}
	return removed, nil
}

func (m *Manager) mark(ctx context.Context, communityID, principalID string) {
	if _, err := m.recent.Mark(ctx, communityID, principalID, m.now()); err != nil {
		logging.Warn("recent index mark failed for %s in %s: %v", principalID, communityID, err)
	}
}

func (m *Manager) audit(ctx context.Context, communityID, principalID, event, extra string) {
	if err := m.store.AppendAuditLog(ctx, &database.AuditLogEntry{
		CommunityID: communityID,
		PrincipalID: principalID,
		Event:       event,
		ExtraInfo:   extra,
		Timestamp:   m.now().Unix(),
	}); err != nil {
		logging.Error("audit log write failed (%s %s in %s): %v", event, principalID, communityID, err)
	}
}

// fail logs a transition error, abandoning it. Permission errors are
// expected when the bot sits below the target in the role hierarchy.
func (m *Manager) fail(transition string, err error) (Outcome, error) {
	if errors.Is(err, platform.ErrForbidden) {
		logging.Warn("%s abandoned, missing permissions: %v", transition, err)
		metrics.QuarantineTransitions.WithLabelValues(transition, "forbidden").Inc()
	} else {
		logging.Error("%s failed: %v", transition, err)
		metrics.QuarantineTransitions.WithLabelValues(transition, "error").Inc()
	}
	return Unknown, err
}

// mergeRoles appends the ids in extra missing from base.
func mergeRoles(base, extra []string) []string {
	out := append([]string(nil), base...)
	for _, id := range extra {
		found := false
		for _, have := range out {
			if have == id {
				found = true
				break
			}
		}
		if !found {
			out = append(out, id)
		}
	}
	return out
}

func snapshotRoles(roles []string, defaultID, restrictedID string) []string {
	keep := make([]string, 0, len(roles))
	for _, id := range roles {
		if id == defaultID || id == restrictedID {
			continue
		}
		keep = append(keep, id)
	}
	return keep
}
