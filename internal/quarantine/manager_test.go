package quarantine

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"nukeguard/internal/database"
	"nukeguard/internal/dispatcher"
	"nukeguard/internal/notifier"
	"nukeguard/internal/platform"
	"nukeguard/internal/platform/platformtest"
)

type ManagerSuite struct {
	suite.Suite
	ctx  context.Context
	db   *database.Database
	fake *platformtest.Fake
	mgr  *Manager
}

func TestManagerSuite(t *testing.T) {
	suite.Run(t, new(ManagerSuite))
}

func (s *ManagerSuite) SetupTest() {
	s.ctx = context.Background()

	db, err := database.Open(filepath.Join(s.T().TempDir(), "q.db"))
	s.Require().NoError(err)
	s.db = db

	s.fake = platformtest.New("self")
	s.fake.AddCommunity("g1", "Guild One", "owner")
	s.fake.AddRole("g1", platform.Role{ID: "r1", Name: "Moderator", Permissions: 0x2})
	s.fake.AddRole("g1", platform.Role{ID: "r2", Name: "Admin", Permissions: 0x8})
	s.fake.AddRole("g1", platform.Role{ID: "r3", Name: "Helper", Permissions: 0x4})
	s.fake.AddMember("g1", platform.Member{UserID: "u1", Username: "mallory", Roles: []string{"r1", "r2"}})

	s.mgr = s.newManager(s.db)
}

func (s *ManagerSuite) newManager(store Store) *Manager {
	pub := notifier.New(s.fake, "logs-restrictions", nil)
	return NewManager(s.fake, store, pub, NewMemRecentIndex(128, time.Minute), "Restricted")
}

func (s *ManagerSuite) TearDownTest() {
	s.Require().NoError(s.db.Close())
}

func (s *ManagerSuite) restrictedID() string {
	role, ok := s.fake.RoleByName("g1", "Restricted")
	s.Require().True(ok, "restricted role missing")
	return role.ID
}

func (s *ManagerSuite) auditEvents() []string {
	entries, err := s.db.RecentAuditLog(s.ctx, "g1", 50)
	s.Require().NoError(err)
	var events []string
	for i := len(entries) - 1; i >= 0; i-- {
		events = append(events, entries[i].Event)
	}
	return events
}

func (s *ManagerSuite) TestEnact() {
	out, err := s.mgr.Enact(s.ctx, "g1", "u1", "channels_deleted limit exceeded")
	s.Require().NoError(err)
	s.Equal(Restricted, out)

	restricted := s.restrictedID()
	role, _ := s.fake.Role("g1", restricted)
	s.Zero(role.Permissions)
	s.Equal([]string{restricted}, s.fake.MemberRoles("g1", "u1"))

	snap, err := s.db.GetSnapshot(s.ctx, "g1", "u1")
	s.Require().NoError(err)
	s.ElementsMatch([]string{"r1", "r2"}, snap.GroupingIDs)

	s.Equal([]string{EventRestricted}, s.auditEvents())
	s.Require().Len(s.fake.Notices(), 1)
	s.Equal("User Restricted", s.fake.Notices()[0].Notice.Title)
}

func (s *ManagerSuite) TestRepeatedEnactKeepsOneSnapshotAndOneNotice() {
	for i := 0; i < 3; i++ {
		_, err := s.mgr.Enact(s.ctx, "g1", "u1", "bans limit exceeded")
		s.Require().NoError(err)
	}

	// a fresh manager has an empty recent index, as after a restart
	again := s.newManager(s.db)
	out, err := again.Enact(s.ctx, "g1", "u1", "bans limit exceeded")
	s.Require().NoError(err)
	s.Equal(AlreadyRestricted, out)

	snaps, err := s.db.ListSnapshots(s.ctx, "g1")
	s.Require().NoError(err)
	s.Require().Len(snaps, 1)
	s.ElementsMatch([]string{"r1", "r2"}, snaps[0].GroupingIDs)
	s.Len(s.fake.Notices(), 1)
	s.Equal([]string{EventRestricted}, s.auditEvents())
}

func (s *ManagerSuite) TestConcurrentEnactSingleTransition() {
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		outcomes = map[Outcome]int{}
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := s.mgr.Enact(s.ctx, "g1", "u1", "roles_deleted limit exceeded")
			s.NoError(err)
			mu.Lock()
			outcomes[out]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	s.Equal(1, outcomes[Restricted])
	s.Equal(9, outcomes[Duplicate])
	s.Equal(1, s.fake.Calls("CreateRole"))
	s.Len(s.fake.Notices(), 1)
	s.Zero(s.mgr.locks.size())
}

func (s *ManagerSuite) TestEnactAfterRestrictedRoleRemovedByHand() {
	out, err := s.mgr.Enact(s.ctx, "g1", "u1", "bans limit exceeded")
	s.Require().NoError(err)
	s.Equal(Restricted, out)
	restricted := s.restrictedID()

	s.Require().NoError(s.fake.RemoveMemberRole(s.ctx, "g1", "u1", restricted, "manual"))
	s.fake.GrantRole("g1", "u1", "r3")

	out, err = s.mgr.Enact(s.ctx, "g1", "u1", "bans limit exceeded")
	s.Require().NoError(err)
	s.Equal(Restricted, out)
	s.Equal([]string{restricted}, s.fake.MemberRoles("g1", "u1"))
	s.Len(s.fake.Notices(), 1, "second notice in the same burst is suppressed")

	snap, err := s.db.GetSnapshot(s.ctx, "g1", "u1")
	s.Require().NoError(err)
	s.ElementsMatch([]string{"r1", "r2", "r3"}, snap.GroupingIDs)
	s.Equal([]string{EventRestricted, EventRestricted}, s.auditEvents())
}

func (s *ManagerSuite) TestKickClearsRecentMark() {
	_, err := s.mgr.Enact(s.ctx, "g1", "u1", "bans limit exceeded")
	s.Require().NoError(err)

	res := s.mgr.Execute(s.ctx, dispatcher.Command{Action: dispatcher.ActionKick, Subject: dispatcher.SubjectUser, Community: "g1", Principal: "u1", Actor: "owner", ChannelID: "c", MessageID: "m"})
	s.Require().NoError(res.Err)
	seen, err := s.mgr.recent.Contains(s.ctx, "g1", "u1")
	s.Require().NoError(err)
	s.False(seen)

	// rejoined with a fresh role
	s.fake.AddMember("g1", platform.Member{UserID: "u1", Username: "mallory", Roles: []string{"r3"}})
	out, err := s.mgr.Enact(s.ctx, "g1", "u1", "bans limit exceeded")
	s.Require().NoError(err)
	s.Equal(Restricted, out)
	s.Equal([]string{s.restrictedID()}, s.fake.MemberRoles("g1", "u1"))
	s.Len(s.fake.Notices(), 2)
}

func (s *ManagerSuite) TestRoundTripSkipsDeletedRoles() {
	_, err := s.mgr.Enact(s.ctx, "g1", "u1", "roles_created limit exceeded")
	s.Require().NoError(err)

	s.fake.DeleteRole("g1", "r2")

	restored, err := s.mgr.Restore(s.ctx, "g1", "u1", "owner")
	s.Require().NoError(err)
	s.Equal([]string{"r1"}, restored)
	s.Equal([]string{"r1"}, s.fake.MemberRoles("g1", "u1"))

	snap, err := s.db.GetSnapshot(s.ctx, "g1", "u1")
	s.Require().NoError(err)
	s.Nil(snap)

	seen, err := s.mgr.recent.Contains(s.ctx, "g1", "u1")
	s.Require().NoError(err)
	s.False(seen)
	s.Equal([]string{EventRestricted, EventRestored}, s.auditEvents())
}

func (s *ManagerSuite) TestRestoreWithoutSnapshotIsNoop() {
	restored, err := s.mgr.Restore(s.ctx, "g1", "u1", "owner")
	s.NoError(err)
	s.Nil(restored)
	s.Zero(s.fake.Calls("AddMemberRole"))
	s.Zero(s.fake.Calls("RemoveMemberRole"))
	s.Equal([]string{"r1", "r2"}, s.fake.MemberRoles("g1", "u1"))
	s.Empty(s.auditEvents())
}

func (s *ManagerSuite) TestRestoreWithNoLiveRoles() {
	s.fake.AddMember("g1", platform.Member{UserID: "u2", Username: "spammer"})
	_, err := s.mgr.Enact(s.ctx, "g1", "u2", "messages limit exceeded")
	s.Require().NoError(err)

	restored, err := s.mgr.Restore(s.ctx, "g1", "u2", "owner")
	s.Require().NoError(err)
	s.NotNil(restored)
	s.Empty(restored)
	s.Empty(s.fake.MemberRoles("g1", "u2"))

	snap, err := s.db.GetSnapshot(s.ctx, "g1", "u2")
	s.Require().NoError(err)
	s.Nil(snap)
}

type resetRecorder struct{ calls []string }

func (r *resetRecorder) Reset(principal, community string) {
	r.calls = append(r.calls, community+"/"+principal)
}

func (s *ManagerSuite) TestRestoreResetsRateWindows() {
	rec := &resetRecorder{}
	s.mgr.SetResetter(rec)

	_, err := s.mgr.Enact(s.ctx, "g1", "u1", "kicks limit exceeded")
	s.Require().NoError(err)
	_, err = s.mgr.Restore(s.ctx, "g1", "u1", "owner")
	s.Require().NoError(err)

	s.Equal([]string{"g1/u1"}, rec.calls)
}

func (s *ManagerSuite) TestSelfHealRevokesNewRole() {
	_, err := s.mgr.Enact(s.ctx, "g1", "u1", "bans limit exceeded")
	s.Require().NoError(err)
	restricted := s.restrictedID()

	s.fake.GrantRole("g1", "u1", "r3")
	revoked, err := s.mgr.Enforce(s.ctx, "g1", "u1", []string{restricted}, []string{restricted, "r3"})
	s.Require().NoError(err)
	s.Equal([]string{"r3"}, revoked)
	s.Equal([]string{restricted}, s.fake.MemberRoles("g1", "u1"))

	// re-applying is harmless
	_, err = s.mgr.Enforce(s.ctx, "g1", "u1", []string{restricted}, []string{restricted, "r3"})
	s.NoError(err)
}

func (s *ManagerSuite) TestSelfHealExternalRestriction() {
	restricted, err := s.mgr.RestrictedRole(s.ctx, "g1")
	s.Require().NoError(err)

	s.fake.AddMember("g1", platform.Member{UserID: "u2", Roles: []string{"r1", restricted}})
	revoked, err := s.mgr.Enforce(s.ctx, "g1", "u2", []string{"r1"}, []string{"r1", restricted})
	s.Require().NoError(err)
	s.Equal([]string{"r1"}, revoked)
	s.Equal([]string{restricted}, s.fake.MemberRoles("g1", "u2"))

	snap, err := s.db.GetSnapshot(s.ctx, "g1", "u2")
	s.Require().NoError(err)
	s.Require().NotNil(snap)
	s.Equal([]string{"r1"}, snap.GroupingIDs)
}

func (s *ManagerSuite) TestEnforceIgnoresUnrestricted() {
	_, err := s.mgr.RestrictedRole(s.ctx, "g1")
	s.Require().NoError(err)

	revoked, err := s.mgr.Enforce(s.ctx, "g1", "u1", []string{"r1"}, []string{"r1", "r2"})
	s.NoError(err)
	s.Empty(revoked)
	s.Zero(s.fake.Calls("RemoveMemberRole"))
}

func (s *ManagerSuite) TestEnforceWithoutRestrictedRoleDoesNotCreateIt() {
	revoked, err := s.mgr.Enforce(s.ctx, "g1", "u1", nil, []string{"r1"})
	s.NoError(err)
	s.Empty(revoked)
	s.Zero(s.fake.Calls("CreateRole"))
}

func (s *ManagerSuite) TestForbiddenAbandons() {
	s.fake.FailOn("RemoveMemberRole", platform.ErrForbidden)

	out, err := s.mgr.Enact(s.ctx, "g1", "u1", "bans limit exceeded")
	s.ErrorIs(err, platform.ErrForbidden)
	s.Equal(Unknown, out)
	s.Empty(s.fake.Notices())
	s.Equal([]string{"r1", "r2"}, s.fake.MemberRoles("g1", "u1"))

	// nothing was marked, so the next trigger tries again
	s.fake.FailOn("RemoveMemberRole", nil)
	out, err = s.mgr.Enact(s.ctx, "g1", "u1", "bans limit exceeded")
	s.NoError(err)
	s.Equal(Restricted, out)
}

type snapshotFailStore struct {
	*database.Database
}

func (snapshotFailStore) UpsertSnapshot(context.Context, *database.QuarantineSnapshot) error {
	return errors.New("database is locked")
}

func (s *ManagerSuite) TestSnapshotFailureStillRestricts() {
	mgr := s.newManager(snapshotFailStore{s.db})

	out, err := mgr.Enact(s.ctx, "g1", "u1", "bans limit exceeded")
	s.Require().NoError(err)
	s.Equal(Restricted, out)
	s.Equal([]string{s.restrictedID()}, s.fake.MemberRoles("g1", "u1"))
}

func (s *ManagerSuite) TestRestrictedRoleReusesExisting() {
	s.fake.AddRole("g1", platform.Role{ID: "rx", Name: "Restricted"})

	id, err := s.mgr.RestrictedRole(s.ctx, "g1")
	s.Require().NoError(err)
	s.Equal("rx", id)
	s.Zero(s.fake.Calls("CreateRole"))
}

func (s *ManagerSuite) TestRestrictedRoleCreateFailure() {
	s.fake.FailOn("CreateRole", platform.ErrForbidden)

	_, err := s.mgr.RestrictedRole(s.ctx, "g1")
	s.ErrorIs(err, platform.ErrForbidden)

	out, err := s.mgr.Enact(s.ctx, "g1", "u1", "bans limit exceeded")
	s.ErrorIs(err, platform.ErrForbidden)
	s.Equal(Unknown, out)
	s.Equal([]string{"r1", "r2"}, s.fake.MemberRoles("g1", "u1"))
}

func (s *ManagerSuite) TestAutomatedAccountDemotion() {
	s.fake.AddRole("g1", platform.Role{ID: "rb", Name: "SomeBot", Permissions: 0x8, Managed: true})
	bot := &platform.Member{UserID: "b1", Username: "somebot", Bot: true, Roles: []string{"rb", "r1"}}
	s.fake.AddMember("g1", *bot)

	zeroed, err := s.mgr.DemoteAutomatedAccount(s.ctx, "g1", bot)
	s.Require().NoError(err)
	s.ElementsMatch([]string{"rb", "r1"}, zeroed)

	role, _ := s.fake.Role("g1", "rb")
	s.Zero(role.Permissions)
	s.ElementsMatch([]string{"r1", "rb"}, s.fake.MemberRoles("g1", "b1"), "roles stay assigned")

	backups, err := s.db.ListPermissionBackups(s.ctx, "g1", "b1")
	s.Require().NoError(err)
	s.Len(backups, 2)

	s.Require().Len(s.fake.Notices(), 1)
	s.Equal("Bot Quarantined", s.fake.Notices()[0].Notice.Title)
	s.Equal([]string{EventBotQuarantined}, s.auditEvents())

	restored, err := s.mgr.RestoreAutomatedAccount(s.ctx, "g1", "b1", "owner")
	s.Require().NoError(err)
	s.ElementsMatch([]string{"rb", "r1"}, restored)
	role, _ = s.fake.Role("g1", "rb")
	s.Equal(int64(0x8), role.Permissions)

	backups, err = s.db.ListPermissionBackups(s.ctx, "g1", "b1")
	s.Require().NoError(err)
	s.Empty(backups)
}

func (s *ManagerSuite) TestExecuteRestoreDeletesNotice() {
	_, err := s.mgr.Enact(s.ctx, "g1", "u1", "bans limit exceeded")
	s.Require().NoError(err)
	msg := s.fake.Notices()[0].Message

	res := s.mgr.Execute(s.ctx, dispatcher.Command{
		Action: dispatcher.ActionRestore, Subject: dispatcher.SubjectUser,
		Community: "g1", Principal: "u1", Actor: "owner",
		ChannelID: msg.ChannelID, MessageID: msg.ID,
	})
	s.Require().NoError(res.Err)
	s.Equal([]string{"r1", "r2"}, s.fake.MemberRoles("g1", "u1"))
	s.Equal([]platform.Message{msg}, s.fake.DeletedMessages())
}

func (s *ManagerSuite) TestExecuteKickBanDismiss() {
	s.fake.AddMember("g1", platform.Member{UserID: "u2"})

	res := s.mgr.Execute(s.ctx, dispatcher.Command{Action: dispatcher.ActionKick, Subject: dispatcher.SubjectUser, Community: "g1", Principal: "u1", ChannelID: "c", MessageID: "m1"})
	s.NoError(res.Err)
	s.Equal([]string{"u1"}, s.fake.Kicked("g1"))

	res = s.mgr.Execute(s.ctx, dispatcher.Command{Action: dispatcher.ActionBan, Subject: dispatcher.SubjectUser, Community: "g1", Principal: "u2", ChannelID: "c", MessageID: "m2"})
	s.NoError(res.Err)
	s.Equal([]string{"u2"}, s.fake.Banned("g1"))

	res = s.mgr.Execute(s.ctx, dispatcher.Command{Action: dispatcher.ActionDismiss, Subject: dispatcher.SubjectUser, Community: "g1", Principal: "u3", ChannelID: "c", MessageID: "m3"})
	s.NoError(res.Err)

	s.Len(s.fake.DeletedMessages(), 3)
	s.Equal([]string{EventKicked, EventBanned}, s.auditEvents())
}

func (s *ManagerSuite) TestExecuteFailureKeepsNotice() {
	s.fake.FailOn("Ban", platform.ErrForbidden)

	res := s.mgr.Execute(s.ctx, dispatcher.Command{Action: dispatcher.ActionBan, Subject: dispatcher.SubjectUser, Community: "g1", Principal: "u1", ChannelID: "c", MessageID: "m"})
	s.ErrorIs(res.Err, platform.ErrForbidden)
	s.Empty(s.fake.DeletedMessages())
}

func (s *ManagerSuite) TestLockdownAndUnlock() {
	s.fake.AddRole("g1", platform.Role{ID: "rb", Name: "SomeBot", Permissions: 0x8, Managed: true})

	res, err := s.mgr.Lockdown(s.ctx, "g1", "owner")
	s.Require().NoError(err)
	s.ElementsMatch([]string{"r1", "r2", "r3"}, res.Changed)

	for _, id := range []string{"r1", "r2", "r3"} {
		role, _ := s.fake.Role("g1", id)
		s.Zero(role.Permissions, id)
	}
	managed, _ := s.fake.Role("g1", "rb")
	s.Equal(int64(0x8), managed.Permissions)
	everyone, _ := s.fake.Role("g1", "g1")
	s.NotZero(everyone.Permissions)

	res, err = s.mgr.Unlock(s.ctx, "g1", "owner")
	s.Require().NoError(err)
	s.Len(res.Changed, 3)
	role, _ := s.fake.Role("g1", "r2")
	s.Equal(int64(0x8), role.Permissions)

	backups, err := s.db.ListLockdownBackups(s.ctx, "g1")
	s.Require().NoError(err)
	s.Empty(backups)
	s.Equal([]string{EventLockdown, EventUnlock}, s.auditEvents())
}

func (s *ManagerSuite) TestSecondLockdownKeepsBackup() {
	_, err := s.mgr.Lockdown(s.ctx, "g1", "owner")
	s.Require().NoError(err)

	_, err = s.mgr.Lockdown(s.ctx, "g1", "owner")
	s.ErrorIs(err, ErrLockdownActive)

	res, err := s.mgr.Unlock(s.ctx, "g1", "owner")
	s.Require().NoError(err)
	s.Len(res.Changed, 3)
	for id, want := range map[string]int64{"r1": 0x2, "r2": 0x8, "r3": 0x4} {
		role, _ := s.fake.Role("g1", id)
		s.Equal(want, role.Permissions, id)
	}

	_, err = s.mgr.Lockdown(s.ctx, "g1", "owner")
	s.NoError(err, "lockdown is allowed again after unlock")
}

func (s *ManagerSuite) TestLockdownSkipsForbiddenRoles() {
	s.fake.FailOn("EditRolePermissions", platform.ErrForbidden)

	res, err := s.mgr.Lockdown(s.ctx, "g1", "owner")
	s.Require().NoError(err)
	s.Empty(res.Changed)
	s.Len(res.Skipped, 3)
}
