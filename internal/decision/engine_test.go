package decision

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"nukeguard/internal/auth"
	"nukeguard/internal/database"
	"nukeguard/internal/forensics"
	"nukeguard/internal/limits"
	"nukeguard/internal/models"
	"nukeguard/internal/notifier"
	"nukeguard/internal/platform"
	"nukeguard/internal/platform/platformtest"
	"nukeguard/internal/quarantine"
	"nukeguard/internal/ratetracker"
)

type EngineSuite struct {
	suite.Suite
	ctx     context.Context
	db      *database.Database
	fake    *platformtest.Fake
	store   *limits.Store
	tracker *ratetracker.Tracker
	engine  *Engine
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}

func (s *EngineSuite) SetupTest() {
	s.ctx = context.Background()

	db, err := database.Open(filepath.Join(s.T().TempDir(), "engine.db"))
	s.Require().NoError(err)
	s.db = db

	s.fake = platformtest.New("self")
	s.fake.AddCommunity("g1", "Guild One", "owner")
	s.fake.AddRole("g1", platform.Role{ID: "r1", Name: "Moderator", Permissions: 0x10})
	s.fake.AddMember("g1", platform.Member{UserID: "u1", Username: "mallory", Roles: []string{"r1"}, JoinedAt: time.Now().Add(-24 * time.Hour)})
	s.fake.AddMember("g1", platform.Member{UserID: "owner", Username: "owner"})

	s.store = limits.NewStore(db, 0, 0)
	s.tracker = ratetracker.New()
	gate := auth.NewGate(s.fake, db, 10*time.Minute)
	attributor := forensics.NewAttributor(s.fake, forensics.NewAuditCache(128, time.Minute), 10*time.Second, 0, 5)
	mgr := quarantine.NewManager(s.fake, db, notifier.New(s.fake, "logs-restrictions", nil),
		quarantine.NewMemRecentIndex(128, time.Minute), "Restricted")
	mgr.SetResetter(s.tracker)

	s.engine = NewEngine(s.store, s.tracker, gate, attributor, mgr, 5*time.Second)
}

func (s *EngineSuite) TearDownTest() {
	s.Require().NoError(s.db.Close())
}

func (s *EngineSuite) restricted(principal string) bool {
	snap, err := s.db.GetSnapshot(s.ctx, "g1", principal)
	s.Require().NoError(err)
	return snap != nil
}

func (s *EngineSuite) deleteChannel(actor, channelID string) error {
	now := time.Now()
	s.fake.AddAuditEntry("g1", platform.AuditEntry{Kind: platform.AuditChannelDelete, ActorID: actor, TargetID: channelID, At: now})
	return s.engine.Handle(s.ctx, Event{Kind: ChannelDeleted, CommunityID: "g1", TargetID: channelID, At: now})
}

func (s *EngineSuite) TestChannelDeletionBurstRestricts() {
	s.Require().NoError(s.store.Upsert(s.ctx, "g1", limits.Patch{Max: map[models.ActionType]int{models.ActionChannelsDeleted: 2}}))

	s.Require().NoError(s.deleteChannel("u1", "c1"))
	s.Require().NoError(s.deleteChannel("u1", "c2"))
	s.False(s.restricted("u1"))

	s.Require().NoError(s.deleteChannel("u1", "c3"))
	s.True(s.restricted("u1"))

	role, ok := s.fake.RoleByName("g1", "Restricted")
	s.Require().True(ok)
	s.Equal([]string{role.ID}, s.fake.MemberRoles("g1", "u1"))

	s.Require().Len(s.fake.Notices(), 1)
	var reason string
	for _, f := range s.fake.Notices()[0].Notice.Fields {
		if f.Name == "Reason" {
			reason = f.Value
		}
	}
	s.Equal("channels_deleted limit exceeded", reason)
}

func (s *EngineSuite) TestMessageBurstUsesDefaults() {
	for i := 0; i < 5; i++ {
		s.Require().NoError(s.engine.Handle(s.ctx, Event{Kind: MessageCreated, CommunityID: "g1", ActorID: "u1", TargetID: fmt.Sprintf("m%d", i)}))
	}
	s.False(s.restricted("u1"))

	s.Require().NoError(s.engine.Handle(s.ctx, Event{Kind: MessageCreated, CommunityID: "g1", ActorID: "u1", TargetID: "m5"}))
	s.True(s.restricted("u1"))
}

func (s *EngineSuite) TestOwnerNeverRecorded() {
	for i := 0; i < 10; i++ {
		s.Require().NoError(s.deleteChannel("owner", fmt.Sprintf("c%d", i)))
	}
	s.False(s.restricted("owner"))
	s.Zero(s.tracker.Count(ratetracker.Key{Principal: "owner", Community: "g1", Action: models.ActionChannelsDeleted}))
	s.Zero(s.fake.Calls("CreateRole"))
}

func (s *EngineSuite) TestAllowListedNeverRecorded() {
	s.Require().NoError(s.db.UpsertAllowListEntry(s.ctx, &database.AllowListEntry{CommunityID: "g1", PrincipalID: "u1", CanUseCommands: true, AddedBy: "owner"}))

	for i := 0; i < 3; i++ {
		s.Require().NoError(s.deleteChannel("u1", fmt.Sprintf("c%d", i)))
	}
	s.False(s.restricted("u1"))
	s.Zero(s.tracker.Count(ratetracker.Key{Principal: "u1", Community: "g1", Action: models.ActionChannelsDeleted}))
}

func (s *EngineSuite) TestEstablishedBotNeverRecorded() {
	s.fake.AddMember("g1", platform.Member{UserID: "b2", Username: "musicbot", Bot: true, JoinedAt: time.Now().Add(-48 * time.Hour)})

	for i := 0; i < 10; i++ {
		s.Require().NoError(s.engine.Handle(s.ctx, Event{Kind: MessageCreated, CommunityID: "g1", ActorID: "b2", TargetID: fmt.Sprintf("m%d", i)}))
	}
	s.False(s.restricted("b2"))
	s.Zero(s.tracker.Count(ratetracker.Key{Principal: "b2", Community: "g1", Action: models.ActionMessages}))
}

func (s *EngineSuite) TestSingleRoleUpdateTolerated() {
	update := func(roleID string) error {
		now := time.Now()
		s.fake.AddAuditEntry("g1", platform.AuditEntry{Kind: platform.AuditRoleUpdate, ActorID: "u1", TargetID: roleID, At: now})
		return s.engine.Handle(s.ctx, Event{Kind: RoleUpdated, CommunityID: "g1", TargetID: roleID, At: now})
	}

	s.Require().NoError(update("r1"))
	s.False(s.restricted("u1"))

	s.Require().NoError(update("r1"))
	s.True(s.restricted("u1"))
}

func (s *EngineSuite) TestSelfNeverRecorded() {
	s.Require().NoError(s.deleteChannel("self", "c1"))
	s.Zero(s.tracker.Size())
}

func (s *EngineSuite) TestDisabledCommunitySkips() {
	off := false
	s.Require().NoError(s.store.Upsert(s.ctx, "g1", limits.Patch{Enabled: &off}))

	s.Require().NoError(s.deleteChannel("u1", "c1"))
	s.Zero(s.tracker.Size())
	s.False(s.restricted("u1"))
}

func (s *EngineSuite) TestUnattributedEventDropped() {
	err := s.engine.Handle(s.ctx, Event{Kind: RoleDeleted, CommunityID: "g1", TargetID: "r9", At: time.Now()})
	s.NoError(err)
	s.Zero(s.tracker.Size())
}

func (s *EngineSuite) TestNewBotDemotedOnJoin() {
	s.fake.AddRole("g1", platform.Role{ID: "rb", Name: "Nuker", Permissions: 0x8, Managed: true})
	bot := &platform.Member{UserID: "b1", Username: "nuker", Bot: true, Roles: []string{"rb"}, JoinedAt: time.Now()}
	s.fake.AddMember("g1", *bot)

	s.Require().NoError(s.engine.Handle(s.ctx, Event{Kind: PrincipalJoined, CommunityID: "g1", TargetID: "b1", Member: bot}))

	role, _ := s.fake.Role("g1", "rb")
	s.Zero(role.Permissions)
}

func (s *EngineSuite) TestHumanJoinIgnored() {
	m := &platform.Member{UserID: "u2", JoinedAt: time.Now()}
	s.Require().NoError(s.engine.Handle(s.ctx, Event{Kind: PrincipalJoined, CommunityID: "g1", TargetID: "u2", Member: m}))
	s.Zero(s.fake.Calls("EditRolePermissions"))
}

func (s *EngineSuite) TestMembershipUpdateSelfHeals() {
	s.Require().NoError(s.store.Upsert(s.ctx, "g1", limits.Patch{Max: map[models.ActionType]int{models.ActionChannelsDeleted: 0}}))
	s.Require().NoError(s.deleteChannel("u1", "c1"))
	s.Require().True(s.restricted("u1"))

	role, _ := s.fake.RoleByName("g1", "Restricted")
	s.fake.AddRole("g1", platform.Role{ID: "r2", Name: "Admin", Permissions: 0x8})
	s.fake.GrantRole("g1", "u1", "r2")

	s.Require().NoError(s.engine.Handle(s.ctx, Event{
		Kind: MembershipUpdated, CommunityID: "g1", TargetID: "u1",
		Before: []string{role.ID}, After: []string{role.ID, "r2"},
	}))
	s.Equal([]string{role.ID}, s.fake.MemberRoles("g1", "u1"))
}

type stubConfig struct{ cfg limits.RateWindowConfig }

func (c stubConfig) Get(context.Context, string) limits.RateWindowConfig { return c.cfg }

type stubGate struct{}

func (stubGate) IsExempt(context.Context, auth.AuthorizationContext) (bool, error) { return false, nil }
func (stubGate) IsNewAutomatedAccount(*platform.Member) bool                      { return false }

type stubQuarantine struct {
	mu      sync.Mutex
	reasons []string
}

func (q *stubQuarantine) Enact(_ context.Context, _, _ string, reason string) (quarantine.Outcome, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.reasons = append(q.reasons, reason)
	return quarantine.Restricted, nil
}

func (q *stubQuarantine) Enforce(context.Context, string, string, []string, []string) ([]string, error) {
	return nil, nil
}

func (q *stubQuarantine) DemoteAutomatedAccount(context.Context, string, *platform.Member) ([]string, error) {
	return nil, nil
}

func TestMissingMaximumFallsBackToOne(t *testing.T) {
	cfg := limits.RateWindowConfig{CommunityID: "g1", Enabled: true, TimeFrame: 10, Max: map[models.ActionType]int{}}
	q := &stubQuarantine{}
	e := NewEngine(stubConfig{cfg}, ratetracker.New(), stubGate{}, nil, q, 0)

	ev := Event{Kind: MemberKicked, CommunityID: "g1", ActorID: "u1", TargetID: "v1"}
	require.NoError(t, e.Handle(context.Background(), ev))
	assert.Empty(t, q.reasons)

	require.NoError(t, e.Handle(context.Background(), ev))
	assert.Equal(t, []string{"kicks limit exceeded"}, q.reasons)
}

func TestConcurrentBurstCrossesThreshold(t *testing.T) {
	cfg := limits.Defaults("g1")
	q := &stubQuarantine{}
	e := NewEngine(stubConfig{cfg}, ratetracker.New(), stubGate{}, nil, q, 0)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = e.Handle(context.Background(), Event{Kind: MessageCreated, CommunityID: "g1", ActorID: "u1"})
		}()
	}
	wg.Wait()

	// 5 allowed, every later record reports exceeded
	assert.Len(t, q.reasons, 15)
}

func TestKindStrings(t *testing.T) {
	assert.Equal(t, "channel_deleted", ChannelDeleted.String())
	assert.Equal(t, "unknown", Kind(99).String())

	a, ok := RoleUpdated.Action()
	assert.True(t, ok)
	assert.Equal(t, models.ActionRolesUpdated, a)

	_, ok = PrincipalJoined.Action()
	assert.False(t, ok)
}
