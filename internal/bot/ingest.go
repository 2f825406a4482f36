package bot

import (
	"context"
	"time"

	"github.com/bwmarrin/discordgo"

	"nukeguard/internal/decision"
	"nukeguard/internal/logging"
	"nukeguard/internal/platform"
)

type EventHandler interface {
	Handle(ctx context.Context, ev decision.Event) error
}

type AuditObserver interface {
	Observe(communityID string, entry platform.AuditEntry)
}

// Ingester converts gateway events into decision events. discordgo runs
// every handler in its own goroutine, so events are handled concurrently.
type Ingester struct {
	ctx    context.Context
	engine EventHandler
	audit  AuditObserver
	selfID func() string
}

func NewIngester(ctx context.Context, engine EventHandler, audit AuditObserver, selfID func() string) *Ingester {
	return &Ingester{ctx: ctx, engine: engine, audit: audit, selfID: selfID}
}

// Register installs the gateway handlers on s.
func (in *Ingester) Register(s *Session) {
	logging.Info("Setting up Discord event handlers...")

	s.AddHandler(in.onAuditEntry)
	s.AddHandler(in.onRoleCreate)
	s.AddHandler(in.onRoleUpdate)
	s.AddHandler(in.onRoleDelete)
	s.AddHandler(in.onChannelCreate)
	s.AddHandler(in.onChannelUpdate)
	s.AddHandler(in.onChannelDelete)
	s.AddHandler(in.onBanAdd)
	s.AddHandler(in.onMemberUpdate)
	s.AddHandler(in.onMemberAdd)
	s.AddHandler(in.onMessageCreate)
	s.AddHandler(in.onReady)
}

func (in *Ingester) dispatch(ev decision.Event) {
	if ev.CommunityID == "" {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	if err := in.engine.Handle(in.ctx, ev); err != nil {
		logging.Debug("[EVENT] %s on %s in %s: %v", ev.Kind, ev.TargetID, ev.CommunityID, err)
	}
}

func (in *Ingester) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	logging.Info("Bot ready! Connected as %s to %d guilds", r.User.Username, len(r.Guilds))
}

// onAuditEntry feeds the attribution cache. Kicks have no dedicated
// gateway event, so they are taken from the audit entry itself.
func (in *Ingester) onAuditEntry(_ *discordgo.Session, e *discordgo.GuildAuditLogEntryCreate) {
	if e.GuildID == "" || e.AuditLogEntry == nil {
		return
	}
	entry := toAuditEntry(e.AuditLogEntry)
	if in.audit != nil && entry.Kind != platform.AuditUnknown {
		in.audit.Observe(e.GuildID, entry)
	}

	if entry.Kind == platform.AuditMemberKick {
		in.dispatch(decision.Event{
			Kind:        decision.MemberKicked,
			CommunityID: e.GuildID,
			TargetID:    entry.TargetID,
			ActorID:     entry.ActorID,
			At:          entry.At,
		})
	}
}

func (in *Ingester) onRoleCreate(_ *discordgo.Session, r *discordgo.GuildRoleCreate) {
	if r.GuildRole == nil || r.Role == nil {
		return
	}
	// bot and integration roles are created by the platform
	if r.Role.Managed {
		return
	}
	in.dispatch(decision.Event{Kind: decision.RoleCreated, CommunityID: r.GuildID, TargetID: r.Role.ID})
}

func (in *Ingester) onRoleUpdate(_ *discordgo.Session, r *discordgo.GuildRoleUpdate) {
	if r.GuildRole == nil || r.Role == nil {
		return
	}
	in.dispatch(decision.Event{Kind: decision.RoleUpdated, CommunityID: r.GuildID, TargetID: r.Role.ID})
}

func (in *Ingester) onRoleDelete(_ *discordgo.Session, r *discordgo.GuildRoleDelete) {
	in.dispatch(decision.Event{Kind: decision.RoleDeleted, CommunityID: r.GuildID, TargetID: r.RoleID})
}

func (in *Ingester) onChannelCreate(_ *discordgo.Session, c *discordgo.ChannelCreate) {
	if c.Channel == nil {
		return
	}
	in.dispatch(decision.Event{Kind: decision.ChannelCreated, CommunityID: c.GuildID, TargetID: c.ID})
}

func (in *Ingester) onChannelUpdate(_ *discordgo.Session, c *discordgo.ChannelUpdate) {
	if c.Channel == nil {
		return
	}
	in.dispatch(decision.Event{Kind: decision.ChannelUpdated, CommunityID: c.GuildID, TargetID: c.ID})
}

func (in *Ingester) onChannelDelete(_ *discordgo.Session, c *discordgo.ChannelDelete) {
	if c.Channel == nil {
		return
	}
	in.dispatch(decision.Event{Kind: decision.ChannelDeleted, CommunityID: c.GuildID, TargetID: c.ID})
}

func (in *Ingester) onBanAdd(_ *discordgo.Session, b *discordgo.GuildBanAdd) {
	if b.User == nil {
		return
	}
	in.dispatch(decision.Event{Kind: decision.MemberBanned, CommunityID: b.GuildID, TargetID: b.User.ID})
}

func (in *Ingester) onMemberUpdate(_ *discordgo.Session, m *discordgo.GuildMemberUpdate) {
	if m.Member == nil || m.User == nil {
		return
	}
	var before []string
	if m.BeforeUpdate != nil {
		before = m.BeforeUpdate.Roles
		if sameRoles(before, m.Roles) {
			return
		}
	}
	in.dispatch(decision.Event{
		Kind:        decision.MembershipUpdated,
		CommunityID: m.GuildID,
		TargetID:    m.User.ID,
		Before:      before,
		After:       m.Roles,
	})
}

func (in *Ingester) onMemberAdd(_ *discordgo.Session, m *discordgo.GuildMemberAdd) {
	if m.Member == nil || m.User == nil {
		return
	}
	member := toMember(m.Member)
	if member.JoinedAt.IsZero() {
		member.JoinedAt = time.Now()
	}
	in.dispatch(decision.Event{
		Kind:        decision.PrincipalJoined,
		CommunityID: m.GuildID,
		TargetID:    member.UserID,
		Member:      member,
	})
}

func (in *Ingester) onMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Message == nil || m.Author == nil || m.WebhookID != "" {
		return
	}
	if in.selfID != nil && m.Author.ID == in.selfID() {
		return
	}
	in.dispatch(decision.Event{
		Kind:        decision.MessageCreated,
		CommunityID: m.GuildID,
		TargetID:    m.ID,
		ActorID:     m.Author.ID,
		At:          m.Timestamp,
	})
}

func sameRoles(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]struct{}, len(a))
	for _, id := range a {
		seen[id] = struct{}{}
	}
	for _, id := range b {
		if _, ok := seen[id]; !ok {
			return false
		}
	}
	return true
}
