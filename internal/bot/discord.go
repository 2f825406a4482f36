package bot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"

	"nukeguard/internal/platform"
)

// Discord implements platform.Platform over a discordgo session. Reads
// prefer the gateway state cache and fall back to REST.
type Discord struct {
	s *discordgo.Session
}

func NewDiscord(s *discordgo.Session) *Discord {
	return &Discord{s: s}
}

var auditActions = map[platform.AuditKind]discordgo.AuditLogAction{
	platform.AuditChannelCreate:    discordgo.AuditLogActionChannelCreate,
	platform.AuditChannelUpdate:    discordgo.AuditLogActionChannelUpdate,
	platform.AuditChannelDelete:    discordgo.AuditLogActionChannelDelete,
	platform.AuditRoleCreate:       discordgo.AuditLogActionRoleCreate,
	platform.AuditRoleUpdate:       discordgo.AuditLogActionRoleUpdate,
	platform.AuditRoleDelete:       discordgo.AuditLogActionRoleDelete,
	platform.AuditMemberKick:       discordgo.AuditLogActionMemberKick,
	platform.AuditMemberBan:        discordgo.AuditLogActionMemberBanAdd,
	platform.AuditMemberRoleUpdate: discordgo.AuditLogActionMemberRoleUpdate,
	platform.AuditBotAdd:           discordgo.AuditLogActionBotAdd,
}

// AuditKindOf maps a discordgo audit action to a platform kind.
func AuditKindOf(action discordgo.AuditLogAction) platform.AuditKind {
	for k, a := range auditActions {
		if a == action {
			return k
		}
	}
	return platform.AuditUnknown
}

// mapErr translates REST status codes into platform sentinels.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, discordgo.ErrStateNotFound) {
		return fmt.Errorf("%w: %v", platform.ErrNotFound, err)
	}
	var rest *discordgo.RESTError
	if errors.As(err, &rest) && rest.Response != nil {
		switch rest.Response.StatusCode {
		case http.StatusForbidden:
			return fmt.Errorf("%w: %v", platform.ErrForbidden, err)
		case http.StatusNotFound:
			return fmt.Errorf("%w: %v", platform.ErrNotFound, err)
		}
	}
	return err
}

func opts(ctx context.Context, reason string) []discordgo.RequestOption {
	o := []discordgo.RequestOption{discordgo.WithContext(ctx)}
	if reason != "" {
		o = append(o, discordgo.WithAuditLogReason(reason))
	}
	return o
}

func (d *Discord) SelfID() string {
	if d.s.State != nil && d.s.State.User != nil {
		return d.s.State.User.ID
	}
	return ""
}

func (d *Discord) guild(ctx context.Context, communityID string) (*discordgo.Guild, error) {
	if g, err := d.s.State.Guild(communityID); err == nil {
		return g, nil
	}
	g, err := d.s.Guild(communityID, discordgo.WithContext(ctx))
	return g, mapErr(err)
}

func (d *Discord) Community(ctx context.Context, communityID string) (*platform.Community, error) {
	g, err := d.guild(ctx, communityID)
	if err != nil {
		return nil, err
	}
	return &platform.Community{
		ID:      g.ID,
		Name:    g.Name,
		OwnerID: g.OwnerID,
		IconURL: g.IconURL("128"),
	}, nil
}

func (d *Discord) Member(ctx context.Context, communityID, userID string) (*platform.Member, error) {
	m, err := d.s.State.Member(communityID, userID)
	if err != nil {
		m, err = d.s.GuildMember(communityID, userID, discordgo.WithContext(ctx))
		if err != nil {
			return nil, mapErr(err)
		}
	}
	return toMember(m), nil
}

func toMember(m *discordgo.Member) *platform.Member {
	out := &platform.Member{
		Roles:    append([]string(nil), m.Roles...),
		JoinedAt: m.JoinedAt,
	}
	if m.User != nil {
		out.UserID = m.User.ID
		out.Username = m.User.Username
		out.Bot = m.User.Bot
		out.AvatarURL = m.User.AvatarURL("128")
	}
	return out
}

func (d *Discord) Roles(ctx context.Context, communityID string) ([]*platform.Role, error) {
	var roles []*discordgo.Role
	if g, err := d.s.State.Guild(communityID); err == nil && len(g.Roles) > 0 {
		roles = g.Roles
	} else {
		roles, err = d.s.GuildRoles(communityID, discordgo.WithContext(ctx))
		if err != nil {
			return nil, mapErr(err)
		}
	}

	out := make([]*platform.Role, 0, len(roles))
	for _, r := range roles {
		out = append(out, toRole(r))
	}
	return out, nil
}

func toRole(r *discordgo.Role) *platform.Role {
	return &platform.Role{
		ID:          r.ID,
		Name:        r.Name,
		Permissions: r.Permissions,
		Position:    r.Position,
		Managed:     r.Managed,
	}
}

func (d *Discord) CreateRole(ctx context.Context, communityID, name string, permissions int64, reason string) (*platform.Role, error) {
	r, err := d.s.GuildRoleCreate(communityID, &discordgo.RoleParams{
		Name:        name,
		Permissions: &permissions,
	}, opts(ctx, reason)...)
	if err != nil {
		return nil, mapErr(err)
	}
	return toRole(r), nil
}

func (d *Discord) EditRolePermissions(ctx context.Context, communityID, roleID string, permissions int64, reason string) error {
	_, err := d.s.GuildRoleEdit(communityID, roleID, &discordgo.RoleParams{
		Permissions: &permissions,
	}, opts(ctx, reason)...)
	return mapErr(err)
}

func (d *Discord) AddMemberRole(ctx context.Context, communityID, userID, roleID, reason string) error {
	return mapErr(d.s.GuildMemberRoleAdd(communityID, userID, roleID, opts(ctx, reason)...))
}

func (d *Discord) RemoveMemberRole(ctx context.Context, communityID, userID, roleID, reason string) error {
	return mapErr(d.s.GuildMemberRoleRemove(communityID, userID, roleID, opts(ctx, reason)...))
}

func (d *Discord) Kick(ctx context.Context, communityID, userID, reason string) error {
	return mapErr(d.s.GuildMemberDeleteWithReason(communityID, userID, reason, discordgo.WithContext(ctx)))
}

func (d *Discord) Ban(ctx context.Context, communityID, userID, reason string) error {
	return mapErr(d.s.GuildBanCreateWithReason(communityID, userID, reason, 0, discordgo.WithContext(ctx)))
}

func (d *Discord) AuditLog(ctx context.Context, communityID string, kind platform.AuditKind, limit int) ([]platform.AuditEntry, error) {
	action, ok := auditActions[kind]
	if !ok {
		return nil, fmt.Errorf("unsupported audit kind %s", kind)
	}

	log, err := d.s.GuildAuditLog(communityID, "", "", int(action), limit, discordgo.WithContext(ctx))
	if err != nil {
		return nil, mapErr(err)
	}

	entries := make([]platform.AuditEntry, 0, len(log.AuditLogEntries))
	for _, e := range log.AuditLogEntries {
		entries = append(entries, toAuditEntry(e))
	}
	return entries, nil
}

func toAuditEntry(e *discordgo.AuditLogEntry) platform.AuditEntry {
	out := platform.AuditEntry{
		ID:       e.ID,
		ActorID:  e.UserID,
		TargetID: e.TargetID,
	}
	if e.ActionType != nil {
		out.Kind = AuditKindOf(*e.ActionType)
	}
	// the entry's snowflake carries its creation time
	if at, err := discordgo.SnowflakeTimestamp(e.ID); err == nil {
		out.At = at
	} else {
		out.At = time.Now()
	}
	return out
}

func (d *Discord) Channels(ctx context.Context, communityID string) ([]*platform.Channel, error) {
	var chans []*discordgo.Channel
	if g, err := d.s.State.Guild(communityID); err == nil && len(g.Channels) > 0 {
		chans = g.Channels
	} else {
		chans, err = d.s.GuildChannels(communityID, discordgo.WithContext(ctx))
		if err != nil {
			return nil, mapErr(err)
		}
	}

	out := make([]*platform.Channel, 0, len(chans))
	for _, c := range chans {
		out = append(out, &platform.Channel{ID: c.ID, Name: c.Name})
	}
	return out, nil
}

// CreatePrivateChannel creates a text channel hidden from @everyone and
// visible to the bot.
func (d *Discord) CreatePrivateChannel(ctx context.Context, communityID, name string) (*platform.Channel, error) {
	overwrites := []*discordgo.PermissionOverwrite{
		{
			ID:   communityID,
			Type: discordgo.PermissionOverwriteTypeRole,
			Deny: discordgo.PermissionViewChannel,
		},
	}
	if self := d.SelfID(); self != "" {
		overwrites = append(overwrites, &discordgo.PermissionOverwrite{
			ID:    self,
			Type:  discordgo.PermissionOverwriteTypeMember,
			Allow: discordgo.PermissionViewChannel | discordgo.PermissionSendMessages | discordgo.PermissionEmbedLinks,
		})
	}

	c, err := d.s.GuildChannelCreateComplex(communityID, discordgo.GuildChannelCreateData{
		Name:                 name,
		Type:                 discordgo.ChannelTypeGuildText,
		PermissionOverwrites: overwrites,
	}, opts(ctx, "Anti-nuke: audit channel")...)
	if err != nil {
		return nil, mapErr(err)
	}
	return &platform.Channel{ID: c.ID, Name: c.Name}, nil
}

func (d *Discord) SendNotice(ctx context.Context, channelID string, n platform.Notice) (*platform.Message, error) {
	msg, err := d.s.ChannelMessageSendComplex(channelID, RenderNotice(n), discordgo.WithContext(ctx))
	if err != nil {
		return nil, mapErr(err)
	}
	return &platform.Message{ChannelID: msg.ChannelID, ID: msg.ID}, nil
}

func (d *Discord) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	return mapErr(d.s.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx)))
}

var _ platform.Platform = (*Discord)(nil)
