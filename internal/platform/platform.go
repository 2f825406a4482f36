// Package platform describes the chat platform operations the moderation
// engine depends on. internal/bot implements it over the Discord REST API;
// platformtest provides an in-memory implementation for tests.
package platform

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrForbidden means the bot lacks the permission or hierarchy position
	// to perform the call.
	ErrForbidden = errors.New("platform: forbidden")
	// ErrNotFound means the referenced object no longer exists.
	ErrNotFound = errors.New("platform: not found")
)

type Community struct {
	ID      string
	Name    string
	OwnerID string
	IconURL string
}

// DefaultRoleID is the id of the role every member implicitly holds.
func (c Community) DefaultRoleID() string {
	return c.ID
}

type Role struct {
	ID          string
	Name        string
	Permissions int64
	Position    int
	Managed     bool
}

type Member struct {
	UserID    string
	Username  string
	AvatarURL string
	Bot       bool
	Roles     []string
	JoinedAt  time.Time
}

// HasRole reports whether the member holds roleID.
func (m *Member) HasRole(roleID string) bool {
	for _, r := range m.Roles {
		if r == roleID {
			return true
		}
	}
	return false
}

type Channel struct {
	ID   string
	Name string
}

type AuditKind int

const (
	AuditUnknown AuditKind = iota
	AuditChannelCreate
	AuditChannelUpdate
	AuditChannelDelete
	AuditRoleCreate
	AuditRoleUpdate
	AuditRoleDelete
	AuditMemberKick
	AuditMemberBan
	AuditMemberRoleUpdate
	AuditBotAdd
)

func (k AuditKind) String() string {
	switch k {
	case AuditChannelCreate:
		return "channel_create"
	case AuditChannelUpdate:
		return "channel_update"
	case AuditChannelDelete:
		return "channel_delete"
	case AuditRoleCreate:
		return "role_create"
	case AuditRoleUpdate:
		return "role_update"
	case AuditRoleDelete:
		return "role_delete"
	case AuditMemberKick:
		return "member_kick"
	case AuditMemberBan:
		return "member_ban"
	case AuditMemberRoleUpdate:
		return "member_role_update"
	case AuditBotAdd:
		return "bot_add"
	default:
		return "unknown"
	}
}

// AuditEntry is one row of the platform's audit trail.
type AuditEntry struct {
	ID       string
	Kind     AuditKind
	ActorID  string
	TargetID string
	At       time.Time
}

type ActionStyle int

const (
	StylePrimary ActionStyle = iota
	StyleSecondary
	StyleSuccess
	StyleDanger
)

// Action is a button attached to a notice.
type Action struct {
	Label    string
	CustomID string
	Style    ActionStyle
}

type Field struct {
	Name   string
	Value  string
	Inline bool
}

// Notice is a structured, platform-neutral message.
type Notice struct {
	Title       string
	Description string
	Color       int
	Fields      []Field
	Footer      string
	FooterIcon  string
	Thumbnail   string
	Timestamp   time.Time
	Actions     []Action
}

type Message struct {
	ChannelID string
	ID        string
}

type CommunityAPI interface {
	SelfID() string
	Community(ctx context.Context, communityID string) (*Community, error)
	Member(ctx context.Context, communityID, userID string) (*Member, error)
}

type RoleAPI interface {
	Roles(ctx context.Context, communityID string) ([]*Role, error)
	CreateRole(ctx context.Context, communityID, name string, permissions int64, reason string) (*Role, error)
	EditRolePermissions(ctx context.Context, communityID, roleID string, permissions int64, reason string) error
	AddMemberRole(ctx context.Context, communityID, userID, roleID, reason string) error
	RemoveMemberRole(ctx context.Context, communityID, userID, roleID, reason string) error
}

type ModerationAPI interface {
	Kick(ctx context.Context, communityID, userID, reason string) error
	Ban(ctx context.Context, communityID, userID, reason string) error
}

type ChannelAPI interface {
	Channels(ctx context.Context, communityID string) ([]*Channel, error)
	// CreatePrivateChannel creates a text channel hidden from the default role.
	CreatePrivateChannel(ctx context.Context, communityID, name string) (*Channel, error)
	SendNotice(ctx context.Context, channelID string, n Notice) (*Message, error)
	DeleteMessage(ctx context.Context, channelID, messageID string) error
}

type AuditAPI interface {
	// AuditLog returns up to limit entries of kind, most recent first.
	AuditLog(ctx context.Context, communityID string, kind AuditKind, limit int) ([]AuditEntry, error)
}

// Platform is everything the engine calls on the chat platform.
type Platform interface {
	CommunityAPI
	RoleAPI
	ModerationAPI
	ChannelAPI
	AuditAPI
}
