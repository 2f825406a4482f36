package decision

import (
	"time"

	"nukeguard/internal/models"
	"nukeguard/internal/platform"
)

// Kind is the type of a gateway event handed to the engine.
type Kind int

const (
	RoleCreated Kind = iota
	RoleUpdated
	RoleDeleted
	ChannelCreated
	ChannelUpdated
	ChannelDeleted
	MemberBanned
	MemberKicked
	MessageCreated
	MembershipUpdated
	PrincipalJoined
)

var kindNames = [...]string{
	RoleCreated:       "role_created",
	RoleUpdated:       "role_updated",
	RoleDeleted:       "role_deleted",
	ChannelCreated:    "channel_created",
	ChannelUpdated:    "channel_updated",
	ChannelDeleted:    "channel_deleted",
	MemberBanned:      "member_banned",
	MemberKicked:      "member_kicked",
	MessageCreated:    "message_created",
	MembershipUpdated: "membership_updated",
	PrincipalJoined:   "principal_joined",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

type tracked struct {
	action models.ActionType
	audit  platform.AuditKind
}

var trackedKinds = map[Kind]tracked{
	RoleCreated:    {models.ActionRolesCreated, platform.AuditRoleCreate},
	RoleUpdated:    {models.ActionRolesUpdated, platform.AuditRoleUpdate},
	RoleDeleted:    {models.ActionRolesDeleted, platform.AuditRoleDelete},
	ChannelCreated: {models.ActionChannelsCreated, platform.AuditChannelCreate},
	ChannelUpdated: {models.ActionChannelsUpdated, platform.AuditChannelUpdate},
	ChannelDeleted: {models.ActionChannelsDeleted, platform.AuditChannelDelete},
	MemberBanned:   {models.ActionBans, platform.AuditMemberBan},
	MemberKicked:   {models.ActionKicks, platform.AuditMemberKick},
	MessageCreated: {models.ActionMessages, platform.AuditUnknown},
}

// Action returns the rate-tracked action type for k, if k is tracked.
func (k Kind) Action() (models.ActionType, bool) {
	t, ok := trackedKinds[k]
	return t.action, ok
}

// Event is a platform event reduced to what the engine needs.
type Event struct {
	Kind        Kind
	CommunityID string
	// TargetID is the role, channel or member acted on.
	TargetID string
	// ActorID is set when the platform names the actor directly (message
	// author, audit entry). Otherwise it is resolved from the audit trail.
	ActorID string
	At      time.Time

	// Member is the joining principal for PrincipalJoined.
	Member *platform.Member
	// Before and After are role ids around a MembershipUpdated change.
	Before []string
	After  []string
}
