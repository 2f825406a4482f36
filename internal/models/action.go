package models

// ActionType is a category of rate-limited action.
type ActionType string

const (
	ActionMessages        ActionType = "messages"
	ActionBans            ActionType = "bans"
	ActionKicks           ActionType = "kicks"
	ActionChannelsDeleted ActionType = "channels_deleted"
	ActionChannelsCreated ActionType = "channels_created"
	ActionChannelsUpdated ActionType = "channels_updated"
	ActionRolesCreated    ActionType = "roles_created"
	ActionRolesUpdated    ActionType = "roles_updated"
	ActionRolesDeleted    ActionType = "roles_deleted"
)

// ActionTypes lists every tracked action type in display order.
var ActionTypes = []ActionType{
	ActionMessages,
	ActionBans,
	ActionKicks,
	ActionChannelsDeleted,
	ActionChannelsCreated,
	ActionChannelsUpdated,
	ActionRolesCreated,
	ActionRolesUpdated,
	ActionRolesDeleted,
}

// Column is the rate_config column holding this type's maximum.
func (a ActionType) Column() string {
	return "max_" + string(a)
}

func (a ActionType) Valid() bool {
	for _, t := range ActionTypes {
		if t == a {
			return true
		}
	}
	return false
}

// ParseActionType accepts either the bare name or the max_ column name.
func ParseActionType(s string) (ActionType, bool) {
	for _, t := range ActionTypes {
		if s == string(t) || s == t.Column() {
			return t, true
		}
	}
	return "", false
}

// Label is the human readable form used in notices and command output.
func (a ActionType) Label() string {
	switch a {
	case ActionMessages:
		return "Messages"
	case ActionBans:
		return "Bans"
	case ActionKicks:
		return "Kicks"
	case ActionChannelsDeleted:
		return "Channel Deletions"
	case ActionChannelsCreated:
		return "Channel Creations"
	case ActionChannelsUpdated:
		return "Channel Updates"
	case ActionRolesCreated:
		return "Role Creations"
	case ActionRolesUpdated:
		return "Role Updates"
	case ActionRolesDeleted:
		return "Role Deletions"
	default:
		return string(a)
	}
}
