package dispatcher

import (
	"fmt"
	"strings"
)

// Action is what a notice control asks for.
type Action string

const (
	ActionRestore Action = "restore"
	ActionKick    Action = "kick"
	ActionBan     Action = "ban"
	ActionDismiss Action = "dismiss"
)

// Subject says which flow produced the notice being acted on.
type Subject string

const (
	// SubjectUser is a principal restricted by rate detection.
	SubjectUser Subject = "user"
	// SubjectBot is an automated account demoted on join.
	SubjectBot Subject = "bot"
)

const customIDPrefix = "ng"

// Result is reported back to whoever submitted a Command.
type Result struct {
	Err     error
	Message string
}

// Command is a request emitted by a notice control.
type Command struct {
	Action    Action
	Subject   Subject
	Community string
	Principal string

	// Actor is the moderator who pressed the control.
	Actor string
	// ChannelID and MessageID locate the notice to delete afterwards.
	ChannelID string
	MessageID string

	Reply func(Result)
}

// CustomID encodes the routing part of the command for a button.
func (c Command) CustomID() string {
	return strings.Join([]string{customIDPrefix, string(c.Action), string(c.Subject), c.Community, c.Principal}, ":")
}

// IsCustomID reports whether id was produced by Command.CustomID.
func IsCustomID(id string) bool {
	return strings.HasPrefix(id, customIDPrefix+":")
}

// ParseCustomID reverses Command.CustomID.
func ParseCustomID(id string) (Command, error) {
	parts := strings.Split(id, ":")
	if len(parts) != 5 || parts[0] != customIDPrefix {
		return Command{}, fmt.Errorf("malformed control id %q", id)
	}

	cmd := Command{
		Action:    Action(parts[1]),
		Subject:   Subject(parts[2]),
		Community: parts[3],
		Principal: parts[4],
	}

	switch cmd.Action {
	case ActionRestore, ActionKick, ActionBan, ActionDismiss:
	default:
		return Command{}, fmt.Errorf("unknown action %q", parts[1])
	}
	switch cmd.Subject {
	case SubjectUser, SubjectBot:
	default:
		return Command{}, fmt.Errorf("unknown subject %q", parts[2])
	}
	if cmd.Community == "" || cmd.Principal == "" {
		return Command{}, fmt.Errorf("control id %q is missing ids", id)
	}

	return cmd, nil
}
