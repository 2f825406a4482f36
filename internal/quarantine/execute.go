package quarantine

import (
	"context"
	"fmt"

	"nukeguard/internal/dispatcher"
	"nukeguard/internal/logging"
	"nukeguard/internal/metrics"
)

// Execute runs a notice control command. The originating notice is deleted
// once the command succeeds, so it cannot be used twice.
func (m *Manager) Execute(ctx context.Context, cmd dispatcher.Command) dispatcher.Result {
	res := m.execute(ctx, cmd)

	outcome := "ok"
	if res.Err != nil {
		outcome = "error"
	} else if err := m.publisher.Delete(ctx, cmd.ChannelID, cmd.MessageID); err != nil {
		logging.Warn("could not delete notice %s: %v", cmd.MessageID, err)
	}
	metrics.ControlCommands.WithLabelValues(string(cmd.Action), outcome).Inc()

	return res
}

func (m *Manager) execute(ctx context.Context, cmd dispatcher.Command) dispatcher.Result {
	switch cmd.Action {
	case dispatcher.ActionRestore:
		if cmd.Subject == dispatcher.SubjectBot {
			roles, err := m.RestoreAutomatedAccount(ctx, cmd.Community, cmd.Principal, cmd.Actor)
			if err != nil {
				return dispatcher.Result{Err: err}
			}
			return dispatcher.Result{Message: fmt.Sprintf("Restored permissions on %d role(s) for <@%s>.", len(roles), cmd.Principal)}
		}
		roles, err := m.Restore(ctx, cmd.Community, cmd.Principal, cmd.Actor)
		if err != nil {
			return dispatcher.Result{Err: err}
		}
		return dispatcher.Result{Message: fmt.Sprintf("Restored <@%s> with %d role(s).", cmd.Principal, len(roles))}

	case dispatcher.ActionKick:
		if err := m.platform.Kick(ctx, cmd.Community, cmd.Principal, "Anti-nuke: kicked by "+cmd.Actor); err != nil {
			return dispatcher.Result{Err: fmt.Errorf("kick %s: %w", cmd.Principal, err)}
		}
		m.audit(ctx, cmd.Community, cmd.Principal, EventKicked, "by="+cmd.Actor)
		m.forget(ctx, cmd.Community, cmd.Principal)
		return dispatcher.Result{Message: fmt.Sprintf("Kicked <@%s>.", cmd.Principal)}

	case dispatcher.ActionBan:
		if err := m.platform.Ban(ctx, cmd.Community, cmd.Principal, "Anti-nuke: banned by "+cmd.Actor); err != nil {
			return dispatcher.Result{Err: fmt.Errorf("ban %s: %w", cmd.Principal, err)}
		}
		m.audit(ctx, cmd.Community, cmd.Principal, EventBanned, "by="+cmd.Actor)
		m.forget(ctx, cmd.Community, cmd.Principal)
		return dispatcher.Result{Message: fmt.Sprintf("Banned <@%s>.", cmd.Principal)}

	case dispatcher.ActionDismiss:
		return dispatcher.Result{Message: "Notice dismissed."}

	default:
		return dispatcher.Result{Err: fmt.Errorf("unknown action %q", cmd.Action)}
	}
}

// forget drops the recent-restriction mark so a principal that rejoins is
// announced again when it next trips a limit.
func (m *Manager) forget(ctx context.Context, communityID, principalID string) {
	if err := m.recent.Remove(ctx, communityID, principalID); err != nil {
		logging.Warn("recent index remove failed for %s in %s: %v", principalID, communityID, err)
	}
}

var _ dispatcher.Handler = (*Manager)(nil)
