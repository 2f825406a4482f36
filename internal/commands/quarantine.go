package commands

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"nukeguard/internal/quarantine"
)

func (h *Handler) quarantine(ctx context.Context, i *discordgo.InteractionCreate, opts []*discordgo.ApplicationCommandInteractionDataOption) (*discordgo.MessageEmbed, error) {
	sub, args, err := subcommand(opts)
	if err != nil {
		return nil, err
	}
	actor := actorID(i)

	switch sub {
	case "user":
		target := args.userID("user")
		if target == "" {
			return nil, fmt.Errorf("missing user")
		}
		if target == actor {
			return nil, fmt.Errorf("you cannot restrict yourself")
		}
		reason := args.str("reason")
		if reason == "" {
			reason = "manual restriction"
		}
		reason = fmt.Sprintf("%s (by %s)", reason, actor)

		out, err := h.deps.Quarantine.Enact(ctx, i.GuildID, target, reason)
		if err != nil {
			return nil, err
		}
		if out != quarantine.Restricted {
			return infoEmbed("Already Restricted", fmt.Sprintf("<@%s> is already restricted.", target)), nil
		}
		return successEmbed("User Restricted", fmt.Sprintf("<@%s> has been restricted.", target)), nil

	case "restore":
		target := args.userID("user")
		if target == "" {
			return nil, fmt.Errorf("missing user")
		}
		roles, err := h.deps.Quarantine.Restore(ctx, i.GuildID, target, actor)
		if err != nil {
			return nil, err
		}
		if roles == nil {
			return infoEmbed("Nothing To Restore", fmt.Sprintf("No saved roles were found for <@%s>.", target)), nil
		}
		return successEmbed("User Restored", fmt.Sprintf("Restored <@%s> with %d role(s).", target, len(roles))), nil

	case "restore_bot":
		target := args.userID("bot")
		if target == "" {
			return nil, fmt.Errorf("missing bot")
		}
		roles, err := h.deps.Quarantine.RestoreAutomatedAccount(ctx, i.GuildID, target, actor)
		if err != nil {
			return nil, err
		}
		if roles == nil {
			return infoEmbed("Nothing To Restore", fmt.Sprintf("No permission backups were found for <@%s>.", target)), nil
		}
		return successEmbed("Bot Restored", fmt.Sprintf("Restored permissions on %d role(s) for <@%s>.", len(roles), target)), nil

	default:
		return nil, fmt.Errorf("unknown subcommand %q", sub)
	}
}
