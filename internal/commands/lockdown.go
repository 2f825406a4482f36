package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"nukeguard/internal/quarantine"
)

func (h *Handler) lockdown(ctx context.Context, i *discordgo.InteractionCreate) (*discordgo.MessageEmbed, error) {
	res, err := h.deps.Quarantine.Lockdown(ctx, i.GuildID, actorID(i))
	if errors.Is(err, quarantine.ErrLockdownActive) {
		return infoEmbed("Already In Lockdown", "Run /unlock before starting another lockdown."), nil
	}
	if err != nil {
		return nil, err
	}
	return infoEmbed("Lockdown Active",
		"Role permissions have been stripped. Use /unlock to restore them.",
		field("Roles Locked", fmt.Sprintf("%d", len(res.Changed)), true),
		field("Roles Skipped", fmt.Sprintf("%d", len(res.Skipped)), true),
	), nil
}

func (h *Handler) unlock(ctx context.Context, i *discordgo.InteractionCreate) (*discordgo.MessageEmbed, error) {
	res, err := h.deps.Quarantine.Unlock(ctx, i.GuildID, actorID(i))
	if err != nil {
		return nil, err
	}
	if len(res.Changed) == 0 && len(res.Skipped) == 0 {
		return infoEmbed("Nothing To Unlock", "No lockdown backup exists for this server."), nil
	}
	return successEmbed("Lockdown Lifted",
		"Saved role permissions have been restored.",
		field("Roles Restored", fmt.Sprintf("%d", len(res.Changed)), true),
		field("Roles Skipped", fmt.Sprintf("%d", len(res.Skipped)), true),
	), nil
}
