package commands

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"nukeguard/internal/database"
)

func (h *Handler) authorise(ctx context.Context, i *discordgo.InteractionCreate, opts []*discordgo.ApplicationCommandInteractionDataOption, grant bool) (*discordgo.MessageEmbed, error) {
	target := optionMap(opts).userID("user")
	if target == "" {
		return nil, fmt.Errorf("missing user")
	}

	if err := h.deps.AllowList.UpsertAllowListEntry(ctx, &database.AllowListEntry{
		CommunityID:    i.GuildID,
		PrincipalID:    target,
		CanUseCommands: grant,
		AddedBy:        actorID(i),
	}); err != nil {
		return nil, fmt.Errorf("failed to update allow list: %w", err)
	}

	if grant {
		return successEmbed("User Authorised", fmt.Sprintf("<@%s> is now trusted and can use the bot.", target)), nil
	}
	return infoEmbed("User Unauthorised", fmt.Sprintf("<@%s> is no longer trusted.", target)), nil
}
