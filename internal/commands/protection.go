package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"nukeguard/internal/limits"
	"nukeguard/internal/models"
)

func (h *Handler) protection(ctx context.Context, i *discordgo.InteractionCreate, opts []*discordgo.ApplicationCommandInteractionDataOption) (*discordgo.MessageEmbed, error) {
	sub, args, err := subcommand(opts)
	if err != nil {
		return nil, err
	}

	switch sub {
	case "enable", "disable":
		enabled := sub == "enable"
		if err := h.deps.Config.Upsert(ctx, i.GuildID, limits.Patch{Enabled: &enabled}); err != nil {
			return nil, fmt.Errorf("failed to save settings: %w", err)
		}
		if enabled {
			return successEmbed("Protection Enabled", "Nuke protection is now active for this server."), nil
		}
		return infoEmbed("Protection Disabled", "Nuke protection is now inactive for this server."), nil

	case "limit":
		action, ok := models.ParseActionType(args.str("action"))
		if !ok {
			return nil, fmt.Errorf("unknown action %q", args.str("action"))
		}
		maxAllowed, _ := args.integer("max")
		if err := h.deps.Config.Upsert(ctx, i.GuildID, limits.Patch{
			Max: map[models.ActionType]int{action: int(maxAllowed)},
		}); err != nil {
			return nil, err
		}
		cfg := h.deps.Config.Get(ctx, i.GuildID)
		return successEmbed("Configuration Updated",
			fmt.Sprintf("The limit for **%s** has been updated.", action.Label()),
			field("Action Limit", fmt.Sprintf("`%d` actions", maxAllowed), true),
			field("Time Window", fmt.Sprintf("`%d` seconds", cfg.TimeFrame), true),
		), nil

	case "timeframe":
		seconds, _ := args.integer("seconds")
		tf := int(seconds)
		if err := h.deps.Config.Upsert(ctx, i.GuildID, limits.Patch{TimeFrame: &tf}); err != nil {
			return nil, err
		}
		return successEmbed("Configuration Updated",
			fmt.Sprintf("Actions are now counted over a `%d` second window.", tf)), nil

	case "view":
		return h.protectionView(ctx, i.GuildID)

	default:
		return nil, fmt.Errorf("unknown subcommand %q", sub)
	}
}

func (h *Handler) protectionView(ctx context.Context, guildID string) (*discordgo.MessageEmbed, error) {
	cfg := h.deps.Config.Get(ctx, guildID)

	state := "Disabled"
	if cfg.Enabled {
		state = "**Enabled**"
	}

	var lines []string
	for _, a := range models.ActionTypes {
		maxAllowed, ok := cfg.MaxFor(a)
		value := "not set"
		if ok {
			value = fmt.Sprintf("%d", maxAllowed)
		}
		lines = append(lines, fmt.Sprintf("• %s: `%s`", a.Label(), value))
	}

	allowed, err := h.deps.AllowList.ListAllowList(ctx, guildID)
	if err != nil {
		return nil, fmt.Errorf("failed to read allow list: %w", err)
	}
	var trusted []string
	for _, e := range allowed {
		if e.CanUseCommands {
			trusted = append(trusted, fmt.Sprintf("<@%s>", e.PrincipalID))
		}
	}

	return infoEmbed("Protection Settings", "",
		field("Status", state, true),
		field("Time Window", fmt.Sprintf("`%d` seconds", cfg.TimeFrame), true),
		field("Limits", strings.Join(lines, "\n"), false),
		field("Authorised Users", strings.Join(trusted, " "), false),
	), nil
}
