package commands

import (
	"github.com/bwmarrin/discordgo"

	"nukeguard/internal/models"
)

var adminOnly = int64(discordgo.PermissionAdministrator)

// Definitions returns every application command the bot registers.
func Definitions() []*discordgo.ApplicationCommand {
	actionChoices := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(models.ActionTypes))
	for _, a := range models.ActionTypes {
		actionChoices = append(actionChoices, &discordgo.ApplicationCommandOptionChoice{
			Name:  a.Label(),
			Value: string(a),
		})
	}
	minZero := float64(0)
	minOne := float64(1)

	return []*discordgo.ApplicationCommand{
		{
			Name:                     "protection",
			Description:              "Configure nuke protection for this server",
			DefaultMemberPermissions: &adminOnly,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Name:        "enable",
					Description: "Enable nuke protection",
					Type:        discordgo.ApplicationCommandOptionSubCommand,
				},
				{
					Name:        "disable",
					Description: "Disable nuke protection",
					Type:        discordgo.ApplicationCommandOptionSubCommand,
				},
				{
					Name:        "limit",
					Description: "Set the maximum number of an action per time frame",
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Options: []*discordgo.ApplicationCommandOption{
						{
							Name:        "action",
							Description: "Action to limit",
							Type:        discordgo.ApplicationCommandOptionString,
							Required:    true,
							Choices:     actionChoices,
						},
						{
							Name:        "max",
							Description: "Actions allowed per time frame",
							Type:        discordgo.ApplicationCommandOptionInteger,
							Required:    true,
							MinValue:    &minZero,
						},
					},
				},
				{
					Name:        "timeframe",
					Description: "Set the sliding window length",
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Options: []*discordgo.ApplicationCommandOption{
						{
							Name:        "seconds",
							Description: "Window length in seconds",
							Type:        discordgo.ApplicationCommandOptionInteger,
							Required:    true,
							MinValue:    &minOne,
						},
					},
				},
				{
					Name:        "view",
					Description: "Show the current protection settings",
					Type:        discordgo.ApplicationCommandOptionSubCommand,
				},
			},
		},
		{
			Name:                     "quarantine",
			Description:              "Restrict or restore principals",
			DefaultMemberPermissions: &adminOnly,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Name:        "user",
					Description: "Restrict a user now",
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Options: []*discordgo.ApplicationCommandOption{
						{
							Name:        "user",
							Description: "User to restrict",
							Type:        discordgo.ApplicationCommandOptionUser,
							Required:    true,
						},
						{
							Name:        "reason",
							Description: "Reason recorded in the audit log",
							Type:        discordgo.ApplicationCommandOptionString,
						},
					},
				},
				{
					Name:        "restore",
					Description: "Restore a restricted user's roles",
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Options: []*discordgo.ApplicationCommandOption{
						{
							Name:        "user",
							Description: "User to restore",
							Type:        discordgo.ApplicationCommandOptionUser,
							Required:    true,
						},
					},
				},
				{
					Name:        "restore_bot",
					Description: "Restore a quarantined bot's role permissions",
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Options: []*discordgo.ApplicationCommandOption{
						{
							Name:        "bot",
							Description: "Bot to restore",
							Type:        discordgo.ApplicationCommandOptionUser,
							Required:    true,
						},
					},
				},
			},
		},
		{
			Name:                     "authorise",
			Description:              "Trust a user: exempt from detection and allowed to use the bot",
			DefaultMemberPermissions: &adminOnly,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Name:        "user",
					Description: "User to authorise",
					Type:        discordgo.ApplicationCommandOptionUser,
					Required:    true,
				},
			},
		},
		{
			Name:                     "unauthorise",
			Description:              "Revoke a user's trusted status",
			DefaultMemberPermissions: &adminOnly,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Name:        "user",
					Description: "User to unauthorise",
					Type:        discordgo.ApplicationCommandOptionUser,
					Required:    true,
				},
			},
		},
		{
			Name:                     "lockdown",
			Description:              "Strip permissions from every role until /unlock",
			DefaultMemberPermissions: &adminOnly,
		},
		{
			Name:                     "unlock",
			Description:              "Restore role permissions saved by /lockdown",
			DefaultMemberPermissions: &adminOnly,
		},
		{
			Name:        "status",
			Description: "Show protection and host status",
		},
	}
}
