package bot

import (
	"time"

	"github.com/bwmarrin/discordgo"

	"nukeguard/internal/platform"
)

var buttonStyles = map[platform.ActionStyle]discordgo.ButtonStyle{
	platform.StylePrimary:   discordgo.PrimaryButton,
	platform.StyleSecondary: discordgo.SecondaryButton,
	platform.StyleSuccess:   discordgo.SuccessButton,
	platform.StyleDanger:    discordgo.DangerButton,
}

// RenderEmbed converts a notice into a Discord embed.
func RenderEmbed(n platform.Notice) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       n.Title,
		Description: n.Description,
		Color:       n.Color,
	}
	for _, f := range n.Fields {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   f.Name,
			Value:  f.Value,
			Inline: f.Inline,
		})
	}
	if n.Footer != "" {
		embed.Footer = &discordgo.MessageEmbedFooter{Text: n.Footer, IconURL: n.FooterIcon}
	}
	if n.Thumbnail != "" {
		embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: n.Thumbnail}
	}
	if !n.Timestamp.IsZero() {
		embed.Timestamp = n.Timestamp.Format(time.RFC3339)
	}
	return embed
}

// RenderComponents lays the notice's actions out as one button row.
func RenderComponents(actions []platform.Action) []discordgo.MessageComponent {
	if len(actions) == 0 {
		return nil
	}
	buttons := make([]discordgo.MessageComponent, 0, len(actions))
	for _, a := range actions {
		buttons = append(buttons, discordgo.Button{
			Label:    a.Label,
			Style:    buttonStyles[a.Style],
			CustomID: a.CustomID,
		})
	}
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{Components: buttons},
	}
}

func RenderNotice(n platform.Notice) *discordgo.MessageSend {
	return &discordgo.MessageSend{
		Embeds:     []*discordgo.MessageEmbed{RenderEmbed(n)},
		Components: RenderComponents(n.Actions),
	}
}
