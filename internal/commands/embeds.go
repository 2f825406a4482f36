package commands

import (
	"errors"
	"time"

	"github.com/bwmarrin/discordgo"
)

const (
	colorNeutral = 0x2B2D31
	colorSuccess = 0x57F287
	colorDanger  = 0xED4245

	footerText = "nukeguard"
)

func infoEmbed(title, description string, fields ...*discordgo.MessageEmbedField) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       title,
		Description: description,
		Color:       colorNeutral,
		Fields:      fields,
		Footer:      &discordgo.MessageEmbedFooter{Text: footerText},
		Timestamp:   time.Now().Format(time.RFC3339),
	}
}

func successEmbed(title, description string, fields ...*discordgo.MessageEmbedField) *discordgo.MessageEmbed {
	e := infoEmbed(title, description, fields...)
	e.Color = colorSuccess
	return e
}

func errorEmbed(err error) *discordgo.MessageEmbed {
	title := "Command Failed"
	if errors.Is(err, errDenied) {
		title = "Access Denied"
	}
	e := infoEmbed(title, err.Error())
	e.Color = colorDanger
	return e
}

func field(name, value string, inline bool) *discordgo.MessageEmbedField {
	if value == "" {
		value = "None"
	}
	return &discordgo.MessageEmbedField{Name: name, Value: value, Inline: inline}
}
