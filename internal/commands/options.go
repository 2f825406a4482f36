package commands

import (
	"fmt"

	"github.com/bwmarrin/discordgo"
)

type options map[string]*discordgo.ApplicationCommandInteractionDataOption

func optionMap(opts []*discordgo.ApplicationCommandInteractionDataOption) options {
	m := make(options, len(opts))
	for _, o := range opts {
		m[o.Name] = o
	}
	return m
}

// subcommand splits the first option off as a subcommand name.
func subcommand(opts []*discordgo.ApplicationCommandInteractionDataOption) (string, options, error) {
	if len(opts) == 0 || opts[0].Type != discordgo.ApplicationCommandOptionSubCommand {
		return "", nil, fmt.Errorf("missing subcommand")
	}
	return opts[0].Name, optionMap(opts[0].Options), nil
}

func (o options) str(name string) string {
	if v, ok := o[name]; ok {
		return v.StringValue()
	}
	return ""
}

func (o options) integer(name string) (int64, bool) {
	v, ok := o[name]
	if !ok {
		return 0, false
	}
	return v.IntValue(), true
}

// userID returns the id of a user option without a REST lookup.
func (o options) userID(name string) string {
	v, ok := o[name]
	if !ok {
		return ""
	}
	if id, ok := v.Value.(string); ok {
		return id
	}
	return ""
}
