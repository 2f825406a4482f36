package commands

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"nukeguard/internal/dispatcher"
	"nukeguard/internal/logging"
)

// handleComponent turns a notice button press into a queued command. The
// reply is sent by the worker once the command ran.
func (h *Handler) handleComponent(s *discordgo.Session, i *discordgo.InteractionCreate) {
	ctx, cancel := context.WithTimeout(h.ctx, h.deps.Timeout)
	defer cancel()

	cmd, err := h.commandFromComponent(ctx, i)
	if err != nil {
		respondError(s, i, err.Error())
		return
	}

	if err := deferEphemeral(s, i); err != nil {
		logging.Error("Failed to defer interaction %s: %v", i.ID, err)
		return
	}

	cmd.Reply = func(res dispatcher.Result) {
		if res.Err != nil {
			editContent(s, i, "Failed: "+res.Err.Error())
			return
		}
		editContent(s, i, res.Message)
	}

	if !h.deps.Queue.Enqueue(cmd) {
		logging.Warn("Command queue full, dropping %s for %s", cmd.Action, cmd.Principal)
		editContent(s, i, "The bot is busy, please try again in a moment.")
	}
}

func (h *Handler) commandFromComponent(ctx context.Context, i *discordgo.InteractionCreate) (dispatcher.Command, error) {
	data := i.MessageComponentData()
	if !dispatcher.IsCustomID(data.CustomID) {
		return dispatcher.Command{}, fmt.Errorf("unknown component: %s", data.CustomID)
	}
	cmd, err := dispatcher.ParseCustomID(data.CustomID)
	if err != nil {
		return dispatcher.Command{}, err
	}
	if cmd.Community != i.GuildID {
		return dispatcher.Command{}, fmt.Errorf("this control belongs to another server")
	}
	if err := h.requireManager(ctx, i); err != nil {
		return dispatcher.Command{}, err
	}

	cmd.Actor = actorID(i)
	cmd.ChannelID = i.ChannelID
	if i.Message != nil {
		cmd.MessageID = i.Message.ID
	}
	return cmd, nil
}
