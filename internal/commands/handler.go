// Package commands implements the slash commands and notice buttons.
package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"

	"nukeguard/internal/auth"
	"nukeguard/internal/database"
	"nukeguard/internal/dispatcher"
	"nukeguard/internal/limits"
	"nukeguard/internal/logging"
	"nukeguard/internal/quarantine"
)

type ConfigStore interface {
	Get(ctx context.Context, communityID string) limits.RateWindowConfig
	Upsert(ctx context.Context, communityID string, patch limits.Patch) error
}

type AllowList interface {
	UpsertAllowListEntry(ctx context.Context, e *database.AllowListEntry) error
	ListAllowList(ctx context.Context, communityID string) ([]*database.AllowListEntry, error)
}

type Authorizer interface {
	CanManage(ctx context.Context, ac auth.AuthorizationContext) (bool, error)
}

type Quarantine interface {
	Enact(ctx context.Context, communityID, principalID, reason string) (quarantine.Outcome, error)
	Restore(ctx context.Context, communityID, principalID, actorID string) ([]string, error)
	RestoreAutomatedAccount(ctx context.Context, communityID, accountID, actorID string) ([]string, error)
	Lockdown(ctx context.Context, communityID, actorID string) (*quarantine.LockdownResult, error)
	Unlock(ctx context.Context, communityID, actorID string) (*quarantine.LockdownResult, error)
}

// Deps are the services the commands act on.
type Deps struct {
	Config     ConfigStore
	AllowList  AllowList
	Authorizer Authorizer
	Quarantine Quarantine
	Queue      *dispatcher.JobQueue
	// TrackedKeys reports the rate tracker's key count for /status.
	TrackedKeys func() int
	Timeout     time.Duration
}

// Handler manages all command interactions
type Handler struct {
	ctx     context.Context
	deps    Deps
	started time.Time
}

var errDenied = errors.New("you are not allowed to use this command")

func New(ctx context.Context, deps Deps) *Handler {
	if deps.Timeout <= 0 {
		deps.Timeout = 30 * time.Second
	}
	return &Handler{ctx: ctx, deps: deps, started: time.Now()}
}

// Register installs the interaction handler and registers the commands.
func (h *Handler) Register(s interface {
	AddHandler(handler interface{}) func()
	RegisterCommands(appID, guildID string, commands []*discordgo.ApplicationCommand) error
}, appID, guildID string) error {
	s.AddHandler(h.handleInteraction)

	commands := Definitions()
	if err := s.RegisterCommands(appID, guildID, commands); err != nil {
		return fmt.Errorf("failed to register commands: %w", err)
	}

	logging.Info("Command handler initialized with %d commands", len(commands))
	return nil
}

// handleInteraction routes all interactions (commands, buttons)
func (h *Handler) handleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		h.handleCommand(s, i)
	case discordgo.InteractionMessageComponent:
		h.handleComponent(s, i)
	}
}

func (h *Handler) handleCommand(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.GuildID == "" || i.Member == nil {
		respondError(s, i, "Commands can only be used inside a server.")
		return
	}
	// role and channel edits can exceed the 3 second response window
	if err := deferEphemeral(s, i); err != nil {
		logging.Error("Failed to defer interaction %s: %v", i.ID, err)
		return
	}

	ctx, cancel := context.WithTimeout(h.ctx, h.deps.Timeout)
	defer cancel()

	name := i.ApplicationCommandData().Name
	embed, err := h.run(ctx, i)
	if err != nil {
		if !errors.Is(err, errDenied) {
			logging.Error("Command error [%s]: %v", name, err)
		}
		embed = errorEmbed(err)
	}
	editEmbed(s, i, embed)
}

// run executes a slash command and returns the reply.
func (h *Handler) run(ctx context.Context, i *discordgo.InteractionCreate) (*discordgo.MessageEmbed, error) {
	data := i.ApplicationCommandData()

	switch data.Name {
	case "protection":
		if err := h.requireManager(ctx, i); err != nil {
			return nil, err
		}
		return h.protection(ctx, i, data.Options)
	case "quarantine":
		if err := h.requireManager(ctx, i); err != nil {
			return nil, err
		}
		return h.quarantine(ctx, i, data.Options)
	case "authorise":
		if err := h.requireAdmin(ctx, i); err != nil {
			return nil, err
		}
		return h.authorise(ctx, i, data.Options, true)
	case "unauthorise":
		if err := h.requireAdmin(ctx, i); err != nil {
			return nil, err
		}
		return h.authorise(ctx, i, data.Options, false)
	case "lockdown":
		if err := h.requireManager(ctx, i); err != nil {
			return nil, err
		}
		return h.lockdown(ctx, i)
	case "unlock":
		if err := h.requireManager(ctx, i); err != nil {
			return nil, err
		}
		return h.unlock(ctx, i)
	case "status":
		return h.status(ctx, i)
	default:
		return nil, fmt.Errorf("unknown command: %s", data.Name)
	}
}

func deferEphemeral(s *discordgo.Session, i *discordgo.InteractionCreate) error {
	return s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Flags: discordgo.MessageFlagsEphemeral,
		},
	})
}

func editEmbed(s *discordgo.Session, i *discordgo.InteractionCreate, embed *discordgo.MessageEmbed) {
	embeds := []*discordgo.MessageEmbed{embed}
	if _, err := s.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{Embeds: &embeds}); err != nil {
		logging.Warn("Failed to edit interaction %s: %v", i.ID, err)
	}
}

func editContent(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	if _, err := s.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{Content: &content}); err != nil {
		logging.Warn("Failed to edit interaction %s: %v", i.ID, err)
	}
}

// respondError sends an ephemeral error message
func respondError(s *discordgo.Session, i *discordgo.InteractionCreate, message string) {
	s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: "Error: " + message,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
}

func actorID(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}
