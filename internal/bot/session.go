package bot

import (
	"fmt"

	"github.com/bwmarrin/discordgo"

	"nukeguard/internal/logging"
)

type Session struct {
	discord *discordgo.Session
	token   string
	BotID   string
}

// NewSession creates the Discord session without connecting.
func NewSession(token string) (*Session, error) {
	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Discord session: %w", err)
	}

	// member updates need the members intent and state tracking for
	// BeforeUpdate, bans need moderation, audit entries need moderation too
	dg.Identify.Intents = discordgo.IntentsAll
	dg.State.TrackMembers = true
	dg.State.TrackRoles = true
	dg.State.TrackChannels = true

	return &Session{
		discord: dg,
		token:   token,
	}, nil
}

// Discord returns the underlying discordgo session.
func (s *Session) Discord() *discordgo.Session {
	return s.discord
}

// Connect opens the gateway connection.
func (s *Session) Connect() error {
	if err := s.discord.Open(); err != nil {
		return fmt.Errorf("failed to open Discord connection: %w", err)
	}

	if s.discord.State.User != nil {
		s.BotID = s.discord.State.User.ID
		logging.Info("Bot ID: %s", s.BotID)
	}

	logging.Info("Discord bot connected successfully")
	return nil
}

func (s *Session) Close() error {
	if s.discord != nil {
		return s.discord.Close()
	}
	return nil
}

// RegisterCommands replaces the application's slash commands. An empty
// guildID registers them globally.
func (s *Session) RegisterCommands(appID, guildID string, commands []*discordgo.ApplicationCommand) error {
	if appID == "" && s.discord.State.User != nil {
		appID = s.discord.State.User.ID
	}
	logging.Info("Registering %d slash commands...", len(commands))

	registered, err := s.discord.ApplicationCommandBulkOverwrite(appID, guildID, commands)
	if err != nil {
		return fmt.Errorf("failed to register commands: %w", err)
	}
	for _, cmd := range registered {
		logging.Debug("Registered command: /%s", cmd.Name)
	}
	return nil
}

// AddHandler adds an event handler to the Discord session and returns the
// func removing it.
func (s *Session) AddHandler(handler interface{}) func() {
	return s.discord.AddHandler(handler)
}
