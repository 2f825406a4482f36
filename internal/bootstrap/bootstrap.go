package bootstrap

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"nukeguard/internal/auth"
	"nukeguard/internal/bot"
	"nukeguard/internal/commands"
	"nukeguard/internal/config"
	"nukeguard/internal/database"
	"nukeguard/internal/decision"
	"nukeguard/internal/dispatcher"
	"nukeguard/internal/forensics"
	"nukeguard/internal/limits"
	"nukeguard/internal/logging"
	"nukeguard/internal/metrics"
	"nukeguard/internal/notifier"
	"nukeguard/internal/quarantine"
	"nukeguard/internal/ratetracker"
	"nukeguard/internal/watchdog"
)

type Bootstrap struct {
	Config      *config.Config
	Components  *Components
	initialized bool
}

type Components struct {
	DB      *database.Database
	Limits  *limits.Store
	Tracker *ratetracker.Tracker
	Sweeper *ratetracker.Sweeper

	Gate       *auth.Gate
	Attributor *forensics.Attributor
	Notifier   *notifier.Notifier
	Recent     quarantine.RecentIndex
	Quarantine *quarantine.Manager
	Engine     *decision.Engine

	Session  *bot.Session
	Platform *bot.Discord
	Ingester *bot.Ingester
	Commands *commands.Handler

	Queue    *dispatcher.JobQueue
	Workers  *dispatcher.Pool
	HTTPPool *dispatcher.HTTPPool
	Exporter *metrics.Exporter
	Watchdog *watchdog.Watchdog
}

func New(cfg *config.Config) *Bootstrap {
	return &Bootstrap{Config: cfg}
}

// Initialize sets up logging and builds the component graph. Nothing
// touches the network until Run.
func (b *Bootstrap) Initialize(ctx context.Context) error {
	if err := b.initializeLogging(); err != nil {
		return fmt.Errorf("logging init failed: %w", err)
	}

	components, err := Wire(ctx, b.Config)
	if err != nil {
		return fmt.Errorf("component wiring failed: %w", err)
	}
	b.Components = components

	b.initialized = true
	logging.Info("Bootstrap complete")
	return nil
}

func (b *Bootstrap) initializeLogging() error {
	if err := ensureLogsDirectory(b.Config.Log.Path); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}
	return logging.InitGlobalLogger(logging.ParseLevel(b.Config.Log.Level), b.Config.Log.Path)
}

func ensureLogsDirectory(path string) error {
	if path == "" {
		return nil
	}
	return os.MkdirAll(filepath.Dir(path), 0755)
}

// Run connects to the gateway and blocks until ctx is cancelled or a
// background component fails, then shuts everything down.
func (b *Bootstrap) Run(ctx context.Context) error {
	if !b.initialized {
		return fmt.Errorf("bootstrap not initialized")
	}
	c := b.Components

	if err := c.Session.Connect(); err != nil {
		Shutdown(c)
		return fmt.Errorf("gateway connection failed: %w", err)
	}
	if err := c.Commands.Register(c.Session, b.Config.Bot.ClientID, b.Config.Bot.GuildID); err != nil {
		logging.Error("Slash command registration failed: %v", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		c.Sweeper.Run(gctx)
		return nil
	})

	c.Workers.Start(gctx, b.Config.Quarantine.Workers)
	g.Go(func() error {
		c.Workers.Wait()
		return nil
	})

	g.Go(func() error {
		c.Watchdog.Run(gctx)
		return nil
	})

	g.Go(func() error {
		return c.Exporter.Run(gctx)
	})

	logging.Info("All components started")
	err := g.Wait()

	Shutdown(c)
	return err
}
