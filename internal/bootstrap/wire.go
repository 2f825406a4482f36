package bootstrap

import (
	"context"
	"fmt"
	"time"

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

const (
	configCacheSize = 1024
	configCacheTTL  = 5 * time.Minute

	auditCacheSize = 4096
	auditCacheTTL  = time.Minute

	recentCapacity = 4096

	webhookClients = 2
	webhookTimeout = 10 * time.Second

	sweeperStallFactor = 10
)

// Wire builds every component from cfg. ctx is the root context handed to
// gateway and interaction handlers.
func Wire(ctx context.Context, cfg *config.Config) (*Components, error) {
	logging.Info("Wiring components...")

	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("database connection not available: %w", err)
	}
	logging.Info("Database connection verified (%s)", cfg.Database.Path)

	session, err := bot.NewSession(cfg.Bot.Token)
	if err != nil {
		db.Close()
		return nil, err
	}
	discord := bot.NewDiscord(session.Discord())

	store := limits.NewStore(db, configCacheSize, configCacheTTL)

	wd := watchdog.NewWatchdog(cfg.Detection.SweepInterval)
	wd.RegisterComponent("sweeper", sweeperStallFactor*cfg.Detection.SweepInterval)

	tracker := ratetracker.New()
	sweeper := ratetracker.NewSweeper(tracker, cfg.Detection.SweepInterval)
	sweeper.OnSweep(func(removed, remaining int, took time.Duration) {
		wd.Heartbeat("sweeper")
		metrics.SweepRemoved.Add(float64(removed))
		metrics.TrackedKeys.Set(float64(remaining))
		metrics.SweepDuration.Observe(took.Seconds())
	})

	gate := auth.NewGate(discord, db, cfg.Detection.NewAccountWindow)
	attributor := forensics.NewAttributor(discord,
		forensics.NewAuditCache(auditCacheSize, auditCacheTTL),
		cfg.Detection.AttributionWindow,
		cfg.Detection.AttributionDelay,
		cfg.Detection.AttributionLimit,
	)

	httpPool := dispatcher.NewHTTPPool(webhookClients, webhookTimeout)
	webhook := notifier.NewWebhook(cfg.Notifier.WebhookURL, httpPool)
	if webhook != nil {
		logging.Info("Mirroring incidents to webhook")
	}
	notices := notifier.New(discord, cfg.Notifier.Channel, webhook)

	recent, err := newRecentIndex(cfg.Redis)
	if err != nil {
		db.Close()
		return nil, err
	}

	manager := quarantine.NewManager(discord, db, notices, recent, cfg.Quarantine.RestrictedRole)
	manager.SetResetter(tracker)

	engine := decision.NewEngine(store, tracker, gate, attributor, manager, cfg.Detection.HandlerTimeout)

	ingester := bot.NewIngester(ctx, engine, attributor, discord.SelfID)
	ingester.Register(session)

	queue := dispatcher.NewJobQueue(cfg.Quarantine.QueueSize)
	workers := dispatcher.NewPool(queue, manager, cfg.Detection.HandlerTimeout)

	handler := commands.New(ctx, commands.Deps{
		Config:      store,
		AllowList:   db,
		Authorizer:  gate,
		Quarantine:  manager,
		Queue:       queue,
		TrackedKeys: tracker.Size,
		Timeout:     cfg.Detection.HandlerTimeout,
	})

	exporter := metrics.NewExporter(cfg.HTTP.Listen, func(ctx context.Context) error {
		if err := db.Ping(ctx); err != nil {
			return err
		}
		return wd.Check(ctx)
	})
	mountAdmin(exporter.Router(), store, db)

	logging.Info("Component wiring complete")
	return &Components{
		DB:         db,
		Limits:     store,
		Tracker:    tracker,
		Sweeper:    sweeper,
		Gate:       gate,
		Attributor: attributor,
		Notifier:   notices,
		Recent:     recent,
		Quarantine: manager,
		Engine:     engine,
		Session:    session,
		Platform:   discord,
		Ingester:   ingester,
		Commands:   handler,
		Queue:      queue,
		Workers:    workers,
		HTTPPool:   httpPool,
		Exporter:   exporter,
		Watchdog:   wd,
	}, nil
}

// newRecentIndex shares the index through Redis when configured, so
// several shards agree on what was restricted recently.
func newRecentIndex(cfg config.RedisConfig) (quarantine.RecentIndex, error) {
	if cfg.URL == "" {
		return quarantine.NewMemRecentIndex(recentCapacity, cfg.TTL), nil
	}
	idx, err := quarantine.NewRedisRecentIndex(cfg.URL, cfg.TTL)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	logging.Info("Using Redis recent-restriction index")
	return idx, nil
}
