package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"
	cli "github.com/urfave/cli/v2"

	"nukeguard/internal/bootstrap"
	"nukeguard/internal/config"
)

func main() {
	if err := run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "exiting: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	app := cli.App{
		Name:  "nukeguard",
		Usage: "anti-nuke moderation bot: rate detection and quarantine",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "path to YAML config file",
				Value:   "config.yaml",
				EnvVars: []string{"NUKEGUARD_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "debug, info, warn or error; overrides log.level",
				EnvVars: []string{"LOG_LEVEL"},
			},
		},
		Action: runBot,
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "connect to Discord and start protecting guilds",
				Action: runBot,
			},
			{
				Name:   "check-config",
				Usage:  "load and validate the configuration, then exit",
				Action: checkConfig,
			},
		},
	}
	return app.Run(args)
}

func loadConfig(cctx *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(cctx.String("config"))
	if err != nil {
		return nil, err
	}
	if lvl := cctx.String("log-level"); lvl != "" {
		cfg.Log.Level = lvl
	}
	return cfg, nil
}

func runBot(cctx *cli.Context) error {
	cfg, err := loadConfig(cctx)
	if err != nil {
		return err
	}
	if cfg.Bot.Token == "" {
		return fmt.Errorf("no bot token: set DISCORD_TOKEN or bot.token")
	}

	ctx, stop := signal.NotifyContext(cctx.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b := bootstrap.New(cfg)
	if err := b.Initialize(ctx); err != nil {
		return err
	}
	if err := b.Run(ctx); err != nil && err != context.Canceled {
		return err
	}
	return nil
}

func checkConfig(cctx *cli.Context) error {
	cfg, err := loadConfig(cctx)
	if err != nil {
		return err
	}
	fmt.Printf("config ok: database=%s restricted_role=%q channel=%q sweep=%s redis=%t\n",
		cfg.Database.Path, cfg.Quarantine.RestrictedRole, cfg.Notifier.Channel,
		cfg.Detection.SweepInterval, cfg.Redis.URL != "")
	return nil
}
