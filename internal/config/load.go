package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const EnvPrefix = "NUKEGUARD_"

type Config struct {
	Bot        BotConfig        `koanf:"bot"`
	Database   DatabaseConfig   `koanf:"database"`
	Redis      RedisConfig      `koanf:"redis"`
	Log        LogConfig        `koanf:"log"`
	HTTP       HTTPConfig       `koanf:"http"`
	Detection  DetectionConfig  `koanf:"detection"`
	Quarantine QuarantineConfig `koanf:"quarantine"`
	Notifier   NotifierConfig   `koanf:"notifier"`
}

type BotConfig struct {
	Token    string `koanf:"token"`
	ClientID string `koanf:"client_id"`
	// GuildID scopes slash command registration to one guild; empty registers globally.
	GuildID string `koanf:"guild_id"`
}

type DatabaseConfig struct {
	Path string `koanf:"path"`
}

type RedisConfig struct {
	URL string        `koanf:"url"`
	TTL time.Duration `koanf:"ttl"`
}

type LogConfig struct {
	Level string `koanf:"level"`
	Path  string `koanf:"path"`
}

type HTTPConfig struct {
	Listen string `koanf:"listen"`
}

type DetectionConfig struct {
	SweepInterval     time.Duration `koanf:"sweep_interval"`
	AttributionWindow time.Duration `koanf:"attribution_window"`
	AttributionLimit  int           `koanf:"attribution_limit"`
	AttributionDelay  time.Duration `koanf:"attribution_delay"`
	NewAccountWindow  time.Duration `koanf:"new_account_window"`
	HandlerTimeout    time.Duration `koanf:"handler_timeout"`
}

type QuarantineConfig struct {
	RestrictedRole string `koanf:"restricted_role"`
	QueueSize      int    `koanf:"queue_size"`
	Workers        int    `koanf:"workers"`
}

type NotifierConfig struct {
	Channel    string `koanf:"channel"`
	WebhookURL string `koanf:"webhook_url"`
}

var GlobalConfig *Config

// Load starts from DefaultConfig, applies the YAML file at path when it
// exists, then overlays NUKEGUARD_* environment variables. A double
// underscore in a variable name separates sections:
// NUKEGUARD_DETECTION__SWEEP_INTERVAL=2s sets detection.sweep_interval.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	cfg := DefaultConfig()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("reading config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("accessing config %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env overrides: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	// Plain variables kept for compatibility with existing deployments.
	if token := os.Getenv("DISCORD_TOKEN"); token != "" {
		cfg.Bot.Token = token
	}
	if clientID := os.Getenv("CLIENT_ID"); clientID != "" {
		cfg.Bot.ClientID = clientID
	}
	if dbPath := os.Getenv("DATABASE_PATH"); dbPath != "" {
		cfg.Database.Path = dbPath
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	GlobalConfig = cfg
	return cfg, nil
}

func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path: "nukeguard.db",
		},
		Redis: RedisConfig{
			TTL: 10 * time.Minute,
		},
		Log: LogConfig{
			Level: "info",
			Path:  "logs/nukeguard.log",
		},
		HTTP: HTTPConfig{
			Listen: ":9464",
		},
		Detection: DetectionConfig{
			SweepInterval:     time.Second,
			AttributionWindow: 10 * time.Second,
			AttributionLimit:  5,
			AttributionDelay:  time.Second,
			NewAccountWindow:  10 * time.Minute,
			HandlerTimeout:    30 * time.Second,
		},
		Quarantine: QuarantineConfig{
			RestrictedRole: "Restricted",
			QueueSize:      256,
			Workers:        2,
		},
		Notifier: NotifierConfig{
			Channel: "logs-restrictions",
		},
	}
}

// Validate rejects values the detection loop cannot run with.
func (c *Config) Validate() error {
	if c.Detection.SweepInterval <= 0 {
		return fmt.Errorf("detection.sweep_interval must be positive")
	}
	if c.Detection.AttributionLimit <= 0 {
		return fmt.Errorf("detection.attribution_limit must be positive")
	}
	if c.Detection.AttributionWindow <= 0 {
		return fmt.Errorf("detection.attribution_window must be positive")
	}
	if c.Quarantine.RestrictedRole == "" {
		return fmt.Errorf("quarantine.restricted_role is required")
	}
	if c.Quarantine.QueueSize <= 0 || c.Quarantine.Workers <= 0 {
		return fmt.Errorf("quarantine.queue_size and quarantine.workers must be positive")
	}
	if c.Notifier.Channel == "" {
		return fmt.Errorf("notifier.channel is required")
	}
	return nil
}

func Get() *Config {
	if GlobalConfig == nil {
		return DefaultConfig()
	}
	return GlobalConfig
}
