// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Config is what `vpnshop serve` needs. Command flags override the listen
// addresses and the database path.
type Config struct {
	TelegramToken string `env:"TELEGRAM_BOT_TOKEN"`

	DBPath    string `env:"VPNSHOP_DB_PATH" envDefault:"vpnshop.db"`
	HTTPAddr  string `env:"VPNSHOP_HTTP_ADDR" envDefault:":8080"`
	RPCSocket string `env:"VPNSHOP_RPC_SOCKET" envDefault:"/tmp/vpnshop.sock"`

	PanelURL      string `env:"XUI_PANEL_URL"`
	PanelUsername string `env:"XUI_USERNAME"`
	PanelPassword string `env:"XUI_PASSWORD"`

	AdminEmail    string `env:"ADMIN_USERNAME" envDefault:"admin@vpnshop.local"`
	AdminPassword string `env:"ADMIN_PASSWORD"`

	CacheTTL        time.Duration `env:"VPNSHOP_CACHE_TTL" envDefault:"5m"`
	BridgeTimeout   time.Duration `env:"VPNSHOP_BRIDGE_TIMEOUT" envDefault:"2s"`
	BridgeReadyWait time.Duration `env:"VPNSHOP_BRIDGE_READY_WAIT" envDefault:"10s"`
	PanelTimeout    time.Duration `env:"VPNSHOP_PANEL_TIMEOUT" envDefault:"15s"`
	OTelEndpoint    string        `env:"VPNSHOP_OTEL_ENDPOINT"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
}

func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if cfg.CacheTTL <= 0 {
		return Config{}, fmt.Errorf("VPNSHOP_CACHE_TTL must be positive, got %s", cfg.CacheTTL)
	}
	return cfg, nil
}

// SlogLevel maps LOG_LEVEL onto slog levels. Unknown values mean info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
