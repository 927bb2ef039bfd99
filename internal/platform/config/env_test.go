package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DBPath != "vpnshop.db" {
		t.Fatalf("expected default db path, got %q", cfg.DBPath)
	}
	if cfg.CacheTTL != 5*time.Minute {
		t.Fatalf("expected 5m cache ttl, got %s", cfg.CacheTTL)
	}
	if cfg.BridgeTimeout != 2*time.Second || cfg.BridgeReadyWait != 10*time.Second {
		t.Fatalf("unexpected bridge timeouts %s / %s", cfg.BridgeTimeout, cfg.BridgeReadyWait)
	}
	if cfg.PanelTimeout != 15*time.Second {
		t.Fatalf("expected 15s panel timeout, got %s", cfg.PanelTimeout)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("VPNSHOP_CACHE_TTL", "30s")
	t.Setenv("XUI_PANEL_URL", "https://panel.example.com:2053")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.CacheTTL != 30*time.Second {
		t.Fatalf("expected 30s, got %s", cfg.CacheTTL)
	}
	if cfg.PanelURL != "https://panel.example.com:2053" {
		t.Fatalf("unexpected panel url %q", cfg.PanelURL)
	}
	if cfg.SlogLevel() != slog.LevelDebug {
		t.Fatalf("expected debug level, got %s", cfg.SlogLevel())
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("VPNSHOP_PANEL_TIMEOUT", "soon")
	_, err := Load()
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse env prefix, got %v", err)
	}

	t.Setenv("VPNSHOP_PANEL_TIMEOUT", "15s")
	t.Setenv("VPNSHOP_CACHE_TTL", "0s")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for zero cache ttl")
	}
}

func TestSlogLevelFallsBackToInfo(t *testing.T) {
	if got := (Config{LogLevel: "loud"}).SlogLevel(); got != slog.LevelInfo {
		t.Fatalf("expected info, got %s", got)
	}
}
