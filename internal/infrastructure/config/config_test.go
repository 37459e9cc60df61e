package config

import (
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	if cfg.Server.Port != "8070" {
		t.Errorf("Expected port 8070, got %s", cfg.Server.Port)
	}
	if !cfg.Terminal.Enabled {
		t.Error("Terminal access should default to enabled")
	}
	if cfg.Terminal.AllowInProduction {
		t.Error("Production access should default to disallowed")
	}
	if cfg.Terminal.DefaultTimeoutMin != 15 || cfg.Terminal.MaxTimeoutMin != 60 {
		t.Errorf("Unexpected timeout defaults: %d/%d", cfg.Terminal.DefaultTimeoutMin, cfg.Terminal.MaxTimeoutMin)
	}
	if cfg.Terminal.MaxSessionsPerUser != 3 {
		t.Errorf("Expected quota 3, got %d", cfg.Terminal.MaxSessionsPerUser)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("JIT_TERMINAL_ENABLED", "false")
	t.Setenv("JIT_TERMINAL_TIMEOUT_MINUTES", "25")
	t.Setenv("JIT_TERMINAL_MAX_SESSIONS", "5")
	t.Setenv("JIT_TERMINAL_LOG_DIR", "/tmp/term-logs")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != "9000" {
		t.Errorf("Expected port 9000, got %s", cfg.Server.Port)
	}
	if cfg.Terminal.Enabled {
		t.Error("Expected terminal disabled")
	}
	if cfg.Terminal.DefaultTimeoutMin != 25 {
		t.Errorf("Expected timeout 25, got %d", cfg.Terminal.DefaultTimeoutMin)
	}
	if cfg.Terminal.MaxSessionsPerUser != 5 {
		t.Errorf("Expected quota 5, got %d", cfg.Terminal.MaxSessionsPerUser)
	}
	if cfg.Terminal.LogDir != "/tmp/term-logs" {
		t.Errorf("Expected custom log dir, got %s", cfg.Terminal.LogDir)
	}
}

func TestLoadRejectsMalformed(t *testing.T) {
	t.Setenv("JIT_TERMINAL_TIMEOUT_MINUTES", "soon")

	if _, err := Load(); err == nil {
		t.Fatal("Expected error for non-numeric timeout")
	}
}

func TestLoadOrDefaultFallsBack(t *testing.T) {
	t.Setenv("JIT_TERMINAL_TIMEOUT_MINUTES", "soon")

	cfg := LoadOrDefault()
	if cfg.Terminal.DefaultTimeoutMin != 15 {
		t.Errorf("Expected default fallback, got %d", cfg.Terminal.DefaultTimeoutMin)
	}
}
