package session

import (
	"fmt"
	"sync"

	"github.com/opsgate/jitterm/internal/infrastructure/config"
)

// Bounds on runtime settings.
const (
	MinTimeoutMinutes = 1
	MaxTimeoutMinutes = 60
	MinSessionQuota   = 1
	MaxSessionQuota   = 10
)

// Settings are the runtime-mutable terminal settings. Loaded from the
// environment at process start; mutated only through Manager.UpdateSettings,
// which audits the change.
type Settings struct {
	Enabled            bool   `json:"enabled"`
	AllowInProduction  bool   `json:"allow_in_production"`
	DefaultTimeoutMin  int    `json:"default_timeout_minutes"`
	MaxTimeoutMin      int    `json:"max_timeout_minutes"`
	MaxSessionsPerUser int    `json:"max_sessions_per_user"`
	RequireReauth      bool   `json:"require_reauth"`
	LogCommands        bool   `json:"log_commands"`
	LogDir             string `json:"log_dir"`
}

// SettingsUpdate is a typed partial update; nil fields are left unchanged.
type SettingsUpdate struct {
	Enabled            *bool   `json:"enabled,omitempty"`
	AllowInProduction  *bool   `json:"allow_in_production,omitempty"`
	DefaultTimeoutMin  *int    `json:"default_timeout_minutes,omitempty"`
	MaxTimeoutMin      *int    `json:"max_timeout_minutes,omitempty"`
	MaxSessionsPerUser *int    `json:"max_sessions_per_user,omitempty"`
	RequireReauth      *bool   `json:"require_reauth,omitempty"`
	LogCommands        *bool   `json:"log_commands,omitempty"`
	LogDir             *string `json:"log_dir,omitempty"`
}

// SettingsFromConfig seeds runtime settings from environment configuration.
func SettingsFromConfig(cfg config.TerminalConfig) Settings {
	return Settings{
		Enabled:            cfg.Enabled,
		AllowInProduction:  cfg.AllowInProduction,
		DefaultTimeoutMin:  cfg.DefaultTimeoutMin,
		MaxTimeoutMin:      cfg.MaxTimeoutMin,
		MaxSessionsPerUser: cfg.MaxSessionsPerUser,
		RequireReauth:      cfg.RequireReauth,
		LogCommands:        cfg.LogCommands,
		LogDir:             cfg.LogDir,
	}
}

// Validate checks settings against the configured bounds.
func (s Settings) Validate() error {
	if s.DefaultTimeoutMin < MinTimeoutMinutes || s.DefaultTimeoutMin > MaxTimeoutMinutes {
		return fmt.Errorf("default timeout must be between %d and %d minutes", MinTimeoutMinutes, MaxTimeoutMinutes)
	}
	if s.MaxTimeoutMin < MinTimeoutMinutes || s.MaxTimeoutMin > MaxTimeoutMinutes {
		return fmt.Errorf("max timeout must be between %d and %d minutes", MinTimeoutMinutes, MaxTimeoutMinutes)
	}
	if s.DefaultTimeoutMin > s.MaxTimeoutMin {
		return fmt.Errorf("default timeout (%d) exceeds max timeout (%d)", s.DefaultTimeoutMin, s.MaxTimeoutMin)
	}
	if s.MaxSessionsPerUser < MinSessionQuota || s.MaxSessionsPerUser > MaxSessionQuota {
		return fmt.Errorf("max concurrent sessions must be between %d and %d", MinSessionQuota, MaxSessionQuota)
	}
	if s.LogDir == "" {
		return fmt.Errorf("log directory must not be empty")
	}
	return nil
}

// merge applies non-nil fields of the update onto a copy.
func (s Settings) merge(u SettingsUpdate) Settings {
	if u.Enabled != nil {
		s.Enabled = *u.Enabled
	}
	if u.AllowInProduction != nil {
		s.AllowInProduction = *u.AllowInProduction
	}
	if u.DefaultTimeoutMin != nil {
		s.DefaultTimeoutMin = *u.DefaultTimeoutMin
	}
	if u.MaxTimeoutMin != nil {
		s.MaxTimeoutMin = *u.MaxTimeoutMin
	}
	if u.MaxSessionsPerUser != nil {
		s.MaxSessionsPerUser = *u.MaxSessionsPerUser
	}
	if u.RequireReauth != nil {
		s.RequireReauth = *u.RequireReauth
	}
	if u.LogCommands != nil {
		s.LogCommands = *u.LogCommands
	}
	if u.LogDir != nil {
		s.LogDir = *u.LogDir
	}
	return s
}

// Diff returns the fields that changed between two settings snapshots, keyed
// by JSON name with before/after pairs. Used as audit event detail.
func Diff(before, after Settings) map[string]interface{} {
	diff := make(map[string]interface{})
	add := func(key string, b, a interface{}) {
		if b != a {
			diff[key] = map[string]interface{}{"before": b, "after": a}
		}
	}
	add("enabled", before.Enabled, after.Enabled)
	add("allow_in_production", before.AllowInProduction, after.AllowInProduction)
	add("default_timeout_minutes", before.DefaultTimeoutMin, after.DefaultTimeoutMin)
	add("max_timeout_minutes", before.MaxTimeoutMin, after.MaxTimeoutMin)
	add("max_sessions_per_user", before.MaxSessionsPerUser, after.MaxSessionsPerUser)
	add("require_reauth", before.RequireReauth, after.RequireReauth)
	add("log_commands", before.LogCommands, after.LogCommands)
	add("log_dir", before.LogDir, after.LogDir)
	return diff
}

// SettingsStore guards the runtime settings for concurrent readers.
type SettingsStore struct {
	mu      sync.RWMutex
	current Settings
}

// NewSettingsStore creates a store with the given initial settings.
func NewSettingsStore(initial Settings) *SettingsStore {
	return &SettingsStore{current: initial}
}

// Get returns a snapshot of the current settings.
func (s *SettingsStore) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Apply validates and applies a partial update, returning the before and
// after snapshots. Invalid updates leave the settings untouched.
func (s *SettingsStore) Apply(u SettingsUpdate) (before, after Settings, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	before = s.current
	after = before.merge(u)
	if err = after.Validate(); err != nil {
		return before, before, err
	}
	s.current = after
	return before, after, nil
}
