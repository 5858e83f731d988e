// Package config holds the process-wide server settings. Values come from
// the environment (a .env file is honored when present), and every one of
// them has a working default so a bare `parlor` starts a usable server.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Storage backends.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

// Config is the full set of tunables.
type Config struct {
	Host string
	Port int

	// ThinkTimeout caps AI wall-clock per move.
	ThinkTimeout time.Duration
	// CheckpointInterval is the action-count cadence of engine checkpoints;
	// CheckpointWindow is how many are retained.
	CheckpointInterval int
	CheckpointWindow   int
	// ConnectionIdle is the close-idle threshold for websocket peers.
	ConnectionIdle time.Duration
	// MatchmakingTTL is how long an unmatched queue ticket survives.
	MatchmakingTTL time.Duration
	// GameTTL is how long an inactive game survives before the sweeper
	// collects it. Zero disables expiry.
	GameTTL time.Duration

	StorageBackend string
	StoragePath    string
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Host:               "0.0.0.0",
		Port:               8080,
		ThinkTimeout:       10 * time.Second,
		CheckpointInterval: 10,
		CheckpointWindow:   5,
		ConnectionIdle:     60 * time.Second,
		MatchmakingTTL:     300 * time.Second,
		GameTTL:            24 * time.Hour,
		StorageBackend:     BackendMemory,
		StoragePath:        "parlor.db",
	}
}

// FromEnv overlays environment variables on the defaults.
func FromEnv() (Config, error) {
	cfg := Default()
	cfg.Host = envString("PARLOR_HOST", cfg.Host)
	cfg.StorageBackend = envString("PARLOR_STORAGE_BACKEND", cfg.StorageBackend)
	cfg.StoragePath = envString("PARLOR_STORAGE_PATH", cfg.StoragePath)

	var err error
	if cfg.Port, err = envInt("PARLOR_PORT", cfg.Port); err != nil {
		return cfg, err
	}
	if cfg.CheckpointInterval, err = envInt("PARLOR_CHECKPOINT_INTERVAL", cfg.CheckpointInterval); err != nil {
		return cfg, err
	}
	if cfg.CheckpointWindow, err = envInt("PARLOR_CHECKPOINT_WINDOW", cfg.CheckpointWindow); err != nil {
		return cfg, err
	}
	if cfg.ThinkTimeout, err = envDuration("PARLOR_THINK_TIMEOUT_MS", time.Millisecond, cfg.ThinkTimeout); err != nil {
		return cfg, err
	}
	if cfg.ConnectionIdle, err = envDuration("PARLOR_CONNECTION_IDLE_S", time.Second, cfg.ConnectionIdle); err != nil {
		return cfg, err
	}
	if cfg.MatchmakingTTL, err = envDuration("PARLOR_MATCHMAKING_TTL_S", time.Second, cfg.MatchmakingTTL); err != nil {
		return cfg, err
	}
	if cfg.GameTTL, err = envDuration("PARLOR_GAME_TTL_S", time.Second, cfg.GameTTL); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// Validate rejects settings the server cannot run with.
func (c Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("config: port %d outside [1, 65535]", c.Port)
	}
	if c.CheckpointInterval < 1 {
		return fmt.Errorf("config: checkpoint interval must be positive, got %d", c.CheckpointInterval)
	}
	if c.CheckpointWindow < 1 {
		return fmt.Errorf("config: checkpoint window must be positive, got %d", c.CheckpointWindow)
	}
	if c.ThinkTimeout <= 0 {
		return fmt.Errorf("config: think timeout must be positive, got %s", c.ThinkTimeout)
	}
	switch c.StorageBackend {
	case BackendMemory:
	case BackendSQLite:
		if c.StoragePath == "" {
			return fmt.Errorf("config: sqlite backend requires a storage path")
		}
	default:
		return fmt.Errorf("config: unknown storage backend %q", c.StorageBackend)
	}
	return nil
}

// Addr returns the host:port listen address.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

func envDuration(key string, unit time.Duration, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("config: %s: %w", key, err)
	}
	return time.Duration(n) * unit, nil
}
