package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the server's runtime settings, read from coedit.yaml and
// COEDIT_* environment variables.
type Config struct {
	// Addr is the listen address.
	Addr string

	// HeartbeatTimeout is how long a participant may go without a
	// presence heartbeat before being reaped.
	HeartbeatTimeout time.Duration

	// ConflictWindow is how far back concurrent deletes are screened for
	// overlaps.
	ConflictWindow time.Duration

	// ReapInterval is the reaper's cadence.
	ReapInterval time.Duration

	// RedisAddr enables the Redis presence mirror when non-empty.
	RedisAddr string

	// LogLevel is a logrus level name.
	LogLevel string
}

func loadConfig() (Config, error) {
	v := viper.New()
	v.SetDefault("addr", ":9000")
	v.SetDefault("heartbeat_timeout", "90s")
	v.SetDefault("conflict_window", "2s")
	v.SetDefault("reap_interval", "15s")
	v.SetDefault("redis_addr", "")
	v.SetDefault("log_level", "info")

	v.SetConfigName("coedit")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/coedit")
	v.SetEnvPrefix("coedit")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := Config{
		Addr:             v.GetString("addr"),
		HeartbeatTimeout: v.GetDuration("heartbeat_timeout"),
		ConflictWindow:   v.GetDuration("conflict_window"),
		ReapInterval:     v.GetDuration("reap_interval"),
		RedisAddr:        v.GetString("redis_addr"),
		LogLevel:         v.GetString("log_level"),
	}

	if cfg.HeartbeatTimeout <= 0 || cfg.ReapInterval <= 0 {
		return Config{}, errors.New("heartbeat_timeout and reap_interval must be positive")
	}
	return cfg, nil
}
