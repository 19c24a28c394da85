// Package config loads process configuration from environment variables
// with the COLLAB_ prefix, optionally merged over a YAML file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all tunables for the collaboration server.
type Config struct {
	Addr     string `mapstructure:"addr"`
	LogLevel string `mapstructure:"log_level"`

	Session struct {
		HistorySize int           `mapstructure:"history_size"`
		GracePeriod time.Duration `mapstructure:"grace_period"`
	} `mapstructure:"session"`

	Conflict struct {
		PositionThreshold int `mapstructure:"position_threshold"`
	} `mapstructure:"conflict"`

	Lock struct {
		DefaultTTL    time.Duration `mapstructure:"default_ttl"`
		SweepInterval time.Duration `mapstructure:"sweep_interval"`
	} `mapstructure:"lock"`

	Cursor struct {
		Rate  float64 `mapstructure:"rate"` // Updates per second per client
		Burst int     `mapstructure:"burst"`
	} `mapstructure:"cursor"`
}

// Load reads configuration from the environment and, if present, the file
// named by COLLAB_CONFIG_FILE.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("addr", ":8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("session.history_size", 100)
	v.SetDefault("session.grace_period", 30*time.Second)
	v.SetDefault("conflict.position_threshold", 10)
	v.SetDefault("lock.default_ttl", 5*time.Minute)
	v.SetDefault("lock.sweep_interval", 30*time.Second)
	v.SetDefault("cursor.rate", 20.0)
	v.SetDefault("cursor.burst", 40)

	v.SetEnvPrefix("COLLAB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file := v.GetString("config_file"); file != "" {
		v.SetConfigFile(file)

		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}
