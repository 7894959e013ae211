// Package config loads the host process configuration from an optional
// config file plus environment overrides.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// StoreConfig selects and parameterizes the store backend.
type StoreConfig struct {
	// Backend is one of "memory", "mongo", "redis".
	Backend string `mapstructure:"backend"`
}

type MongoConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type SessionConfig struct {
	// Secret verifies provider-issued session tokens.
	Secret string `mapstructure:"secret"`
	// Token is a pre-issued session token to sign in with at startup.
	Token string `mapstructure:"token"`
	// UID signs in directly without a token; demo/memory backend only.
	UID string `mapstructure:"uid"`
}

type ReactionConfig struct {
	// PerMinute and Burst bound like/nudge calls per caller-target pair.
	PerMinute int `mapstructure:"per_minute"`
	Burst     int `mapstructure:"burst"`
}

type Config struct {
	LogDev    bool           `mapstructure:"log_dev"`
	Store     StoreConfig    `mapstructure:"store"`
	Mongo     MongoConfig    `mapstructure:"mongo"`
	Redis     RedisConfig    `mapstructure:"redis"`
	Session   SessionConfig  `mapstructure:"session"`
	Reactions ReactionConfig `mapstructure:"reactions"`
}

// Load reads the config file at path (optional — pass "" to rely on
// defaults and environment variables alone).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("GROUPSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("log_dev", false)
	v.SetDefault("store.backend", "memory")
	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "groupsync")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "groupsync")
	v.SetDefault("reactions.per_minute", 6)
	v.SetDefault("reactions.burst", 3)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	switch c.Store.Backend {
	case "memory", "mongo", "redis":
	default:
		return nil, fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	return &c, nil
}
