// Package config loads service configuration from defaults, an optional
// config.yaml and TASKCHAT_* environment variables, in increasing
// precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	LLM      LLMConfig      `mapstructure:"llm"`
}

type ServerConfig struct {
	Addr        string        `mapstructure:"addr"`
	TurnTimeout time.Duration `mapstructure:"turn_timeout"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// LLMConfig configures the remote classifier strategy. An empty APIKey
// means the remote strategy is unavailable and the rule-based fallback is
// used; the service runs either way.
type LLMConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	BaseURL     string  `mapstructure:"base_url"`
	Model       string  `mapstructure:"model"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
	TokenBudget int     `mapstructure:"token_budget"`
}

func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("server.addr", ":8100")
	v.SetDefault("server.turn_timeout", 45*time.Second)
	v.SetDefault("database.path", "taskchat.db")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.max_tokens", 300)
	v.SetDefault("llm.temperature", 0.1)
	v.SetDefault("llm.token_budget", 1024)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("TASKCHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// The file is optional; only a malformed one is fatal.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}
