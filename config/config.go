/*
Package config loads server configuration from the environment.

PURPOSE:
  One typed Config struct, populated once at startup from a .env file (if
  present) and the process environment, with explicit defaults for every
  field. Validation happens here at the boundary so the rest of the code
  can trust the values.
*/
package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	App         AppConfig         `mapstructure:"app"`
	Aggregation AggregationConfig `mapstructure:"aggregation"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type AppConfig struct {
	LogLevel string `mapstructure:"log_level"`
}

type AggregationConfig struct {
	// DirectKeyword marks direct-channel rows by studio-name substring.
	DirectKeyword string `mapstructure:"direct_keyword"`
}

func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Load reads configuration. A missing .env file is fine; unset variables
// fall back to defaults.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("SALES")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("database.path", "./data/sales.db")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("aggregation.direct_keyword", "大塚カラー")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path must not be empty")
	}
	if _, err := logrus.ParseLevel(c.App.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.App.LogLevel, err)
	}
	if c.Aggregation.DirectKeyword == "" {
		return fmt.Errorf("direct keyword must not be empty")
	}
	return nil
}

// LogLevel returns the parsed logrus level. Call after Load, which
// validated it.
func (c *Config) LogLevel() logrus.Level {
	level, _ := logrus.ParseLevel(c.App.LogLevel)
	return level
}
