// Package config loads runtime settings for the server and CLI actions.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config carries everything tunable at startup. All fields have working
// defaults; a YAML file and ONECLICK_* environment variables override them.
type Config struct {
	Addr     string `mapstructure:"addr"`
	Profile  string `mapstructure:"profile"`
	Region   string `mapstructure:"region"`
	BaseName string `mapstructure:"base_name"`
	Simulate bool   `mapstructure:"simulate"`

	OperationTTL        time.Duration `mapstructure:"operation_ttl"`
	OperationTimeout    time.Duration `mapstructure:"operation_timeout"`
	EventPollInterval   time.Duration `mapstructure:"event_poll_interval"`
	CommandPollInterval time.Duration `mapstructure:"command_poll_interval"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

// Load reads the optional config file at path and applies environment
// overrides on top of the defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetDefault("addr", ":8080")
	v.SetDefault("region", "ap-south-1")
	v.SetDefault("base_name", "msk-iam-oneclick")
	v.SetDefault("operation_ttl", 30*time.Minute)
	v.SetDefault("operation_timeout", 30*time.Minute)
	v.SetDefault("event_poll_interval", 5*time.Second)
	v.SetDefault("command_poll_interval", 2*time.Second)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")

	v.SetEnvPrefix("ONECLICK")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &cfg, nil
}
