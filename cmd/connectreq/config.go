package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds the settings shared by every command.
type Config struct {
	LogLevel string        `mapstructure:"log-level"`
	Format   string        `mapstructure:"format"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Retries  int           `mapstructure:"retries"`
	Backoff  time.Duration `mapstructure:"backoff"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		LogLevel: "info",
		Format:   "text",
		Timeout:  10 * time.Second,
		Retries:  2,
		Backoff:  200 * time.Millisecond,
	}
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

func setDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("log-level", d.LogLevel)
	v.SetDefault("format", d.Format)
	v.SetDefault("timeout", d.Timeout)
	v.SetDefault("retries", d.Retries)
	v.SetDefault("backoff", d.Backoff)
}

// loadConfig resolves the configuration from flags, CONNECTREQ_* environment
// variables and an optional config file, in that order of precedence.
func loadConfig(v *viper.Viper, flags *pflag.FlagSet, file string) (Config, error) {
	setDefaults(v)
	v.SetEnvPrefix("connectreq")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(flags); err != nil {
		return Config{}, fmt.Errorf("bind flags: %w", err)
	}
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate checks the configuration for values the commands cannot use.
func (c Config) Validate() error {
	valid := false
	for _, f := range ValidFormats {
		if f == c.Format {
			valid = true
		}
	}
	if !valid {
		return fmt.Errorf("invalid format %q: must be one of %v", c.Format, ValidFormats)
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", c.Timeout)
	}
	if c.Retries < 0 {
		return fmt.Errorf("retries must not be negative, got %d", c.Retries)
	}
	return nil
}
