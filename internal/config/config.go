// Package config loads runtime configuration from flags, environment
// variables (HOLDERWATCH_*), and an optional .env file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds all runtime settings.
type Config struct {
	RPCEndpoint    string
	Mint           string
	Interval       time.Duration
	MaxRetries     int
	AttemptTimeout time.Duration

	CacheCapacity   int
	RefreshInterval time.Duration
	MissTimeout     time.Duration
	RefreshTimeout  time.Duration
	APIPort         int

	JSONLog  bool
	LogLevel string
}

// Load parses args and the environment into a Config. Flags win over
// environment variables, which win over .env file entries.
func Load(name string, args []string) (*Config, error) {
	// Missing .env is fine; system env vars still apply.
	_ = godotenv.Load()

	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.String("rpc-endpoint", "https://api.mainnet-beta.solana.com", "Solana RPC HTTP endpoint")
	fs.String("mint", "", "Token mint address to monitor")
	fs.Duration("interval", 30*time.Second, "Polling interval")
	fs.Int("max-retries", 3, "Maximum RPC fetch attempts")
	fs.Duration("timeout", 30*time.Second, "Per-attempt RPC timeout")
	fs.Int("cache-capacity", 2, "Maximum number of cached mints")
	fs.Duration("refresh-interval", 30*time.Second, "Background cache refresh period")
	fs.Duration("miss-timeout", 5*time.Second, "Caller-facing timeout for cache miss fetches")
	fs.Duration("refresh-timeout", 90*time.Second, "Per-key timeout for background refreshes")
	fs.Int("api-port", 56789, "API server port")
	fs.Bool("json-log", false, "Emit JSON logs")
	fs.String("log-level", "info", "Log level (debug, info, warn, error)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}
	v.SetEnvPrefix("HOLDERWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		RPCEndpoint:     v.GetString("rpc-endpoint"),
		Mint:            v.GetString("mint"),
		Interval:        v.GetDuration("interval"),
		MaxRetries:      v.GetInt("max-retries"),
		AttemptTimeout:  v.GetDuration("timeout"),
		CacheCapacity:   v.GetInt("cache-capacity"),
		RefreshInterval: v.GetDuration("refresh-interval"),
		MissTimeout:     v.GetDuration("miss-timeout"),
		RefreshTimeout:  v.GetDuration("refresh-timeout"),
		APIPort:         v.GetInt("api-port"),
		JSONLog:         v.GetBool("json-log"),
		LogLevel:        v.GetString("log-level"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings that would break the polling or retry loops.
func (c *Config) Validate() error {
	if c.RPCEndpoint == "" {
		return fmt.Errorf("rpc-endpoint must not be empty")
	}
	if c.Interval <= 0 {
		return fmt.Errorf("interval must be greater than 0")
	}
	if c.MaxRetries <= 0 {
		return fmt.Errorf("max-retries must be greater than 0")
	}
	if c.CacheCapacity <= 0 {
		return fmt.Errorf("cache-capacity must be greater than 0")
	}
	if c.RefreshInterval <= 0 {
		return fmt.Errorf("refresh-interval must be greater than 0")
	}
	return nil
}
