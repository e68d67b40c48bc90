// Package config defines all configuration for the connector core. Config
// is loaded from a YAML file (default: configs/config.yaml) with sensitive
// per-venue fields overridable via CONNECTOR_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file
// structure; Venues is keyed by venue name (e.g. "bybit_perpetual", "demo").
type Config struct {
	Clock   ClockConfig            `mapstructure:"clock"`
	Store   StoreConfig            `mapstructure:"store"`
	Logging LoggingConfig          `mapstructure:"logging"`
	Venues  map[string]VenueConfig `mapstructure:"venues"`
}

// ClockConfig selects the shared clock's mode and tick granularity.
type ClockConfig struct {
	Mode     string        `mapstructure:"mode"` // "realtime" or "backtest"
	TickSize time.Duration `mapstructure:"tick_size"`
}

// StoreConfig sets where trading-rule/balance/funding bookkeeping persists
// across stop_network/start_network cycles.
type StoreConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// VenueConfig is one venue's full wiring: endpoints, credentials, the pairs
// to trade, its rate-limit catalogue, and fee/rate-limit overrides.
//
// The CONNECTOR_<VENUE>_API_KEY / _API_SECRET / _PASSPHRASE environment
// variables (venue name upper-cased, non-alphanumerics replaced with "_"),
// when set, override ApiKey/Secret/Passphrase read from the file.
type VenueConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Perpetual    bool   `mapstructure:"perpetual"`
	RESTBaseURL  string `mapstructure:"rest_base_url"`
	WSPublicURL  string `mapstructure:"ws_public_url"`
	WSPrivateURL string `mapstructure:"ws_private_url"`

	ApiKey     string `mapstructure:"api_key"`
	Secret     string `mapstructure:"secret"`
	Passphrase string `mapstructure:"passphrase"`

	Pairs []string `mapstructure:"pairs"`

	FundingFeePollInterval time.Duration     `mapstructure:"funding_fee_poll_interval"`
	RateLimits             []RateLimitConfig `mapstructure:"rate_limits"`

	// Overrides is a flat key -> value map keyed by "{parameter}" for this
	// venue's fee/rate-limit overrides. The venue prefix lives in
	// Config.Venues' own key, so within one venue's config the parameter
	// name alone suffices.
	Overrides map[string]string `mapstructure:"overrides"`
}

// RateLimitConfig mirrors types.RateLimit for YAML/env configurability.
type RateLimitConfig struct {
	ID       string        `mapstructure:"id"`
	Capacity int           `mapstructure:"capacity"`
	Window   time.Duration `mapstructure:"window"`
	Weight   int           `mapstructure:"weight"`
	LinkedTo []string      `mapstructure:"linked_to"`
}

// Load reads config from a YAML file with env var overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("CONNECTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	for name, venue := range cfg.Venues {
		envName := envSafe(name)
		if key := os.Getenv("CONNECTOR_" + envName + "_API_KEY"); key != "" {
			venue.ApiKey = key
		}
		if secret := os.Getenv("CONNECTOR_" + envName + "_API_SECRET"); secret != "" {
			venue.Secret = secret
		}
		if pass := os.Getenv("CONNECTOR_" + envName + "_PASSPHRASE"); pass != "" {
			venue.Passphrase = pass
		}
		cfg.Venues[name] = venue
	}

	return &cfg, nil
}

func envSafe(name string) string {
	upper := strings.ToUpper(name)
	return strings.Map(func(r rune) rune {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, upper)
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.Clock.Mode != "realtime" && c.Clock.Mode != "backtest" {
		return fmt.Errorf("clock.mode must be 'realtime' or 'backtest'")
	}
	if c.Clock.Mode == "realtime" && c.Clock.TickSize <= 0 {
		return fmt.Errorf("clock.tick_size must be > 0 in realtime mode")
	}
	if len(c.Venues) == 0 {
		return fmt.Errorf("at least one venue must be configured")
	}
	for name, venue := range c.Venues {
		if !venue.Enabled {
			continue
		}
		if venue.RESTBaseURL == "" {
			return fmt.Errorf("venues.%s.rest_base_url is required", name)
		}
		if len(venue.Pairs) == 0 {
			return fmt.Errorf("venues.%s.pairs must list at least one trading pair", name)
		}
		if venue.ApiKey == "" {
			return fmt.Errorf("venues.%s.api_key is required (set CONNECTOR_%s_API_KEY)", name, envSafe(name))
		}
	}
	return nil
}
