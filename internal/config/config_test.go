package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleYAML = `
clock:
  mode: realtime
  tick_size: 1s
store:
  data_dir: ./data
logging:
  level: info
  format: json
venues:
  demo:
    enabled: true
    perpetual: false
    rest_base_url: https://demo.example.com
    ws_public_url: wss://demo.example.com/public
    ws_private_url: wss://demo.example.com/private
    api_key: file-key
    secret: file-secret
    pairs:
      - BTC-USDT
    funding_fee_poll_interval: 8h
    rate_limits:
      - id: orders
        capacity: 10
        window: 1s
        weight: 1
    overrides:
      maker_fee: "0.0002"
`

func writeSample(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o600); err != nil {
		t.Fatalf("write sample config: %v", err)
	}
	return path
}

func TestLoadParsesYAML(t *testing.T) {
	path := writeSample(t)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Clock.Mode != "realtime" {
		t.Errorf("Clock.Mode = %q, want realtime", cfg.Clock.Mode)
	}
	if cfg.Clock.TickSize != time.Second {
		t.Errorf("Clock.TickSize = %v, want 1s", cfg.Clock.TickSize)
	}

	venue, ok := cfg.Venues["demo"]
	if !ok {
		t.Fatal("expected venues.demo to be present")
	}
	if venue.ApiKey != "file-key" {
		t.Errorf("ApiKey = %q, want file-key (no env override set)", venue.ApiKey)
	}
	if venue.FundingFeePollInterval != 8*time.Hour {
		t.Errorf("FundingFeePollInterval = %v, want 8h", venue.FundingFeePollInterval)
	}
	if len(venue.RateLimits) != 1 || venue.RateLimits[0].ID != "orders" {
		t.Errorf("RateLimits = %+v, want one entry with id orders", venue.RateLimits)
	}
	if venue.Overrides["maker_fee"] != "0.0002" {
		t.Errorf("Overrides[maker_fee] = %q, want 0.0002", venue.Overrides["maker_fee"])
	}
}

func TestLoadEnvOverridesCredentials(t *testing.T) {
	path := writeSample(t)

	t.Setenv("CONNECTOR_DEMO_API_KEY", "env-key")
	t.Setenv("CONNECTOR_DEMO_API_SECRET", "env-secret")
	t.Setenv("CONNECTOR_DEMO_PASSPHRASE", "env-pass")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	venue := cfg.Venues["demo"]
	if venue.ApiKey != "env-key" {
		t.Errorf("ApiKey = %q, want env-key (env must win over file)", venue.ApiKey)
	}
	if venue.Secret != "env-secret" {
		t.Errorf("Secret = %q, want env-secret", venue.Secret)
	}
	if venue.Passphrase != "env-pass" {
		t.Errorf("Passphrase = %q, want env-pass", venue.Passphrase)
	}
}

func TestEnvSafeMangling(t *testing.T) {
	cases := map[string]string{
		"demo":              "DEMO",
		"bybit_perpetual":   "BYBIT_PERPETUAL",
		"kraken-spot":       "KRAKEN_SPOT",
		"Mixed.Case 1":      "MIXED_CASE_1",
	}
	for in, want := range cases {
		if got := envSafe(in); got != want {
			t.Errorf("envSafe(%q) = %q, want %q", in, got, want)
		}
	}
}

func validConfig() *Config {
	return &Config{
		Clock: ClockConfig{Mode: "realtime", TickSize: time.Second},
		Venues: map[string]VenueConfig{
			"demo": {
				Enabled:     true,
				RESTBaseURL: "https://demo.example.com",
				Pairs:       []string{"BTC-USDT"},
				ApiKey:      "key",
			},
		},
	}
}

func TestValidateAcceptsGoodConfig(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("Validate: unexpected error: %v", err)
	}
}

func TestValidateRejectsBadClockMode(t *testing.T) {
	cfg := validConfig()
	cfg.Clock.Mode = "sometimes"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for invalid clock.mode")
	}
}

func TestValidateRejectsZeroTickSizeInRealtime(t *testing.T) {
	cfg := validConfig()
	cfg.Clock.TickSize = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for zero tick_size in realtime mode")
	}
}

func TestValidateAllowsZeroTickSizeInBacktest(t *testing.T) {
	cfg := validConfig()
	cfg.Clock.Mode = "backtest"
	cfg.Clock.TickSize = 0
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: unexpected error in backtest mode: %v", err)
	}
}

func TestValidateRejectsNoVenues(t *testing.T) {
	cfg := validConfig()
	cfg.Venues = nil
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for zero venues")
	}
}

func TestValidateRejectsMissingRESTBaseURL(t *testing.T) {
	cfg := validConfig()
	v := cfg.Venues["demo"]
	v.RESTBaseURL = ""
	cfg.Venues["demo"] = v
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing rest_base_url")
	}
}

func TestValidateRejectsMissingPairs(t *testing.T) {
	cfg := validConfig()
	v := cfg.Venues["demo"]
	v.Pairs = nil
	cfg.Venues["demo"] = v
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing pairs")
	}
}

func TestValidateRejectsMissingApiKey(t *testing.T) {
	cfg := validConfig()
	v := cfg.Venues["demo"]
	v.ApiKey = ""
	cfg.Venues["demo"] = v
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing api_key")
	}
}

func TestValidateSkipsDisabledVenues(t *testing.T) {
	cfg := validConfig()
	v := cfg.Venues["demo"]
	v.Enabled = false
	v.RESTBaseURL = ""
	cfg.Venues["demo"] = v
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: disabled venue should not be checked, got: %v", err)
	}
}
