package infra

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds all application settings. After LoadConfig parses the file,
// sensitive values may be overridden through environment variables.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Ledger struct {
		URL        string `yaml:"url"`
		TimeoutSec int    `yaml:"timeout_sec"`
	} `yaml:"ledger"`

	Payment struct {
		URL        string `yaml:"url"`
		TimeoutSec int    `yaml:"timeout_sec"`
	} `yaml:"payment"`

	Clearing struct {
		WSURL             string `yaml:"ws_url"`
		AppName           string `yaml:"app_name"`
		Scope             string `yaml:"scope"`
		PrivateKey        string `yaml:"private_key"` // hex, override via env
		AuthTimeoutSec    int    `yaml:"auth_timeout_sec"`
		RequestTimeoutSec int    `yaml:"request_timeout_sec"`
		MaxReconnects     int    `yaml:"max_reconnects"`
	} `yaml:"clearing"`

	Auction struct {
		TickMS         int `yaml:"tick_ms"`
		MaxDurationSec int `yaml:"max_duration_sec"`
	} `yaml:"auction"`

	Storage struct {
		Path string `yaml:"path"`
	} `yaml:"storage"`

	Logging struct {
		Level string `yaml:"level"`
		Dir   string `yaml:"dir"`
	} `yaml:"logging"`
}

// LoadConfig reads and parses the configuration file, applies environment
// overrides and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	overrideWithEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if c.Ledger.URL == "" {
		return fmt.Errorf("ledger URL is required")
	}
	if c.Payment.URL == "" {
		return fmt.Errorf("payment URL is required")
	}

	if c.Clearing.WSURL == "" || (!hasPrefix(c.Clearing.WSURL, "ws://") && !hasPrefix(c.Clearing.WSURL, "wss://")) {
		return fmt.Errorf("invalid clearing WS URL: %s", c.Clearing.WSURL)
	}
	if c.Clearing.PrivateKey == "" {
		return fmt.Errorf("clearing private key is required")
	}

	if c.Auction.TickMS < 0 {
		return fmt.Errorf("auction tick must be non-negative")
	}
	if c.Auction.MaxDurationSec <= 0 {
		return fmt.Errorf("auction max duration must be positive")
	}

	return nil
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[0:len(prefix)] == prefix
}

// overrideWithEnv overrides config values when the environment provides them.
func overrideWithEnv(cfg *Config) {
	if key := os.Getenv("AUCTION_CLEARING_KEY"); key != "" {
		cfg.Clearing.PrivateKey = key
	}
	if url := os.Getenv("AUCTION_CLEARING_WS_URL"); url != "" {
		cfg.Clearing.WSURL = url
	}
	if url := os.Getenv("AUCTION_LEDGER_URL"); url != "" {
		cfg.Ledger.URL = url
	}
	if url := os.Getenv("AUCTION_PAYMENT_URL"); url != "" {
		cfg.Payment.URL = url
	}
}
