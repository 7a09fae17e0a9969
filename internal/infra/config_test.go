package infra

import (
	"os"
	"path/filepath"
	"testing"
)

const validYAML = `
app:
  name: auction-broker
ledger:
  url: http://localhost:8545
  timeout_sec: 15
payment:
  url: http://localhost:9010
clearing:
  ws_url: wss://clearnet.example.org/ws
  app_name: auction-broker
  scope: console
  private_key: "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
auction:
  tick_ms: 50
  max_duration_sec: 600
storage:
  path: data/broker.db
logging:
  level: debug
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Clearing.WSURL != "wss://clearnet.example.org/ws" {
		t.Errorf("Unexpected WS URL: %s", cfg.Clearing.WSURL)
	}
	if cfg.Auction.TickMS != 50 || cfg.Auction.MaxDurationSec != 600 {
		t.Errorf("Auction settings lost: %+v", cfg.Auction)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Expected debug level, got %s", cfg.Logging.Level)
	}
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("AUCTION_CLEARING_KEY", "deadbeef")
	t.Setenv("AUCTION_LEDGER_URL", "http://ledger.internal:8545")

	cfg, err := LoadConfig(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Clearing.PrivateKey != "deadbeef" {
		t.Error("Environment key should override the file value")
	}
	if cfg.Ledger.URL != "http://ledger.internal:8545" {
		t.Error("Environment ledger URL should override the file value")
	}
}

func TestLoadConfig_Validation(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"Missing Ledger URL", `
payment: {url: "http://x"}
clearing: {ws_url: "wss://x", private_key: "ab"}
auction: {max_duration_sec: 60}
`},
		{"Bad WS Scheme", `
ledger: {url: "http://x"}
payment: {url: "http://x"}
clearing: {ws_url: "http://not-ws", private_key: "ab"}
auction: {max_duration_sec: 60}
`},
		{"Missing Private Key", `
ledger: {url: "http://x"}
payment: {url: "http://x"}
clearing: {ws_url: "wss://x"}
auction: {max_duration_sec: 60}
`},
		{"Zero Max Duration", `
ledger: {url: "http://x"}
payment: {url: "http://x"}
clearing: {ws_url: "wss://x", private_key: "ab"}
auction: {max_duration_sec: 0}
`},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if _, err := LoadConfig(writeConfig(t, c.yaml)); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Expected error for missing file")
	}
}
