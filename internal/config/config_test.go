package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Ethereum.NumConfirmations != DefaultNumConfirmations {
		t.Errorf("num_confirmations = %d, want %d", cfg.Ethereum.NumConfirmations, DefaultNumConfirmations)
	}
	if cfg.Collector.Retry.BackoffFactor != 2 {
		t.Errorf("backoff factor = %v, want 2", cfg.Collector.Retry.BackoffFactor)
	}
	if cfg.Server.Addr() != "0.0.0.0:7424" {
		t.Errorf("addr = %s", cfg.Server.Addr())
	}
}

func TestLoadYAMLAndEnvironmentOverlay(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9000
ipfs:
  api_url: http://ipfs:5001
collector:
  poll_interval: 5s
chains:
  - name: ganache
    type: evm
    url: http://127.0.0.1:8545
    active: true
    tracked_contracts: ["0x3194cBDC3dbcd3E11a07892e7bA5c3394048Cc87"]
custom_steps:
  - identifier: custom.double
    language: expr
    source: input * 2
`)
	t.Setenv("IPFS_API_SERVER_ADDRESS", "http://override:5001")
	t.Setenv("ETHERSCAN_KEY", "abc")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.IPFS.APIURL != "http://override:5001" {
		t.Errorf("ipfs url = %s, environment should win", cfg.IPFS.APIURL)
	}
	if cfg.Ethereum.EtherscanKey != "abc" {
		t.Errorf("etherscan key = %q", cfg.Ethereum.EtherscanKey)
	}
	if cfg.Collector.PollInterval != 5*time.Second {
		t.Errorf("poll interval = %s", cfg.Collector.PollInterval)
	}
	if len(cfg.Chains) != 1 || !cfg.Chains[0].Active || len(cfg.Chains[0].TrackedContracts) != 1 {
		t.Errorf("chains = %+v", cfg.Chains)
	}
	if len(cfg.CustomSteps) != 1 || cfg.CustomSteps[0].Identifier != "custom.double" {
		t.Errorf("custom steps = %+v", cfg.CustomSteps)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad chain type", func(c *Config) {
			c.Chains = []ChainConfig{{Name: "x", Type: "neo", URL: "http://x"}}
		}, "unsupported type"},
		{"duplicate chain", func(c *Config) {
			c.Chains = []ChainConfig{
				{Name: "x", Type: "evm", URL: "http://x"},
				{Name: "x", Type: "substrate", URL: "ws://x"},
			}
		}, "duplicate chain name"},
		{"custom prefix", func(c *Config) {
			c.CustomSteps = []CustomStepConfig{{Identifier: "double", Language: "js"}}
		}, "must start with custom."},
		{"custom language", func(c *Config) {
			c.CustomSteps = []CustomStepConfig{{Identifier: "custom.x", Language: "lua"}}
		}, "unsupported language"},
		{"poll interval", func(c *Config) { c.Collector.PollInterval = 0 }, "poll_interval"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tc.want)
			}
		})
	}
}
