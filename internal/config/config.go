// Package config loads node configuration from YAML, .env files and the
// process environment, in that order of precedence (environment wins).
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/paralink-network/paralink-node/pkg/logger"
)

// DefaultNumConfirmations is the Ethereum finality depth used when a step
// does not specify one.
const DefaultNumConfirmations = 40

// Config is the complete node configuration.
type Config struct {
	Server      ServerConfig         `yaml:"server"`
	Logging     logger.LoggingConfig `yaml:"logging"`
	IPFS        IPFSConfig           `yaml:"ipfs"`
	Cache       CacheConfig          `yaml:"cache"`
	Database    DatabaseConfig       `yaml:"database"`
	Ethereum    EthereumConfig       `yaml:"ethereum"`
	Collector   CollectorConfig      `yaml:"collector"`
	Chains      []ChainConfig        `yaml:"chains"`
	CustomSteps []CustomStepConfig   `yaml:"custom_steps"`
}

type ServerConfig struct {
	Host           string        `yaml:"host" env:"PARALINK_HOST"`
	Port           int           `yaml:"port" env:"PARALINK_PORT"`
	ReadTimeout    time.Duration `yaml:"read_timeout" env:"PARALINK_READ_TIMEOUT"`
	RateLimitRPS   int           `yaml:"rate_limit_rps" env:"PARALINK_RATE_LIMIT_RPS"`
	RateLimitBurst int           `yaml:"rate_limit_burst" env:"PARALINK_RATE_LIMIT_BURST"`
	CORSOrigins    []string      `yaml:"cors_origins" env:"PARALINK_CORS_ORIGINS"`
	AdminSecret    string        `yaml:"admin_secret" env:"PARALINK_ADMIN_SECRET"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type IPFSConfig struct {
	APIURL  string        `yaml:"api_url" env:"IPFS_API_SERVER_ADDRESS"`
	Timeout time.Duration `yaml:"timeout" env:"PARALINK_IPFS_TIMEOUT"`
}

type CacheConfig struct {
	RedisURL string        `yaml:"redis_url" env:"PARALINK_REDIS_URL"`
	TTL      time.Duration `yaml:"ttl" env:"PARALINK_CACHE_TTL"`
}

type DatabaseConfig struct {
	URL            string `yaml:"url" env:"DATABASE_URL"`
	MigrateOnStart bool   `yaml:"migrate_on_start" env:"PARALINK_MIGRATE_ON_START"`
}

type EthereumConfig struct {
	ProviderURL      string `yaml:"provider_url" env:"WEB3_PROVIDER_URI"`
	EtherscanURL     string `yaml:"etherscan_url" env:"PARALINK_ETHERSCAN_URL"`
	EtherscanKey     string `yaml:"etherscan_key" env:"ETHERSCAN_KEY"`
	NumConfirmations int64  `yaml:"num_confirmations" env:"PARALINK_NUM_CONFIRMATIONS"`
}

type CollectorConfig struct {
	Enabled           bool          `yaml:"enabled" env:"PARALINK_COLLECTOR_ENABLED"`
	PollInterval      time.Duration `yaml:"poll_interval" env:"PARALINK_POLL_INTERVAL"`
	Workers           int           `yaml:"workers" env:"PARALINK_WORKERS"`
	QueueSize         int           `yaml:"queue_size" env:"PARALINK_QUEUE_SIZE"`
	ReconcileSchedule string        `yaml:"reconcile_schedule" env:"PARALINK_RECONCILE_SCHEDULE"`
	Retry             RetryConfig   `yaml:"retry"`
}

type RetryConfig struct {
	InitialDelay  time.Duration `yaml:"initial_delay" env:"PARALINK_RETRY_INITIAL_DELAY"`
	MaxDelay      time.Duration `yaml:"max_delay" env:"PARALINK_RETRY_MAX_DELAY"`
	BackoffFactor float64       `yaml:"backoff_factor" env:"PARALINK_RETRY_BACKOFF_FACTOR"`
}

// ChainConfig describes one statically configured chain. Chains persisted in
// the database take precedence when a database is configured.
type ChainConfig struct {
	Name             string            `yaml:"name"`
	Type             string            `yaml:"type"`
	URL              string            `yaml:"url"`
	Active           bool              `yaml:"active"`
	Credentials      map[string]string `yaml:"credentials"`
	TrackedContracts []string          `yaml:"tracked_contracts"`
}

// CustomStepConfig declares a scripted custom.* step.
type CustomStepConfig struct {
	Identifier string `yaml:"identifier"`
	Language   string `yaml:"language"`
	Source     string `yaml:"source"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           7424,
			ReadTimeout:    30 * time.Second,
			RateLimitRPS:   20,
			RateLimitBurst: 40,
			CORSOrigins:    []string{"*"},
		},
		Logging: logger.LoggingConfig{Level: "info", Format: "text", Output: "stdout"},
		IPFS: IPFSConfig{
			APIURL:  "http://127.0.0.1:5001",
			Timeout: 3 * time.Second,
		},
		Cache: CacheConfig{TTL: time.Hour},
		Ethereum: EthereumConfig{
			EtherscanURL:     "https://api.etherscan.io/api",
			NumConfirmations: DefaultNumConfirmations,
		},
		Collector: CollectorConfig{
			Enabled:           true,
			PollInterval:      2 * time.Second,
			Workers:           8,
			QueueSize:         256,
			ReconcileSchedule: "@every 1m",
			Retry: RetryConfig{
				InitialDelay:  time.Second,
				MaxDelay:      30 * time.Second,
				BackoffFactor: 2,
			},
		},
	}
}

// Load reads path (optional), a .env file next to the working directory
// (optional) and the environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Collector.PollInterval <= 0 {
		return errors.New("collector.poll_interval must be positive")
	}
	if c.Collector.Workers <= 0 {
		return errors.New("collector.workers must be positive")
	}
	if c.Ethereum.NumConfirmations < 0 {
		return errors.New("ethereum.num_confirmations must not be negative")
	}

	seen := make(map[string]bool, len(c.Chains))
	for i, ch := range c.Chains {
		name := strings.TrimSpace(ch.Name)
		if name == "" {
			return fmt.Errorf("chains[%d]: name is required", i)
		}
		if seen[name] {
			return fmt.Errorf("chains[%d]: duplicate chain name %q", i, name)
		}
		seen[name] = true
		switch ch.Type {
		case "evm", "substrate":
		default:
			return fmt.Errorf("chain %s: unsupported type %q", name, ch.Type)
		}
		if ch.URL == "" {
			return fmt.Errorf("chain %s: url is required", name)
		}
	}

	ids := make(map[string]bool, len(c.CustomSteps))
	for i, step := range c.CustomSteps {
		if !strings.HasPrefix(step.Identifier, "custom.") {
			return fmt.Errorf("custom_steps[%d]: identifier %q must start with custom.", i, step.Identifier)
		}
		if ids[step.Identifier] {
			return fmt.Errorf("custom_steps[%d]: duplicate identifier %q", i, step.Identifier)
		}
		ids[step.Identifier] = true
		switch step.Language {
		case "js", "expr":
		default:
			return fmt.Errorf("custom step %s: unsupported language %q", step.Identifier, step.Language)
		}
	}
	return nil
}
