// Package config loads a402d settings from a YAML or TOML file and A402_*
// environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/vitwit/a402/signing"
	"github.com/vitwit/a402/types"
	"github.com/vitwit/a402/utils"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "A402_"

// Nonce store types
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// Config holds all configuration for a402d
type Config struct {
	Server       ServerConfig                  `yaml:"server" toml:"server"`
	Storage      StorageConfig                 `yaml:"storage" toml:"storage"`
	Signing      SigningConfig                 `yaml:"signing" toml:"signing"`
	Networks     map[string]types.ClientConfig `yaml:"networks" toml:"networks" validate:"dive"`
	Verification VerificationConfig            `yaml:"verification" toml:"verification"`
	Logging      LoggingConfig                 `yaml:"logging" toml:"logging"`
	Metrics      MetricsConfig                 `yaml:"metrics" toml:"metrics"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host           string          `yaml:"host" toml:"host"`
	Port           int             `yaml:"port" toml:"port" validate:"min=1,max=65535"`
	ReadTimeout    time.Duration   `yaml:"read_timeout" toml:"read_timeout" validate:"gt=0"`
	WriteTimeout   time.Duration   `yaml:"write_timeout" toml:"write_timeout" validate:"gt=0"`
	IdleTimeout    time.Duration   `yaml:"idle_timeout" toml:"idle_timeout" validate:"gt=0"`
	RequestTimeout time.Duration   `yaml:"request_timeout" toml:"request_timeout" validate:"gt=0"`
	MaxBodyBytes   int64           `yaml:"max_body_bytes" toml:"max_body_bytes" validate:"gt=0"`
	RateLimit      RateLimitConfig `yaml:"rate_limit" toml:"rate_limit"`
}

// RateLimitConfig holds per-client rate limiting settings
type RateLimitConfig struct {
	Enabled        bool `yaml:"enabled" toml:"enabled"`
	RequestsPerMin int  `yaml:"requests_per_min" toml:"requests_per_min" validate:"gte=0"`
	Burst          int  `yaml:"burst" toml:"burst" validate:"gte=0"`
}

// StorageConfig selects where consumed nonces and issued challenges live.
type StorageConfig struct {
	Type          string        `yaml:"type" toml:"type" validate:"oneof=memory sqlite postgres redis"`
	SQLitePath    string        `yaml:"sqlite_path" toml:"sqlite_path"`
	PostgresURL   string        `yaml:"postgres_url" toml:"postgres_url"`
	Redis         RedisConfig   `yaml:"redis" toml:"redis"`
	Grace         time.Duration `yaml:"grace" toml:"grace" validate:"gte=0"`
	PruneInterval time.Duration `yaml:"prune_interval" toml:"prune_interval" validate:"gte=0"`
	ChallengeTTL  time.Duration `yaml:"challenge_ttl" toml:"challenge_ttl" validate:"gte=0"`
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Addr     string `yaml:"addr" toml:"addr"`
	Password string `yaml:"password" toml:"password"`
	DB       int    `yaml:"db" toml:"db" validate:"gte=0"`
}

// SigningConfig holds issuer key material
type SigningConfig struct {
	Scheme string   `yaml:"scheme" toml:"scheme" validate:"oneof=hmac-sha256 secp256k1 ed25519"`
	Keys   []string `yaml:"keys" toml:"keys"`
}

// VerificationConfig holds ledger lookup settings
type VerificationConfig struct {
	LedgerTimeout time.Duration `yaml:"ledger_timeout" toml:"ledger_timeout" validate:"gt=0"`
	NonceTimeout  time.Duration `yaml:"nonce_timeout" toml:"nonce_timeout" validate:"gt=0"`
	RetryCount    int           `yaml:"retry_count" toml:"retry_count" validate:"gte=0,lte=10"`
	RetryDelay    time.Duration `yaml:"retry_delay" toml:"retry_delay" validate:"gte=0"`
	BatchLimit    int           `yaml:"batch_limit" toml:"batch_limit" validate:"gte=0"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" toml:"format" validate:"oneof=json console"`
}

// MetricsConfig holds Prometheus settings
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path" validate:"startswith=/"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8402,
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   60 * time.Second,
			IdleTimeout:    120 * time.Second,
			RequestTimeout: 30 * time.Second,
			MaxBodyBytes:   1 << 20,
			RateLimit: RateLimitConfig{
				Enabled:        true,
				RequestsPerMin: 300,
				Burst:          50,
			},
		},
		Storage: StorageConfig{
			Type:          StoreSQLite,
			SQLitePath:    "./data/a402.db",
			Grace:         24 * time.Hour,
			PruneInterval: time.Hour,
			ChallengeTTL:  5 * time.Minute,
		},
		Signing: SigningConfig{
			Scheme: string(signing.SchemeHMAC),
		},
		Networks: map[string]types.ClientConfig{},
		Verification: VerificationConfig{
			LedgerTimeout: 8 * time.Second,
			NonceTimeout:  5 * time.Second,
			RetryCount:    2,
			RetryDelay:    time.Second,
			BatchLimit:    16,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// Load reads path (when non-empty) over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parsing YAML: %w", err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), c); err != nil {
			return fmt.Errorf("parsing TOML: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}

	if c.Networks == nil {
		c.Networks = map[string]types.ClientConfig{}
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.Server.Host = getEnv("HOST", c.Server.Host)
	c.Server.Port = getEnvInt("PORT", c.Server.Port)
	c.Server.RateLimit.Enabled = getEnvBool("RATE_LIMIT_ENABLED", c.Server.RateLimit.Enabled)
	c.Server.RateLimit.RequestsPerMin = getEnvInt("RATE_LIMIT_RPM", c.Server.RateLimit.RequestsPerMin)
	c.Server.RateLimit.Burst = getEnvInt("RATE_LIMIT_BURST", c.Server.RateLimit.Burst)

	c.Storage.Type = getEnv("STORAGE_TYPE", c.Storage.Type)
	c.Storage.SQLitePath = getEnv("SQLITE_PATH", c.Storage.SQLitePath)
	c.Storage.PostgresURL = getEnv("DATABASE_URL", c.Storage.PostgresURL)
	c.Storage.Redis.Addr = getEnv("REDIS_ADDR", c.Storage.Redis.Addr)
	c.Storage.Redis.Password = getEnv("REDIS_PASSWORD", c.Storage.Redis.Password)

	c.Signing.Scheme = getEnv("SIGNING_SCHEME", c.Signing.Scheme)
	c.Signing.Keys = getEnvStringSlice("SIGNING_KEYS", c.Signing.Keys)

	c.Verification.RetryCount = getEnvInt("RETRY_COUNT", c.Verification.RetryCount)

	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnv("LOG_FORMAT", c.Logging.Format)
	c.Metrics.Enabled = getEnvBool("METRICS_ENABLED", c.Metrics.Enabled)

	var err error
	if c.Verification.LedgerTimeout, err = getEnvDuration("LEDGER_TIMEOUT", c.Verification.LedgerTimeout); err != nil {
		return err
	}
	if c.Verification.RetryDelay, err = getEnvDuration("RETRY_DELAY", c.Verification.RetryDelay); err != nil {
		return err
	}

	// A402_RPC_SUI_TESTNET=https://... sets or adds the sui-testnet endpoint.
	for _, network := range types.KnownNetworks() {
		key := "RPC_" + strings.ToUpper(strings.ReplaceAll(network.String(), "-", "_"))
		if url := getEnv(key, ""); url != "" {
			nc := c.Networks[network.String()]
			nc.RPCUrl = url
			c.Networks[network.String()] = nc
		}
	}
	return nil
}

// Validate checks field rules and the cross-field constraints a struct tag
// cannot express.
func (c *Config) Validate() error {
	if err := utils.Validator().Struct(c); err != nil {
		return configError("invalid configuration", err)
	}

	if len(c.Signing.Keys) == 0 {
		return configError(fmt.Sprintf("no issuer keys configured for scheme %s", c.Signing.Scheme), nil)
	}

	switch c.Storage.Type {
	case StoreSQLite:
		if c.Storage.SQLitePath == "" {
			return configError("storage.sqlite_path is required for sqlite", nil)
		}
	case StorePostgres:
		if c.Storage.PostgresURL == "" {
			return configError("storage.postgres_url is required for postgres", nil)
		}
	case StoreRedis:
		if c.Storage.Redis.Addr == "" {
			return configError("storage.redis.addr is required for redis", nil)
		}
	}

	for name, nc := range c.Networks {
		network := types.Network(name)
		if network.Family() == types.ChainUnknown {
			return configError(fmt.Sprintf("unknown network %q", name), nil)
		}
		for symbol, asset := range nc.Assets {
			if asset.Decimals < 0 || asset.Decimals > 36 {
				return configError(fmt.Sprintf("networks.%s.assets.%s: decimals out of range", name, symbol), nil)
			}
		}
		if nc.MinConfirmations > 0 && !network.IsEVM() {
			return configError(fmt.Sprintf("networks.%s: min_confirmations applies to EVM networks only", name), nil)
		}
	}

	return nil
}

func configError(msg string, err error) error {
	return &types.A402Error{Code: types.ErrConfigError, Message: msg, Err: err}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(EnvPrefix + key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, configError(fmt.Sprintf("%s%s", EnvPrefix, key), err)
	}
	return d, nil
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}
