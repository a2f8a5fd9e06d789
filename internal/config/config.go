// Package config provides configuration management for the airdrop tool.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Engine   EngineConfig
	Queue    QueueConfig
	Logging  LoggingConfig
	Airdrops []AirdropTarget
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port string
	Host string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres   PostgresConfig
	Redis      RedisConfig
	ClickHouse ClickHouseConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// ClickHouseConfig holds the optional audit event sink configuration.
// The sink is disabled when Host is empty.
type ClickHouseConfig struct {
	Host     string
	Port     string
	Database string
	User     string
	Password string
}

// Enabled reports whether the audit sink should be wired in.
func (c ClickHouseConfig) Enabled() bool {
	return c.Host != ""
}

// EngineConfig holds chain submission engine configuration
type EngineConfig struct {
	PollInterval time.Duration // Flat inter-cycle delay, applied on success and failure
	BatchSize    int           // Receivers per ledger transaction
	CacheTTL     time.Duration // TTL for cached request reads
}

// QueueConfig holds work queue dispatcher configuration
type QueueConfig struct {
	DispatchInterval time.Duration
	Capacity         int
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// AirdropTarget defines one network/contract handler target.
type AirdropTarget struct {
	Name             string
	Category         string
	Chain            string
	RPC              string
	PrivateKey       string // Raw hex signing key; mutually exclusive with Keystore
	Keystore         string // Path to an encrypted keystore file
	KeystorePassword string
	ContractAddress  string
	ABIPath          string
	LegacyGas        bool    // Target only supports flat single-price gas
	GasMultiplier    float64 // Fee scaling factor, default 2
	RPCRateLimit     float64 // Max RPC requests per second against the endpoint
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// Load .env file (optional in production)
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "airdrop_tool"),
				User:           getEnv("POSTGRES_USER", "airdrop"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 50),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 20),
			},
			ClickHouse: ClickHouseConfig{
				Host:     getEnv("CLICKHOUSE_HOST", ""),
				Port:     getEnv("CLICKHOUSE_PORT", "9000"),
				Database: getEnv("CLICKHOUSE_DB", "airdrop_tool"),
				User:     getEnv("CLICKHOUSE_USER", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			},
		},
		Engine: EngineConfig{
			PollInterval: getEnvAsDuration("ENGINE_POLL_INTERVAL", 5*time.Second),
			BatchSize:    getEnvAsInt("ENGINE_BATCH_SIZE", 50),
			CacheTTL:     getEnvAsDuration("ENGINE_CACHE_TTL", 5*time.Second),
		},
		Queue: QueueConfig{
			DispatchInterval: getEnvAsDuration("QUEUE_DISPATCH_INTERVAL", time.Second),
			Capacity:         getEnvAsInt("QUEUE_CAPACITY", 1024),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	airdrops, err := loadAirdropTargets()
	if err != nil {
		return nil, err
	}
	config.Airdrops = airdrops

	return config, nil
}

// loadAirdropTargets loads the per-target airdrop definitions. Target names come
// from AIRDROP_TARGETS; each target reads its fields from <NAME>_* variables.
func loadAirdropTargets() ([]AirdropTarget, error) {
	names := strings.Split(getEnv("AIRDROP_TARGETS", ""), ",")

	seen := make(map[string]bool)
	targets := make([]AirdropTarget, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}

		key := strings.ToLower(name)
		if seen[key] {
			return nil, fmt.Errorf("duplicate airdrop target: %s", name)
		}
		seen[key] = true

		prefix := strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
		target := AirdropTarget{
			Name:             key,
			Category:         getEnv(prefix+"_CATEGORY", "taskon"),
			Chain:            strings.ToLower(getEnv(prefix+"_CHAIN", "")),
			RPC:              getEnv(prefix+"_RPC", ""),
			PrivateKey:       getEnv(prefix+"_PRIVATE_KEY", ""),
			Keystore:         getEnv(prefix+"_KEYSTORE", ""),
			KeystorePassword: getEnv(prefix+"_KEYSTORE_PASSWORD", ""),
			ContractAddress:  getEnv(prefix+"_CONTRACT", ""),
			ABIPath:          getEnv(prefix+"_ABI_PATH", ""),
			LegacyGas:        getEnvAsBool(prefix+"_LEGACY_GAS", false),
			GasMultiplier:    getEnvAsFloat(prefix+"_GAS_MULTIPLIER", 2.0),
			RPCRateLimit:     getEnvAsFloat(prefix+"_RPC_RATE_LIMIT", 10),
		}

		if err := target.Validate(); err != nil {
			return nil, fmt.Errorf("airdrop target %s: %w", name, err)
		}
		targets = append(targets, target)
	}

	return targets, nil
}

// Validate checks that a target definition is complete enough to build a handler.
func (t AirdropTarget) Validate() error {
	if t.Chain == "" {
		return fmt.Errorf("chain is required")
	}
	if t.RPC == "" {
		return fmt.Errorf("rpc endpoint is required")
	}
	if t.ContractAddress == "" {
		return fmt.Errorf("contract address is required")
	}
	if t.ABIPath == "" {
		return fmt.Errorf("abi path is required")
	}
	if t.PrivateKey == "" && t.Keystore == "" {
		return fmt.Errorf("either a private key or a keystore is required")
	}
	if t.Keystore != "" && t.KeystorePassword == "" {
		return fmt.Errorf("keystore password is required when a keystore is configured")
	}
	if t.GasMultiplier < 1 {
		return fmt.Errorf("gas multiplier must be >= 1, got %v", t.GasMultiplier)
	}
	return nil
}

// TargetForChain returns the configured target for a chain, if any.
func (c *Config) TargetForChain(chain string) (AirdropTarget, bool) {
	chain = strings.ToLower(chain)
	for _, target := range c.Airdrops {
		if target.Chain == chain {
			return target, true
		}
	}
	return AirdropTarget{}, false
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat gets an environment variable as a float with a default value
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool gets an environment variable as a boolean with a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
