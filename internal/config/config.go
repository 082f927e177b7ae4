// Package config provides configuration management for the relay service.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/marketplace-relay/internal/types"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Chains    ChainsConfig
	Relay     RelayConfig
	Mail      MailConfig
	Notify    NotifyConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port string
	Host string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres PostgresConfig
	Redis    RedisConfig
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

// URL returns the connection URL used by the migration tooling.
func (c *PostgresConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// ChainsConfig holds per-chain configuration keyed by numeric chain id.
type ChainsConfig struct {
	Default types.ChainID
	Chains  map[types.ChainID]ChainConfig
}

// ChainConfig holds configuration for a specific chain. Contract addresses
// and the subgraph endpoint are fixed per network.
type ChainConfig struct {
	RPCURL             string
	SubgraphURL        string
	PlatformIDContract string
	ServiceRegistry    string
	ReviewContract     string
}

// RelayConfig holds delegated transaction relay configuration
type RelayConfig struct {
	PrivateKey       string        // hex-encoded key of the server-held wallet
	DelegateEnabled  bool          // delegation feature flag for proposal/review flows
	DelegateMint     bool          // delegation feature flag for platform minting
	AllowedAddresses []string      // platform allow-list of delegator addresses
	WeeklyTxCeiling  int           // max delegated transactions per user per week
	RPCTimeout       time.Duration // timeout for fee reads and submissions
	PlatformID       string        // marketplace platform id on the registry
}

// MailConfig holds mail provider configuration
type MailConfig struct {
	Mode           types.NotificationMode
	SMTPHost       string
	SMTPPort       int
	SMTPUser       string
	SMTPPassword   string
	SMTPSender     string
	Web3GatewayURL string
	Web3PrivateKey string
	SendTimeout    time.Duration
}

// NotifyConfig holds notification dispatch configuration
type NotifyConfig struct {
	Secret        string        // shared secret checked on dispatch endpoints
	BaseInterval  time.Duration // scheduled run interval
	RetryFactor   int           // lookback widening factor for missed runs
	DefaultWindow time.Duration // lookback when no probe exists yet
	MaxConcurrent int           // bounded send worker pool size
	RunBudget     time.Duration // wall-clock budget for a single run
	CronSchedule  string        // cron expression for the dispatcher process
	Domain        string        // marketplace domain used in mail links
	CacheTTL      time.Duration // TTL for cached subgraph lookups
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	DelegateRPS int
	Burst       int
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// Load .env file (optional in production)
	if err := godotenv.Load(); err != nil {
		// .env file is optional - environment variables can be set directly
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
				Database:       getEnv("POSTGRES_DB", "marketplace_relay"),
				User:           getEnv("POSTGRES_USER", "relay"),
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
		},
		Relay: RelayConfig{
			PrivateKey:       getEnv("RELAY_PRIVATE_KEY", ""),
			DelegateEnabled:  getEnvAsBool("ACTIVATE_DELEGATE", false),
			DelegateMint:     getEnvAsBool("ACTIVATE_DELEGATE_MINT", false),
			AllowedAddresses: getEnvAsList("DELEGATE_ALLOWED_ADDRESSES"),
			WeeklyTxCeiling:  getEnvAsInt("DELEGATE_WEEKLY_TX_CEILING", 50),
			RPCTimeout:       getEnvAsDuration("RELAY_RPC_TIMEOUT", 30*time.Second),
			PlatformID:       getEnv("PLATFORM_ID", "1"),
		},
		Mail: MailConfig{
			Mode:           types.NotificationMode(getEnv("MAIL_MODE", string(types.ModeWeb2))),
			SMTPHost:       getEnv("SMTP_HOST", "localhost"),
			SMTPPort:       getEnvAsInt("SMTP_PORT", 587),
			SMTPUser:       getEnv("SMTP_USER", ""),
			SMTPPassword:   getEnv("SMTP_PASSWORD", ""),
			SMTPSender:     getEnv("SMTP_SENDER", "noreply@example.com"),
			Web3GatewayURL: getEnv("WEB3MAIL_GATEWAY_URL", ""),
			Web3PrivateKey: getEnv("WEB3MAIL_PLATFORM_PRIVATE_KEY", ""),
			SendTimeout:    getEnvAsDuration("MAIL_SEND_TIMEOUT", 30*time.Second),
		},
		Notify: NotifyConfig{
			Secret:        getEnv("CRON_SECRET_KEY", ""),
			BaseInterval:  getEnvAsDuration("NOTIFY_BASE_INTERVAL", time.Hour),
			RetryFactor:   getEnvAsInt("NOTIFY_RETRY_FACTOR", 0),
			DefaultWindow: getEnvAsDuration("NOTIFY_DEFAULT_WINDOW", 24*time.Hour),
			MaxConcurrent: getEnvAsInt("NOTIFY_MAX_CONCURRENT_SENDS", 4),
			RunBudget:     getEnvAsDuration("NOTIFY_RUN_BUDGET", 5*time.Minute),
			CronSchedule:  getEnv("NOTIFY_CRON_SCHEDULE", "@hourly"),
			Domain:        getEnv("NOTIFY_DOMAIN", "https://example.com"),
			CacheTTL:      getEnvAsDuration("NOTIFY_CACHE_TTL", 60*time.Second),
		},
		RateLimit: RateLimitConfig{
			DelegateRPS: getEnvAsInt("RATE_LIMIT_DELEGATE_RPS", 5),
			Burst:       getEnvAsInt("RATE_LIMIT_BURST", 10),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	config.Chains = loadChainConfigs()

	return config, nil
}

// loadChainConfigs loads chain-specific configurations. Each enabled chain is
// configured by env variables prefixed with CHAIN_<id>_.
func loadChainConfigs() ChainsConfig {
	defaultChain := types.ChainID(getEnvAsInt("DEFAULT_CHAIN_ID", int(types.ChainPolygon)))

	chains := make(map[types.ChainID]ChainConfig)
	for _, raw := range getEnvAsList("ENABLED_CHAIN_IDS") {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		prefix := fmt.Sprintf("CHAIN_%d_", id)
		chains[types.ChainID(id)] = ChainConfig{
			RPCURL:             getEnv(prefix+"RPC_URL", ""),
			SubgraphURL:        getEnv(prefix+"SUBGRAPH_URL", ""),
			PlatformIDContract: getEnv(prefix+"PLATFORM_ID_CONTRACT", ""),
			ServiceRegistry:    getEnv(prefix+"SERVICE_REGISTRY", ""),
			ReviewContract:     getEnv(prefix+"REVIEW_CONTRACT", ""),
		}
	}

	return ChainsConfig{
		Default: defaultChain,
		Chains:  chains,
	}
}

// Chain returns the configuration for a chain id, or false when that chain
// is not enabled.
func (c *ChainsConfig) Chain(id types.ChainID) (ChainConfig, bool) {
	cfg, ok := c.Chains[id]
	return cfg, ok
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

// getEnvAsList gets a comma-separated environment variable as a string slice
func getEnvAsList(key string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return nil
	}

	var values []string
	for _, v := range strings.Split(valueStr, ",") {
		v = strings.TrimSpace(v)
		if v != "" {
			values = append(values, v)
		}
	}
	return values
}
