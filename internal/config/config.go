package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config holds runtime settings read from the environment and an optional .env file.
type Config struct {
	DBSource           string `mapstructure:"DB_SOURCE"`
	StorageDriver      string `mapstructure:"STORAGE_DRIVER"`
	Port               string `mapstructure:"SERVER_PORT"`
	Env                string `mapstructure:"ENVIRONMENT"`
	LogLevel           string `mapstructure:"LOG_LEVEL"`
	InterestRate       string `mapstructure:"INTEREST_RATE"`
	AccountNumberMin   int    `mapstructure:"ACCOUNT_NUMBER_MIN"`
	AccountNumberMax   int    `mapstructure:"ACCOUNT_NUMBER_MAX"`
	HistoryLimit       int    `mapstructure:"HISTORY_LIMIT"`
	BcryptCost         int    `mapstructure:"BCRYPT_COST"`
	JWTSecret          string `mapstructure:"JWT_SECRET"`
	JWTIssuer          string `mapstructure:"JWT_ISSUER"`
	JWTTTLMinutes      int    `mapstructure:"JWT_TTL_MINUTES"`
	RedisURL           string `mapstructure:"REDIS_URL"`
	LoginMaxAttempts   int    `mapstructure:"LOGIN_MAX_ATTEMPTS"`
	LoginWindowSeconds int    `mapstructure:"LOGIN_WINDOW_SECONDS"`
	RabbitMQURL        string `mapstructure:"RABBITMQ_URL"`
	EventExchange      string `mapstructure:"EVENT_EXCHANGE"`
	AdminID            string `mapstructure:"ADMIN_ID"`
	AdminPassword      string `mapstructure:"ADMIN_PASSWORD"`
	AgentID            string `mapstructure:"AGENT_ID"`
	AgentPassword      string `mapstructure:"AGENT_PASSWORD"`
}

var keys = []string{
	"DB_SOURCE", "STORAGE_DRIVER", "SERVER_PORT", "ENVIRONMENT", "LOG_LEVEL",
	"INTEREST_RATE", "ACCOUNT_NUMBER_MIN", "ACCOUNT_NUMBER_MAX", "HISTORY_LIMIT", "BCRYPT_COST",
	"JWT_SECRET", "JWT_ISSUER", "JWT_TTL_MINUTES",
	"REDIS_URL", "LOGIN_MAX_ATTEMPTS", "LOGIN_WINDOW_SECONDS",
	"RABBITMQ_URL", "EVENT_EXCHANGE",
	"ADMIN_ID", "ADMIN_PASSWORD", "AGENT_ID", "AGENT_PASSWORD",
}

// Load reads configuration from the environment, with an optional .env
// file in path, and validates it.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("STORAGE_DRIVER", DriverPostgres)
	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("ENVIRONMENT", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("INTEREST_RATE", "0.30")
	v.SetDefault("ACCOUNT_NUMBER_MIN", 20022)
	v.SetDefault("ACCOUNT_NUMBER_MAX", 99999)
	v.SetDefault("HISTORY_LIMIT", 20)
	v.SetDefault("BCRYPT_COST", 10)
	v.SetDefault("JWT_ISSUER", "smb-bank")
	v.SetDefault("JWT_TTL_MINUTES", 30)
	v.SetDefault("LOGIN_MAX_ATTEMPTS", 5)
	v.SetDefault("LOGIN_WINDOW_SECONDS", 300)
	v.SetDefault("EVENT_EXCHANGE", "smbbank.ledger")
	v.SetDefault("ADMIN_ID", "admin")
	v.SetDefault("ADMIN_PASSWORD", "admin123")
	v.SetDefault("AGENT_ID", "300")
	v.SetDefault("AGENT_PASSWORD", "456")

	for _, key := range keys {
		_ = v.BindEnv(key)
	}
	// SERVER_PORT falls back to the conventional PORT variable.
	_ = v.BindEnv("SERVER_PORT", "SERVER_PORT", "PORT")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("failed to read config file; using environment values", "component", "config", "error", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() {
	c.DBSource = strings.TrimSpace(c.DBSource)
	c.StorageDriver = strings.ToLower(strings.TrimSpace(c.StorageDriver))
	c.JWTSecret = strings.TrimSpace(c.JWTSecret)
	c.RedisURL = strings.TrimSpace(c.RedisURL)
	c.RabbitMQURL = strings.TrimSpace(c.RabbitMQURL)
	if c.JWTTTLMinutes <= 0 {
		c.JWTTTLMinutes = 30
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 20
	}
}

func (c *Config) validate() error {
	switch c.StorageDriver {
	case DriverPostgres:
		if c.DBSource == "" {
			return fmt.Errorf("DB_SOURCE environment variable is required")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("STORAGE_DRIVER must be %q or %q, got %q", DriverPostgres, DriverMemory, c.StorageDriver)
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET environment variable is required")
	}
	rate, err := decimal.NewFromString(strings.TrimSpace(c.InterestRate))
	if err != nil || !rate.IsPositive() {
		return fmt.Errorf("INTEREST_RATE must be a positive decimal, got %q", c.InterestRate)
	}
	if c.AccountNumberMin < 0 || c.AccountNumberMax < c.AccountNumberMin {
		return fmt.Errorf("invalid account number range [%d, %d]", c.AccountNumberMin, c.AccountNumberMax)
	}
	return nil
}

// Rate returns the parsed interest rate. Load has already validated it.
func (c *Config) Rate() decimal.Decimal {
	rate, _ := decimal.NewFromString(strings.TrimSpace(c.InterestRate))
	return rate
}

func (c *Config) JWTTTL() time.Duration {
	return time.Duration(c.JWTTTLMinutes) * time.Minute
}

func (c *Config) LoginWindow() time.Duration {
	return time.Duration(c.LoginWindowSeconds) * time.Second
}

// HTTPAddress returns the host:port pair for the HTTP server to bind to.
func (c *Config) HTTPAddress() string {
	return ":" + c.Port
}

// SlogLevel maps LOG_LEVEL onto a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
