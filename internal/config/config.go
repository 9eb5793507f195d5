package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

type Config struct {
	// Environment
	GoEnv string `env:"GO_ENV" default:"development"`

	// Bot side: where the receiver listens
	ReceiverAddress string `env:"RECEIVER_ADDRESS" default:"0.0.0.0"`
	ReceiverPort    int    `env:"RECEIVER_PORT" default:"8765"`

	// API side: where the sender dials the bot
	BotSockAddress string `env:"BOT_SOCK_ADDRESS" default:"localhost"`
	BotSockPort    int    `env:"BOT_SOCK_PORT" default:"8765"`

	// Chat platform
	BotToken         string `env:"BOT_TOKEN"`
	DefaultChannelID string `env:"CHANNEL_ID"`

	// Connector tuning
	ConnectRetries int           `env:"CONNECT_RETRIES" default:"5"`
	ConnectDelay   time.Duration `env:"CONNECT_DELAY" default:"5s"`
	DialTimeout    time.Duration `env:"DIAL_TIMEOUT" default:"10s"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" default:"30s"`
	MaxMessageSize int           `env:"MAX_MESSAGE_SIZE" default:"1048576"`
	ReadTimeout    time.Duration `env:"READ_TIMEOUT" default:"5m"`
	RateLimit      float64       `env:"RATE_LIMIT" default:"10"`
	RateBurst      int           `env:"RATE_BURST" default:"20"`

	// Dispatcher
	ImageFetchTimeout time.Duration `env:"IMAGE_FETCH_TIMEOUT" default:"15s"`

	// Redis Cache (gateway lookups)
	RedisURL      string        `env:"REDIS_URL"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	CacheTTL      time.Duration `env:"CACHE_TTL" default:"5m"`

	// Database (allow-list)
	DatabaseURL string `env:"DATABASE_URL"`

	// Monitoring
	HealthPort int `env:"HEALTH_PORT" default:"8090"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" default:"debug"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`
	LogFile   string `env:"LOG_FILE"`
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	// .env is optional, system env vars still apply
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read .env file: %w", err)
	}

	config := &Config{}

	loadEnvString(&config.GoEnv, "GO_ENV", "development")

	// Receiver
	loadEnvString(&config.ReceiverAddress, "RECEIVER_ADDRESS", "0.0.0.0")
	if err := loadEnvInt(&config.ReceiverPort, "RECEIVER_PORT", 8765); err != nil {
		return nil, err
	}

	// Sender
	loadEnvString(&config.BotSockAddress, "BOT_SOCK_ADDRESS", "localhost")
	if err := loadEnvInt(&config.BotSockPort, "BOT_SOCK_PORT", 8765); err != nil {
		return nil, err
	}

	// Chat platform
	loadEnvString(&config.BotToken, "BOT_TOKEN", "")
	loadEnvString(&config.DefaultChannelID, "CHANNEL_ID", "")

	// Connector tuning
	if err := loadEnvInt(&config.ConnectRetries, "CONNECT_RETRIES", 5); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.ConnectDelay, "CONNECT_DELAY", 5*time.Second); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.DialTimeout, "DIAL_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.RequestTimeout, "REQUEST_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.MaxMessageSize, "MAX_MESSAGE_SIZE", 1024*1024); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.ReadTimeout, "READ_TIMEOUT", 5*time.Minute); err != nil {
		return nil, err
	}
	if err := loadEnvFloat(&config.RateLimit, "RATE_LIMIT", 10); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.RateBurst, "RATE_BURST", 20); err != nil {
		return nil, err
	}

	// Dispatcher
	if err := loadEnvDuration(&config.ImageFetchTimeout, "IMAGE_FETCH_TIMEOUT", 15*time.Second); err != nil {
		return nil, err
	}

	// Redis
	loadEnvString(&config.RedisURL, "REDIS_URL", "")
	loadEnvString(&config.RedisPassword, "REDIS_PASSWORD", "")
	if err := loadEnvDuration(&config.CacheTTL, "CACHE_TTL", 5*time.Minute); err != nil {
		return nil, err
	}

	// Database
	loadEnvString(&config.DatabaseURL, "DATABASE_URL", "")

	// Monitoring
	if err := loadEnvInt(&config.HealthPort, "HEALTH_PORT", 8090); err != nil {
		return nil, err
	}

	// Logging
	loadEnvString(&config.LogLevel, "LOG_LEVEL", "debug")
	loadEnvString(&config.LogFormat, "LOG_FORMAT", "text")
	loadEnvString(&config.LogFile, "LOG_FILE", "")

	return config, nil
}

// Helper functions for type conversion and validation
func loadEnvString(target *string, key, defaultValue string) {
	if value := os.Getenv(key); value != "" {
		*target = value
	} else {
		*target = defaultValue
	}
}

func loadEnvInt(target *int, key string, defaultValue int) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid integer value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvFloat(target *float64, key string, defaultValue float64) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid number value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvDuration(target *time.Duration, key string, defaultValue time.Duration) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

// Validate performs validation on the loaded configuration
func (c *Config) Validate() error {
	var errors []string

	if c.ReceiverPort < 1 || c.ReceiverPort > 65535 {
		errors = append(errors, "RECEIVER_PORT must be between 1 and 65535")
	}
	if c.BotSockPort < 1 || c.BotSockPort > 65535 {
		errors = append(errors, "BOT_SOCK_PORT must be between 1 and 65535")
	}
	if c.HealthPort < 0 || c.HealthPort > 65535 {
		errors = append(errors, "HEALTH_PORT must be between 0 and 65535")
	}
	if c.ConnectRetries < 1 {
		errors = append(errors, "CONNECT_RETRIES must be at least 1")
	}
	if c.MaxMessageSize < 4096 {
		errors = append(errors, "MAX_MESSAGE_SIZE must be at least 4096 bytes")
	}
	if c.RateLimit <= 0 || c.RateBurst < 1 {
		errors = append(errors, "RATE_LIMIT must be positive and RATE_BURST at least 1")
	}

	if _, err := c.RedisOptions(); err != nil {
		errors = append(errors, err.Error())
	}

	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLogLevels, strings.ToLower(c.LogLevel)) {
		errors = append(errors, fmt.Sprintf("LOG_LEVEL must be one of: %s", strings.Join(validLogLevels, ", ")))
	}

	validLogFormats := []string{"text", "json"}
	if !contains(validLogFormats, c.LogFormat) {
		errors = append(errors, fmt.Sprintf("LOG_FORMAT must be one of: %s", strings.Join(validLogFormats, ", ")))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errors, "; "))
	}

	return nil
}

// ValidateBot adds the checks only the bot process needs.
func (c *Config) ValidateBot() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.BotToken == "" {
		return fmt.Errorf("required environment variable BOT_TOKEN is not set")
	}
	return nil
}

// ReceiverAddr is the host:port the bot listens on.
func (c *Config) ReceiverAddr() string {
	return net.JoinHostPort(c.ReceiverAddress, strconv.Itoa(c.ReceiverPort))
}

// BotSockAddr is the host:port the sender dials.
func (c *Config) BotSockAddr() string {
	return net.JoinHostPort(c.BotSockAddress, strconv.Itoa(c.BotSockPort))
}

// RedisOptions parses REDIS_URL (redis:// or rediss://, or a bare host:port).
// It returns nil options when REDIS_URL is empty, which disables the cache.
// REDIS_PASSWORD fills in a password the URL does not carry.
func (c *Config) RedisOptions() (*redis.Options, error) {
	if c.RedisURL == "" {
		return nil, nil
	}
	var opts *redis.Options
	if strings.Contains(c.RedisURL, "://") {
		parsed, err := redis.ParseURL(c.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: c.RedisURL}
	}
	if opts.Password == "" {
		opts.Password = c.RedisPassword
	}
	return opts, nil
}

// IsDevelopment returns true if the application is running in development mode
func (c *Config) IsDevelopment() bool {
	return c.GoEnv == "development"
}

// IsProduction returns true if the application is running in production mode
func (c *Config) IsProduction() bool {
	return c.GoEnv == "production"
}

// Helper function to check if slice contains a string
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
