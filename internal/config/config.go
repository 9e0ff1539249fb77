package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Pricing    PricingConfig    `yaml:"pricing"`
	Redemption RedemptionConfig `yaml:"redemption"`
	Storage    StorageConfig    `yaml:"storage"`
	Upload     UploadConfig     `yaml:"upload"`
	Auth       AuthConfig       `yaml:"auth"`
	Station    StationConfig    `yaml:"station"`
	Redis      RedisConfig      `yaml:"redis"`
	Webhooks   WebhooksConfig   `yaml:"webhooks"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type ServerConfig struct {
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	OperationTimeout time.Duration `yaml:"operation_timeout"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type PricingConfig struct {
	PerPageRate float64 `yaml:"per_page_rate"`
	Currency    string  `yaml:"currency"`
}

type RedemptionConfig struct {
	Digits      int `yaml:"digits"`
	MaxAttempts int `yaml:"max_attempts"`
}

type StorageConfig struct {
	Endpoint      string        `yaml:"endpoint"`
	AccessKey     string        `yaml:"access_key"`
	SecretKey     string        `yaml:"secret_key"`
	Bucket        string        `yaml:"bucket"`
	Region        string        `yaml:"region"`
	UseSSL        bool          `yaml:"use_ssl"`
	Prefix        string        `yaml:"prefix"`
	PresignExpiry time.Duration `yaml:"presign_expiry"`
}

type UploadConfig struct {
	MaxBytes int64 `yaml:"max_bytes"`
}

type AuthConfig struct {
	JWTSecret     string        `yaml:"jwt_secret"`
	TokenDuration time.Duration `yaml:"token_duration"`
	SecureCookie  bool          `yaml:"secure_cookie"`
}

type StationConfig struct {
	APIKey string `yaml:"api_key"`
}

type RedisConfig struct {
	Addr       string        `yaml:"addr"`
	DB         int           `yaml:"db"`
	RateLimit  int           `yaml:"rate_limit"`
	RateWindow time.Duration `yaml:"rate_window"`
}

type WebhooksConfig struct {
	RetryCount  int           `yaml:"retry_count"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
	Timeout     time.Duration `yaml:"timeout"`
	WorkerCount int           `yaml:"worker_count"`
	QueueSize   int           `yaml:"queue_size"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:             5000,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     30 * time.Second,
			OperationTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Path: "./data/printdesk.db",
		},
		Pricing: PricingConfig{
			PerPageRate: 1,
			Currency:    "INR",
		},
		Redemption: RedemptionConfig{
			Digits:      6,
			MaxAttempts: 10,
		},
		Storage: StorageConfig{
			Endpoint:      "localhost:9000",
			Bucket:        "campusprint",
			Prefix:        "campusprint",
			PresignExpiry: 15 * time.Minute,
		},
		Upload: UploadConfig{
			MaxBytes: 25 << 20,
		},
		Auth: AuthConfig{
			TokenDuration: 24 * time.Hour,
			SecureCookie:  true,
		},
		Redis: RedisConfig{
			RateLimit:  60,
			RateWindow: time.Minute,
		},
		Webhooks: WebhooksConfig{
			RetryCount:  3,
			RetryDelay:  5 * time.Second,
			Timeout:     10 * time.Second,
			WorkerCount: 3,
			QueueSize:   100,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads the YAML file at configPath (a missing file is not an error),
// then applies a .env file if present, then PRINTDESK_* environment overrides.
func Load(configPath string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(configPath)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("PRINTDESK_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PRINTDESK_PORT: %w", err)
		}
		cfg.Server.Port = port
	}

	if v := os.Getenv("PRINTDESK_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("PRINTDESK_PER_PAGE_RATE"); v != "" {
		rate, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid PRINTDESK_PER_PAGE_RATE: %w", err)
		}
		cfg.Pricing.PerPageRate = rate
	}

	if v := os.Getenv("PRINTDESK_CODE_DIGITS"); v != "" {
		digits, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PRINTDESK_CODE_DIGITS: %w", err)
		}
		cfg.Redemption.Digits = digits
	}

	if v := os.Getenv("PRINTDESK_S3_ENDPOINT"); v != "" {
		cfg.Storage.Endpoint = v
	}
	if v := os.Getenv("PRINTDESK_S3_ACCESS_KEY"); v != "" {
		cfg.Storage.AccessKey = v
	}
	if v := os.Getenv("PRINTDESK_S3_SECRET_KEY"); v != "" {
		cfg.Storage.SecretKey = v
	}
	if v := os.Getenv("PRINTDESK_S3_BUCKET"); v != "" {
		cfg.Storage.Bucket = v
	}
	if v := os.Getenv("PRINTDESK_S3_USE_SSL"); v != "" {
		cfg.Storage.UseSSL = v == "true" || v == "1"
	}

	if v := os.Getenv("PRINTDESK_JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}

	if v := os.Getenv("PRINTDESK_STATION_KEY"); v != "" {
		cfg.Station.APIKey = v
	}

	if v := os.Getenv("PRINTDESK_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}

	if v := os.Getenv("PRINTDESK_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("PRINTDESK_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	return nil
}

func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Server.ReadTimeout < 0 {
		return fmt.Errorf("server read timeout must be non-negative")
	}

	if c.Server.WriteTimeout < 0 {
		return fmt.Errorf("server write timeout must be non-negative")
	}

	if c.Server.OperationTimeout <= 0 {
		return fmt.Errorf("server operation timeout must be positive")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}

	if c.Pricing.PerPageRate < 0 || math.IsNaN(c.Pricing.PerPageRate) || math.IsInf(c.Pricing.PerPageRate, 0) {
		return fmt.Errorf("per page rate must be a non-negative number, got %v", c.Pricing.PerPageRate)
	}

	if c.Redemption.Digits < 4 || c.Redemption.Digits > 18 {
		return fmt.Errorf("redemption code digits must be between 4 and 18, got %d", c.Redemption.Digits)
	}

	if c.Redemption.MaxAttempts < 1 {
		return fmt.Errorf("redemption max attempts must be at least 1")
	}

	if c.Storage.Endpoint == "" {
		return fmt.Errorf("storage endpoint is required")
	}

	if c.Storage.Bucket == "" {
		return fmt.Errorf("storage bucket is required")
	}

	if c.Storage.PresignExpiry <= 0 || c.Storage.PresignExpiry > 7*24*time.Hour {
		return fmt.Errorf("storage presign expiry must be between 1s and 7 days")
	}

	if c.Upload.MaxBytes < 1 {
		return fmt.Errorf("upload max bytes must be positive")
	}

	if c.Auth.TokenDuration <= 0 {
		return fmt.Errorf("auth token duration must be positive")
	}

	if c.Redis.Addr != "" {
		if c.Redis.RateLimit < 1 {
			return fmt.Errorf("redis rate limit must be at least 1")
		}
		if c.Redis.RateWindow <= 0 {
			return fmt.Errorf("redis rate window must be positive")
		}
	}

	if c.Webhooks.RetryCount < 0 {
		return fmt.Errorf("webhook retry count must be non-negative")
	}

	if c.Webhooks.WorkerCount < 1 {
		return fmt.Errorf("webhook worker count must be at least 1")
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}

	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	validFormats := map[string]bool{
		"json":  true,
		"text":  true,
		"plain": true,
	}

	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (valid: json, text, plain)", c.Logging.Format)
	}

	return nil
}
