package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected defaults to validate, got %v", err)
	}
	if cfg.Redemption.Digits != 6 {
		t.Errorf("expected 6 digit codes by default, got %d", cfg.Redemption.Digits)
	}
	if cfg.Pricing.PerPageRate != 1 {
		t.Errorf("expected default rate 1, got %v", cfg.Pricing.PerPageRate)
	}
}

func TestLoadYAMLAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlDoc := `
server:
  port: 8081
  operation_timeout: 5s
pricing:
  per_page_rate: 2.5
redemption:
  digits: 8
storage:
  bucket: prints
logging:
  level: debug
`
	if err := os.WriteFile(path, []byte(yamlDoc), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("PRINTDESK_PORT", "9090")
	t.Setenv("PRINTDESK_STATION_KEY", "station-secret")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("expected env port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Server.OperationTimeout != 5*time.Second {
		t.Errorf("expected 5s operation timeout, got %v", cfg.Server.OperationTimeout)
	}
	if cfg.Pricing.PerPageRate != 2.5 {
		t.Errorf("expected rate 2.5, got %v", cfg.Pricing.PerPageRate)
	}
	if cfg.Redemption.Digits != 8 {
		t.Errorf("expected 8 digits, got %d", cfg.Redemption.Digits)
	}
	if cfg.Redemption.MaxAttempts != 10 {
		t.Errorf("expected default max attempts to survive partial yaml, got %d", cfg.Redemption.MaxAttempts)
	}
	if cfg.Storage.Bucket != "prints" {
		t.Errorf("expected bucket prints, got %q", cfg.Storage.Bucket)
	}
	if cfg.Station.APIKey != "station-secret" {
		t.Errorf("expected station key from env, got %q", cfg.Station.APIKey)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected loaded config to validate, got %v", err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("expected missing file to be tolerated, got %v", err)
	}
	if cfg.Server.Port != 5000 {
		t.Errorf("expected default port, got %d", cfg.Server.Port)
	}
}

func TestLoadRejectsBadEnvNumbers(t *testing.T) {
	t.Setenv("PRINTDESK_PER_PAGE_RATE", "cheap")
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected parse error for non-numeric rate")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"negative rate", func(c *Config) { c.Pricing.PerPageRate = -1 }, "per page rate"},
		{"short codes", func(c *Config) { c.Redemption.Digits = 3 }, "digits"},
		{"long codes", func(c *Config) { c.Redemption.Digits = 19 }, "digits"},
		{"no attempts", func(c *Config) { c.Redemption.MaxAttempts = 0 }, "max attempts"},
		{"no bucket", func(c *Config) { c.Storage.Bucket = "" }, "bucket"},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "port"},
		{"bad level", func(c *Config) { c.Logging.Level = "verbose" }, "log level"},
		{"redis without limit", func(c *Config) {
			c.Redis.Addr = "localhost:6379"
			c.Redis.RateLimit = 0
		}, "rate limit"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected error containing %q", tt.want)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
