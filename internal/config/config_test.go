package config

import (
	"errors"
	"testing"
)

var configKeys = []string{
	"APP_ENV", "APP_HTTP_ADDR", "METRICS_ADDR", "ENV", "STORE_TYPE", "DB_DSN", "FEATURES_FILE",
	"ADMIN_API_KEY", "ADMIN_API_KEY_HASH", "CLIENT_API_KEY", "RATE_LIMIT_PER_IP", "LOG_LEVEL",
	"LOG_PRETTY", "OTLP_ENDPOINT", "WEBHOOK_URLS", "WEBHOOK_SECRET", "WEBHOOK_MAX_RETRIES",
}

// unsetAll blanks every key for the duration of the test. viper ignores empty
// environment values, so the defaults apply.
func unsetAll(t *testing.T) {
	t.Helper()
	for _, key := range configKeys {
		t.Setenv(key, "")
	}
}

func TestLoad_DefaultValues(t *testing.T) {
	unsetAll(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.AppEnv != "dev" {
		t.Errorf("Expected AppEnv='dev', got '%s'", cfg.AppEnv)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("Expected HTTPAddr=':8080', got '%s'", cfg.HTTPAddr)
	}
	if cfg.Env != "prod" {
		t.Errorf("Expected Env='prod', got '%s'", cfg.Env)
	}
	if cfg.StoreType != "memory" {
		t.Errorf("Expected StoreType='memory', got '%s'", cfg.StoreType)
	}
	if cfg.RateLimitPerIP != 100 {
		t.Errorf("Expected RateLimitPerIP=100, got %d", cfg.RateLimitPerIP)
	}
	if cfg.LogLevel != "info" || cfg.LogPretty {
		t.Errorf("Expected info/json logging, got %s/%v", cfg.LogLevel, cfg.LogPretty)
	}
	if cfg.WebhookMaxRetries != 3 {
		t.Errorf("Expected WebhookMaxRetries=3, got %d", cfg.WebhookMaxRetries)
	}
	if len(cfg.WebhookURLs) != 0 {
		t.Errorf("Expected no webhook URLs, got %v", cfg.WebhookURLs)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	unsetAll(t)
	t.Setenv("APP_ENV", "test")
	t.Setenv("APP_HTTP_ADDR", ":9999")
	t.Setenv("ENV", "staging")
	t.Setenv("STORE_TYPE", "file")
	t.Setenv("FEATURES_FILE", "/tmp/f.yaml")
	t.Setenv("RATE_LIMIT_PER_IP", "200")
	t.Setenv("LOG_PRETTY", "true")
	t.Setenv("WEBHOOK_URLS", "https://a.example/hook, ,https://b.example/hook")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.AppEnv != "test" || cfg.HTTPAddr != ":9999" || cfg.Env != "staging" {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if cfg.StoreType != "file" || cfg.FeaturesFile != "/tmp/f.yaml" {
		t.Errorf("store overrides not applied: %+v", cfg)
	}
	if cfg.RateLimitPerIP != 200 || !cfg.LogPretty {
		t.Errorf("typed overrides not applied: %+v", cfg)
	}
	if len(cfg.WebhookURLs) != 2 || cfg.WebhookURLs[1] != "https://b.example/hook" {
		t.Errorf("WebhookURLs = %v", cfg.WebhookURLs)
	}
}

func validConfig() Config {
	return Config{
		AppEnv:      "dev",
		HTTPAddr:    ":8080",
		MetricsAddr: ":9090",
		Env:         "prod",
		StoreType:   "memory",
		AdminAPIKey: "admin-123",
		LogLevel:    "info",
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantField string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "bad store type", mutate: func(c *Config) { c.StoreType = "redis" }, wantField: "STORE_TYPE"},
		{name: "postgres without dsn", mutate: func(c *Config) { c.StoreType = "postgres" }, wantField: "DB_DSN"},
		{name: "file without path", mutate: func(c *Config) { c.StoreType = "file" }, wantField: "FEATURES_FILE"},
		{name: "empty http addr", mutate: func(c *Config) { c.HTTPAddr = "" }, wantField: "APP_HTTP_ADDR"},
		{name: "empty metrics addr", mutate: func(c *Config) { c.MetricsAddr = "" }, wantField: "METRICS_ADDR"},
		{name: "empty env", mutate: func(c *Config) { c.Env = "" }, wantField: "ENV"},
		{name: "bad log level", mutate: func(c *Config) { c.LogLevel = "loud" }, wantField: "LOG_LEVEL"},
		{name: "negative retries", mutate: func(c *Config) { c.WebhookMaxRetries = -1 }, wantField: "WEBHOOK_MAX_RETRIES"},
		{
			name:      "webhooks without secret",
			mutate:    func(c *Config) { c.WebhookURLs = []string{"https://x"} },
			wantField: "WEBHOOK_SECRET",
		},
		{name: "no admin credential", mutate: func(c *Config) { c.AdminAPIKey = "" }, wantField: "ADMIN_API_KEY"},
		{name: "default admin key in prod", mutate: func(c *Config) { c.AppEnv = "production" }, wantField: "ADMIN_API_KEY"},
		{
			name: "hash allows default key field in prod",
			mutate: func(c *Config) {
				c.AppEnv = "prod"
				c.AdminAPIKeyHash = "$2a$10$abcdefghijklmnopqrstuv"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var ve ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if ve.Field != tt.wantField {
				t.Errorf("Field = %s, want %s", ve.Field, tt.wantField)
			}
		})
	}
}
