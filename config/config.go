// Package config loads server settings from the environment and an optional
// .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	Port      string
	DBPath    string
	RulesFile string // empty means the embedded defaults

	LogLevel  string
	LogFormat string

	CORSAllowedOrigins []string

	VacationAdvisoryPercent decimal.Decimal

	// Accounting sync; a zero interval disables the background worker.
	SyncInterval   time.Duration
	SyncWebhookURL string
}

var (
	ErrMissingPort            = errors.New("PAYROLL_PORT is required")
	ErrMissingDBPath          = errors.New("PAYROLL_DB_PATH is required")
	ErrInvalidLogFormat       = errors.New("PAYROLL_LOG_FORMAT must be text or json")
	ErrInvalidAdvisoryPercent = errors.New("PAYROLL_VACATION_ADVISORY_PERCENT must be a positive number")
	ErrInvalidSyncInterval    = errors.New("PAYROLL_SYNC_INTERVAL must be a non-negative duration")
	ErrInvalidSyncWebhookURL  = errors.New("PAYROLL_SYNC_WEBHOOK_URL must be an http(s) URL")
)

var defaultCORSAllowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}

const defaultVacationAdvisoryPct = "10"

// Load reads .env if present, then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv builds and validates a Config from the process environment only.
func FromEnv() (*Config, error) {
	cfg := &Config{
		Port:               getEnvOrDefault("PAYROLL_PORT", "8080"),
		DBPath:             getEnvOrDefault("PAYROLL_DB_PATH", "payroll.db"),
		RulesFile:          os.Getenv("PAYROLL_RULES_FILE"),
		LogLevel:           getEnvOrDefault("PAYROLL_LOG_LEVEL", "info"),
		LogFormat:          strings.ToLower(getEnvOrDefault("PAYROLL_LOG_FORMAT", "text")),
		CORSAllowedOrigins: parseList(os.Getenv("PAYROLL_CORS_ORIGINS")),
		SyncWebhookURL:     os.Getenv("PAYROLL_SYNC_WEBHOOK_URL"),
	}
	if len(cfg.CORSAllowedOrigins) == 0 {
		cfg.CORSAllowedOrigins = append([]string(nil), defaultCORSAllowedOrigins...)
	}

	pct, err := decimal.NewFromString(getEnvOrDefault("PAYROLL_VACATION_ADVISORY_PERCENT", defaultVacationAdvisoryPct))
	if err != nil {
		return nil, ErrInvalidAdvisoryPercent
	}
	cfg.VacationAdvisoryPercent = pct

	interval, err := time.ParseDuration(getEnvOrDefault("PAYROLL_SYNC_INTERVAL", "0s"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSyncInterval, err)
	}
	cfg.SyncInterval = interval

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Port == "" {
		return ErrMissingPort
	}
	if c.DBPath == "" {
		return ErrMissingDBPath
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return ErrInvalidLogFormat
	}
	if !c.VacationAdvisoryPercent.IsPositive() {
		return ErrInvalidAdvisoryPercent
	}
	if c.SyncInterval < 0 {
		return ErrInvalidSyncInterval
	}
	if c.SyncWebhookURL != "" &&
		!strings.HasPrefix(c.SyncWebhookURL, "http://") && !strings.HasPrefix(c.SyncWebhookURL, "https://") {
		return ErrInvalidSyncWebhookURL
	}
	return nil
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	if _, err := strconv.Atoi(c.Port); err == nil {
		return ":" + c.Port
	}
	return c.Port
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
