// Package config aggregates the runtime settings of gachad.
package config

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/MarkoPoloResearchLab/fanpoints/pkg/gacha"
	"github.com/MarkoPoloResearchLab/fanpoints/pkg/ledger"
	"go.uber.org/zap/zapcore"
)

const (
	StoreDriverGorm = "gorm"
	StoreDriverPgx  = "pgx"

	defaultDatabaseURL       = "sqlite:///tmp/fanpoints.db"
	defaultHTTPListenAddr    = ":8080"
	defaultGRPCListenAddr    = ":7000"
	defaultAllowedOrigin     = "http://localhost:8000"
	defaultSessionIssuer     = "tauth"
	defaultSessionCookie     = "app_session"
	defaultTimezone          = "Asia/Tokyo"
	defaultRequestTimeout    = 5 * time.Second
	defaultLogLevel          = "info"
	defaultDrawRateLimit     = 10
	defaultDrawRateWindow    = time.Minute
	defaultEarnRateLimit     = 30
	defaultEarnRateWindow    = time.Minute
	defaultLimiterIdle       = 10 * time.Minute
	defaultLimiterCleanupJob = "@every 1m"
)

// Config holds every setting of the serve command.
type Config struct {
	DatabaseURL       string
	StoreDriver       string
	HTTPListenAddr    string
	GRPCListenAddr    string
	RedisAddr         string
	PoolsFile         string
	DefaultCirclePool string
	Timezone          string
	DrawRateLimit     int
	DrawRateWindow    time.Duration
	EarnRateLimit     int
	EarnRateWindow    time.Duration
	EarnAmounts       map[string]int64
	AllowedOrigins    []string
	SessionSigningKey string
	SessionIssuer     string
	SessionCookieName string
	RequestTimeout    time.Duration
	LogLevel          string
	LimiterIdle       time.Duration
	LimiterCleanup    string
}

// Validate fills defaults and ensures the configuration contains sane values.
func (cfg *Config) Validate() error {
	cfg.DatabaseURL = defaultIfEmpty(cfg.DatabaseURL, defaultDatabaseURL)
	cfg.StoreDriver = strings.ToLower(defaultIfEmpty(cfg.StoreDriver, StoreDriverGorm))
	cfg.HTTPListenAddr = defaultIfEmpty(cfg.HTTPListenAddr, defaultHTTPListenAddr)
	cfg.GRPCListenAddr = defaultIfEmpty(cfg.GRPCListenAddr, defaultGRPCListenAddr)
	cfg.Timezone = defaultIfEmpty(cfg.Timezone, defaultTimezone)
	cfg.SessionIssuer = defaultIfEmpty(cfg.SessionIssuer, defaultSessionIssuer)
	cfg.SessionCookieName = defaultIfEmpty(cfg.SessionCookieName, defaultSessionCookie)
	cfg.LogLevel = defaultIfEmpty(cfg.LogLevel, defaultLogLevel)
	cfg.LimiterCleanup = defaultIfEmpty(cfg.LimiterCleanup, defaultLimiterCleanupJob)
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{defaultAllowedOrigin}
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.DrawRateLimit <= 0 {
		cfg.DrawRateLimit = defaultDrawRateLimit
	}
	if cfg.DrawRateWindow <= 0 {
		cfg.DrawRateWindow = defaultDrawRateWindow
	}
	if cfg.EarnRateLimit <= 0 {
		cfg.EarnRateLimit = defaultEarnRateLimit
	}
	if cfg.EarnRateWindow <= 0 {
		cfg.EarnRateWindow = defaultEarnRateWindow
	}
	if cfg.LimiterIdle <= 0 {
		cfg.LimiterIdle = defaultLimiterIdle
	}

	if cfg.StoreDriver != StoreDriverGorm && cfg.StoreDriver != StoreDriverPgx {
		return fmt.Errorf("store driver must be %s or %s, got %q", StoreDriverGorm, StoreDriverPgx, cfg.StoreDriver)
	}
	if cfg.StoreDriver == StoreDriverPgx && !IsPostgresURL(cfg.DatabaseURL) {
		return fmt.Errorf("store driver %s requires a postgres database url", StoreDriverPgx)
	}
	if strings.TrimSpace(cfg.PoolsFile) == "" {
		return fmt.Errorf("pools file is required")
	}
	if len(cfg.SessionSigningKey) == 0 {
		return fmt.Errorf("jwt signing key is required")
	}
	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		return fmt.Errorf("timezone %q: %w", cfg.Timezone, err)
	}
	if _, err := zapcore.ParseLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("log level %q: %w", cfg.LogLevel, err)
	}
	for reason, amount := range cfg.EarnAmounts {
		if amount <= 0 {
			return fmt.Errorf("earn amount for %s must be positive", reason)
		}
	}
	return nil
}

// GachaConfig derives the orchestrator settings.
func (cfg Config) GachaConfig() (gacha.Config, error) {
	result := gacha.DefaultConfig()
	location, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return gacha.Config{}, fmt.Errorf("timezone %q: %w", cfg.Timezone, err)
	}
	result.Location = location
	result.DefaultCirclePool = strings.TrimSpace(cfg.DefaultCirclePool)
	result.DrawLimit = gacha.Limit{MaxAttempts: cfg.DrawRateLimit, Window: cfg.DrawRateWindow}
	result.EarnLimit = gacha.Limit{MaxAttempts: cfg.EarnRateLimit, Window: cfg.EarnRateWindow}
	for raw, amount := range cfg.EarnAmounts {
		reason, err := ledger.ParseReason(raw)
		if err != nil {
			return gacha.Config{}, err
		}
		result.EarnAmounts[reason] = amount
	}
	return result, nil
}

// IsPostgresURL reports whether a database url targets PostgreSQL.
func IsPostgresURL(databaseURL string) bool {
	return strings.HasPrefix(databaseURL, "postgres://") || strings.HasPrefix(databaseURL, "postgresql://")
}

func defaultIfEmpty(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return strings.TrimSpace(value)
}

// ParseAllowedOrigins splits comma-delimited origins into a slice.
func ParseAllowedOrigins(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			normalized = append(normalized, trimmed)
		}
	}
	return normalized
}
