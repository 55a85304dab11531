package webapi

import (
	"fmt"
	"strings"
	"time"
)

const (
	defaultListenAddr       = ":8080"
	defaultAllowedOrigin    = "http://localhost:3000"
	defaultSessionIssuer    = "tauth"
	defaultSessionCookie    = "app_session"
	defaultRequestTimeout   = 10 * time.Second
	defaultSessionRetention = 15 * time.Minute
	defaultShutdownTimeout  = 5 * time.Second
	defaultChangelogLimit   = 100
	defaultCheckoutRate     = 10
	defaultCheckoutBurst    = 5
)

// Config aggregates runtime settings for the HTTP facade.
type Config struct {
	ListenAddr        string
	AllowedOrigins    []string
	SessionSigningKey string
	SessionIssuer     string
	SessionCookieName string
	// AdminEmails restricts changelog mutations; empty allows any valid session.
	AdminEmails      []string
	RequestTimeout   time.Duration
	SessionRetention time.Duration
	// CheckoutRatePerMinute and CheckoutBurst limit checkout creation per client IP.
	CheckoutRatePerMinute int
	CheckoutBurst         int
}

// Validate fills defaults and rejects unusable values.
func (cfg *Config) Validate() error {
	cfg.ListenAddr = defaultIfEmpty(cfg.ListenAddr, defaultListenAddr)
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{defaultAllowedOrigin}
	}
	cfg.SessionIssuer = defaultIfEmpty(cfg.SessionIssuer, defaultSessionIssuer)
	cfg.SessionCookieName = defaultIfEmpty(cfg.SessionCookieName, defaultSessionCookie)
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.SessionRetention <= 0 {
		cfg.SessionRetention = defaultSessionRetention
	}
	if cfg.CheckoutRatePerMinute <= 0 {
		cfg.CheckoutRatePerMinute = defaultCheckoutRate
	}
	if cfg.CheckoutBurst <= 0 {
		cfg.CheckoutBurst = defaultCheckoutBurst
	}
	if len(cfg.SessionSigningKey) == 0 {
		return fmt.Errorf("jwt signing key is required")
	}
	return nil
}

func defaultIfEmpty(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

// ParseList splits comma-delimited values into a slice.
func ParseList(raw string) []string {
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
