package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// EnvPrefix is prepended to every environment variable the loader reads.
const EnvPrefix = "CLINICDESK_"

// parseEnv loads envFile into the process environment if it exists, without
// overriding variables already set, then overlays Config with every
// CLINICDESK_* variable that is present.
func parseEnv(cfg *Config, envFile string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	for name, apply := range envSetters(cfg) {
		v, ok := os.LookupEnv(EnvPrefix + name)
		if !ok {
			continue
		}
		if err := apply(v); err != nil {
			return fmt.Errorf("invalid %s%s: %w", EnvPrefix, name, err)
		}
	}
	return nil
}

func envSetters(cfg *Config) map[string]func(string) error {
	str := func(dst *string) func(string) error {
		return func(v string) error { *dst = v; return nil }
	}
	dur := func(dst *time.Duration) func(string) error {
		return func(v string) error {
			d, err := time.ParseDuration(v)
			if err != nil {
				return err
			}
			*dst = d
			return nil
		}
	}

	return map[string]func(string) error{
		"FIREBASE_API_KEY":     str(&cfg.FirebaseAPIKey),
		"IDENTITY_BASE_URL":    str(&cfg.IdentityBaseURL),
		"SECURETOKEN_BASE_URL": str(&cfg.SecureTokenBaseURL),
		"BACKEND_URL":          str(&cfg.BackendURL),
		"TOKEN_URI":            str(&cfg.TokenURI),
		"DRIVE_BASE_URL":       str(&cfg.DriveBaseURL),
		"SHEETS_BASE_URL":      str(&cfg.SheetsBaseURL),
		"OAUTH_CLIENT_ID":      str(&cfg.OAuthClientID),
		"OAUTH_CLIENT_SECRET":  str(&cfg.OAuthClientSecret),
		"OAUTH_REDIRECT_URI":   str(&cfg.OAuthRedirectURI),
		"DB_PATH":              str(&cfg.DBPath),
		"LOG_LEVEL":            str(&cfg.LogLevel),
		"LOG_FORMAT":           str(&cfg.LogFormat),
		"METRICS_ADDR":         str(&cfg.MetricsAddr),

		"REQUEST_TIMEOUT":           dur(&cfg.RequestTimeout),
		"IDENTITY_REFRESH_INTERVAL": dur(&cfg.IdentityRefreshInterval),

		"SCOPES": func(v string) error {
			cfg.Scopes = splitList(v)
			return nil
		},
		"RATE_LIMIT_RPS": func(v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return err
			}
			cfg.RateLimitRPS = n
			return nil
		},
	}
}

func splitList(v string) []string {
	return strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == ' ' })
}
