package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dmitrijs2005/clinicdesk/internal/flagx"
	"github.com/dmitrijs2005/clinicdesk/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling.
// It relies on timex.Duration so JSON can specify intervals either as
// strings like "3s" or as integer nanoseconds.
type JsonConfig struct {
	FirebaseAPIKey          string         `json:"firebase_api_key"`
	IdentityBaseURL         string         `json:"identity_base_url"`
	SecureTokenBaseURL      string         `json:"securetoken_base_url"`
	BackendURL              string         `json:"backend_url"`
	TokenURI                string         `json:"token_uri"`
	Scopes                  []string       `json:"scopes"`
	DriveBaseURL            string         `json:"drive_base_url"`
	SheetsBaseURL           string         `json:"sheets_base_url"`
	OAuthClientID           string         `json:"oauth_client_id"`
	OAuthClientSecret       string         `json:"oauth_client_secret"`
	OAuthRedirectURI        string         `json:"oauth_redirect_uri"`
	DBPath                  string         `json:"db_path"`
	RequestTimeout          timex.Duration `json:"request_timeout"`
	RateLimitRPS            int            `json:"rate_limit_rps"`
	IdentityRefreshInterval timex.Duration `json:"identity_refresh_interval"`
	LogLevel                string         `json:"log_level"`
	LogFormat               string         `json:"log_format"`
	MetricsAddr             string         `json:"metrics_addr"`
}

// parseJson overlays Config with values from the JSON file named by -c or
// -config. Fields absent from the file keep their current values.
func parseJson(cfg *Config) error {
	jsonConfigFile := flagx.ConfigPath(os.Args[1:])
	if jsonConfigFile == "" {
		return nil
	}

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	var jc JsonConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", jsonConfigFile, err)
	}

	jc.apply(cfg)
	return nil
}

func (jc *JsonConfig) apply(cfg *Config) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}

	set(&cfg.FirebaseAPIKey, jc.FirebaseAPIKey)
	set(&cfg.IdentityBaseURL, jc.IdentityBaseURL)
	set(&cfg.SecureTokenBaseURL, jc.SecureTokenBaseURL)
	set(&cfg.BackendURL, jc.BackendURL)
	set(&cfg.TokenURI, jc.TokenURI)
	set(&cfg.DriveBaseURL, jc.DriveBaseURL)
	set(&cfg.SheetsBaseURL, jc.SheetsBaseURL)
	set(&cfg.OAuthClientID, jc.OAuthClientID)
	set(&cfg.OAuthClientSecret, jc.OAuthClientSecret)
	set(&cfg.OAuthRedirectURI, jc.OAuthRedirectURI)
	set(&cfg.DBPath, jc.DBPath)
	set(&cfg.LogLevel, jc.LogLevel)
	set(&cfg.LogFormat, jc.LogFormat)
	set(&cfg.MetricsAddr, jc.MetricsAddr)

	if len(jc.Scopes) > 0 {
		cfg.Scopes = jc.Scopes
	}
	if jc.RequestTimeout.Duration > 0 {
		cfg.RequestTimeout = jc.RequestTimeout.Duration
	}
	if jc.IdentityRefreshInterval.Duration > 0 {
		cfg.IdentityRefreshInterval = jc.IdentityRefreshInterval.Duration
	}
	if jc.RateLimitRPS > 0 {
		cfg.RateLimitRPS = jc.RateLimitRPS
	}
}
