package config

import "time"

// Config holds runtime settings for the clinicdesk CLI.
//
// Durations are time.Duration values. Scopes are full OAuth scope URLs.
// An empty TokenURI means the token_uri of the service account is used.
type Config struct {
	FirebaseAPIKey     string
	IdentityBaseURL    string
	SecureTokenBaseURL string
	BackendURL         string

	TokenURI      string
	Scopes        []string
	DriveBaseURL  string
	SheetsBaseURL string

	OAuthClientID     string
	OAuthClientSecret string
	OAuthRedirectURI  string

	DBPath                  string
	RequestTimeout          time.Duration
	RateLimitRPS            int
	IdentityRefreshInterval time.Duration

	LogLevel    string
	LogFormat   string
	MetricsAddr string
}

// DefaultEnvFile is the dotenv file read when present in the working
// directory.
const DefaultEnvFile = ".env"

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.IdentityBaseURL = "https://identitytoolkit.googleapis.com"
	c.SecureTokenBaseURL = "https://securetoken.googleapis.com"
	c.BackendURL = "http://localhost:3000"
	c.Scopes = []string{
		"https://www.googleapis.com/auth/spreadsheets",
		"https://www.googleapis.com/auth/drive.readonly",
		"https://www.googleapis.com/auth/drive.file",
	}
	c.DriveBaseURL = "https://www.googleapis.com/drive/v3"
	c.SheetsBaseURL = "https://sheets.googleapis.com/v4"
	c.OAuthRedirectURI = "http://localhost"
	c.DBPath = "clinicdesk.db"
	c.RequestTimeout = 20 * time.Second
	c.RateLimitRPS = 10
	c.IdentityRefreshInterval = 50 * time.Minute
	c.LogLevel = "info"
	c.LogFormat = "text"
}

// LoadConfig constructs a Config, applies defaults, then overlays values
// from the .env file, the environment, a JSON file and command-line flags.
// Later sources take precedence over earlier ones.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	if err := parseEnv(cfg, DefaultEnvFile); err != nil {
		return nil, err
	}
	if err := parseJson(cfg); err != nil {
		return nil, err
	}
	if err := parseFlags(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
