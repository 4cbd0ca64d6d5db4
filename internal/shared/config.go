package shared

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the gateway configuration loaded from a TOML file,
// with environment variables taking precedence over file values.
type Config struct {
	Credentials CredentialsConfig `toml:"credentials"`
	Database    DatabaseConfig    `toml:"database"`
	Server      ServerConfig      `toml:"server"`
	Frontend    FrontendConfig    `toml:"frontend"`
}

// CredentialsConfig contains provider credentials.
type CredentialsConfig struct {
	Spotify SpotifyConfig `toml:"spotify"`
}

// SpotifyConfig contains Spotify OAuth2 application credentials.
type SpotifyConfig struct {
	ClientID     string   `toml:"client_id" env:"SPOTIFY_CLIENT_ID"`
	ClientSecret string   `toml:"client_secret" env:"SPOTIFY_CLIENT_SECRET"`
	RedirectURI  string   `toml:"redirect_uri" env:"SPOTIFY_REDIRECT_URI"`
	Scopes       []string `toml:"scopes"`
}

// Map converts the Spotify credentials into the map shape consumed by services.
func (s SpotifyConfig) Map() map[string]string {
	return map[string]string{
		"client_id":     s.ClientID,
		"client_secret": s.ClientSecret,
		"redirect_uri":  s.RedirectURI,
	}
}

// DatabaseConfig contains identity store connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path" env:"DATABASE_PATH"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// ServerConfig contains HTTP server and session settings.
type ServerConfig struct {
	Host          string `toml:"host" env:"HOST"`
	Port          int    `toml:"port" env:"PORT"`
	SessionSecret string `toml:"session_secret" env:"SESSION_SECRET"`
	SessionMaxAge int    `toml:"session_max_age"`
	RatePerSecond int    `toml:"rate_per_second"`
	RateBurst     int    `toml:"rate_burst"`
}

// FrontendConfig describes the trusted front-end the gateway serves.
type FrontendConfig struct {
	Origin     string `toml:"origin" env:"FRONTEND_ORIGIN"`
	SuccessURL string `toml:"success_url" env:"FRONTEND_SUCCESS_URL"`
	FailureURL string `toml:"failure_url" env:"FRONTEND_FAILURE_URL"`
}

// LoadConfig reads and parses a TOML configuration file from the specified path,
// then applies environment variable overrides.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := env.Parse(&config); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	return &config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded
// example config, with environment variable overrides applied.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	if err := env.Parse(&config); err != nil {
		panic(fmt.Sprintf("failed to apply environment overrides: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: config file already exists at %s", ErrInvalidArgument, path)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks that the configuration carries everything the gateway needs to run.
func (c *Config) Validate() error {
	if c.Credentials.Spotify.ClientID == "" || c.Credentials.Spotify.ClientSecret == "" {
		return fmt.Errorf("%w: spotify client_id and client_secret must be set", ErrMissingCredentials)
	}
	if c.Server.SessionSecret == "" {
		return fmt.Errorf("%w: server session_secret must be set", ErrInvalidConfig)
	}
	return nil
}
