package config

import "time"

// Config represents the complete bellhop configuration.
type Config struct {
	Service ServiceConfig `yaml:"service"`
	Slack   SlackConfig   `yaml:"slack"`
	OAuth   *OAuthConfig  `yaml:"oauth,omitempty"`
	State   StateConfig   `yaml:"state"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name        string        `yaml:"name"`
	Listen      string        `yaml:"listen"`
	LogLevel    string        `yaml:"log_level"`
	LogFormat   string        `yaml:"log_format"`
	AckTimeout  time.Duration `yaml:"ack_timeout"`
	MaxBodySize int64         `yaml:"max_body_size"`
}

// SlackConfig defines inbound request authentication and the optional
// single-workspace bot token used when OAuth is not configured.
type SlackConfig struct {
	SigningSecret string `yaml:"signing_secret"`

	// BotToken pins the gateway to a single workspace. Mutually exclusive
	// with a full OAuth configuration.
	BotToken string `yaml:"bot_token,omitempty"`
}

// OAuthConfig defines the v2 authorization-code flow settings.
type OAuthConfig struct {
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	RedirectURI  string   `yaml:"redirect_uri"`
	Scopes       []string `yaml:"scopes"`
	UserScopes   []string `yaml:"user_scopes,omitempty"`

	// AuthorizeURL and TokenURL default to the public Slack endpoints.
	// Overridable for testing against a stub platform.
	AuthorizeURL string `yaml:"authorize_url,omitempty"`
	TokenURL     string `yaml:"token_url,omitempty"`

	// SuccessURL is where the browser lands after a completed install.
	// DeniedURL is where it lands when the user refuses the grant.
	SuccessURL string `yaml:"success_url,omitempty"`
	DeniedURL  string `yaml:"denied_url,omitempty"`

	// StateTTL bounds how long an issued install link stays valid.
	StateTTL time.Duration `yaml:"state_ttl,omitempty"`
}

// StateConfig defines persistence settings.
type StateConfig struct {
	// Path is the SQLite database file. Empty selects the in-memory store
	// (single-process deployments and tests).
	Path string `yaml:"path,omitempty"`
}

// Default values applied by Load.
const (
	DefaultListen      = "127.0.0.1:8080"
	DefaultAckTimeout  = 3 * time.Second
	DefaultMaxBodySize = 1 << 20 // 1 MiB
	DefaultStateTTL    = 10 * time.Minute
)
