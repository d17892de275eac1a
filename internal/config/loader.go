package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a file. ${ENV_VAR} references in
// the file are expanded before parsing so secrets never live in the file
// itself.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}

	expanded, err := expandEnv(data)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(expanded, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", absPath, err)
	}

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// expandEnv replaces ${VAR} references with environment values. A reference
// to an unset variable is an error rather than a silent empty string.
func expandEnv(data []byte) ([]byte, error) {
	var missing []string
	out := envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		name := envVarPattern.FindSubmatch(match)[1]
		value, ok := os.LookupEnv(string(name))
		if !ok {
			missing = append(missing, string(name))
			return match
		}
		return []byte(value)
	})
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing environment variables referenced in config: %v", missing)
	}
	return out, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Service.Name == "" {
		cfg.Service.Name = "bellhop"
	}
	if cfg.Service.Listen == "" {
		cfg.Service.Listen = DefaultListen
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = "INFO"
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = "json"
	}
	if cfg.Service.AckTimeout <= 0 {
		cfg.Service.AckTimeout = DefaultAckTimeout
	}
	if cfg.Service.MaxBodySize <= 0 {
		cfg.Service.MaxBodySize = DefaultMaxBodySize
	}
	if cfg.OAuth != nil {
		if cfg.OAuth.AuthorizeURL == "" {
			cfg.OAuth.AuthorizeURL = "https://slack.com/oauth/v2/authorize"
		}
		if cfg.OAuth.TokenURL == "" {
			cfg.OAuth.TokenURL = "https://slack.com/api/oauth.v2.access"
		}
		if cfg.OAuth.StateTTL <= 0 {
			cfg.OAuth.StateTTL = DefaultStateTTL
		}
		if len(cfg.OAuth.Scopes) == 0 {
			cfg.OAuth.Scopes = []string{"chat:write"}
		}
	}
}

func validate(cfg *Config) error {
	if cfg.Slack.SigningSecret == "" {
		return fmt.Errorf("slack.signing_secret is required")
	}
	if cfg.Slack.BotToken == "" && cfg.OAuth == nil {
		return fmt.Errorf("either slack.bot_token or an oauth section must be provided")
	}
	if cfg.OAuth != nil {
		if cfg.OAuth.ClientID == "" {
			return fmt.Errorf("oauth.client_id is required when oauth is configured")
		}
		if cfg.OAuth.ClientSecret == "" {
			return fmt.Errorf("oauth.client_secret is required when oauth.client_id is provided")
		}
		if cfg.OAuth.RedirectURI == "" {
			return fmt.Errorf("oauth.redirect_uri is required when oauth is configured")
		}
	}
	return nil
}
