package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_MinimalSingleWorkspace(t *testing.T) {
	path := writeConfig(t, `
slack:
  signing_secret: sekrit
  bot_token: xoxb-test
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "sekrit", cfg.Slack.SigningSecret)
	assert.Equal(t, "xoxb-test", cfg.Slack.BotToken)
	assert.Nil(t, cfg.OAuth)

	// Defaults fill in everything the file omits.
	assert.Equal(t, "bellhop", cfg.Service.Name)
	assert.Equal(t, DefaultListen, cfg.Service.Listen)
	assert.Equal(t, "INFO", cfg.Service.LogLevel)
	assert.Equal(t, "json", cfg.Service.LogFormat)
	assert.Equal(t, DefaultAckTimeout, cfg.Service.AckTimeout)
	assert.Equal(t, int64(DefaultMaxBodySize), cfg.Service.MaxBodySize)
}

func TestLoad_OAuthDefaults(t *testing.T) {
	path := writeConfig(t, `
slack:
  signing_secret: sekrit
oauth:
  client_id: "123.456"
  client_secret: shh
  redirect_uri: https://app.example/slack/oauth/callback
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NotNil(t, cfg.OAuth)

	assert.Equal(t, "https://slack.com/oauth/v2/authorize", cfg.OAuth.AuthorizeURL)
	assert.Equal(t, "https://slack.com/api/oauth.v2.access", cfg.OAuth.TokenURL)
	assert.Equal(t, DefaultStateTTL, cfg.OAuth.StateTTL)
	assert.Equal(t, []string{"chat:write"}, cfg.OAuth.Scopes)
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("BELLHOP_TEST_SECRET", "from-env")
	t.Setenv("BELLHOP_TEST_TOKEN", "xoxb-from-env")

	path := writeConfig(t, `
slack:
  signing_secret: ${BELLHOP_TEST_SECRET}
  bot_token: ${BELLHOP_TEST_TOKEN}
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Slack.SigningSecret)
	assert.Equal(t, "xoxb-from-env", cfg.Slack.BotToken)
}

func TestLoad_MissingEnvVarIsError(t *testing.T) {
	path := writeConfig(t, `
slack:
  signing_secret: ${BELLHOP_DEFINITELY_UNSET_VAR}
  bot_token: xoxb-test
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BELLHOP_DEFINITELY_UNSET_VAR")
}

func TestLoad_ValidationFailures(t *testing.T) {
	cases := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing signing secret",
			yaml:    "slack:\n  bot_token: xoxb-test\n",
			wantErr: "signing_secret",
		},
		{
			name:    "no token and no oauth",
			yaml:    "slack:\n  signing_secret: s\n",
			wantErr: "bot_token",
		},
		{
			name:    "oauth without client_id",
			yaml:    "slack:\n  signing_secret: s\noauth:\n  client_secret: shh\n  redirect_uri: https://x\n",
			wantErr: "client_id",
		},
		{
			name:    "oauth without client_secret",
			yaml:    "slack:\n  signing_secret: s\noauth:\n  client_id: \"1.2\"\n  redirect_uri: https://x\n",
			wantErr: "client_secret",
		},
		{
			name:    "oauth without redirect_uri",
			yaml:    "slack:\n  signing_secret: s\noauth:\n  client_id: \"1.2\"\n  client_secret: shh\n",
			wantErr: "redirect_uri",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestLoad_ServiceOverrides(t *testing.T) {
	path := writeConfig(t, `
service:
  name: gatekeeper
  listen: 0.0.0.0:9000
  log_level: DEBUG
  log_format: text
  ack_timeout: 2s
slack:
  signing_secret: s
  bot_token: xoxb-test
state:
  path: /var/lib/bellhop/bellhop.db
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "gatekeeper", cfg.Service.Name)
	assert.Equal(t, "0.0.0.0:9000", cfg.Service.Listen)
	assert.Equal(t, 2*time.Second, cfg.Service.AckTimeout)
	assert.Equal(t, "/var/lib/bellhop/bellhop.db", cfg.State.Path)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}
