package envelope

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const formContentType = "application/x-www-form-urlencoded"

func TestParse_URLVerification(t *testing.T) {
	body := []byte(`{"type":"url_verification","challenge":"xyz","token":"legacy"}`)

	ev, err := Parse(body, "application/json")
	require.NoError(t, err)
	assert.Equal(t, KindURLVerification, ev.Kind)
	assert.Equal(t, "xyz", ev.Challenge)
}

func TestParse_URLVerificationWithoutChallenge(t *testing.T) {
	_, err := Parse([]byte(`{"type":"url_verification"}`), "application/json")
	assert.ErrorIs(t, err, ErrMalformedBody)
}

func TestParse_MessageEvent(t *testing.T) {
	body := []byte(`{
		"type": "event_callback",
		"team_id": "T123",
		"event": {
			"type": "message",
			"channel": "C999",
			"user": "U42",
			"text": "hello world",
			"ts": "1700000000.000100",
			"client_msg_id": "11aa"
		}
	}`)

	ev, err := Parse(body, "application/json; charset=utf-8")
	require.NoError(t, err)
	assert.Equal(t, KindMessage, ev.Kind)
	assert.Equal(t, "T123", ev.TeamID)
	require.NotNil(t, ev.Message)
	assert.Equal(t, "C999", ev.Message.Channel)
	assert.Equal(t, "hello world", ev.Message.Text)
	assert.Equal(t, "message", ev.MatchKey())

	// Unmodeled attributes land in Extra.
	require.Contains(t, ev.Extra, "client_msg_id")
}

func TestParse_AppMention(t *testing.T) {
	body := []byte(`{
		"type": "event_callback",
		"team_id": "T123",
		"enterprise_id": "E77",
		"event": {"type": "app_mention", "channel": "C1", "user": "U1", "text": "<@B1> hi"}
	}`)

	ev, err := Parse(body, "application/json")
	require.NoError(t, err)
	assert.Equal(t, KindAppMention, ev.Kind)
	assert.Equal(t, "E77", ev.EnterpriseID)
	assert.Equal(t, "C1", ev.ChannelID())
}

func TestParse_SlashCommand(t *testing.T) {
	form := url.Values{}
	form.Set("command", "/deploy")
	form.Set("text", "prod api")
	form.Set("team_id", "T123")
	form.Set("channel_id", "C55")
	form.Set("user_id", "U9")
	form.Set("response_url", "https://hooks.slack.example/respond")
	form.Set("trigger_id", "123.456.abc")

	ev, err := Parse([]byte(form.Encode()), formContentType)
	require.NoError(t, err)
	assert.Equal(t, KindSlashCommand, ev.Kind)
	require.NotNil(t, ev.Command)
	assert.Equal(t, "/deploy", ev.Command.Command)
	assert.Equal(t, "prod api", ev.Command.Text)
	assert.Equal(t, "/deploy", ev.MatchKey())
	assert.Equal(t, "123.456.abc", ev.TriggerID())
}

func TestParse_BlockAction(t *testing.T) {
	payload := `{
		"type": "block_actions",
		"team": {"id": "T1"},
		"user": {"id": "U1"},
		"channel": {"id": "C1"},
		"trigger_id": "tr-1",
		"response_url": "https://hooks.slack.example/r",
		"actions": [{"action_id": "approve_request", "block_id": "b1", "value": "req-42"}]
	}`
	form := url.Values{}
	form.Set("payload", payload)

	ev, err := Parse([]byte(form.Encode()), formContentType)
	require.NoError(t, err)
	assert.Equal(t, KindBlockAction, ev.Kind)
	require.NotNil(t, ev.Action)
	assert.Equal(t, "approve_request", ev.Action.ActionID)
	assert.Equal(t, "req-42", ev.Action.Value)
	assert.Equal(t, "approve_request", ev.MatchKey())
}

func TestParse_Shortcut(t *testing.T) {
	for _, typ := range []string{"shortcut", "message_action"} {
		payload := `{"type":"` + typ + `","callback_id":"file_ticket","team":{"id":"T1"},"user":{"id":"U1"},"trigger_id":"tr-9"}`
		form := url.Values{}
		form.Set("payload", payload)

		ev, err := Parse([]byte(form.Encode()), formContentType)
		require.NoError(t, err, typ)
		assert.Equal(t, KindShortcut, ev.Kind, typ)
		assert.Equal(t, "file_ticket", ev.MatchKey(), typ)
	}
}

func TestParse_UnknownShapes(t *testing.T) {
	cases := []struct {
		name        string
		body        string
		contentType string
	}{
		{"unknown outer type", `{"type":"app_rate_limited"}`, "application/json"},
		{"missing discriminator", `{"hello":"world"}`, "application/json"},
		{"unknown inner event", `{"type":"event_callback","event":{"type":"reaction_added"}}`, "application/json"},
		{"form without fields", "foo=bar", formContentType},
		{"unknown interactive", `payload=%7B%22type%22%3A%22view_submission%22%7D`, formContentType},
		{"unsupported content type", `<xml/>`, "text/xml"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.body), tc.contentType)
			assert.ErrorIs(t, err, ErrUnknownType)
		})
	}
}

func TestParse_MalformedBodies(t *testing.T) {
	cases := []struct {
		name        string
		body        string
		contentType string
	}{
		{"truncated json", `{"type":"event_callback"`, "application/json"},
		{"event_callback without event", `{"type":"event_callback"}`, "application/json"},
		{"payload not json", `payload=not-json`, formContentType},
		{"block_actions without actions", `payload=%7B%22type%22%3A%22block_actions%22%2C%22actions%22%3A%5B%5D%7D`, formContentType},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.body), tc.contentType)
			assert.ErrorIs(t, err, ErrMalformedBody)
		})
	}
}
