// Package envelope classifies raw webhook bodies into typed events.
//
// Slack delivers three wire shapes: JSON Events API envelopes, form-encoded
// slash commands, and form-encoded interactive payloads (a JSON document in
// the "payload" field). Classification works off a fixed set of discriminator
// fields; anything that doesn't match a known shape is a parse failure, never
// a default variant, so unrecognized input can't reach listeners.
package envelope

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var (
	// ErrUnknownType means the body decoded cleanly but matched no known
	// discriminator.
	ErrUnknownType = errors.New("unknown event type")

	// ErrMalformedBody means the body could not be decoded at all.
	ErrMalformedBody = errors.New("malformed event body")
)

// outerEnvelope is the Events API wrapper shape.
type outerEnvelope struct {
	Type         string          `json:"type"`
	Challenge    string          `json:"challenge"`
	TeamID       string          `json:"team_id"`
	EnterpriseID string          `json:"enterprise_id"`
	Event        json.RawMessage `json:"event"`
}

type innerEvent struct {
	Type string `json:"type"`
}

// interactivePayload is the JSON document carried in the "payload" form field.
type interactivePayload struct {
	Type       string            `json:"type"`
	CallbackID string            `json:"callback_id"`
	TriggerID  string            `json:"trigger_id"`
	Team       idField           `json:"team"`
	User       idField           `json:"user"`
	Channel    idField           `json:"channel"`
	Actions    []json.RawMessage `json:"actions"`
	RespURL    string            `json:"response_url"`
}

type idField struct {
	ID           string `json:"id"`
	EnterpriseID string `json:"enterprise_id"`
}

type blockAction struct {
	ActionID string `json:"action_id"`
	BlockID  string `json:"block_id"`
	Value    string `json:"value"`
}

// Parse classifies and decodes a raw body into an Event. The content type
// selects the decode strategy; the body bytes must be the raw wire bytes.
func Parse(body []byte, contentType string) (*Event, error) {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "application/json"):
		return parseJSON(body)
	case strings.Contains(ct, "application/x-www-form-urlencoded"):
		return parseForm(body)
	default:
		return nil, fmt.Errorf("%w: unsupported content type %q", ErrUnknownType, contentType)
	}
}

func parseJSON(body []byte) (*Event, error) {
	var outer outerEnvelope
	if err := json.Unmarshal(body, &outer); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBody, err)
	}

	switch outer.Type {
	case "url_verification":
		if outer.Challenge == "" {
			return nil, fmt.Errorf("%w: url_verification without challenge", ErrMalformedBody)
		}
		return &Event{Kind: KindURLVerification, Challenge: outer.Challenge}, nil

	case "event_callback":
		return parseEventCallback(&outer)

	case "":
		return nil, fmt.Errorf("%w: missing type discriminator", ErrUnknownType)

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, outer.Type)
	}
}

func parseEventCallback(outer *outerEnvelope) (*Event, error) {
	if len(outer.Event) == 0 {
		return nil, fmt.Errorf("%w: event_callback without event", ErrMalformedBody)
	}

	var inner innerEvent
	if err := json.Unmarshal(outer.Event, &inner); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBody, err)
	}

	var kind Kind
	switch inner.Type {
	case "message":
		kind = KindMessage
	case "app_mention":
		kind = KindAppMention
	default:
		return nil, fmt.Errorf("%w: event %q", ErrUnknownType, inner.Type)
	}

	var msg MessagePayload
	if err := json.Unmarshal(outer.Event, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBody, err)
	}

	extra, err := extraFields(outer.Event,
		"type", "channel", "channel_type", "user", "text", "ts", "thread_ts", "event_ts")
	if err != nil {
		return nil, err
	}

	return &Event{
		Kind:         kind,
		TeamID:       outer.TeamID,
		EnterpriseID: outer.EnterpriseID,
		Message:      &msg,
		Extra:        extra,
	}, nil
}

func parseForm(body []byte) (*Event, error) {
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBody, err)
	}

	if payload := values.Get("payload"); payload != "" {
		return parseInteractive([]byte(payload))
	}

	if command := values.Get("command"); command != "" {
		return &Event{
			Kind:         KindSlashCommand,
			TeamID:       values.Get("team_id"),
			EnterpriseID: values.Get("enterprise_id"),
			Command: &CommandPayload{
				Command:     command,
				Text:        values.Get("text"),
				TeamDomain:  values.Get("team_domain"),
				ChannelID:   values.Get("channel_id"),
				ChannelName: values.Get("channel_name"),
				UserID:      values.Get("user_id"),
				UserName:    values.Get("user_name"),
				ResponseURL: values.Get("response_url"),
				TriggerID:   values.Get("trigger_id"),
			},
		}, nil
	}

	return nil, fmt.Errorf("%w: form body with neither payload nor command", ErrUnknownType)
}

func parseInteractive(payload []byte) (*Event, error) {
	var p interactivePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBody, err)
	}

	extra, err := extraFields(payload,
		"type", "callback_id", "trigger_id", "team", "user", "channel", "actions", "response_url")
	if err != nil {
		return nil, err
	}

	switch p.Type {
	case "block_actions":
		if len(p.Actions) == 0 {
			return nil, fmt.Errorf("%w: block_actions without actions", ErrMalformedBody)
		}
		var first blockAction
		if err := json.Unmarshal(p.Actions[0], &first); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedBody, err)
		}
		return &Event{
			Kind:         KindBlockAction,
			TeamID:       p.Team.ID,
			EnterpriseID: p.Team.EnterpriseID,
			Action: &ActionPayload{
				ActionID:    first.ActionID,
				BlockID:     first.BlockID,
				Value:       first.Value,
				ChannelID:   p.Channel.ID,
				UserID:      p.User.ID,
				TriggerID:   p.TriggerID,
				ResponseURL: p.RespURL,
				RawActions:  p.Actions,
			},
			Extra: extra,
		}, nil

	case "shortcut", "message_action":
		if p.CallbackID == "" {
			return nil, fmt.Errorf("%w: shortcut without callback_id", ErrMalformedBody)
		}
		return &Event{
			Kind:         KindShortcut,
			TeamID:       p.Team.ID,
			EnterpriseID: p.Team.EnterpriseID,
			Shortcut: &ShortcutPayload{
				CallbackID:  p.CallbackID,
				UserID:      p.User.ID,
				TriggerID:   p.TriggerID,
				ResponseURL: p.RespURL,
			},
			Extra: extra,
		}, nil

	case "":
		return nil, fmt.Errorf("%w: interactive payload missing type", ErrUnknownType)

	default:
		return nil, fmt.Errorf("%w: interactive %q", ErrUnknownType, p.Type)
	}
}

// extraFields decodes raw into a field map and strips the keys already
// promoted to structured fields. Returns nil when nothing is left.
func extraFields(raw []byte, known ...string) (map[string]json.RawMessage, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBody, err)
	}
	for _, k := range known {
		delete(m, k)
	}
	if len(m) == 0 {
		return nil, nil
	}
	return m, nil
}
