package envelope

import "encoding/json"

// Kind discriminates the closed set of event variants the gateway understands.
type Kind string

const (
	KindMessage         Kind = "message"
	KindAppMention      Kind = "app_mention"
	KindSlashCommand    Kind = "slash_command"
	KindBlockAction     Kind = "block_action"
	KindShortcut        Kind = "shortcut"
	KindURLVerification Kind = "url_verification"
)

// Event is the normalized form of an inbound payload. Exactly one of the
// payload pointers is set, matching Kind. Extra carries top-level attributes
// of the raw payload that are not promoted to structured fields, preserving
// forward compatibility with payload shapes the platform adds later.
type Event struct {
	Kind         Kind
	TeamID       string
	EnterpriseID string

	// Challenge is set only for KindURLVerification. The caller must echo it
	// verbatim and skip dispatch entirely.
	Challenge string

	Message  *MessagePayload
	Command  *CommandPayload
	Action   *ActionPayload
	Shortcut *ShortcutPayload

	Extra map[string]json.RawMessage
}

// MessagePayload covers message and app_mention events from the Events API.
type MessagePayload struct {
	Channel     string `json:"channel"`
	ChannelType string `json:"channel_type"`
	User        string `json:"user"`
	Text        string `json:"text"`
	Ts          string `json:"ts"`
	ThreadTs    string `json:"thread_ts"`
	EventTs     string `json:"event_ts"`
}

// CommandPayload is a slash command invocation (form-encoded body).
type CommandPayload struct {
	Command     string
	Text        string
	TeamDomain  string
	ChannelID   string
	ChannelName string
	UserID      string
	UserName    string
	ResponseURL string
	TriggerID   string
}

// ActionPayload is a single block action from an interactive payload. Slack
// batches actions, but in practice a payload carries one; the first action is
// promoted and the rest remain reachable through RawActions.
type ActionPayload struct {
	ActionID    string
	BlockID     string
	Value       string
	ChannelID   string
	UserID      string
	TriggerID   string
	ResponseURL string
	RawActions  []json.RawMessage
}

// ShortcutPayload covers global shortcuts and message actions.
type ShortcutPayload struct {
	CallbackID  string
	UserID      string
	TriggerID   string
	ResponseURL string
}

// MatchKey returns the identifier listeners are matched against: the event
// type for Events API events, the command name for slash commands, the action
// id for block actions, and the callback id for shortcuts.
func (e *Event) MatchKey() string {
	switch e.Kind {
	case KindSlashCommand:
		if e.Command != nil {
			return e.Command.Command
		}
	case KindBlockAction:
		if e.Action != nil {
			return e.Action.ActionID
		}
	case KindShortcut:
		if e.Shortcut != nil {
			return e.Shortcut.CallbackID
		}
	}
	return string(e.Kind)
}

// ChannelID returns the channel the event originated in, when one exists.
func (e *Event) ChannelID() string {
	switch {
	case e.Message != nil:
		return e.Message.Channel
	case e.Command != nil:
		return e.Command.ChannelID
	case e.Action != nil:
		return e.Action.ChannelID
	}
	return ""
}

// TriggerID returns the interaction trigger id, when one exists. Needed by
// handlers that open modals.
func (e *Event) TriggerID() string {
	switch {
	case e.Command != nil:
		return e.Command.TriggerID
	case e.Action != nil:
		return e.Action.TriggerID
	case e.Shortcut != nil:
		return e.Shortcut.TriggerID
	}
	return ""
}
