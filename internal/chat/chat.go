// Package chat is the outbound Web API boundary. The gateway core only needs
// the ability to post a message on behalf of a workspace; everything else the
// platform client offers stays behind this interface.
package chat

import (
	"context"
	"errors"

	"github.com/slack-go/slack"
)

var (
	// ErrNoMessenger means no outbound client was wired into the pipeline.
	ErrNoMessenger = errors.New("no outbound messenger configured")

	// ErrNoChannel means the triggering event carries no channel to reply to.
	ErrNoChannel = errors.New("event has no originating channel")

	// ErrNoToken means no bot token could be resolved for the workspace.
	ErrNoToken = errors.New("no bot token for workspace")
)

// Messenger posts messages back to the platform.
type Messenger interface {
	PostMessage(ctx context.Context, token, channel, text string) error
}

// Client is the production Messenger backed by the Slack Web API. A fresh
// API client is constructed per call because the token varies by workspace.
type Client struct {
	opts []slack.Option
}

// NewClient creates a Web API messenger. Options (custom endpoint, HTTP
// client) are applied to every underlying API client, which is what tests use
// to point at a stub server.
func NewClient(opts ...slack.Option) *Client {
	return &Client{opts: opts}
}

// PostMessage posts text to a channel using the workspace's bot token.
func (c *Client) PostMessage(ctx context.Context, token, channel, text string) error {
	if token == "" {
		return ErrNoToken
	}
	api := slack.New(token, c.opts...)
	_, _, err := api.PostMessageContext(ctx, channel, slack.MsgOptionText(text, false))
	return err
}
