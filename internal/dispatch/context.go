package dispatch

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/mattjoyce/bellhop/internal/chat"
	"github.com/mattjoyce/bellhop/internal/envelope"
)

// Response is the synchronous reply handed back to the platform. Built by an
// acknowledgment, or auto-generated when the deadline fires.
type Response struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

func emptyResponse() *Response {
	return &Response{StatusCode: 200}
}

// Context is the per-invocation value bundle passed to middleware and
// listeners. One Context belongs to exactly one dispatch invocation and is
// discarded when it ends; it is never shared across invocations.
type Context struct {
	InvocationID string
	Event        *envelope.Event
	TeamID       string
	EnterpriseID string

	// BotToken is resolved from the installation store, or from the fixed
	// single-workspace config. Empty when no installation exists.
	BotToken string

	Ack    *Ack
	Logger *slog.Logger

	reqCtx    context.Context
	messenger chat.Messenger
	custom    map[string]any
}

// Context returns the request-scoped context handlers should pass to blocking
// calls.
func (c *Context) Context() context.Context {
	return c.reqCtx
}

// Say posts a message to the channel the event originated in, using the
// resolved bot token. Available only when an outbound messenger is wired and
// the event carries a channel.
func (c *Context) Say(text string) error {
	if c.messenger == nil {
		return chat.ErrNoMessenger
	}
	channel := c.Event.ChannelID()
	if channel == "" {
		return chat.ErrNoChannel
	}
	return c.messenger.PostMessage(c.reqCtx, c.BotToken, channel, text)
}

// Set stores a middleware-provided value on the context.
func (c *Context) Set(key string, value any) {
	if c.custom == nil {
		c.custom = make(map[string]any)
	}
	c.custom[key] = value
}

// Get retrieves a value stored by Set.
func (c *Context) Get(key string) (any, bool) {
	v, ok := c.custom[key]
	return v, ok
}

// Ack delivers the single synchronous acknowledgment for an event. All
// methods are safe for concurrent use; only the first call transmits, later
// calls are no-ops that log a warning.
type Ack struct {
	once   sync.Once
	ch     chan *Response
	logger *slog.Logger
}

func newAck(logger *slog.Logger) *Ack {
	return &Ack{ch: make(chan *Response, 1), logger: logger}
}

// Empty acknowledges with an empty 200.
func (a *Ack) Empty() {
	a.deliver(emptyResponse())
}

// Text acknowledges with a plain message visible to the invoking user.
func (a *Ack) Text(text string) {
	a.respondJSON(map[string]string{"text": text})
}

// Ephemeral acknowledges with a message only the invoking user sees.
func (a *Ack) Ephemeral(text string) {
	a.respondJSON(map[string]string{"text": text, "response_type": "ephemeral"})
}

// InChannel acknowledges with a message posted to the whole channel.
func (a *Ack) InChannel(text string) {
	a.respondJSON(map[string]string{"text": text, "response_type": "in_channel"})
}

// JSON acknowledges with an arbitrary JSON body.
func (a *Ack) JSON(v any) {
	a.respondJSON(v)
}

func (a *Ack) respondJSON(v any) {
	body, err := json.Marshal(v)
	if err != nil {
		a.logger.Error("failed to marshal ack body", "error", err)
		a.deliver(emptyResponse())
		return
	}
	a.deliver(&Response{StatusCode: 200, ContentType: "application/json", Body: body})
}

// force is the pipeline's auto-ack path: it transmits resp unless a listener
// already acked, without logging a duplicate warning.
func (a *Ack) force(resp *Response) {
	a.once.Do(func() {
		a.ch <- resp
	})
}

// deliver transmits at most once. The channel is buffered so an ack after the
// pipeline stopped waiting never blocks the handler.
func (a *Ack) deliver(resp *Response) {
	sent := false
	a.once.Do(func() {
		a.ch <- resp
		sent = true
	})
	if !sent {
		a.logger.Warn("duplicate acknowledgment ignored")
	}
}
