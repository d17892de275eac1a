package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/bellhop/internal/chat"
	"github.com/mattjoyce/bellhop/internal/envelope"
	"github.com/mattjoyce/bellhop/internal/log"
	"github.com/mattjoyce/bellhop/internal/store"
)

// DefaultAckTimeout is the acknowledgment deadline measured from dispatch
// start. Slack abandons the synchronous response after roughly this long.
const DefaultAckTimeout = 3 * time.Second

// TokenResolver resolves the bot token for a workspace.
type TokenResolver func(ctx context.Context, teamID, enterpriseID string) (string, error)

// ResolverFromStore resolves tokens from persisted installations.
func ResolverFromStore(installs store.InstallationStore) TokenResolver {
	return func(ctx context.Context, teamID, enterpriseID string) (string, error) {
		inst, err := installs.Find(ctx, teamID, enterpriseID)
		if err != nil {
			return "", err
		}
		if inst == nil {
			return "", nil
		}
		return inst.BotToken, nil
	}
}

// StaticToken resolves every workspace to one fixed token (single-workspace
// mode).
func StaticToken(token string) TokenResolver {
	return func(context.Context, string, string) (string, error) {
		return token, nil
	}
}

// Pipeline executes the middleware and listener chains for parsed events.
type Pipeline struct {
	registry   *Registry
	resolve    TokenResolver
	messenger  chat.Messenger
	ackTimeout time.Duration
}

// NewPipeline creates a pipeline over a frozen registry. A zero ackTimeout
// selects DefaultAckTimeout; messenger may be nil when the deployment has no
// outbound client.
func NewPipeline(reg *Registry, resolve TokenResolver, messenger chat.Messenger, ackTimeout time.Duration) *Pipeline {
	if ackTimeout <= 0 {
		ackTimeout = DefaultAckTimeout
	}
	return &Pipeline{
		registry:   reg,
		resolve:    resolve,
		messenger:  messenger,
		ackTimeout: ackTimeout,
	}
}

// Dispatch runs middleware then matched listeners for an event and returns
// the synchronous response to send to the platform. It blocks until a
// listener acknowledges, the chain finishes, or the deadline fires; in the
// latter cases an empty 200 is emitted. Listener failures never surface as
// request failures.
func (p *Pipeline) Dispatch(ctx context.Context, ev *envelope.Event) *Response {
	invID := uuid.NewString()
	logger := log.WithInvocation(invID).With(
		"event_kind", string(ev.Kind),
		"match_key", ev.MatchKey(),
		"team_id", ev.TeamID,
	)

	c := &Context{
		InvocationID: invID,
		Event:        ev,
		TeamID:       ev.TeamID,
		EnterpriseID: ev.EnterpriseID,
		Ack:          newAck(logger),
		Logger:       logger,
		reqCtx:       ctx,
		messenger:    p.messenger,
	}

	if p.resolve != nil {
		token, err := p.resolve(ctx, ev.TeamID, ev.EnterpriseID)
		if err != nil {
			logger.Warn("bot token resolution failed", "error", err)
		}
		c.BotToken = token
	}

	handlers := p.registry.handlersFor(ev)
	if len(handlers) == 0 {
		// Valid steady state: nothing registered for this event.
		logger.Debug("no listener matched")
		return emptyResponse()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.runChain(c, handlers)
	}()

	timer := time.NewTimer(p.ackTimeout)
	defer timer.Stop()

	select {
	case resp := <-c.Ack.ch:
		return resp

	case <-done:
		// The chain finished without acking; prefer a late ack that raced
		// with chain completion, then fall back to an empty 200.
		select {
		case resp := <-c.Ack.ch:
			return resp
		default:
		}
		c.Ack.force(emptyResponse())
		return <-c.Ack.ch

	case <-timer.C:
		logger.Warn("acknowledgment deadline exceeded, auto-acking",
			"timeout", p.ackTimeout.String())
		// Listeners keep running in the background; the auto-ack does not
		// roll back side effects they already performed.
		c.Ack.force(emptyResponse())
		return <-c.Ack.ch
	}
}

// runChain wraps the listener loop in the global middleware, innermost last
// registered, and executes it.
func (p *Pipeline) runChain(c *Context, handlers []Handler) {
	defer func() {
		if r := recover(); r != nil {
			c.Logger.Error("dispatch chain panicked", "panic", r)
		}
	}()

	next := Next(func(c *Context) error {
		p.runListeners(c, handlers)
		return nil
	})
	for i := len(p.registry.middleware) - 1; i >= 0; i-- {
		mw := p.registry.middleware[i]
		inner := next
		next = func(c *Context) error { return mw(c, inner) }
	}

	if err := next(c); err != nil {
		c.Logger.Warn("middleware short-circuited dispatch", "error", err)
	}
}

// runListeners invokes each matched listener in registration order, isolating
// failures so one listener cannot prevent the rest from running.
func (p *Pipeline) runListeners(c *Context, handlers []Handler) {
	for i, h := range handlers {
		if stop := p.runListener(c, i, h); stop {
			return
		}
	}
}

func (p *Pipeline) runListener(c *Context, i int, h Handler) (stop bool) {
	defer func() {
		if r := recover(); r != nil {
			c.Logger.Error("listener panicked", "listener", i, "panic", r)
		}
	}()

	if err := h(c); err != nil {
		if errors.Is(err, ErrStopPropagation) {
			c.Logger.Debug("listener stopped propagation", "listener", i)
			return true
		}
		c.Logger.Error("listener failed", "listener", i, "error", err)
	}
	return false
}
