package dispatch

import (
	"errors"
	"path"

	"github.com/mattjoyce/bellhop/internal/envelope"
)

// Handler processes one matched event. Returning ErrStopPropagation halts the
// remaining listeners in the chain; any other error is logged and the chain
// continues.
type Handler func(c *Context) error

// Next invokes the rest of the middleware chain.
type Next func(c *Context) error

// Middleware wraps every dispatch. Not calling next short-circuits the chain.
type Middleware func(c *Context, next Next) error

// ErrStopPropagation signals that listeners registered after the current one
// must not run for this event.
var ErrStopPropagation = errors.New("stop propagation")

// Matcher decides whether a listener wants an event.
type Matcher func(ev *envelope.Event) bool

// Exact matches events whose match key equals key.
func Exact(key string) Matcher {
	return func(ev *envelope.Event) bool { return ev.MatchKey() == key }
}

// Glob matches the event's match key against a path.Match pattern, so
// "approve_*" matches every action id with that prefix.
func Glob(pattern string) Matcher {
	return func(ev *envelope.Event) bool {
		ok, err := path.Match(pattern, ev.MatchKey())
		return err == nil && ok
	}
}

// Predicate adapts an arbitrary payload predicate into a Matcher.
func Predicate(fn func(ev *envelope.Event) bool) Matcher {
	return Matcher(fn)
}

type route struct {
	match   Matcher
	handler Handler
}

// Builder accumulates middleware and listeners before the registry is frozen.
// Not safe for concurrent use; registration happens during startup wiring.
type Builder struct {
	middleware []Middleware
	routes     map[envelope.Kind][]route
}

// NewBuilder creates an empty registry builder.
func NewBuilder() *Builder {
	return &Builder{routes: make(map[envelope.Kind][]route)}
}

// Use appends a global middleware. Middleware run in registration order
// before any listener.
func (b *Builder) Use(mw Middleware) *Builder {
	b.middleware = append(b.middleware, mw)
	return b
}

// On registers a listener for a kind with an explicit matcher.
func (b *Builder) On(kind envelope.Kind, m Matcher, h Handler) *Builder {
	b.routes[kind] = append(b.routes[kind], route{match: m, handler: h})
	return b
}

// OnMessage registers a listener for every channel message.
func (b *Builder) OnMessage(h Handler) *Builder {
	return b.On(envelope.KindMessage, Predicate(func(*envelope.Event) bool { return true }), h)
}

// OnAppMention registers a listener for app_mention events.
func (b *Builder) OnAppMention(h Handler) *Builder {
	return b.On(envelope.KindAppMention, Predicate(func(*envelope.Event) bool { return true }), h)
}

// OnCommand registers a listener for a slash command. The pattern may be an
// exact name ("/deploy") or a glob ("/dm-*").
func (b *Builder) OnCommand(pattern string, h Handler) *Builder {
	return b.On(envelope.KindSlashCommand, Glob(pattern), h)
}

// OnAction registers a listener for a block action id (exact or glob).
func (b *Builder) OnAction(pattern string, h Handler) *Builder {
	return b.On(envelope.KindBlockAction, Glob(pattern), h)
}

// OnShortcut registers a listener for a shortcut callback id (exact or glob).
func (b *Builder) OnShortcut(pattern string, h Handler) *Builder {
	return b.On(envelope.KindShortcut, Glob(pattern), h)
}

// Build freezes the registry. The builder must not be used afterwards.
func (b *Builder) Build() *Registry {
	reg := &Registry{
		middleware: append([]Middleware(nil), b.middleware...),
		routes:     make(map[envelope.Kind][]route, len(b.routes)),
	}
	for kind, rs := range b.routes {
		reg.routes[kind] = append([]route(nil), rs...)
	}
	return reg
}

// Registry is the immutable listener table consulted by the pipeline. Safe
// for concurrent readers.
type Registry struct {
	middleware []Middleware
	routes     map[envelope.Kind][]route
}

// handlersFor returns the matching handlers for an event in registration
// order.
func (r *Registry) handlersFor(ev *envelope.Event) []Handler {
	var out []Handler
	for _, rt := range r.routes[ev.Kind] {
		if rt.match(ev) {
			out = append(out, rt.handler)
		}
	}
	return out
}
