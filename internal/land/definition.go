// Package land implements the room runtime: a serialized single-writer
// executor per Land that owns the state node, dispatches actions and client
// events, runs the tick loop, and drives differential sync through the
// statesync engine.
package land

import (
	"context"
	"errors"
	"fmt"
	"time"

	"landkeeper/engine/internal/schema"
	"landkeeper/engine/internal/value"
)

var (
	// ErrNoStateConstructor signals a definition without a state factory.
	ErrNoStateConstructor = errors.New("land definition has no state constructor")
	// ErrNoLandType signals a definition without a type identifier.
	ErrNoLandType = errors.New("land definition has no land type")
)

// PlayerSession identifies one connected client of one player. The same
// player may hold several concurrent sessions across devices.
type PlayerSession struct {
	PlayerID  string
	ClientID  string
	SessionID string
	Metadata  map[string]string
}

// JoinDecision is the outcome of an admission check.
type JoinDecision struct {
	Allowed bool
	Code    Code
	Message string
}

// Allow admits the player.
func Allow() JoinDecision { return JoinDecision{Allowed: true} }

// Deny rejects the player with a wire code and human-readable reason.
func Deny(code Code, message string) JoinDecision {
	if code == "" {
		code = CodeJoinDenied
	}
	return JoinDecision{Code: code, Message: message}
}

// CanJoinFunc decides admission before the player is attached to the Land.
// It runs on the Land's serial executor.
type CanJoinFunc func(ctx *Context, state *schema.Node, session PlayerSession) JoinDecision

// ActionFunc handles a request/response action. The returned value is
// serialized back to the calling client.
type ActionFunc func(ctx *Context, state *schema.Node, payload value.Value) (value.Value, error)

// EventFunc handles a fire-and-forget client event.
type EventFunc func(ctx *Context, state *schema.Node, payload value.Value) error

// TickFunc advances the simulation one tick.
type TickFunc func(ctx *Context, state *schema.Node)

// LifecycleFunc observes a Land lifecycle transition (create, shutdown,
// player join/leave). Errors are logged, never fatal.
type LifecycleFunc func(ctx *Context, state *schema.Node, session PlayerSession) error

// ResolverFunc loads a named dependency for a handler invocation. Resolvers
// run concurrently before the handler body enters the serial boundary.
type ResolverFunc func(ctx context.Context, session PlayerSession) (any, error)

// AccessControl bounds who may enter a Land.
type AccessControl struct {
	// AllowPublic permits joins without an explicit invitation check.
	AllowPublic bool
	// MaxPlayers caps distinct players; zero means unbounded.
	MaxPlayers int
}

// DestroyImmediately, as DestroyWhenEmptyAfter, tears a Land down the moment
// its last player leaves.
const DestroyImmediately time.Duration = -1

// Lifetime configures the Land's clockwork.
type Lifetime struct {
	// TickInterval is the fixed tick period; zero disables the tick loop.
	TickInterval time.Duration
	// DestroyWhenEmptyAfter tears the Land down once it has been empty this
	// long. Zero keeps the Land alive forever; DestroyImmediately destroys it
	// on the first empty.
	DestroyWhenEmptyAfter time.Duration
	// PersistInterval saves a full snapshot at this cadence; zero disables.
	PersistInterval time.Duration
}

// SyncOptions tunes the differential sync engine for this Land type.
type SyncOptions struct {
	// UseDirtyTracking restricts extraction and diffing to mutated fields.
	UseDirtyTracking bool
	// AtomicShapes overrides the default whole-value diff shapes.
	AtomicShapes *schema.AtomicShapes
}

// Definition is the immutable template a Land instance is built from.
type Definition struct {
	LandType string
	NewState func() (*schema.Node, error)

	Access   AccessControl
	Lifetime Lifetime
	Sync     SyncOptions

	CanJoin CanJoinFunc
	OnTick  TickFunc

	OnCreate   LifecycleFunc
	OnJoin     LifecycleFunc
	OnLeave    LifecycleFunc
	OnShutdown LifecycleFunc

	actions       map[string]ActionFunc
	events        map[string][]EventFunc
	allowedEvents map[string]struct{}
	resolvers     map[string]ResolverFunc
}

// NewDefinition starts a definition for the given Land type.
func NewDefinition(landType string, newState func() (*schema.Node, error)) *Definition {
	return &Definition{
		LandType:      landType,
		NewState:      newState,
		actions:       make(map[string]ActionFunc),
		events:        make(map[string][]EventFunc),
		allowedEvents: make(map[string]struct{}),
		resolvers:     make(map[string]ResolverFunc),
	}
}

// Validate reports whether the definition can instantiate a Land.
func (d *Definition) Validate() error {
	if d == nil || d.LandType == "" {
		return ErrNoLandType
	}
	if d.NewState == nil {
		return fmt.Errorf("%w: %q", ErrNoStateConstructor, d.LandType)
	}
	return nil
}

// Action registers the handler for a named action. Registering the same name
// twice keeps the later handler.
func (d *Definition) Action(name string, handler ActionFunc) *Definition {
	if handler != nil {
		d.actions[name] = handler
	}
	return d
}

// Event registers a handler for a named client event and allows the
// identifier. Multiple handlers per identifier all run, in order.
func (d *Definition) Event(name string, handler EventFunc) *Definition {
	if handler != nil {
		d.events[name] = append(d.events[name], handler)
		d.allowedEvents[name] = struct{}{}
	}
	return d
}

// AllowEvent allows an identifier without attaching a handler, so clients may
// relay it even when the server only observes it.
func (d *Definition) AllowEvent(name string) *Definition {
	d.allowedEvents[name] = struct{}{}
	return d
}

// Resolver registers a named dependency loader available to handlers.
func (d *Definition) Resolver(name string, resolver ResolverFunc) *Definition {
	if resolver != nil {
		d.resolvers[name] = resolver
	}
	return d
}

// ActionHandler looks up the handler for an action identifier.
func (d *Definition) ActionHandler(name string) (ActionFunc, bool) {
	if d == nil {
		return nil, false
	}
	handler, ok := d.actions[name]
	return handler, ok
}

// EventHandlers returns every handler bound to the identifier.
func (d *Definition) EventHandlers(name string) []EventFunc {
	if d == nil {
		return nil
	}
	return d.events[name]
}

// EventAllowed reports whether the client event identifier is accepted.
func (d *Definition) EventAllowed(name string) bool {
	if d == nil {
		return false
	}
	_, ok := d.allowedEvents[name]
	return ok
}

// Resolvers exposes the registered dependency loaders.
func (d *Definition) Resolvers() map[string]ResolverFunc {
	if d == nil {
		return nil
	}
	return d.resolvers
}
