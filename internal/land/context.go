package land

import (
	"context"

	"landkeeper/engine/internal/logging"
	"landkeeper/engine/internal/value"
)

// Event is a server-to-client message outside the state sync stream.
type Event struct {
	Type    string      `json:"type"`
	Payload value.Value `json:"payload"`
}

type targetKind uint8

const (
	targetEveryone targetKind = iota
	targetPlayer
	targetPlayers
	targetClient
	targetSession
)

// Target addresses an outbound event to a subset of the Land's sessions.
type Target struct {
	kind    targetKind
	player  string
	client  string
	session string
	players []string
}

// Everyone addresses all sessions in the Land.
func Everyone() Target { return Target{kind: targetEveryone} }

// ToPlayer addresses every session of one player.
func ToPlayer(playerID string) Target { return Target{kind: targetPlayer, player: playerID} }

// ToPlayers addresses every session of the listed players.
func ToPlayers(playerIDs ...string) Target {
	return Target{kind: targetPlayers, players: append([]string(nil), playerIDs...)}
}

// ToClient addresses every session of one client device.
func ToClient(clientID string) Target { return Target{kind: targetClient, client: clientID} }

// ToSession addresses exactly one session.
func ToSession(sessionID string) Target { return Target{kind: targetSession, session: sessionID} }

// Matches reports whether the session is addressed by the target.
func (t Target) Matches(session PlayerSession) bool {
	switch t.kind {
	case targetEveryone:
		return true
	case targetPlayer:
		return session.PlayerID == t.player
	case targetPlayers:
		for _, id := range t.players {
			if session.PlayerID == id {
				return true
			}
		}
		return false
	case targetClient:
		return session.ClientID == t.client
	case targetSession:
		return session.SessionID == t.session
	default:
		return false
	}
}

// Outbound is the delivery sink the runtime pushes frames into. The transport
// layer implements it; delivery must not block the caller for long.
type Outbound interface {
	// DeliverEvent fans an event out to the listed sessions.
	DeliverEvent(landID string, sessions []PlayerSession, event Event)
	// DeliverUpdate sends one player's sync update to the listed sessions.
	DeliverUpdate(landID string, playerID string, sessions []PlayerSession, update value.Update, tickID int64)
}

// Services is a read-only registry of shared dependencies handed to every
// Land at construction.
type Services struct {
	entries map[string]any
}

// NewServices builds a registry from the given entries.
func NewServices(entries map[string]any) *Services {
	copied := make(map[string]any, len(entries))
	for name, entry := range entries {
		copied[name] = entry
	}
	return &Services{entries: copied}
}

// Lookup returns the named service.
func (s *Services) Lookup(name string) (any, bool) {
	if s == nil {
		return nil, false
	}
	entry, ok := s.entries[name]
	return entry, ok
}

// Context is the per-invocation view handed to handlers. It is only valid
// for the duration of the invocation and must not be retained.
type Context struct {
	ctx    context.Context
	keeper *Keeper

	landID   string
	landType string
	session  PlayerSession

	tickID     int64
	playerSlot int

	logger   *logging.Logger
	services *Services
	resolved map[string]any
}

// Context returns the cancellation context of the invocation.
func (c *Context) Context() context.Context {
	if c == nil || c.ctx == nil {
		return context.Background()
	}
	return c.ctx
}

// LandID identifies the Land instance.
func (c *Context) LandID() string { return c.landID }

// LandType identifies the Land definition.
func (c *Context) LandType() string { return c.landType }

// Session identifies the invoking player session; zero for tick and
// lifecycle invocations without an originator.
func (c *Context) Session() PlayerSession { return c.session }

// PlayerID is shorthand for the invoking player's identifier.
func (c *Context) PlayerID() string { return c.session.PlayerID }

// TickID is the tick being executed for tick handlers, and the last committed
// tick for action and event handlers. It is -1 before the first tick commits.
func (c *Context) TickID() int64 { return c.tickID }

// PlayerSlot is the invoking player's stable slot index, -1 when absent.
func (c *Context) PlayerSlot() int { return c.playerSlot }

// Logger returns the invocation logger, already scoped to the Land.
func (c *Context) Logger() *logging.Logger {
	if c == nil || c.logger == nil {
		return logging.L()
	}
	return c.logger
}

// Service returns a shared dependency from the engine-wide registry.
func (c *Context) Service(name string) (any, bool) {
	if c == nil {
		return nil, false
	}
	return c.services.Lookup(name)
}

// Resolved returns the output of a named resolver for this invocation.
func (c *Context) Resolved(name string) (any, bool) {
	if c == nil {
		return nil, false
	}
	entry, ok := c.resolved[name]
	return entry, ok
}

// SendEvent queues an event for the targeted sessions. Delivery happens
// after the current invocation commits.
func (c *Context) SendEvent(target Target, event Event) {
	if c == nil || c.keeper == nil {
		return
	}
	c.keeper.queueEvent(target, event)
}

// SyncNow requests an immediate sync cycle after the current invocation
// commits, instead of waiting for the next tick boundary.
func (c *Context) SyncNow() {
	if c == nil || c.keeper == nil {
		return
	}
	c.keeper.requestSync()
}

// Spawn runs fn on its own goroutine, outside the serial boundary. The
// callback posted through After re-enters the boundary, which is the only
// safe way for spawned work to touch state.
func (c *Context) Spawn(fn func(ctx context.Context, after func(func(*Context)))) {
	if c == nil || c.keeper == nil || fn == nil {
		return
	}
	c.keeper.spawn(fn)
}
