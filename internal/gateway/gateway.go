// Package gateway terminates client WebSocket connections and translates
// between the JSON wire protocol and the Land runtime. It also implements
// the runtime's outbound delivery sink, pushing sync updates and server
// events back over the same connections.
package gateway

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"landkeeper/engine/internal/auth"
	"landkeeper/engine/internal/config"
	"landkeeper/engine/internal/land"
	"landkeeper/engine/internal/logging"
	"landkeeper/engine/internal/value"
)

// Router is the slice of the manager surface the gateway routes into.
type Router interface {
	Join(ctx context.Context, landType, landID string, session land.PlayerSession) (land.JoinReply, error)
	Leave(ctx context.Context, landID, sessionID string) error
	DispatchAction(ctx context.Context, landID string, session land.PlayerSession, name string, payload value.Value) (value.Value, error)
	DispatchEvent(ctx context.Context, landID string, session land.PlayerSession, name string, payload value.Value) error
}

// Gateway is the WebSocket front door.
type Gateway struct {
	manager Router
	logger  *logging.Logger

	upgrader        websocket.Upgrader
	verifier        *auth.HMACTokenVerifier
	pingInterval    time.Duration
	maxPayloadBytes int64
	maxClients      int

	mu       sync.Mutex
	clients  map[*client]struct{}
	sessions map[string]*client
}

// New wires a gateway to the Land router using the process configuration.
func New(cfg *config.Config, router Router, logger *logging.Logger) *Gateway {
	if logger == nil {
		logger = logging.L()
	}
	g := &Gateway{
		manager:         router,
		logger:          logger.With(logging.String("component", "gateway")),
		pingInterval:    cfg.PingInterval,
		maxPayloadBytes: cfg.MaxPayloadBytes,
		maxClients:      cfg.MaxClients,
		clients:         make(map[*client]struct{}),
		sessions:        make(map[string]*client),
	}
	g.upgrader = websocket.Upgrader{
		CheckOrigin: originChecker(cfg.AllowedOrigins),
	}
	//1.- Join tokens are only enforced when a shared secret is configured.
	if cfg.AuthSecret != "" {
		verifier, err := auth.NewHMACTokenVerifier(cfg.AuthSecret, cfg.AuthLeeway)
		if err != nil {
			g.logger.Error("join token verification disabled", logging.Error(err))
		} else {
			g.verifier = verifier
		}
	}
	return g
}

// authoriseJoin checks the join token against the player identity when token
// verification is enabled.
func (g *Gateway) authoriseJoin(playerID, token string) *land.Error {
	if g.verifier == nil {
		return nil
	}
	claims, err := g.verifier.Verify(token)
	if err != nil {
		return land.WrapError(land.CodeJoinDenied, "join token rejected", err)
	}
	if claims.Subject != playerID {
		return land.NewError(land.CodeJoinDenied, "join token was minted for another player").
			WithDetail("subject", claims.Subject)
	}
	return nil
}

// originChecker admits every origin when none are configured, and exact
// matches otherwise.
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	index := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		index[strings.ToLower(origin)] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := strings.ToLower(strings.TrimSpace(r.Header.Get("Origin")))
		if origin == "" {
			return true
		}
		_, ok := index[origin]
		return ok
	}
}

// ServeWS upgrades one connection and runs its read/write loops.
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	if g.maxClients > 0 && len(g.clients) >= g.maxClients {
		g.mu.Unlock()
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}
	g.mu.Unlock()

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", logging.Error(err))
		return
	}
	c := newClient(g, conn)
	g.mu.Lock()
	g.clients[c] = struct{}{}
	g.mu.Unlock()
	g.logger.Info("client connected", logging.String("client_id", c.id))

	go c.writeLoop(g.pingInterval)
	go c.readLoop(r.Context())
}

// bindSession routes a Land session's outbound traffic to a connection.
func (g *Gateway) bindSession(sessionID string, c *client) {
	g.mu.Lock()
	g.sessions[sessionID] = c
	g.mu.Unlock()
}

func (g *Gateway) unbindSession(sessionID string) {
	g.mu.Lock()
	delete(g.sessions, sessionID)
	g.mu.Unlock()
}

// detach removes a dead connection and leaves every Land it had joined.
func (g *Gateway) detach(c *client) {
	g.mu.Lock()
	delete(g.clients, c)
	g.mu.Unlock()

	//1.- Disconnect implies leave for every open session.
	for sessionID, landID := range c.allSessions() {
		g.unbindSession(sessionID)
		if err := g.manager.Leave(context.Background(), landID, sessionID); err != nil {
			g.logger.Warn("leave on disconnect failed",
				logging.String("land_id", landID), logging.Error(err))
		}
	}
	g.logger.Info("client disconnected", logging.String("client_id", c.id))
}

func (g *Gateway) clientFor(sessionID string) (*client, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.sessions[sessionID]
	return c, ok
}

// DeliverEvent implements land.Outbound.
func (g *Gateway) DeliverEvent(landID string, sessions []land.PlayerSession, event land.Event) {
	payload := serverEventPayload{Type: msgServerEvent, LandID: landID, Event: event}
	for _, session := range sessions {
		if c, ok := g.clientFor(session.SessionID); ok {
			c.sendJSON(payload)
		}
	}
}

// DeliverUpdate implements land.Outbound.
func (g *Gateway) DeliverUpdate(landID, playerID string, sessions []land.PlayerSession, update value.Update, tickID int64) {
	payload := updatePayload{Type: msgUpdate, LandID: landID, TickID: tickID, Update: update}
	for _, session := range sessions {
		if c, ok := g.clientFor(session.SessionID); ok {
			c.sendJSON(payload)
		}
	}
}

// Handler mounts the gateway endpoints.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", g.ServeWS)
	return mux
}

// ClientCount reports the number of live connections.
func (g *Gateway) ClientCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.clients)
}
