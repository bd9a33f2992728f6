package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"landkeeper/engine/internal/land"
	"landkeeper/engine/internal/logging"
)

// client is one WebSocket connection with its outbound queue and the set of
// Land sessions it opened.
type client struct {
	gateway *Gateway
	conn    *websocket.Conn
	send    chan []byte
	id      string
	logger  *logging.Logger

	mu       sync.Mutex
	sessions map[string]clientSession
	closed   bool
}

type clientSession struct {
	landID  string
	session land.PlayerSession
}

func newClient(g *Gateway, conn *websocket.Conn) *client {
	id := uuid.NewString()
	return &client{
		gateway:  g,
		conn:     conn,
		send:     make(chan []byte, 256),
		id:       id,
		logger:   g.logger.With(logging.String("client_id", id)),
		sessions: make(map[string]clientSession),
	}
}

// enqueue pushes a frame to the writer, dropping the connection when the
// queue is full so one slow client cannot stall a Land.
func (c *client) enqueue(frame []byte) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	select {
	case c.send <- frame:
		c.mu.Unlock()
	default:
		c.closed = true
		close(c.send)
		c.mu.Unlock()
		c.logger.Warn("outbound queue full, dropping client")
	}
}

func (c *client) closeSend() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
	c.mu.Unlock()
}

func (c *client) trackSession(sessionID, landID string, session land.PlayerSession) {
	c.mu.Lock()
	c.sessions[sessionID] = clientSession{landID: landID, session: session}
	c.mu.Unlock()
}

func (c *client) dropSessionsFor(landID string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var dropped []string
	for sessionID, entry := range c.sessions {
		if entry.landID == landID {
			delete(c.sessions, sessionID)
			dropped = append(dropped, sessionID)
		}
	}
	return dropped
}

func (c *client) allSessions() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]string, len(c.sessions))
	for sessionID, entry := range c.sessions {
		out[sessionID] = entry.landID
	}
	return out
}

// readLoop decodes frames and routes them until the connection dies.
func (c *client) readLoop(ctx context.Context) {
	defer func() {
		c.gateway.detach(c)
		c.closeSend()
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(c.gateway.maxPayloadBytes)
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("connection read failed", logging.Error(err))
			}
			return
		}
		c.handle(ctx, raw)
	}
}

// writeLoop drains the outbound queue and keeps the connection alive.
func (c *client) writeLoop(pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case frame, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteMessage(websocket.PingMessage, []byte{}); err != nil {
				return
			}
		}
	}
}

// handle routes one decoded frame.
func (c *client) handle(ctx context.Context, raw []byte) {
	envelope, decodeErr := decodeInbound(raw)
	if decodeErr != nil {
		c.enqueue(encodeError("", decodeErr))
		return
	}
	switch envelope.Type {
	case msgJoin:
		c.handleJoin(ctx, envelope)
	case msgLeave:
		c.handleLeave(ctx, envelope)
	case msgAction:
		c.handleAction(ctx, envelope)
	case msgEvent:
		c.handleEvent(ctx, envelope)
	}
}

func (c *client) handleJoin(ctx context.Context, envelope *inboundEnvelope) {
	if authErr := c.gateway.authoriseJoin(envelope.PlayerID, envelope.Token); authErr != nil {
		c.enqueue(encodeError(envelope.RequestID, authErr))
		return
	}
	session := land.PlayerSession{
		PlayerID:  envelope.PlayerID,
		ClientID:  c.id,
		SessionID: uuid.NewString(),
		Metadata:  envelope.Metadata,
	}
	reply, err := c.gateway.manager.Join(ctx, envelope.LandType, envelope.LandID, session)
	if err != nil {
		c.enqueue(encodeError(envelope.RequestID, err))
		return
	}
	c.trackSession(reply.SessionID, envelope.LandID, session)
	c.gateway.bindSession(reply.SessionID, c)
	c.sendJSON(joinedPayload{
		Type:       msgJoined,
		RequestID:  envelope.RequestID,
		LandID:     envelope.LandID,
		SessionID:  reply.SessionID,
		PlayerSlot: reply.PlayerSlot,
		TickID:     reply.TickID,
		Snapshot:   reply.Snapshot,
	})
}

func (c *client) handleLeave(ctx context.Context, envelope *inboundEnvelope) {
	for _, sessionID := range c.dropSessionsFor(envelope.LandID) {
		c.gateway.unbindSession(sessionID)
		if err := c.gateway.manager.Leave(ctx, envelope.LandID, sessionID); err != nil {
			c.logger.Warn("leave failed", logging.Error(err))
		}
	}
	c.sendJSON(leftPayload{Type: msgLeft, RequestID: envelope.RequestID, LandID: envelope.LandID})
}

func (c *client) handleAction(ctx context.Context, envelope *inboundEnvelope) {
	session, ok := c.sessionFor(envelope.LandID)
	if !ok {
		c.enqueue(encodeError(envelope.RequestID,
			land.NewError(land.CodeJoinRoomNotFound, "not joined to this land")))
		return
	}
	payload, payloadErr := payloadValue(envelope.Payload)
	if payloadErr != nil {
		c.enqueue(encodeError(envelope.RequestID,
			land.WrapError(land.CodeActionInvalidPayload, "action payload is invalid", payloadErr)))
		return
	}
	result, err := c.gateway.manager.DispatchAction(ctx, envelope.LandID, session, envelope.Name, payload)
	if err != nil {
		c.enqueue(encodeError(envelope.RequestID, err))
		return
	}
	c.sendJSON(actionResultPayload{
		Type:      msgActionResult,
		RequestID: envelope.RequestID,
		LandID:    envelope.LandID,
		Result:    result,
	})
}

func (c *client) handleEvent(ctx context.Context, envelope *inboundEnvelope) {
	session, ok := c.sessionFor(envelope.LandID)
	if !ok {
		return
	}
	payload, payloadErr := payloadValue(envelope.Payload)
	if payloadErr != nil {
		//1.- Fire-and-forget: malformed payloads are logged, never answered.
		c.logger.Debug("dropping event with invalid payload",
			logging.String("event", envelope.Name))
		return
	}
	if err := c.gateway.manager.DispatchEvent(ctx, envelope.LandID, session, envelope.Name, payload); err != nil {
		c.logger.Warn("event dispatch failed", logging.Error(err))
	}
}

func (c *client) sessionFor(landID string) (land.PlayerSession, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, entry := range c.sessions {
		if entry.landID == landID {
			return entry.session, true
		}
	}
	return land.PlayerSession{}, false
}

func (c *client) sendJSON(payload any) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		c.logger.Error("marshal outbound frame failed", logging.Error(err))
		return
	}
	c.enqueue(encoded)
}
