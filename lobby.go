package main

import (
	"fmt"
	"sync"
	"time"

	"landkeeper/engine/internal/config"
	"landkeeper/engine/internal/land"
	"landkeeper/engine/internal/schema"
	"landkeeper/engine/internal/value"
)

// lobbyState is the reference Land shipped with the engine binary. It
// exercises every sync policy family: a broadcast roster and tick counter,
// a server-only audit trail, per-player mailboxes, and a masked motd that
// hides its author.
type lobbyState struct {
	ticks   *schema.Field[int64]
	motd    *schema.Field[map[string]string]
	roster  *schema.TrackedSet[string]
	mailbox *schema.TrackedMap[string, []string]
	audit   *schema.Field[[]string]
}

func newLobbyState() (*schema.Node, *lobbyState) {
	node := schema.NewNode()
	state := &lobbyState{
		ticks: schema.Register(node, "ticks", schema.Broadcast(), int64(0)),
		motd: schema.Register(node, "motd", schema.Masked(func(raw any) any {
			//1.- Clients see the message, never who set it.
			motd, ok := raw.(map[string]string)
			if !ok {
				return raw
			}
			return map[string]string{"text": motd["text"]}
		}), map[string]string{"text": "welcome", "author": ""}),
		roster:  schema.RegisterSet[string](node, "roster", schema.Broadcast()),
		mailbox: schema.RegisterMap[string, []string](node, "mailbox", schema.PerPlayerSlice()),
		audit:   schema.Register(node, "audit", schema.ServerOnly(), []string(nil)),
	}
	return node, state
}

// lobbyDefinition wires the reference Land into the engine.
func lobbyDefinition(cfg *config.Config) *land.Definition {
	//1.- One lobbyState per Land instance, keyed by its node. Guarded because
	// each Land runs on its own executor goroutine.
	var mu sync.RWMutex
	states := make(map[*schema.Node]*lobbyState)
	stateFor := func(node *schema.Node) *lobbyState {
		mu.RLock()
		defer mu.RUnlock()
		return states[node]
	}

	def := land.NewDefinition("lobby", func() (*schema.Node, error) {
		node, state := newLobbyState()
		mu.Lock()
		states[node] = state
		mu.Unlock()
		return node, nil
	})

	def.Access = land.AccessControl{AllowPublic: true, MaxPlayers: 64}
	def.Lifetime = land.Lifetime{
		TickInterval:          time.Second,
		DestroyWhenEmptyAfter: 5 * time.Minute,
		PersistInterval:       cfg.SnapshotInterval,
	}
	def.Sync = land.SyncOptions{UseDirtyTracking: true}

	def.OnTick = func(ctx *land.Context, node *schema.Node) {
		state := stateFor(node)
		if state == nil {
			return
		}
		state.ticks.Update(func(v int64) int64 { return v + 1 })
	}
	def.OnJoin = func(ctx *land.Context, node *schema.Node, session land.PlayerSession) error {
		state := stateFor(node)
		if state == nil {
			return nil
		}
		state.roster.Add(session.PlayerID)
		state.audit.Update(func(entries []string) []string {
			return append(entries, fmt.Sprintf("join %s", session.PlayerID))
		})
		return nil
	}
	def.OnLeave = func(ctx *land.Context, node *schema.Node, session land.PlayerSession) error {
		state := stateFor(node)
		if state == nil {
			return nil
		}
		state.roster.Remove(session.PlayerID)
		state.mailbox.Delete(session.PlayerID)
		state.audit.Update(func(entries []string) []string {
			return append(entries, fmt.Sprintf("leave %s", session.PlayerID))
		})
		return nil
	}
	def.OnShutdown = func(ctx *land.Context, node *schema.Node, _ land.PlayerSession) error {
		mu.Lock()
		delete(states, node)
		mu.Unlock()
		return nil
	}

	def.Action("setMotd", func(ctx *land.Context, node *schema.Node, payload value.Value) (value.Value, error) {
		state := stateFor(node)
		if state == nil {
			return value.Null(), land.NewError(land.CodeActionHandlerError, "state unavailable")
		}
		text, ok := payload.Field("text")
		if !ok {
			return value.Null(), land.NewError(land.CodeActionInvalidPayload, "text is required")
		}
		raw, ok := text.StringValue()
		if !ok {
			return value.Null(), land.NewError(land.CodeActionInvalidPayload, "text must be a string")
		}
		state.motd.Set(map[string]string{"text": raw, "author": ctx.PlayerID()})
		return value.Object(map[string]value.Value{"ok": value.Bool(true)}), nil
	})

	def.Action("sendMail", func(ctx *land.Context, node *schema.Node, payload value.Value) (value.Value, error) {
		state := stateFor(node)
		if state == nil {
			return value.Null(), land.NewError(land.CodeActionHandlerError, "state unavailable")
		}
		to, _ := payload.Field("to")
		recipient, ok := to.StringValue()
		if !ok || recipient == "" {
			return value.Null(), land.NewError(land.CodeActionInvalidPayload, "to must be a player id")
		}
		body, _ := payload.Field("body")
		text, _ := body.StringValue()

		existing, _ := state.mailbox.Get(recipient)
		state.mailbox.Put(recipient, append(existing, text))
		ctx.SendEvent(land.ToPlayer(recipient), land.Event{
			Type:    "mail",
			Payload: value.Object(map[string]value.Value{"from": value.String(ctx.PlayerID())}),
		})
		return value.Object(map[string]value.Value{"ok": value.Bool(true)}), nil
	})

	def.Event("ping", func(ctx *land.Context, node *schema.Node, payload value.Value) error {
		ctx.SendEvent(land.ToSession(ctx.Session().SessionID), land.Event{
			Type:    "pong",
			Payload: payload,
		})
		return nil
	})

	return def
}
