package land

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"landkeeper/engine/internal/logging"
	"landkeeper/engine/internal/schema"
	"landkeeper/engine/internal/statesync"
	"landkeeper/engine/internal/value"
)

// Persister stores full state snapshots outside the process.
type Persister interface {
	SaveSnapshot(ctx context.Context, landType, landID string, tickID int64, snapshot value.Snapshot) error
}

// Recorder journals the broadcast history for later replay: committed patch
// frames, plus base snapshots that anchor rebuilds.
type Recorder interface {
	RecordFrame(landID string, tickID int64, patches []value.Patch)
	RecordSnapshot(landID string, tickID int64, snapshot value.Snapshot)
}

// JoinReply is handed back to the transport after a successful join.
type JoinReply struct {
	SessionID  string
	PlayerSlot int
	TickID     int64
	Snapshot   value.Snapshot
}

type playerRecord struct {
	slot     int
	sessions map[string]PlayerSession
}

type queuedEvent struct {
	target Target
	event  Event
}

// Option customises a Keeper at construction.
type Option func(*Keeper)

// WithOutbound installs the delivery sink.
func WithOutbound(outbound Outbound) Option {
	return func(k *Keeper) { k.outbound = outbound }
}

// WithServices installs the shared dependency registry.
func WithServices(services *Services) Option {
	return func(k *Keeper) { k.services = services }
}

// WithLogger installs the base logger.
func WithLogger(logger *logging.Logger) Option {
	return func(k *Keeper) { k.baseLogger = logger }
}

// WithPersister installs the snapshot store.
func WithPersister(persister Persister) Option {
	return func(k *Keeper) { k.persister = persister }
}

// WithRecorder installs the frame journal.
func WithRecorder(recorder Recorder) Option {
	return func(k *Keeper) { k.recorder = recorder }
}

// WithClock injects the time source; tests use a fake.
func WithClock(clock func() time.Time) Option {
	return func(k *Keeper) { k.clock = clock }
}

// WithOnDestroyed installs the teardown callback the manager uses to evict
// the Land from its registry.
func WithOnDestroyed(fn func(landID string)) Option {
	return func(k *Keeper) { k.onDestroyed = fn }
}

// Keeper owns one Land instance: its state node, its player roster, and its
// serial executor. All state access funnels through the mailbox goroutine.
type Keeper struct {
	id  string
	def *Definition

	state  *schema.Node
	engine *statesync.Engine

	baseLogger  *logging.Logger
	logger      *logging.Logger
	services    *Services
	outbound    Outbound
	persister   Persister
	recorder    Recorder
	clock       func() time.Time
	onDestroyed func(landID string)

	mailbox chan func()
	done    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc

	tickPending atomic.Bool
	stats       *TickStats

	closeOnce sync.Once

	// Everything below is owned by the mailbox goroutine.
	players             map[string]*playerRecord
	sessionOwner        map[string]string
	lastCommittedTickID int64
	pendingEvents       []queuedEvent
	syncRequested       bool
	destroyTimer        *time.Timer
	nextPersist         time.Time
	destroyed           bool
}

// NewKeeper instantiates a Land from its definition and starts the executor.
func NewKeeper(landID string, def *Definition, opts ...Option) (*Keeper, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	state, err := def.NewState()
	if err != nil {
		return nil, fmt.Errorf("land %q: build state: %w", landID, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	k := &Keeper{
		id:                  landID,
		def:                 def,
		state:               state,
		engine:              statesync.NewEngine(def.Sync.AtomicShapes),
		clock:               time.Now,
		mailbox:             make(chan func(), 256),
		done:                make(chan struct{}),
		ctx:                 ctx,
		cancel:              cancel,
		stats:               NewTickStats(),
		players:             make(map[string]*playerRecord),
		sessionOwner:        make(map[string]string),
		lastCommittedTickID: -1,
	}
	for _, opt := range opts {
		opt(k)
	}
	if k.baseLogger == nil {
		k.baseLogger = logging.L()
	}
	k.logger = k.baseLogger.With(
		logging.String("land_id", landID),
		logging.String("land_type", def.LandType),
	)

	//1.- Warm the broadcast cache before anyone can observe the Land, so the
	// first joiner is not flooded with setup patches.
	if err := k.engine.WarmupBroadcast(k.state); err != nil {
		cancel()
		return nil, fmt.Errorf("land %q: warmup: %w", landID, err)
	}
	//2.- Anchor the journal with the initial broadcast view, so rebuilds never
	// apply the first diff frames onto an empty document.
	k.journalSnapshotLocked()
	if def.Lifetime.PersistInterval > 0 {
		k.nextPersist = k.clock().Add(def.Lifetime.PersistInterval)
	}

	go k.run()

	//3.- Lifecycle callbacks run on the executor like everything else.
	if def.OnCreate != nil {
		k.post(func() {
			if err := def.OnCreate(k.newContext(k.ctx, PlayerSession{}, k.lastCommittedTickID), k.state, PlayerSession{}); err != nil {
				k.logger.Error("land create hook failed", logging.Error(err))
			}
		})
	}
	if def.Lifetime.TickInterval > 0 {
		go k.tickLoop()
	}
	//4.- A freshly created Land is empty; arm the teardown timer so abandoned
	// creations do not leak. Immediate-destroy configs only apply after the
	// first join, otherwise the Land would die before anyone could enter.
	if def.Lifetime.DestroyWhenEmptyAfter > 0 {
		_ = k.post(func() { k.scheduleDestroyLocked() })
	}
	return k, nil
}

// ID returns the Land instance identifier.
func (k *Keeper) ID() string { return k.id }

// Type returns the Land definition identifier.
func (k *Keeper) Type() string { return k.def.LandType }

// Done closes when the Land has fully shut down.
func (k *Keeper) Done() <-chan struct{} { return k.done }

// Stats exposes the tick timing collector.
func (k *Keeper) Stats() *TickStats { return k.stats }

func (k *Keeper) run() {
	defer k.closeDone()
	for {
		select {
		case fn := <-k.mailbox:
			fn()
			k.commitLocked()
			if k.destroyed {
				return
			}
		case <-k.ctx.Done():
			return
		}
	}
}

func (k *Keeper) closeDone() {
	k.closeOnce.Do(func() { close(k.done) })
}

// post schedules fn on the executor, dropping it if the Land is stopping.
func (k *Keeper) post(fn func()) error {
	select {
	case <-k.ctx.Done():
		return ErrKeeperStopped
	case k.mailbox <- fn:
		return nil
	}
}

// invoke runs fn on the executor and waits for completion.
func (k *Keeper) invoke(ctx context.Context, fn func() error) error {
	result := make(chan error, 1)
	if err := k.post(func() { result <- fn() }); err != nil {
		return err
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-k.done:
		return ErrKeeperStopped
	}
}

// Join admits a session per the definition's access rules and returns the
// player's full initial view.
func (k *Keeper) Join(ctx context.Context, session PlayerSession) (JoinReply, error) {
	if session.PlayerID == "" {
		return JoinReply{}, NewError(CodeMissingRequiredField, "playerId is required")
	}
	if session.SessionID == "" {
		return JoinReply{}, NewError(CodeMissingRequiredField, "sessionId is required")
	}
	var reply JoinReply
	err := k.invoke(ctx, func() error {
		record, known := k.players[session.PlayerID]

		//1.- Capacity counts distinct players, not sessions.
		if !known && k.def.Access.MaxPlayers > 0 && len(k.players) >= k.def.Access.MaxPlayers {
			return NewError(CodeJoinRoomFull, "land is at player capacity").
				WithDetail("maxPlayers", k.def.Access.MaxPlayers)
		}
		if k.def.CanJoin != nil {
			decision := k.def.CanJoin(k.newContext(ctx, session, k.lastCommittedTickID), k.state, session)
			if !decision.Allowed {
				code := decision.Code
				if code == "" {
					code = CodeJoinDenied
				}
				return NewError(code, decision.Message)
			}
		}

		//2.- Register the session before extraction so join-side mutations in
		// the hook are visible to the snapshot.
		if !known {
			record = &playerRecord{slot: k.freeSlotLocked(), sessions: make(map[string]PlayerSession)}
			k.players[session.PlayerID] = record
		}
		record.sessions[session.SessionID] = session
		k.sessionOwner[session.SessionID] = session.PlayerID
		k.cancelDestroyLocked()

		if k.def.OnJoin != nil {
			if err := k.def.OnJoin(k.newContext(ctx, session, k.lastCommittedTickID), k.state, session); err != nil {
				k.logger.Error("land join hook failed",
					logging.String("player_id", session.PlayerID), logging.Error(err))
			}
		}

		//3.- Extract the full view and prime the diff caches in one step, so
		// a mutation between join reply and first sync cycle still diffs
		// against exactly what the client received.
		full, err := k.engine.JoinSnapshot(session.PlayerID, k.state)
		if err != nil {
			//4.- A failed join must leave no trace: detach the session, drop a
			// freshly created player record, and re-arm the teardown timer
			// when the Land is empty again.
			delete(record.sessions, session.SessionID)
			delete(k.sessionOwner, session.SessionID)
			if len(record.sessions) == 0 {
				delete(k.players, session.PlayerID)
				k.engine.ClearCacheForDisconnectedPlayer(session.PlayerID)
			}
			if len(k.players) == 0 {
				k.scheduleDestroyLocked()
			}
			return WrapError(CodeJoinFailed, "join snapshot extraction failed", err)
		}
		k.engine.MarkFirstSyncReceived(session.PlayerID)

		reply = JoinReply{
			SessionID:  session.SessionID,
			PlayerSlot: record.slot,
			TickID:     k.lastCommittedTickID,
			Snapshot:   full,
		}
		return nil
	})
	return reply, err
}

// Leave detaches a session. When the player's last session leaves, the
// player is removed and their diff cache dropped.
func (k *Keeper) Leave(ctx context.Context, sessionID string) error {
	return k.invoke(ctx, func() error {
		playerID, ok := k.sessionOwner[sessionID]
		if !ok {
			return nil
		}
		delete(k.sessionOwner, sessionID)
		record := k.players[playerID]
		if record == nil {
			return nil
		}
		session := record.sessions[sessionID]
		delete(record.sessions, sessionID)
		if len(record.sessions) > 0 {
			return nil
		}

		//1.- Last session gone: retire the player entirely.
		delete(k.players, playerID)
		k.engine.ClearCacheForDisconnectedPlayer(playerID)
		if k.def.OnLeave != nil {
			if err := k.def.OnLeave(k.newContext(ctx, session, k.lastCommittedTickID), k.state, session); err != nil {
				k.logger.Error("land leave hook failed",
					logging.String("player_id", playerID), logging.Error(err))
			}
		}
		if len(k.players) == 0 {
			k.scheduleDestroyLocked()
		}
		return nil
	})
}

// PlayerCount reports the number of distinct players currently attached.
func (k *Keeper) PlayerCount() int {
	count := 0
	_ = k.invoke(context.Background(), func() error {
		count = len(k.players)
		return nil
	})
	return count
}

// Inspect runs fn on the executor with exclusive state access.
func (k *Keeper) Inspect(ctx context.Context, fn func(state *schema.Node)) error {
	return k.invoke(ctx, func() error {
		fn(k.state)
		return nil
	})
}

// Shutdown tears the Land down: shutdown hook, final persist, executor stop.
func (k *Keeper) Shutdown(ctx context.Context) error {
	err := k.invoke(ctx, func() error {
		k.destroyLocked()
		return nil
	})
	if err == ErrKeeperStopped {
		return nil
	}
	select {
	case <-k.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}

func (k *Keeper) freeSlotLocked() int {
	used := make(map[int]struct{}, len(k.players))
	for _, record := range k.players {
		used[record.slot] = struct{}{}
	}
	for slot := 0; ; slot++ {
		if _, taken := used[slot]; !taken {
			return slot
		}
	}
}

func (k *Keeper) slotOf(playerID string) int {
	if record, ok := k.players[playerID]; ok {
		return record.slot
	}
	return -1
}

func (k *Keeper) cancelDestroyLocked() {
	if k.destroyTimer != nil {
		k.destroyTimer.Stop()
		k.destroyTimer = nil
	}
}

// scheduleDestroyLocked arms the empty-land teardown per the definition.
func (k *Keeper) scheduleDestroyLocked() {
	delay := k.def.Lifetime.DestroyWhenEmptyAfter
	if delay == 0 || k.destroyed {
		return
	}
	if delay < 0 {
		k.destroyLocked()
		return
	}
	k.cancelDestroyLocked()
	k.destroyTimer = time.AfterFunc(delay, func() {
		_ = k.post(func() {
			//1.- A join may have raced the timer; only destroy when still empty.
			if len(k.players) == 0 {
				k.destroyLocked()
			}
		})
	})
}

func (k *Keeper) destroyLocked() {
	if k.destroyed {
		return
	}
	k.destroyed = true
	k.cancelDestroyLocked()

	if k.def.OnShutdown != nil {
		if err := k.def.OnShutdown(k.newContext(k.ctx, PlayerSession{}, k.lastCommittedTickID), k.state, PlayerSession{}); err != nil {
			k.logger.Error("land shutdown hook failed", logging.Error(err))
		}
	}
	k.persistLocked(true)
	k.cancel()
	if k.onDestroyed != nil {
		go k.onDestroyed(k.id)
	}
	k.logger.Info("land destroyed", logging.Int64("last_tick", k.lastCommittedTickID))
}

// queueEvent is called from Context.SendEvent on the executor goroutine.
func (k *Keeper) queueEvent(target Target, event Event) {
	k.pendingEvents = append(k.pendingEvents, queuedEvent{target: target, event: event})
}

// requestSync is called from Context.SyncNow on the executor goroutine.
func (k *Keeper) requestSync() {
	k.syncRequested = true
}

// spawn launches fn off the executor; its after callback re-enters it.
func (k *Keeper) spawn(fn func(ctx context.Context, after func(func(*Context)))) {
	go fn(k.ctx, func(callback func(*Context)) {
		if callback == nil {
			return
		}
		_ = k.post(func() {
			callback(k.newContext(k.ctx, PlayerSession{}, k.lastCommittedTickID))
		})
	})
}

// commitLocked runs after every executor step: flush queued events, then run
// a sync cycle when one was requested or, on tickless Lands, when dirty.
func (k *Keeper) commitLocked() {
	if k.destroyed {
		return
	}
	k.flushEventsLocked()
	if k.syncRequested || (k.def.Lifetime.TickInterval <= 0 && k.state.IsDirty()) {
		k.syncRequested = false
		k.syncLocked()
	}
}

func (k *Keeper) flushEventsLocked() {
	if len(k.pendingEvents) == 0 {
		return
	}
	queued := k.pendingEvents
	k.pendingEvents = nil
	if k.outbound == nil {
		return
	}
	for _, entry := range queued {
		sessions := k.matchingSessionsLocked(entry.target)
		if len(sessions) == 0 {
			continue
		}
		k.outbound.DeliverEvent(k.id, sessions, entry.event)
	}
}

func (k *Keeper) matchingSessionsLocked(target Target) []PlayerSession {
	var matched []PlayerSession
	for _, record := range k.players {
		for _, session := range record.sessions {
			if target.Matches(session) {
				matched = append(matched, session)
			}
		}
	}
	return matched
}

func (k *Keeper) newContext(ctx context.Context, session PlayerSession, tickID int64) *Context {
	logger := k.logger
	if session.PlayerID != "" {
		logger = logger.With(logging.String("player_id", session.PlayerID))
	}
	return &Context{
		ctx:        ctx,
		keeper:     k,
		landID:     k.id,
		landType:   k.def.LandType,
		session:    session,
		tickID:     tickID,
		playerSlot: k.slotOf(session.PlayerID),
		logger:     logger,
		services:   k.services,
	}
}
