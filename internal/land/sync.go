package land

import (
	"sort"

	"golang.org/x/sync/errgroup"

	"landkeeper/engine/internal/logging"
	"landkeeper/engine/internal/statesync"
	"landkeeper/engine/internal/value"
)

// syncLocked runs one differential sync cycle. It executes on the executor
// goroutine: snapshot extraction happens under the serial boundary, per-player
// diffing fans out concurrently against the engine's internal caches, and the
// dirty set is cleared only after the whole cycle succeeds so a failed cycle
// is simply retried by the next one.
func (k *Keeper) syncLocked() {
	dirty := statesync.SplitDirty(k.state, k.def.Sync.UseDirtyTracking)

	//1.- Extract the broadcast side, restricted to dirty fields when tracking.
	mode := statesync.AllFields()
	if dirty.Tracking {
		mode = statesync.DirtyTracking(dirty.Broadcast)
	}
	broadcastSnap, err := k.engine.ExtractBroadcast(k.state, mode)
	if err != nil {
		k.logger.Error("broadcast extraction failed, dropping sync cycle", logging.Error(err))
		return
	}

	//2.- Extract every player's view while we still own the boundary, so all
	// diffs in this cycle observe the same state version.
	players := make([]string, 0, len(k.players))
	for playerID := range k.players {
		players = append(players, playerID)
	}
	sort.Strings(players)

	playerSnaps := make(map[string]value.Snapshot, len(players))
	for _, playerID := range players {
		snap, err := k.engine.ExtractPerPlayer(playerID, k.state, statesync.AllFields())
		if err != nil {
			k.logger.Error("per-player extraction failed, dropping sync cycle",
				logging.String("player_id", playerID), logging.Error(err))
			return
		}
		playerSnaps[playerID] = snap
	}

	//3.- Diff the broadcast snapshot against the cache exactly once per cycle.
	broadcastPatches := k.engine.BroadcastDiffFromSnapshot(broadcastSnap, nil, dirty)
	if k.recorder != nil && len(broadcastPatches) > 0 {
		k.recorder.RecordFrame(k.id, k.lastCommittedTickID, broadcastPatches)
	}

	//4.- Fan the per-player updates out concurrently; the engine caches carry
	// their own lock so this is safe off the boundary.
	updates := make([]value.Update, len(players))
	var group errgroup.Group
	for idx, playerID := range players {
		idx, playerID := idx, playerID
		group.Go(func() error {
			update, err := k.engine.GenerateUpdateFromBroadcastDiff(
				playerID, broadcastPatches, playerSnaps[playerID], dirty, nil)
			if err != nil {
				return err
			}
			updates[idx] = update
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		k.logger.Error("per-player diff failed, dropping sync cycle", logging.Error(err))
		return
	}

	//5.- Deliver, skipping players with nothing to say.
	if k.outbound != nil {
		for idx, playerID := range players {
			update := updates[idx]
			if update.IsNoChange() {
				continue
			}
			record := k.players[playerID]
			if record == nil {
				continue
			}
			sessions := make([]PlayerSession, 0, len(record.sessions))
			for _, session := range record.sessions {
				sessions = append(sessions, session)
			}
			k.outbound.DeliverUpdate(k.id, playerID, sessions, update, k.lastCommittedTickID)
		}
	}

	k.state.ClearDirty()
}

// persistLocked saves a full snapshot when the cadence elapsed or force is
// set, and refreshes the journal's base snapshot on the same cadence.
func (k *Keeper) persistLocked(force bool) {
	if k.persister == nil && k.recorder == nil {
		return
	}
	now := k.clock()
	if !force {
		if k.def.Lifetime.PersistInterval <= 0 || now.Before(k.nextPersist) {
			return
		}
	}
	if k.def.Lifetime.PersistInterval > 0 {
		k.nextPersist = now.Add(k.def.Lifetime.PersistInterval)
	}

	k.journalSnapshotLocked()

	if k.persister == nil {
		return
	}
	//1.- Persistence captures everything, serverOnly fields included and no
	// masks applied, so a restore loses nothing.
	snapshot, err := k.state.FullSnapshot()
	if err != nil {
		k.logger.Error("persist snapshot extraction failed", logging.Error(err))
		return
	}
	if err := k.persister.SaveSnapshot(k.ctx, k.def.LandType, k.id, k.lastCommittedTickID, snapshot); err != nil {
		k.logger.Error("persist write failed", logging.Error(err))
	}
}

// journalSnapshotLocked records the current broadcast view as a journal base
// snapshot, so rebuilds start from a recorded state instead of replaying the
// whole frame history.
func (k *Keeper) journalSnapshotLocked() {
	if k.recorder == nil {
		return
	}
	snapshot, err := k.engine.ExtractBroadcast(k.state, statesync.AllFields())
	if err != nil {
		k.logger.Error("journal snapshot extraction failed", logging.Error(err))
		return
	}
	k.recorder.RecordSnapshot(k.id, k.lastCommittedTickID, snapshot)
}
