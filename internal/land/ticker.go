package land

import (
	"time"

	"landkeeper/engine/internal/logging"
)

// tickLoop schedules ticks on absolute deadlines so the rate does not drift
// with handler duration. A boundary that fires while the previous tick is
// still queued or executing is skipped, never queued up behind it.
func (k *Keeper) tickLoop() {
	interval := k.def.Lifetime.TickInterval
	var tickID int64

	next := k.clock().Add(interval)
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-k.ctx.Done():
			return
		case <-timer.C:
		}

		//1.- Skip the tick when the executor is still inside the previous one.
		if k.tickPending.CompareAndSwap(false, true) {
			tid := tickID
			if err := k.post(func() {
				defer k.tickPending.Store(false)
				k.runTickLocked(tid)
			}); err != nil {
				return
			}
		} else {
			k.stats.ObserveSkip()
		}
		tickID++

		//2.- Advance the absolute deadline; after a long stall, rebase from
		// now instead of burning through the backlog.
		now := k.clock()
		next = next.Add(interval)
		if !next.After(now) {
			next = now.Add(interval)
		}
		timer.Reset(next.Sub(now))
	}
}

// runTickLocked executes one tick on the executor goroutine.
func (k *Keeper) runTickLocked(tickID int64) {
	if k.destroyed {
		return
	}
	started := k.clock()

	if k.def.OnTick != nil {
		func() {
			defer func() {
				if recovered := recover(); recovered != nil {
					k.logger.Error("tick handler panicked",
						logging.Int64("tick_id", tickID),
						logging.String("panic", describePanic(recovered)))
				}
			}()
			//1.- The tick handler observes its own tick id, not the last
			// committed one.
			k.def.OnTick(k.newContext(k.ctx, PlayerSession{}, tickID), k.state)
		}()
	}

	//2.- The tick commits even when the handler panicked part-way; partial
	// mutations are synced rather than silently dropped.
	k.lastCommittedTickID = tickID
	k.flushEventsLocked()
	if k.syncRequested || k.state.IsDirty() {
		k.syncRequested = false
		k.syncLocked()
	}
	k.persistLocked(false)
	k.stats.Observe(k.clock().Sub(started))
}
