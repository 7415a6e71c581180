package capture

import (
	"sync"
	"time"

	"github.com/kartikbazzad/hexwar/event"
	"github.com/kartikbazzad/hexwar/hex"
)

// episodeTracker is leader-local, non-replicated bookkeeping: for each
// attacking node, the wall-clock
// time its current target assignment began, and for each target, how
// long it has been continuously overloaded. Both are deliberately lost
// and rebuilt from scratch on leader failover.
type episodeTracker struct {
	mu sync.Mutex

	// attackerEpisodeStart[attackerCoord] is when that node's *current*
	// target assignment took effect.
	attackerEpisodeStart map[hex.Coord]time.Time

	// overloadSince[targetCoord] is when that target's loss most recently
	// crossed into overload, reset the instant it drops back below.
	overloadSince map[hex.Coord]time.Time
}

func newEpisodeTracker() *episodeTracker {
	return &episodeTracker{
		attackerEpisodeStart: make(map[hex.Coord]time.Time),
		overloadSince:        make(map[hex.Coord]time.Time),
	}
}

// observe folds one applied event into the tracker. Only SetNodeTarget
// matters: it marks the start of a fresh episode for that attacker,
// whatever the new target (including None, which simply ends tracking
// until the next SetNodeTarget).
func (t *episodeTracker) observe(ev event.Event, now time.Time) {
	if ev.Kind != event.KindSetNodeTarget {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attackerEpisodeStart[ev.NodeCoord] = now
}

func (t *episodeTracker) episodeStart(attacker hex.Coord) time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attackerEpisodeStart[attacker]
}

// markOverloaded starts the target's overload timer if one isn't already
// running, and reports the elapsed duration either way.
func (t *episodeTracker) markOverloaded(target hex.Coord, now time.Time) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	start, ok := t.overloadSince[target]
	if !ok {
		t.overloadSince[target] = now
		return 0
	}
	return now.Sub(start)
}

// clearOverload resets the target's overload timer (loss dropped below
// threshold, or the target was just captured).
func (t *episodeTracker) clearOverload(target hex.Coord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.overloadSince, target)
}

// reset drops all bookkeeping; called once when this node becomes leader
// so it starts from a clean slate.
func (t *episodeTracker) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attackerEpisodeStart = make(map[hex.Coord]time.Time)
	t.overloadSince = make(map[hex.Coord]time.Time)
}
