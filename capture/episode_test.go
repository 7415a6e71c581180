package capture

import (
	"testing"
	"time"

	"github.com/kartikbazzad/hexwar/event"
	"github.com/kartikbazzad/hexwar/hex"
)

func TestEpisodeTrackerResetsOnTargetChange(t *testing.T) {
	tr := newEpisodeTracker()
	attacker := hex.Coord{Q: 0, R: 0}
	target := hex.Coord{Q: 1, R: 0}

	t1 := time.Now()
	tr.observe(event.SetNodeTarget(attacker, event.Target{Kind: event.TargetHex, Hex: target}, 1), t1)
	if tr.episodeStart(attacker) != t1 {
		t.Fatal("expected episode start to record first SetNodeTarget time")
	}

	t2 := t1.Add(time.Second)
	tr.observe(event.SetNodeTarget(attacker, event.Target{Kind: event.TargetHex, Hex: target}, 2), t2)
	if tr.episodeStart(attacker) != t2 {
		t.Fatal("expected a new SetNodeTarget to reset the episode start, even to the same target")
	}
}

func TestOverloadTimerClearsBelowThreshold(t *testing.T) {
	tr := newEpisodeTracker()
	target := hex.Coord{Q: 1, R: 0}

	now := time.Now()
	elapsed := tr.markOverloaded(target, now)
	if elapsed != 0 {
		t.Fatalf("expected first overload mark to report zero elapsed, got %v", elapsed)
	}

	later := now.Add(3 * time.Second)
	elapsed = tr.markOverloaded(target, later)
	if elapsed != 3*time.Second {
		t.Fatalf("expected 3s elapsed, got %v", elapsed)
	}

	tr.clearOverload(target)
	elapsed = tr.markOverloaded(target, later.Add(time.Second))
	if elapsed != 0 {
		t.Fatal("expected overload timer to restart from zero after clearing")
	}
}
