package capture

import (
	"testing"
	"time"

	"github.com/kartikbazzad/hexwar/event"
	"github.com/kartikbazzad/hexwar/hex"
)

func TestOverloadPredicateThreshold(t *testing.T) {
	p, err := newOverloadPredicate()
	if err != nil {
		t.Fatalf("new predicate: %v", err)
	}
	if !p.Overloaded(0.25, OverloadThreshold) {
		t.Fatal("0.25 loss must be overloaded at 0.20 threshold")
	}
	if p.Overloaded(0.10, OverloadThreshold) {
		t.Fatal("0.10 loss must not be overloaded at 0.20 threshold")
	}
	if !p.Overloaded(0.20, OverloadThreshold) {
		t.Fatal("loss exactly at threshold must count as overloaded (>=)")
	}
}

func TestTieBreakEarliestEpisodeThenLexicographicCoord(t *testing.T) {
	c := &Controller{tracker: newEpisodeTracker()}

	a := hex.Coord{Q: 0, R: 0}
	b := hex.Coord{Q: 5, R: 5}
	target := hex.Coord{Q: 1, R: 0}

	now := time.Now()
	c.tracker.observe(event.SetNodeTarget(a, event.Target{Kind: event.TargetHex, Hex: target}, 1), now.Add(time.Second))
	c.tracker.observe(event.SetNodeTarget(b, event.Target{Kind: event.TargetHex, Hex: target}, 1), now)

	winner, ok := c.pickWinner([]hex.Coord{a, b})
	if !ok || winner != b {
		t.Fatalf("expected earliest-episode attacker b to win, got %v", winner)
	}
}

func TestTieBreakFallsBackToLexicographicCoord(t *testing.T) {
	c := &Controller{tracker: newEpisodeTracker()}

	a := hex.Coord{Q: 5, R: 5}
	b := hex.Coord{Q: 0, R: 0}
	target := hex.Coord{Q: 1, R: 0}

	now := time.Now()
	c.tracker.observe(event.SetNodeTarget(a, event.Target{Kind: event.TargetHex, Hex: target}, 1), now)
	c.tracker.observe(event.SetNodeTarget(b, event.Target{Kind: event.TargetHex, Hex: target}, 1), now)

	winner, ok := c.pickWinner([]hex.Coord{a, b})
	if !ok || winner != b {
		t.Fatalf("expected lexicographically-smallest coordinate b to win a tie, got %v", winner)
	}
}
