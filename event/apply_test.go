package event

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/kartikbazzad/hexwar/hex"
)

func TestPlayerJoinCreatesPlayerAndCapital(t *testing.T) {
	s := NewState()
	s = Apply(s, PlayerJoin(1, "alice", hex.Coord{Q: 0, R: 0}, "alice:9000", true, 100))

	p, ok := s.Players[1]
	if !ok || !p.Alive {
		t.Fatal("expected player 1 to exist and be alive")
	}
	node, ok := s.Nodes[hex.Coord{Q: 0, R: 0}]
	if !ok || node.Kind != Capital || node.OwnerID != 1 {
		t.Fatalf("expected capital node owned by player 1, got %+v", node)
	}
}

func TestPlayerJoinDuplicateIsNoOp(t *testing.T) {
	s := NewState()
	s = Apply(s, PlayerJoin(1, "alice", hex.Coord{Q: 0, R: 0}, "a", true, 1))
	before := s
	s = Apply(s, PlayerJoin(1, "alice-again", hex.Coord{Q: 5, R: 5}, "b", true, 2))

	if s.Players[1].Name != before.Players[1].Name {
		t.Fatal("duplicate PlayerJoin must be a no-op")
	}
	if _, ok := s.Nodes[hex.Coord{Q: 5, R: 5}]; ok {
		t.Fatal("duplicate PlayerJoin must not create a second capital")
	}
}

func TestPlayerJoinOnOccupiedHexIsNoOp(t *testing.T) {
	s := NewState()
	contested := hex.Coord{Q: 0, R: 0}
	s = Apply(s, PlayerJoin(1, "alice", contested, "a", true, 1))
	s = Apply(s, PlayerJoin(2, "bob", contested, "b", true, 2))

	if _, ok := s.Players[2]; ok {
		t.Fatal("a join racing for an occupied capital hex must no-op entirely")
	}
	if s.Nodes[contested].OwnerID != 1 {
		t.Fatal("the first claimant must keep the contested hex")
	}
}

func TestSetNodeTargetRequiresLivingOwner(t *testing.T) {
	s := NewState()
	capital := hex.Coord{Q: 0, R: 0}
	s = Apply(s, PlayerJoin(1, "alice", capital, "a", true, 1))

	target := Target{Kind: TargetHex, Hex: hex.Coord{Q: 1, R: 0}}
	s2 := Apply(s, SetNodeTarget(capital, target, 2))
	if s2.Nodes[capital].Target.Kind != TargetHex {
		t.Fatal("expected target to be set for an owned, living player's node")
	}

	// Unknown node coordinate: no-op.
	s3 := Apply(s, SetNodeTarget(hex.Coord{Q: 9, R: 9}, target, 3))
	if _, ok := s3.Nodes[hex.Coord{Q: 9, R: 9}]; ok {
		t.Fatal("SetNodeTarget must not create a node")
	}
}

func TestIdempotenceOfStopAttack(t *testing.T) {
	s := NewState()
	capital := hex.Coord{Q: 0, R: 0}
	s = Apply(s, PlayerJoin(1, "alice", capital, "a", true, 1))
	s = Apply(s, SetNodeTarget(capital, Target{Kind: TargetHex, Hex: hex.Coord{Q: 1, R: 0}}, 2))

	once := Apply(s, SetNodeTarget(capital, NoTarget, 3))
	twice := Apply(once, SetNodeTarget(capital, NoTarget, 4))

	if once.Nodes[capital].Target != twice.Nodes[capital].Target {
		t.Fatal("applying SetNodeTarget{None} twice must equal applying it once")
	}
}

func TestLazyProvisioningFlow(t *testing.T) {
	s := NewState()
	coord := hex.Coord{Q: 1, R: 0}
	s = Apply(s, NodeInitStarted(coord, 0, 1))

	node, ok := s.Nodes[coord]
	if !ok || node.Ready {
		t.Fatalf("expected unready placeholder, got %+v", node)
	}

	s = Apply(s, NodeInitComplete(coord, "endpoint:1234", 2))
	node = s.Nodes[coord]
	if !node.Ready || node.Endpoint != "endpoint:1234" {
		t.Fatalf("expected ready node with endpoint set, got %+v", node)
	}

	// A second NodeInitStarted at an already-occupied coordinate is a no-op.
	s2 := Apply(s, NodeInitStarted(coord, 0, 3))
	if s2.Nodes[coord].Ready != true {
		t.Fatal("NodeInitStarted must not clobber an existing node")
	}
}

func TestNodeCapturedDemotesCapitalAndKillsOwner(t *testing.T) {
	s := NewState()
	capA := hex.Coord{Q: 0, R: 0}
	capB := hex.Coord{Q: 2, R: 0}
	s = Apply(s, PlayerJoin(1, "a", capA, "ea", true, 1))
	s = Apply(s, PlayerJoin(2, "b", capB, "eb", true, 2))

	s = Apply(s, NodeCaptured(capB, 1, 3))

	if s.Players[2].Alive {
		t.Fatal("expected player 2 to be eliminated")
	}
	if s.Nodes[capB].Kind != Regular {
		t.Fatal("expected captured capital to demote to Regular")
	}
	if s.Nodes[capB].OwnerID != 1 {
		t.Fatal("expected capB to transfer to player 1")
	}
	if s.AlivePlayerCount() != 1 {
		t.Fatalf("expected exactly one alive player, got %d", s.AlivePlayerCount())
	}
}

func TestGameOverIsTerminal(t *testing.T) {
	s := NewState()
	winner := uint64(1)
	s = Apply(s, GameOver(&winner, 1))
	before := s

	s = Apply(s, PlayerJoin(9, "late", hex.Coord{Q: 9, R: 9}, "e", true, 2))
	if s.TotalEvents != before.TotalEvents {
		t.Fatal("events applied after GameOver must be ignored")
	}
}

func TestDeterminismAcrossReplay(t *testing.T) {
	events := []Event{
		PlayerJoin(1, "a", hex.Coord{Q: 0, R: 0}, "ea", true, 1),
		PlayerJoin(2, "b", hex.Coord{Q: 2, R: 0}, "eb", true, 2),
		NodeInitStarted(hex.Coord{Q: 1, R: 0}, 0, 3),
		NodeInitComplete(hex.Coord{Q: 1, R: 0}, "e1", 4),
		SetNodeTarget(hex.Coord{Q: 0, R: 0}, Target{Kind: TargetHex, Hex: hex.Coord{Q: 1, R: 0}}, 5),
		MetricsReport(hex.Coord{Q: 1, R: 0}, 1000, 0.3, 6),
	}

	s1, s2 := NewState(), NewState()
	for _, e := range events {
		s1 = Apply(s1, e)
	}
	for _, e := range events {
		s2 = Apply(s2, e)
	}

	if diff := cmp.Diff(s1, s2); diff != "" {
		t.Fatalf("replaying the same event prefix must yield byte-identical state (-replay1 +replay2):\n%s", diff)
	}
}
