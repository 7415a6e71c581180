package event

import "github.com/kartikbazzad/hexwar/hex"

// NodeKind distinguishes a player's single capital from regular territory.
type NodeKind int

const (
	Regular NodeKind = iota
	Capital
)

// Node is one hex's live state.
type Node struct {
	Coord    hex.Coord
	OwnerID  uint64 // 0 = unowned
	Kind     NodeKind
	Target   Target
	Ready    bool
	Endpoint string
}

// Player is one participant.
type Player struct {
	PlayerID        uint64
	Name            string
	CapitalCoord    hex.Coord
	Alive           bool
	ControlEndpoint string
}

// Metrics is the last-reported combat telemetry for one coordinate.
type Metrics struct {
	Coord       hex.Coord
	BandwidthIn uint64
	PacketLoss  float32
	ReportedAt  int64
}

// State is the full, replicated game state: the result of folding every
// committed event from the empty state in log order. It is always
// constructed by Apply; callers never mutate a State's maps directly.
type State struct {
	Players map[uint64]Player
	Nodes   map[hex.Coord]Node
	Metrics map[hex.Coord]Metrics

	TotalEvents uint64
	GameOver    bool
	WinnerID    *uint64
}

// NewState returns the empty initial state.
func NewState() State {
	return State{
		Players: make(map[uint64]Player),
		Nodes:   make(map[hex.Coord]Node),
		Metrics: make(map[hex.Coord]Metrics),
	}
}

// clone returns a shallow copy of s whose top-level maps are independent
// (copy-on-write at the map level), so Apply can mutate the clone freely
// without aliasing the input state. Entry values are plain structs, so a
// per-key copy happens automatically on assignment.
func (s State) clone() State {
	next := State{
		Players:     make(map[uint64]Player, len(s.Players)),
		Nodes:       make(map[hex.Coord]Node, len(s.Nodes)),
		Metrics:     make(map[hex.Coord]Metrics, len(s.Metrics)),
		TotalEvents: s.TotalEvents,
		GameOver:    s.GameOver,
		WinnerID:    s.WinnerID,
	}
	for k, v := range s.Players {
		next.Players[k] = v
	}
	for k, v := range s.Nodes {
		next.Nodes[k] = v
	}
	for k, v := range s.Metrics {
		next.Metrics[k] = v
	}
	return next
}

// AlivePlayerCount returns the number of players whose Alive flag is set.
func (s State) AlivePlayerCount() int {
	n := 0
	for _, p := range s.Players {
		if p.Alive {
			n++
		}
	}
	return n
}
