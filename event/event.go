// Package event defines the hexwar event taxonomy and the pure state-fold
// that turns a committed event sequence into the authoritative game state.
// Every mutation to game state is one of the Kinds defined here; there is
// no other way to change a State.
package event

import (
	"encoding/json"
	"fmt"

	"github.com/kartikbazzad/hexwar/hex"
)

// Kind identifies an event's shape. It is the tag of the sum type carried
// by Event; exactly the fields relevant to that Kind are populated.
type Kind string

const (
	KindPlayerJoin       Kind = "player_join"
	KindSetNodeTarget    Kind = "set_node_target"
	KindMetricsReport    Kind = "metrics_report"
	KindNodeInitStarted  Kind = "node_init_started"
	KindNodeInitComplete Kind = "node_init_complete"
	KindNodeCaptured     Kind = "node_captured"
	KindGameOver         Kind = "game_over"
)

// TargetKind is the discriminant of Target.
type TargetKind int

const (
	TargetNone TargetKind = iota
	TargetHex
	TargetPlayer
)

// Target is a Node's attack target: nothing, a hex, or (rare) a player
// reference. Only TargetHex is produced by the current command surface,
// but the wire shape carries TargetPlayer too.
type Target struct {
	Kind     TargetKind `json:"kind"`
	Hex      hex.Coord  `json:"hex,omitempty"`
	PlayerID uint64     `json:"player_id,omitempty"`
}

// NoTarget is the canonical "not attacking" value.
var NoTarget = Target{Kind: TargetNone}

// Event is the single wire shape for every committed log entry's payload.
// Ts is data only — apply never branches on it.
type Event struct {
	Kind Kind  `json:"kind"`
	Ts   int64 `json:"ts"`

	// PlayerJoin
	PlayerID          uint64    `json:"player_id,omitempty"`
	Name              string    `json:"name,omitempty"`
	CapitalCoord      hex.Coord `json:"capital_coord,omitempty"`
	Endpoint          string    `json:"endpoint,omitempty"`
	IsControlEndpoint bool      `json:"is_control_endpoint,omitempty"`

	// SetNodeTarget, MetricsReport, NodeInitStarted, NodeInitComplete, NodeCaptured
	NodeCoord hex.Coord `json:"node_coord,omitempty"`

	// SetNodeTarget
	Target *Target `json:"target,omitempty"`

	// MetricsReport
	BandwidthIn uint64  `json:"bandwidth_in,omitempty"`
	PacketLoss  float32 `json:"packet_loss,omitempty"`

	// NodeInitStarted
	OwnerID uint64 `json:"owner_id,omitempty"`

	// NodeCaptured
	NewOwnerID uint64 `json:"new_owner_id,omitempty"`

	// GameOver
	WinnerID *uint64 `json:"winner_id,omitempty"`
}

// Marshal encodes e as the JSON payload carried by a raft log entry.
func (e Event) Marshal() ([]byte, error) { return json.Marshal(e) }

// Unmarshal decodes a raft log entry's command back into an Event.
func Unmarshal(cmd []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(cmd, &e); err != nil {
		return Event{}, fmt.Errorf("event: unmarshal: %w", err)
	}
	return e, nil
}

func PlayerJoin(playerID uint64, name string, capital hex.Coord, endpoint string, isControl bool, ts int64) Event {
	return Event{
		Kind:              KindPlayerJoin,
		Ts:                ts,
		PlayerID:          playerID,
		Name:              name,
		CapitalCoord:      capital,
		Endpoint:          endpoint,
		IsControlEndpoint: isControl,
	}
}

func SetNodeTarget(node hex.Coord, target Target, ts int64) Event {
	t := target
	return Event{Kind: KindSetNodeTarget, Ts: ts, NodeCoord: node, Target: &t}
}

func MetricsReport(node hex.Coord, bandwidthIn uint64, packetLoss float32, ts int64) Event {
	return Event{Kind: KindMetricsReport, Ts: ts, NodeCoord: node, BandwidthIn: bandwidthIn, PacketLoss: packetLoss}
}

func NodeInitStarted(node hex.Coord, ownerID uint64, ts int64) Event {
	return Event{Kind: KindNodeInitStarted, Ts: ts, NodeCoord: node, OwnerID: ownerID}
}

func NodeInitComplete(node hex.Coord, endpoint string, ts int64) Event {
	return Event{Kind: KindNodeInitComplete, Ts: ts, NodeCoord: node, Endpoint: endpoint}
}

func NodeCaptured(node hex.Coord, newOwnerID uint64, ts int64) Event {
	return Event{Kind: KindNodeCaptured, Ts: ts, NodeCoord: node, NewOwnerID: newOwnerID}
}

func GameOver(winnerID *uint64, ts int64) Event {
	return Event{Kind: KindGameOver, Ts: ts, WinnerID: winnerID}
}
