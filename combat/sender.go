package combat

import (
	"context"
	"log/slog"
	"net"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/kartikbazzad/hexwar/gamestate"
	"github.com/kartikbazzad/hexwar/hex"
	"github.com/kartikbazzad/hexwar/pkg/logger"
	"github.com/kartikbazzad/hexwar/wire"
	channerics "github.com/niceyeti/channerics/channels"
)

// Sender drives one outbound attack episode for one grid node. It is
// restarted from scratch every time the node's target changes; a target
// switch never reuses an in-flight sender.
type Sender struct {
	game       *gamestate.Game
	selfCoord  hex.Coord
	endpointOf *lru.Cache[hex.Coord, string]
	Loss       *LossMeter

	log *slog.Logger
}

// NewSender constructs a sender bound to one node's coordinate. endpointOf
// is a small LRU caching resolved target endpoints; Run still reads the
// target node from gamestate before every datagram. The engine builds a
// fresh Sender for each new target, so a cached endpoint does not outlive
// its target; Invalidate evicts one explicitly.
func NewSender(game *gamestate.Game, selfCoord hex.Coord) *Sender {
	cache, _ := lru.New[hex.Coord, string](64)
	return &Sender{
		game:       game,
		selfCoord:  selfCoord,
		endpointOf: cache,
		Loss:       NewLossMeter(ackInterval),
		log:        logger.Named("combat.sender", "node", selfCoord.String()),
	}
}

// Invalidate drops any cached endpoint resolution for coord, forcing the
// next Run to re-resolve it from gamestate.
func (s *Sender) Invalidate(coord hex.Coord) {
	s.endpointOf.Remove(coord)
}

// resolveEndpoint returns the dialable endpoint for an attackable target,
// or ok=false if the target cannot currently be attacked: it must have a
// live, ready endpoint and must not belong to this node's own owner.
func (s *Sender) resolveEndpoint(targetCoord hex.Coord, selfOwnerID uint64) (string, bool) {
	if ep, ok := s.endpointOf.Get(targetCoord); ok {
		return ep, true
	}
	node, ok := s.game.GetNode(targetCoord)
	if !ok || !node.Ready || node.Endpoint == "" {
		return "", false
	}
	if node.OwnerID != 0 && node.OwnerID == selfOwnerID {
		return "", false
	}
	s.endpointOf.Add(targetCoord, node.Endpoint)
	return node.Endpoint, true
}

// Run floods targetCoord with 1024-byte attack datagrams as fast as the
// OS permits until ctx is cancelled (by a target change or shutdown) or
// the target stops being attackable. The defender's periodic ACKs arrive
// back on this same dialed socket, since UDP is connectionless but
// net.DialUDP still filters reads to the one peer address — no separate
// "open a reply channel" handshake is needed.
func (s *Sender) Run(ctx context.Context, targetCoord hex.Coord, selfOwnerID uint64) {
	endpoint, ok := s.resolveEndpoint(targetCoord, selfOwnerID)
	if !ok {
		return
	}
	raddr, err := net.ResolveUDPAddr("udp", endpoint)
	if err != nil {
		s.log.Warn("cannot resolve target endpoint", "endpoint", endpoint, "error", err)
		return
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		s.log.Warn("cannot dial target", "endpoint", endpoint, "error", err)
		return
	}
	defer conn.Close()

	stopAck := make(chan struct{})
	defer close(stopAck)
	go s.readAcks(conn, stopAck)

	done := channerics.Any(ctx.Done(), stopAck)

	var seq uint64
	for {
		select {
		case <-done:
			return
		default:
		}

		node, ok := s.game.GetNode(targetCoord)
		if !ok || !node.Ready {
			return
		}
		if node.OwnerID != 0 && node.OwnerID == selfOwnerID {
			// Target became friendly territory (captured by our own
			// owner); the episode is over without a target change.
			return
		}

		pkt := wire.AttackPacket{Seq: seq, SentAt: time.Now().UnixMicro()}
		if _, err := conn.Write(pkt.Encode()); err != nil {
			// A send failure counts exactly like an unacknowledged
			// packet, not a fatal error.
			s.Loss.RecordSent()
			seq++
			continue
		}
		s.Loss.RecordSent()
		seq++
	}
}

// readAcks reads ACK datagrams off conn (a socket dialed exclusively to
// this episode's target) until stop fires or the socket errors out from
// Run's own conn.Close(), and feeds each one into the loss meter.
func (s *Sender) readAcks(conn *net.UDPConn, stop <-chan struct{}) {
	buf := make([]byte, wire.AckPacketSize)
	for {
		select {
		case <-stop:
			return
		default:
		}
		n, err := conn.Read(buf)
		if err != nil {
			select {
			case <-stop:
				return
			default:
				continue
			}
		}
		ack, err := wire.DecodeAckPacket(buf[:n])
		if err != nil {
			continue
		}
		s.Loss.RecordAck(ack.TotalPacketsReceived, time.Now())
	}
}
