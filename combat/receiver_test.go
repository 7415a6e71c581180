package combat

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/kartikbazzad/hexwar/wire"
)

// TestReceiverCountsAndAcks drives a real UDP loopback: a few attack
// datagrams in, counters updated, and an ACK naming the observed totals
// echoed back to the sender's address within the 100ms cadence.
func TestReceiverCountsAndAcks(t *testing.T) {
	r, err := NewReceiver(0)
	if err != nil {
		t.Fatalf("bind receiver: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	conn, err := net.Dial("udp", r.LocalAddr().String())
	if err != nil {
		t.Fatalf("dial receiver: %v", err)
	}
	defer conn.Close()

	for seq := uint64(1); seq <= 3; seq++ {
		pkt := wire.AttackPacket{Seq: seq, SentAt: time.Now().UnixMicro()}
		if _, err := conn.Write(pkt.Encode()); err != nil {
			t.Fatalf("send attack packet: %v", err)
		}
	}

	// ACKs arrive on the dialed socket every ackInterval; keep reading
	// until one reflects all three datagrams or the deadline lapses.
	buf := make([]byte, wire.AckPacketSize)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, err := conn.Read(buf)
		if err != nil {
			continue
		}
		ack, err := wire.DecodeAckPacket(buf[:n])
		if err != nil {
			t.Fatalf("decode ack: %v", err)
		}
		if ack.TotalPacketsReceived == 3 && ack.HighestSeqSeen == 3 {
			if got := r.TotalReceived(); got != 3 {
				t.Fatalf("receiver total = %d, want 3", got)
			}
			return
		}
	}
	t.Fatal("never received an ACK reflecting all three datagrams")
}
