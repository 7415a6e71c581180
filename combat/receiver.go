package combat

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/kartikbazzad/hexwar/pkg/logger"
	"github.com/kartikbazzad/hexwar/wire"
)

// ackInterval is the receiver's ACK cadence.
const ackInterval = 100 * time.Millisecond

// Receiver is the fixed-port UDP listener every ready node runs. It does
// not care who is attacking: it answers whoever last sent it a datagram,
// which spares the attacker any handshake before flooding.
type Receiver struct {
	conn *net.UDPConn
	log  *slog.Logger

	mu               sync.Mutex
	lastSender       *net.UDPAddr
	bytesReceived    uint64
	highestSeqSeen   uint64
	totalReceived    uint64
	intervalReceived uint64
}

func NewReceiver(port int) (*Receiver, error) {
	addr := &net.UDPAddr{Port: port}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, err
	}
	return &Receiver{conn: conn, log: logger.Named("combat.receiver")}, nil
}

// LocalAddr returns the bound address, used by the owning node for
// auto-discovery (matching this address against the Node table).
func (r *Receiver) LocalAddr() net.Addr { return r.conn.LocalAddr() }

// Close releases the underlying socket.
func (r *Receiver) Close() error { return r.conn.Close() }

// Run reads datagrams and emits ACKs until ctx is cancelled.
func (r *Receiver) Run(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		r.conn.Close()
		close(done)
	}()

	go r.ackLoop(ctx)

	buf := make([]byte, wire.AttackPacketSize)
	for {
		n, addr, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-done:
				return
			default:
				continue
			}
		}
		pkt, err := wire.DecodeAttackPacket(buf[:n])
		if err != nil {
			continue
		}
		r.observe(pkt, addr, n)
	}
}

func (r *Receiver) observe(pkt wire.AttackPacket, addr *net.UDPAddr, n int) {
	r.mu.Lock()
	r.lastSender = addr
	r.bytesReceived += uint64(n)
	if pkt.Seq > r.highestSeqSeen {
		r.highestSeqSeen = pkt.Seq
	}
	r.totalReceived++
	r.intervalReceived++
	r.mu.Unlock()
}

func (r *Receiver) ackLoop(ctx context.Context) {
	ticker := time.NewTicker(ackInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sendAck()
		}
	}
}

func (r *Receiver) sendAck() {
	r.mu.Lock()
	dest := r.lastSender
	ack := wire.AckPacket{HighestSeqSeen: r.highestSeqSeen, TotalPacketsReceived: r.totalReceived}
	r.mu.Unlock()
	if dest == nil {
		return
	}
	_, _ = r.conn.WriteToUDP(ack.Encode(), dest)
}

// BytesReceivedSince returns bytes received and resets the rolling
// interval counter; used by the metrics reporter for bandwidth_in.
func (r *Receiver) BytesReceivedSince() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.bytesReceived
	r.bytesReceived = 0
	return b
}

// ReceivedThisInterval returns packets received since the last call and
// resets the counter; used by the defender-side canonical loss formula.
func (r *Receiver) ReceivedThisInterval() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.intervalReceived
	r.intervalReceived = 0
	return n
}

// HighestSeqSeen returns the highest attack sequence number observed.
func (r *Receiver) HighestSeqSeen() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.highestSeqSeen
}

// TotalReceived returns the lifetime count of attack datagrams received.
func (r *Receiver) TotalReceived() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.totalReceived
}
