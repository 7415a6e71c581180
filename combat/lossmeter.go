package combat

import (
	"sync/atomic"
	"time"
)

// LossMeter tracks one attacker/defender episode's sent/acked counters and
// derives the instantaneous loss ratio.
type LossMeter struct {
	sent        uint64
	acked       uint64
	lastAckUnix int64 // unix nanoseconds, 0 = never
	ackGraceNs  int64
}

// NewLossMeter constructs a meter whose grace period before treating loss
// as total is 2x the receiver's ACK interval.
func NewLossMeter(ackInterval time.Duration) *LossMeter {
	return &LossMeter{ackGraceNs: int64(2 * ackInterval)}
}

// RecordSent increments the monotone sent counter by one datagram.
func (m *LossMeter) RecordSent() {
	atomic.AddUint64(&m.sent, 1)
}

// RecordAck folds in an ACK's reported total, which only ever moves
// forward (monotone max; a reordered stale ACK can never regress it).
func (m *LossMeter) RecordAck(totalReceived uint64, now time.Time) {
	for {
		cur := atomic.LoadUint64(&m.acked)
		if totalReceived <= cur {
			break
		}
		if atomic.CompareAndSwapUint64(&m.acked, cur, totalReceived) {
			break
		}
	}
	atomic.StoreInt64(&m.lastAckUnix, now.UnixNano())
}

// Sent returns the current sent count.
func (m *LossMeter) Sent() uint64 { return atomic.LoadUint64(&m.sent) }

// Acked returns the current acked count.
func (m *LossMeter) Acked() uint64 { return atomic.LoadUint64(&m.acked) }

// Loss returns the instantaneous loss ratio: max(0, (sent-acked)/max(1,sent)),
// or 1.0 if no ACK has arrived within the grace period.
func (m *LossMeter) Loss(now time.Time) float32 {
	last := atomic.LoadInt64(&m.lastAckUnix)
	if last == 0 || now.UnixNano()-last > m.ackGraceNs {
		if atomic.LoadUint64(&m.sent) > 0 {
			return 1.0
		}
	}

	sent := atomic.LoadUint64(&m.sent)
	acked := atomic.LoadUint64(&m.acked)
	if sent == 0 {
		return 0
	}
	loss := float32(sent-minU64(sent, acked)) / float32(maxU64(1, sent))
	if loss < 0 {
		return 0
	}
	return loss
}

func minU64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

func maxU64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}
