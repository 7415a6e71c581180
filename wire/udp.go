package wire

import (
	"encoding/binary"
	"fmt"
)

// AttackPacketSize is the fixed size of every combat datagram.
const AttackPacketSize = 1024

// attackHeaderSize is the 8-byte sequence + 8-byte send-timestamp prefix;
// the remainder of AttackPacketSize is zero-filled padding.
const attackHeaderSize = 16

// AckPacketSize is the fixed size of a receiver ACK datagram.
const AckPacketSize = 16

// AttackPacket is one flood datagram: a monotone sequence number and the
// sender's timestamp, padded to exactly AttackPacketSize bytes.
type AttackPacket struct {
	Seq    uint64
	SentAt int64 // unix microseconds
}

// Encode renders p as a fixed AttackPacketSize-byte datagram.
func (p AttackPacket) Encode() []byte {
	buf := make([]byte, AttackPacketSize)
	binary.BigEndian.PutUint64(buf[0:8], p.Seq)
	binary.BigEndian.PutUint64(buf[8:16], uint64(p.SentAt))
	return buf
}

// DecodeAttackPacket parses a received datagram. It accepts any length ≥
// attackHeaderSize so short reads from non-conforming peers fail
// predictably rather than panicking; the wire contract is exactly
// AttackPacketSize, but the receiver only depends on the first 16 bytes.
func DecodeAttackPacket(buf []byte) (AttackPacket, error) {
	if len(buf) < attackHeaderSize {
		return AttackPacket{}, fmt.Errorf("wire: attack packet too short: %d bytes", len(buf))
	}
	return AttackPacket{
		Seq:    binary.BigEndian.Uint64(buf[0:8]),
		SentAt: int64(binary.BigEndian.Uint64(buf[8:16])),
	}, nil
}

// AckPacket is the receiver's periodic report of what it has observed from
// one sender.
type AckPacket struct {
	HighestSeqSeen       uint64
	TotalPacketsReceived uint64
}

// Encode renders a as a fixed AckPacketSize-byte datagram.
func (a AckPacket) Encode() []byte {
	buf := make([]byte, AckPacketSize)
	binary.BigEndian.PutUint64(buf[0:8], a.HighestSeqSeen)
	binary.BigEndian.PutUint64(buf[8:16], a.TotalPacketsReceived)
	return buf
}

// DecodeAckPacket parses a received ACK datagram.
func DecodeAckPacket(buf []byte) (AckPacket, error) {
	if len(buf) < AckPacketSize {
		return AckPacket{}, fmt.Errorf("wire: ack packet too short: %d bytes", len(buf))
	}
	return AckPacket{
		HighestSeqSeen:       binary.BigEndian.Uint64(buf[0:8]),
		TotalPacketsReceived: binary.BigEndian.Uint64(buf[8:16]),
	}, nil
}
