package wire

import (
	"bytes"
	"testing"
)

func TestAttackPacketRoundTrip(t *testing.T) {
	p := AttackPacket{Seq: 42, SentAt: 1_700_000_000_000_000}
	buf := p.Encode()
	if len(buf) != AttackPacketSize {
		t.Fatalf("encoded size = %d, want %d", len(buf), AttackPacketSize)
	}
	got, err := DecodeAttackPacket(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != p {
		t.Fatalf("got %+v, want %+v", got, p)
	}
}

func TestAckPacketRoundTrip(t *testing.T) {
	a := AckPacket{HighestSeqSeen: 99, TotalPacketsReceived: 97}
	buf := a.Encode()
	if len(buf) != AckPacketSize {
		t.Fatalf("encoded size = %d, want %d", len(buf), AckPacketSize)
	}
	got, err := DecodeAckPacket(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != a {
		t.Fatalf("got %+v, want %+v", got, a)
	}
}

func TestFinisherFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := bytes.Repeat([]byte{0xAB}, 100)
	if err := WriteFinisherFrame(&buf, payload); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := ReadFinisherFrame(&buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != FinisherFrameSize {
		t.Fatalf("frame size = %d, want %d", len(got), FinisherFrameSize)
	}
	if !bytes.Equal(got[:100], payload) {
		t.Fatalf("payload mismatch")
	}
}

func TestRPCMessageRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	req := RequestVoteRequest{Term: 3, CandidateID: "node-a", LastLogIndex: 5, LastLogTerm: 2}
	if err := WriteMessage(&buf, OpRequestVote, req); err != nil {
		t.Fatalf("write: %v", err)
	}
	hdr, err := ReadHeader(&buf)
	if err != nil {
		t.Fatalf("read header: %v", err)
	}
	if hdr.OpCode != OpRequestVote {
		t.Fatalf("opcode = %v, want %v", hdr.OpCode, OpRequestVote)
	}
	var got RequestVoteRequest
	if err := ReadBody(&buf, hdr.Length, &got); err != nil {
		t.Fatalf("read body: %v", err)
	}
	if got != req {
		t.Fatalf("got %+v, want %+v", got, req)
	}
}
