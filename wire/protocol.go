// Package wire defines the binary network protocols hexwar agents speak:
// the internal Raft RPC framing, the UDP combat datagram formats, and the
// finishing-attack stream frames.
//
// RPC Protocol Format:
//
//	[Header (5 bytes)] + [Body (JSON)]
//
// Header:
//   - OpCode (1 byte): operation type.
//   - Length (4 bytes): uint32 big-endian size of Body.
//
// Body:
//   - JSON-encoded payload corresponding to the OpCode.
package wire

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// OpCode identifies an RPC operation on the internal TCP transport.
type OpCode uint8

const (
	OpRequestVote   OpCode = 1
	OpAppendEntries OpCode = 2
	OpProposal      OpCode = 3

	OpReply OpCode = 10
	OpError OpCode = 11
)

// Header is the fixed-size (5 byte) message header.
type Header struct {
	OpCode OpCode
	Length uint32
}

const HeaderSize = 5

// WriteMessage writes an OpCode + JSON body to w.
func WriteMessage(w io.Writer, op OpCode, body interface{}) error {
	var bodyBytes []byte
	var err error
	if body != nil {
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
	}

	if _, err := w.Write([]byte{byte(op)}); err != nil {
		return err
	}
	lenBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(lenBuf, uint32(len(bodyBytes)))
	if _, err := w.Write(lenBuf); err != nil {
		return err
	}
	if len(bodyBytes) > 0 {
		if _, err := w.Write(bodyBytes); err != nil {
			return err
		}
	}
	return nil
}

// ReadHeader reads and decodes a message header from r.
func ReadHeader(r io.Reader) (Header, error) {
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Header{}, err
	}
	return Header{
		OpCode: OpCode(buf[0]),
		Length: binary.BigEndian.Uint32(buf[1:]),
	}, nil
}

// ReadBody decodes length bytes from r as JSON into v.
func ReadBody(r io.Reader, length uint32, v interface{}) error {
	if length == 0 {
		return nil
	}
	lr := io.LimitReader(r, int64(length))
	return json.NewDecoder(lr).Decode(v)
}

// Reply is the generic error-carrying response body for OpError.
type Reply struct {
	Error string `json:"error,omitempty"`
}
