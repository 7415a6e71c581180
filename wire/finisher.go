package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// FinisherFrameSize is the fixed payload size of every finishing-attack
// frame.
const FinisherFrameSize = 1024

// finisherLenPrefix is the byte width of the length prefix written before
// every frame on the wire.
const finisherLenPrefix = 4

// WriteFinisherFrame writes one length-prefixed FinisherFrameSize-byte
// frame to w. payload is truncated or zero-padded to FinisherFrameSize.
func WriteFinisherFrame(w io.Writer, payload []byte) error {
	buf := make([]byte, FinisherFrameSize)
	copy(buf, payload)

	lenBuf := make([]byte, finisherLenPrefix)
	binary.BigEndian.PutUint32(lenBuf, uint32(len(buf)))
	if _, err := w.Write(lenBuf); err != nil {
		return err
	}
	_, err := w.Write(buf)
	return err
}

// ReadFinisherFrame reads one length-prefixed frame from r.
func ReadFinisherFrame(r io.Reader) ([]byte, error) {
	lenBuf := make([]byte, finisherLenPrefix)
	if _, err := io.ReadFull(r, lenBuf); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf)
	if n > FinisherFrameSize {
		return nil, fmt.Errorf("wire: finisher frame too large: %d bytes", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
