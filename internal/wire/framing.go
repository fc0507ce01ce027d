package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxFrameSize bounds a single BrokerMessage frame. Frames larger than
// this are rejected before the length-prefixed payload is even read, so
// a corrupt or hostile length prefix can't force an unbounded allocation.
const MaxFrameSize = 16 << 20 // 16 MiB

// WriteFrame writes one length-prefixed frame: a 4-byte big-endian
// length followed by payload. One BrokerMessage per frame.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("wire: frame of %d bytes exceeds max %d", len(payload), MaxFrameSize)
	}
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("wire: write frame header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("wire: write frame payload: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame written by WriteFrame.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(header[:])
	if n > MaxFrameSize {
		return nil, fmt.Errorf("wire: frame of %d bytes exceeds max %d", n, MaxFrameSize)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("wire: read frame payload: %w", err)
	}
	return payload, nil
}

// WriteMessage encodes and frames a BrokerMessage onto w in one call.
func WriteMessage(w io.Writer, msg BrokerMessage) error {
	payload, err := EncodeBrokerMessage(msg)
	if err != nil {
		return fmt.Errorf("wire: encode message: %w", err)
	}
	return WriteFrame(w, payload)
}

// ReadMessage reads one frame from r and decodes it as a BrokerMessage.
func ReadMessage(r io.Reader) (BrokerMessage, error) {
	payload, err := ReadFrame(r)
	if err != nil {
		return BrokerMessage{}, err
	}
	return DecodeBrokerMessage(payload)
}
