// Package codec implements the fabric wire framing: a 4-byte big-endian
// length prefix followed by a UTF-8 JSON object payload.
package codec

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// MaxFrameSize bounds a single frame's payload length. Frames larger than
// this are treated as a framing failure.
const MaxFrameSize = 16 << 20 // 16 MiB

// ErrConnectionClosed signals an orderly peer shutdown (zero-byte read at
// a frame boundary), not a framing error.
var ErrConnectionClosed = errors.New("codec: connection closed")

// ErrFrameTooLarge signals a length prefix of zero or one exceeding
// MaxFrameSize.
var ErrFrameTooLarge = errors.New("codec: frame exceeds maximum size")

// ReadFrame blocks until one full frame has arrived, decodes its JSON
// payload into v, and returns. It distinguishes an orderly shutdown
// (ErrConnectionClosed) from a framing failure (any other error); callers
// must close the connection without a response on any non-nil error other
// than ErrConnectionClosed only after checking — framing failures and
// orderly shutdown both mean "stop reading", but only a framing failure
// should ever be logged as unexpected.
func ReadFrame(r io.Reader, v any) error {
	payload, err := ReadFramePayload(r)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("codec: invalid JSON payload: %w", err)
	}
	return nil
}

// ReadFramePayload reads one frame and returns its raw payload bytes,
// performing only the length-prefix and read-to-completion work; callers
// that need typed decoding should use ReadFrame.
func ReadFramePayload(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if err := readExact(r, lenBuf[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length == 0 || length > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	payload := make([]byte, length)
	if err := readFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// readExact reads len(buf) bytes, treating a zero-byte read at the very
// first byte as an orderly shutdown and any short read thereafter as a
// framing failure (the peer closed mid-frame).
func readExact(r io.Reader, buf []byte) error {
	n, err := io.ReadFull(r, buf)
	if n == 0 && errors.Is(err, io.EOF) {
		return ErrConnectionClosed
	}
	if err != nil {
		return fmt.Errorf("codec: short read: %w", err)
	}
	return nil
}

// readFull reads exactly len(buf) bytes once a nonzero length has already
// been committed to — any EOF here is a framing failure, never orderly.
func readFull(r io.Reader, buf []byte) error {
	if _, err := io.ReadFull(r, buf); err != nil {
		return fmt.Errorf("codec: short read: %w", err)
	}
	return nil
}

// WriteFrame marshals v to JSON and writes length||payload as one frame.
func WriteFrame(w io.Writer, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("codec: marshal payload: %w", err)
	}
	if len(payload) == 0 || len(payload) > MaxFrameSize {
		return ErrFrameTooLarge
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("codec: write length prefix: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("codec: write payload: %w", err)
	}
	return nil
}
