package main

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// maxFrameSize is the 1 MiB ceiling from §3/§4.1.
const maxFrameSize = 1 << 20

// WriteFrame prepends a 4-byte big-endian length to payload and writes
// both in a single call, so frames from concurrent callers on the same
// stream never interleave mid-frame.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > maxFrameSize {
		return &ProtocolError{Reason: fmt.Sprintf("payload %d bytes exceeds %d byte limit", len(payload), maxFrameSize)}
	}
	buf := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(payload)))
	copy(buf[4:], payload)
	_, err := w.Write(buf)
	if err != nil {
		return &IoError{Reason: err.Error()}
	}
	return nil
}

// ReadFrame reads exactly one frame: a 4-byte length prefix followed by
// that many payload bytes. Oversize lengths are rejected without
// reading the (unread) payload.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, &IoError{Reason: "connection closed before frame header"}
		}
		return nil, &IoError{Reason: err.Error()}
	}
	length := binary.BigEndian.Uint32(header[:])
	if length > maxFrameSize {
		return nil, &ProtocolError{Reason: fmt.Sprintf("advertised length %d exceeds %d byte limit", length, maxFrameSize)}
	}
	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, &IoError{Reason: fmt.Sprintf("truncated frame: %v", err)}
		}
	}
	return payload, nil
}
