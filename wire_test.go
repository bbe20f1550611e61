package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestWriteReadFrame_RoundTrip(t *testing.T) {
	cases := [][]byte{
		nil,
		[]byte("hello"),
		bytes.Repeat([]byte{0x42}, 1024),
		bytes.Repeat([]byte{0x01}, maxFrameSize),
	}
	for _, payload := range cases {
		buf := new(bytes.Buffer)
		if err := WriteFrame(buf, payload); err != nil {
			t.Fatalf("WriteFrame(%d bytes): %v", len(payload), err)
		}
		got, err := ReadFrame(buf)
		if err != nil {
			t.Fatalf("ReadFrame(%d bytes): %v", len(payload), err)
		}
		if !bytes.Equal(got, payload) {
			t.Fatalf("round trip mismatch for %d byte payload", len(payload))
		}
	}
}

func TestWriteFrame_RejectsOversizePayload(t *testing.T) {
	buf := new(bytes.Buffer)
	payload := bytes.Repeat([]byte{0x01}, maxFrameSize+1)
	err := WriteFrame(buf, payload)
	if err == nil {
		t.Fatal("expected error for oversize payload")
	}
	if _, ok := err.(*ProtocolError); !ok {
		t.Fatalf("expected *ProtocolError, got %T", err)
	}
}

func TestReadFrame_RejectsOversizeLength(t *testing.T) {
	r := strings.NewReader("\x00\x20\x00\x01trailing-garbage-that-should-not-be-consumed")
	_, err := ReadFrame(r)
	if err == nil {
		t.Fatal("expected error for oversize advertised length")
	}
	if _, ok := err.(*ProtocolError); !ok {
		t.Fatalf("expected *ProtocolError, got %T", err)
	}
}

func TestReadFrame_TruncatedHeader(t *testing.T) {
	r := strings.NewReader("\x00\x00")
	_, err := ReadFrame(r)
	if err == nil {
		t.Fatal("expected error for truncated header")
	}
}

func TestReadFrame_TruncatedPayload(t *testing.T) {
	r := strings.NewReader("\x00\x00\x00\x05ab")
	_, err := ReadFrame(r)
	if err == nil {
		t.Fatal("expected error for truncated payload")
	}
}

func TestReadFrame_ExactlyAtLimitAccepted(t *testing.T) {
	buf := new(bytes.Buffer)
	payload := bytes.Repeat([]byte{0x07}, maxFrameSize)
	if err := WriteFrame(buf, payload); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	got, err := ReadFrame(buf)
	if err != nil {
		t.Fatalf("ReadFrame at exactly the limit should succeed: %v", err)
	}
	if len(got) != maxFrameSize {
		t.Fatalf("expected %d bytes, got %d", maxFrameSize, len(got))
	}
}
