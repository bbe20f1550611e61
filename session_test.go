package main

import (
	"bytes"
	"testing"
	"time"
)

func TestSession_EchoRoundTrip(t *testing.T) {
	s, err := spawn("t1", []string{"cat"}, 24, 80)
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	defer s.Kill()

	sub := s.Subscribe()
	defer sub.Unsubscribe()

	s.SendInput([]byte("hello\n"))

	select {
	case chunk := <-sub.Chunks:
		if !bytes.Contains(chunk, []byte("hello")) {
			t.Fatalf("expected echoed 'hello', got %q", chunk)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for echoed output")
	}
}

func TestSession_ScrollbackCapturesOutput(t *testing.T) {
	s, err := spawn("t2", []string{"sh", "-c", "printf AAAA; sleep 5"}, 24, 80)
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	defer s.Kill()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if bytes.Contains(s.ScrollbackSnapshot(), []byte("AAAA")) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("scrollback never captured 'AAAA'")
}

func TestSession_KillReapsChild(t *testing.T) {
	s, err := spawn("t3", []string{"sleep", "30"}, 24, 80)
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if !s.IsAlive() {
		t.Fatal("expected session to be alive immediately after spawn")
	}

	s.Kill()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if !s.IsAlive() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("session did not die within the grace window")
}

func TestSession_ZeroLengthInputIsNoOp(t *testing.T) {
	s, err := spawn("t4", []string{"cat"}, 24, 80)
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	defer s.Kill()

	sub := s.Subscribe()
	defer sub.Unsubscribe()

	s.SendInput(nil)
	s.SendInput([]byte("ping\n"))

	select {
	case chunk := <-sub.Chunks:
		if !bytes.Contains(chunk, []byte("ping")) {
			t.Fatalf("expected 'ping', got %q", chunk)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for output after zero-length input")
	}
}
