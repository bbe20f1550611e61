package main

import (
	"bytes"
	"log"
	"os"
	"testing"
	"time"
)

// withTestServer starts a real Server bound to a throwaway runtime
// directory (via AMUX_HOME) and returns it; shutdown is registered
// with t.Cleanup.
func withTestServer(t *testing.T) *Server {
	t.Helper()
	t.Setenv("AMUX_HOME", t.TempDir())

	srv, err := NewServer(log.New(os.Stderr, "test: ", 0))
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	go srv.Serve()
	t.Cleanup(func() {
		srv.Shutdown()
		<-srv.Done()
	})
	return srv
}

func TestServer_PingPong(t *testing.T) {
	withTestServer(t)

	resp, err := roundTrip(PingRequest{})
	if err != nil {
		t.Fatalf("roundTrip: %v", err)
	}
	if _, ok := resp.(PongResponse); !ok {
		t.Fatalf("expected PongResponse, got %T", resp)
	}
}

func TestServer_CreateListKill(t *testing.T) {
	withTestServer(t)

	resp, err := roundTrip(CreateSessionRequest{Command: []string{"sleep", "5"}, Rows: 24, Cols: 80})
	if err != nil {
		t.Fatalf("roundTrip create: %v", err)
	}
	created, ok := resp.(SessionCreatedResponse)
	if !ok {
		t.Fatalf("expected SessionCreatedResponse, got %T (%#v)", resp, resp)
	}
	if created.Name != "session-1" {
		t.Fatalf("expected auto-assigned session-1, got %s", created.Name)
	}

	resp, err = roundTrip(ListSessionsRequest{})
	if err != nil {
		t.Fatalf("roundTrip list: %v", err)
	}
	list, ok := resp.(SessionListResponse)
	if !ok {
		t.Fatalf("expected SessionListResponse, got %T", resp)
	}
	found := false
	for _, e := range list.Entries {
		if e.Name == created.Name {
			found = true
			if !e.Alive {
				t.Fatal("expected freshly created session to be alive")
			}
		}
	}
	if !found {
		t.Fatal("created session missing from list")
	}

	resp, err = roundTrip(KillSessionRequest{Name: created.Name})
	if err != nil {
		t.Fatalf("roundTrip kill: %v", err)
	}
	if _, ok := resp.(OkResponse); !ok {
		t.Fatalf("expected OkResponse, got %T (%#v)", resp, resp)
	}
}

func TestServer_KillUnknownSessionReturnsError(t *testing.T) {
	withTestServer(t)

	resp, err := roundTrip(KillSessionRequest{Name: "nope"})
	if err != nil {
		t.Fatalf("roundTrip: %v", err)
	}
	if _, ok := resp.(ErrorResponse); !ok {
		t.Fatalf("expected ErrorResponse, got %T", resp)
	}
}

func TestServer_AttachReplaysScrollback(t *testing.T) {
	withTestServer(t)

	resp, err := roundTrip(CreateSessionRequest{Name: "t1", Command: []string{"cat"}, Rows: 24, Cols: 80})
	if err != nil {
		t.Fatalf("roundTrip create: %v", err)
	}
	if _, ok := resp.(SessionCreatedResponse); !ok {
		t.Fatalf("expected SessionCreatedResponse, got %T", resp)
	}

	if _, err := roundTrip(SendTextRequest{Name: "t1", Text: "hello\n"}); err != nil {
		t.Fatalf("roundTrip send: %v", err)
	}
	time.Sleep(200 * time.Millisecond) // let the echo land in scrollback

	conn, err := dialSocket()
	if err != nil {
		t.Fatalf("dialSocket: %v", err)
	}
	defer conn.Close()

	if err := WriteFrame(conn, EncodeRequest(AttachRequest{Name: "t1", Rows: 24, Cols: 80})); err != nil {
		t.Fatalf("WriteFrame attach: %v", err)
	}
	payload, err := ReadFrame(conn)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	out, ok := DecodeResponse(payload).(OutputResponse)
	if !ok {
		t.Fatalf("expected first attach frame to be OutputResponse, got %#v", DecodeResponse(payload))
	}
	if !bytes.Contains(out.Bytes, []byte("hello")) {
		t.Fatalf("expected scrollback replay to contain 'hello', got %q", out.Bytes)
	}

	if err := WriteFrame(conn, EncodeRequest(DetachRequest{})); err != nil {
		t.Fatalf("WriteFrame detach: %v", err)
	}

	roundTrip(KillSessionRequest{Name: "t1"})
}
