package main

import (
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// Server owns the listening socket and the registry, and implements
// the accept/dispatch/attach-upgrade loop of §4.5.
type Server struct {
	registry *Registry
	listener net.Listener
	logger   *log.Logger

	reaperStop   chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}
}

// NewServer binds the Unix-domain socket at the §6 path and wires a
// fresh registry. The caller must call Serve to start accepting.
func NewServer(logger *log.Logger) (*Server, error) {
	if err := ensureRuntimeDir(); err != nil {
		return nil, &IoError{Reason: fmt.Sprintf("create runtime dir: %v", err)}
	}
	os.Remove(socketPath())

	ln, err := net.Listen("unix", socketPath())
	if err != nil {
		return nil, &IoError{Reason: fmt.Sprintf("listen on %s: %v", socketPath(), err)}
	}
	os.Chmod(socketPath(), 0600)

	if err := writePidFile(os.Getpid()); err != nil {
		ln.Close()
		return nil, &IoError{Reason: fmt.Sprintf("write pid file: %v", err)}
	}

	return &Server{
		registry:   NewRegistry(),
		listener:   ln,
		logger:     logger,
		reaperStop: make(chan struct{}),
		done:       make(chan struct{}),
	}, nil
}

// Serve accepts connections until the listener is closed by Shutdown.
func (srv *Server) Serve() {
	go srv.registry.RunReaper(srv.reaperStop)
	srv.logger.Printf("listening on %s", socketPath())

	for {
		conn, err := srv.listener.Accept()
		if err != nil {
			return
		}
		go srv.handleConn(conn)
	}
}

// WaitSignals installs SIGTERM/SIGINT handling that triggers an
// orderly Shutdown, matching the daemon's external kill-server path.
func (srv *Server) WaitSignals() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		srv.logger.Printf("received %s, shutting down", sig)
		srv.Shutdown()
	}()
}

// Done reports when shutdown has fully completed.
func (srv *Server) Done() <-chan struct{} { return srv.done }

// Shutdown performs the orderly teardown of §4.5/§5: stop accepting,
// kill every session, await reaping, remove the socket and PID files.
// Idempotent.
func (srv *Server) Shutdown() {
	srv.shutdownOnce.Do(func() {
		srv.listener.Close()
		close(srv.reaperStop)
		srv.registry.KillAll()
		srv.awaitReap(2 * time.Second)
		os.Remove(socketPath())
		os.Remove(pidPath())
		srv.logger.Printf("daemon stopped")
		close(srv.done)
	})
}

// awaitReap polls until every session has been reaped or timeout
// elapses, so KillServer's effects (§8 scenario 6) are visible before
// the socket disappears.
func (srv *Server) awaitReap(timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for {
		srv.registry.Reap()
		anyAlive := false
		for _, info := range srv.registry.List() {
			if info.Alive {
				anyAlive = true
				break
			}
		}
		if !anyAlive || time.Now().After(deadline) {
			return
		}
		time.Sleep(25 * time.Millisecond)
	}
}

// handleConn decodes exactly one request and replies, except for
// Attach which upgrades the connection to bidirectional streaming
// until Detach, SessionEnded, or disconnect (§4.5).
func (srv *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	payload, err := ReadFrame(conn)
	if err != nil {
		srv.logger.Printf("%v", err)
		return
	}
	req, err := DecodeRequest(payload)
	if err != nil {
		srv.logger.Printf("%v", err)
		srv.replyErr(conn, err)
		return
	}

	switch r := req.(type) {
	case PingRequest:
		WriteFrame(conn, EncodeResponse(PongResponse{}))

	case CreateSessionRequest:
		sess, err := srv.registry.Create(r.Name, r.Command, r.Rows, r.Cols)
		if err != nil {
			srv.replyErr(conn, err)
			return
		}
		srv.logger.Printf("session created: %s (pid %d, cmd=%v)", sess.Name, sess.pid, sess.Command)
		WriteFrame(conn, EncodeResponse(SessionCreatedResponse{Name: sess.Name}))

	case ListSessionsRequest:
		WriteFrame(conn, EncodeResponse(SessionListResponse{Entries: srv.registry.List()}))

	case KillSessionRequest:
		if err := srv.registry.Kill(r.Name); err != nil {
			srv.replyErr(conn, err)
			return
		}
		srv.logger.Printf("session killed: %s", r.Name)
		WriteFrame(conn, EncodeResponse(OkResponse{}))

	case SendTextRequest:
		sess, err := srv.registry.Lookup(r.Name)
		if err != nil {
			srv.replyErr(conn, err)
			return
		}
		sess.SendInput([]byte(r.Text))
		WriteFrame(conn, EncodeResponse(OkResponse{}))

	case AttachRequest:
		srv.handleAttach(conn, r)

	case KillServerRequest:
		WriteFrame(conn, EncodeResponse(OkResponse{}))
		go srv.Shutdown()

	default:
		srv.replyErr(conn, &ProtocolError{Reason: fmt.Sprintf("unexpected request outside attach: %T", req)})
	}
}

// handleAttach implements §4.3's attach semantics: subscribe, replay
// scrollback, then forward broadcast chunks to the client while
// forwarding the client's input/resize/detach frames to the session.
func (srv *Server) handleAttach(conn net.Conn, req AttachRequest) {
	sess, err := srv.registry.Lookup(req.Name)
	if err != nil {
		srv.replyErr(conn, err)
		return
	}
	if !sess.IsAlive() {
		WriteFrame(conn, EncodeResponse(SessionEndedResponse{}))
		return
	}

	// Initial rows/cols apply before any output is forwarded, §4.3.
	sess.Resize(req.Rows, req.Cols)

	sub := sess.Subscribe()
	defer sub.Unsubscribe()

	if err := WriteFrame(conn, EncodeResponse(OutputResponse{Bytes: sess.ScrollbackSnapshot()})); err != nil {
		return
	}

	stop := make(chan struct{})
	outboundDone := make(chan struct{})
	go func() {
		defer close(outboundDone)
		for {
			select {
			case <-stop:
				return
			case chunk, ok := <-sub.Chunks:
				if !ok {
					WriteFrame(conn, EncodeResponse(SessionEndedResponse{}))
					conn.Close()
					return
				}
				if err := WriteFrame(conn, EncodeResponse(OutputResponse{Bytes: chunk})); err != nil {
					return
				}
			case <-sub.Lagged:
				WriteFrame(conn, EncodeResponse(ErrorResponse{Message: "attach stream lagged, output dropped"}))
				conn.Close()
				return
			}
		}
	}()

	for {
		payload, err := ReadFrame(conn)
		if err != nil {
			break
		}
		inReq, err := DecodeRequest(payload)
		if err != nil {
			break
		}
		switch m := inReq.(type) {
		case AttachInputRequest:
			sess.SendInput(m.Bytes)
		case AttachResizeRequest:
			sess.Resize(m.Rows, m.Cols)
		case DetachRequest:
			close(stop)
			<-outboundDone
			return
		}
	}
	close(stop)
	<-outboundDone
}

func (srv *Server) replyErr(conn net.Conn, err error) {
	WriteFrame(conn, EncodeResponse(ErrorResponse{Message: err.Error()}))
}
