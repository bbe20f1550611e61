package main

import (
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
)

// killGrace is the pause between SIGHUP and SIGKILL during Kill, per
// §5/§9. The source does not pin this value; 250ms is the spec's
// suggested default, kept as a var so tests can shorten it.
var killGrace = 250 * time.Millisecond

// Session is the in-memory record for one PTY child, per §3. Its
// fields are reached only through its sinks (SendInput, Resize, Kill)
// and read-only accessors — the registry never touches the PTY master
// directly (§9 "cyclic references avoided").
type Session struct {
	Name    string
	Command []string

	ptmx *os.File
	cmd  *exec.Cmd

	input  chan []byte
	resize chan winsize
	kill   chan struct{}
	killOnce sync.Once

	broadcast  *Broadcast
	scrollback *Scrollback

	mu    sync.RWMutex
	alive bool
	pid   int
}

type winsize struct {
	rows, cols int
}

// spawn performs the spawn contract of §4.3: allocate a PTY, fork+exec
// argv under it, and start the I/O engine. The child's stdin/stdout/
// stderr are the PTY slave; the parent retains only the master.
func spawn(name string, argv []string, rows, cols int) (*Session, error) {
	if len(argv) == 0 {
		return nil, &SpawnFailedError{Reason: "empty command"}
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = childEnv()

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
	if err != nil {
		return nil, &SpawnFailedError{Reason: err.Error()}
	}

	s := &Session{
		Name:       name,
		Command:    append([]string(nil), argv...),
		ptmx:       ptmx,
		cmd:        cmd,
		input:      make(chan []byte, 256),
		resize:     make(chan winsize, 4),
		kill:       make(chan struct{}),
		broadcast:  NewBroadcast(),
		scrollback: NewScrollback(),
		alive:      true,
		pid:        cmd.Process.Pid,
	}

	outputDone := make(chan struct{})
	go s.pumpOutput(outputDone)
	go s.engine(outputDone)

	return s, nil
}

// childEnv builds the child's environment per §6: inherit the daemon's
// environment unchanged (which already carries TERM), with PWD pinned
// to the current directory at spawn time.
func childEnv() []string {
	env := os.Environ()
	if cwd, err := os.Getwd(); err == nil {
		env = append(env, "PWD="+cwd)
	}
	return env
}

// pumpOutput is arm 1 of the I/O engine: PTY -> outside. Every chunk
// read is appended to scrollback and published to the broadcast. EOF
// or a read error ends this arm and signals done.
func (s *Session) pumpOutput(done chan<- struct{}) {
	defer close(done)
	buf := make([]byte, 32*1024)
	for {
		n, err := s.ptmx.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.scrollback.Append(chunk)
			s.broadcast.Publish(chunk)
		}
		if err != nil {
			return
		}
	}
}

// engine drives arms 2-4 (outside->PTY, resize, kill) plus reaping once
// arm 1 signals done, per §4.3/§9. It owns the PTY master exclusively
// for writes and control operations; the registry never reaches it.
func (s *Session) engine(outputDone <-chan struct{}) {
	for {
		select {
		case data := <-s.input:
			if len(data) == 0 {
				continue // zero-length AttachInput is a no-op, §8
			}
			if _, err := s.ptmx.Write(data); err != nil {
				s.requestKill()
			}

		case ws := <-s.resize:
			_ = pty.Setsize(s.ptmx, &pty.Winsize{Rows: uint16(ws.rows), Cols: uint16(ws.cols)})

		case <-s.kill:
			s.signalChild(syscall.SIGHUP)
			grace := time.NewTimer(killGrace)
			select {
			case <-outputDone:
				grace.Stop()
			case <-grace.C:
				s.signalChild(syscall.SIGKILL)
				<-outputDone
			}
			s.finish()
			return

		case <-outputDone:
			s.finish()
			return
		}
	}
}

func (s *Session) signalChild(sig syscall.Signal) {
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Signal(sig)
	}
}

// finish reaps the child, marks the session dead, and drops the
// broadcast so attached clients observe end-of-stream (§3).
func (s *Session) finish() {
	s.cmd.Wait()
	s.ptmx.Close()
	s.mu.Lock()
	s.alive = false
	s.mu.Unlock()
	s.broadcast.Close()
}

// requestKill is the internal equivalent of Kill(), used when a write
// error indicates the PTY is no longer usable.
func (s *Session) requestKill() {
	s.killOnce.Do(func() { close(s.kill) })
}

// SendInput enqueues bytes for the PTY's write side. For a live
// session the channel is ordered and lossless: this call blocks if the
// engine is not draining fast enough, rather than dropping bytes. Once
// the session has died the engine no longer drains the channel at all,
// so a full queue is treated as the dropped-silently case from §9 Open
// Question (a) instead of blocking the caller forever.
func (s *Session) SendInput(data []byte) {
	select {
	case s.input <- data:
	default:
		if !s.IsAlive() {
			return
		}
		s.input <- data
	}
}

// Resize enqueues a window-size change.
func (s *Session) Resize(rows, cols int) {
	s.resize <- winsize{rows: rows, cols: cols}
}

// Kill delivers the one-shot kill signal. Safe to call more than once.
func (s *Session) Kill() {
	s.requestKill()
}

// Subscribe returns a fresh consumer of this session's output
// broadcast, per §4.3 attach semantics.
func (s *Session) Subscribe() *Subscriber {
	return s.broadcast.Subscribe()
}

// ScrollbackSnapshot returns the current scrollback contents.
func (s *Session) ScrollbackSnapshot() []byte {
	return s.scrollback.Snapshot()
}

// IsAlive reports whether the child has not yet been reaped.
func (s *Session) IsAlive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.alive
}

// Info returns a point-in-time SessionInfo snapshot for listing.
func (s *Session) Info() SessionInfo {
	return SessionInfo{
		Name:    s.Name,
		Command: s.Command,
		Pid:     s.pid,
		Alive:   s.IsAlive(),
	}
}
