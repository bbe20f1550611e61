package main

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"
)

// dialSocket connects to the daemon's Unix socket.
func dialSocket() (net.Conn, error) {
	conn, err := net.Dial("unix", socketPath())
	if err != nil {
		return nil, &ServerUnavailableError{Reason: err.Error()}
	}
	return conn, nil
}

// ensureServer starts the daemon if it is not responding, mirroring
// the auto-start behavior §6 requires for `new` and `attach`.
func ensureServer() error {
	if serverResponding() {
		return nil
	}
	return startDaemon()
}

// startDaemon re-execs the current binary as a detached, session-
// leading daemon process and waits for its socket to appear.
func startDaemon() error {
	if pid := readPid(); pid != 0 && processAlive(pid) && serverResponding() {
		return nil
	}
	os.Remove(socketPath())
	if err := ensureRuntimeDir(); err != nil {
		return err
	}

	exePath, err := os.Executable()
	if err != nil {
		return &ServerUnavailableError{Reason: err.Error()}
	}
	cmd := exec.Command(exePath, "__run")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		return &ServerUnavailableError{Reason: err.Error()}
	}
	cmd.Process.Release()

	for i := 0; i < 50; i++ {
		if serverResponding() {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return &ServerUnavailableError{Reason: "daemon did not become ready within 5s"}
}

// stopDaemon sends KillServer and waits for the process to exit.
func stopDaemon() error {
	conn, err := dialSocket()
	if err != nil {
		return &ServerUnavailableError{Reason: "daemon is not running"}
	}
	defer conn.Close()
	if err := WriteFrame(conn, EncodeRequest(KillServerRequest{})); err != nil {
		return err
	}
	payload, err := ReadFrame(conn)
	if err != nil {
		return err
	}
	if _, ok := DecodeResponse(payload).(OkResponse); !ok {
		return &ProtocolError{Reason: "unexpected reply to kill-server"}
	}

	pid := readPid()
	for i := 0; i < 50; i++ {
		if pid == 0 || !processAlive(pid) {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return nil
}

// roundTrip sends one request and decodes one response over a fresh
// connection, the request/response mode from §4.5.
func roundTrip(req ClientRequest) (DaemonResponse, error) {
	conn, err := dialSocket()
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	if err := WriteFrame(conn, EncodeRequest(req)); err != nil {
		return nil, err
	}
	payload, err := ReadFrame(conn)
	if err != nil {
		return nil, err
	}
	return DecodeResponse(payload), nil
}

func doPing() error {
	resp, err := roundTrip(PingRequest{})
	if err != nil {
		return err
	}
	if _, ok := resp.(PongResponse); !ok {
		return &ProtocolError{Reason: "expected Pong"}
	}
	fmt.Println("Pong")
	return nil
}

func doList() error {
	resp, err := roundTrip(ListSessionsRequest{})
	if err != nil {
		return err
	}
	list, ok := resp.(SessionListResponse)
	if !ok {
		return responseError(resp)
	}
	w := bufio.NewWriter(os.Stdout)
	defer w.Flush()
	fmt.Fprintf(w, "%-20s %-8s %-6s %s\n", "NAME", "PID", "ALIVE", "COMMAND")
	for _, e := range list.Entries {
		fmt.Fprintf(w, "%-20s %-8d %-6t %s\n", e.Name, e.Pid, e.Alive, strings.Join(e.Command, " "))
	}
	return nil
}

func doKill(name string) error {
	resp, err := roundTrip(KillSessionRequest{Name: name})
	if err != nil {
		return err
	}
	if _, ok := resp.(OkResponse); !ok {
		return responseError(resp)
	}
	return nil
}

func doSend(name, text string) error {
	resp, err := roundTrip(SendTextRequest{Name: name, Text: text})
	if err != nil {
		return err
	}
	if _, ok := resp.(OkResponse); !ok {
		return responseError(resp)
	}
	return nil
}

func responseError(resp DaemonResponse) error {
	if e, ok := resp.(ErrorResponse); ok {
		return fmt.Errorf("%s", e.Message)
	}
	return &ProtocolError{Reason: fmt.Sprintf("unexpected response %T", resp)}
}

// terminalSize returns the controlling terminal's current size, or a
// sane default if stdout is not a terminal.
func terminalSize() (rows, cols int) {
	if cols, rows, err := term.GetSize(int(os.Stdout.Fd())); err == nil {
		return rows, cols
	}
	return 24, 80
}

// detachPrefix is the Ctrl-B, d key sequence that detaches an attach
// session without affecting it, per §6's CLI table.
var detachPrefix = []byte{0x02, 'd'}

// runAttach implements the `attach -t NAME` CLI surface: it subscribes
// to a session's output, replays scrollback, streams live output to
// stdout, and forwards stdin (and terminal resizes) as input/resize
// frames until Ctrl-B d, SessionEnded, or an I/O error.
func runAttach(name string) error {
	conn, err := dialSocket()
	if err != nil {
		return err
	}
	defer conn.Close()

	rows, cols := terminalSize()
	if err := WriteFrame(conn, EncodeRequest(AttachRequest{Name: name, Rows: rows, Cols: cols})); err != nil {
		return err
	}

	fd := int(os.Stdin.Fd())
	var oldState *term.State
	if term.IsTerminal(fd) {
		oldState, _ = term.MakeRaw(fd)
	}
	restore := func() {
		if oldState != nil {
			term.Restore(fd, oldState)
		}
	}
	defer restore()

	readerDone := make(chan error, 1)
	go func() {
		for {
			payload, err := ReadFrame(conn)
			if err != nil {
				readerDone <- nil
				return
			}
			switch resp := DecodeResponse(payload).(type) {
			case OutputResponse:
				os.Stdout.Write(resp.Bytes)
			case SessionEndedResponse:
				readerDone <- fmt.Errorf("session ended")
				return
			case ErrorResponse:
				readerDone <- fmt.Errorf("%s", resp.Message)
				return
			}
		}
	}()

	resizeCh := make(chan os.Signal, 1)
	signal.Notify(resizeCh, syscall.SIGWINCH)
	defer signal.Stop(resizeCh)
	go func() {
		for range resizeCh {
			rows, cols := terminalSize()
			WriteFrame(conn, EncodeRequest(AttachResizeRequest{Rows: rows, Cols: cols}))
		}
	}()

	writerDone := make(chan error, 1)
	go func() {
		writerDone <- forwardStdin(conn)
	}()

	select {
	case err := <-readerDone:
		return err
	case err := <-writerDone:
		return err
	}
}

// forwardStdin copies stdin to the attach connection as AttachInput
// frames, watching for the Ctrl-B d detach prefix (§6/§9).
func forwardStdin(conn net.Conn) error {
	buf := make([]byte, 4096)
	var pendingPrefix bool
	for {
		n, err := os.Stdin.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if pendingPrefix && chunk[0] == detachPrefix[1] {
				WriteFrame(conn, EncodeRequest(DetachRequest{}))
				return nil
			}
			pendingPrefix = false
			if idx := indexByte(chunk, detachPrefix[0]); idx == len(chunk)-1 {
				pendingPrefix = true
				if idx > 0 {
					WriteFrame(conn, EncodeRequest(AttachInputRequest{Bytes: append([]byte(nil), chunk[:idx]...)}))
				}
				continue
			}
			if err := WriteFrame(conn, EncodeRequest(AttachInputRequest{Bytes: append([]byte(nil), chunk...)})); err != nil {
				return err
			}
		}
		if err != nil {
			return err
		}
	}
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}
