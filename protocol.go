package main

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Wire tags for each request/response variant (§4.2). The schema
// version is implicit and lock-step between client and daemon
// binaries, as the spec requires — there is no version negotiation.
const (
	tagPing          byte = 0x01
	tagCreateSession byte = 0x02
	tagListSessions  byte = 0x03
	tagKillSession   byte = 0x04
	tagAttach        byte = 0x05
	tagAttachInput   byte = 0x06
	tagAttachResize  byte = 0x07
	tagDetach        byte = 0x08
	tagSendText      byte = 0x09
	tagKillServer    byte = 0x0A

	tagPong          byte = 0x81
	tagOk            byte = 0x82
	tagError         byte = 0x83
	tagSessionCreated byte = 0x84
	tagSessionList   byte = 0x85
	tagOutput        byte = 0x86
	tagSessionEnded  byte = 0x87
)

// --- client -> daemon requests ---

type PingRequest struct{}

type CreateSessionRequest struct {
	Name    string // empty means auto-assign, §4.4
	Command []string
	Rows    int
	Cols    int
}

type ListSessionsRequest struct{}

type KillSessionRequest struct{ Name string }

type AttachRequest struct {
	Name string
	Rows int
	Cols int
}

type AttachInputRequest struct{ Bytes []byte }

type AttachResizeRequest struct {
	Rows int
	Cols int
}

type DetachRequest struct{}

type SendTextRequest struct {
	Name string
	Text string
}

type KillServerRequest struct{}

// ClientRequest is the tagged union of every client->daemon message.
type ClientRequest interface{ clientRequest() }

func (PingRequest) clientRequest()          {}
func (CreateSessionRequest) clientRequest() {}
func (ListSessionsRequest) clientRequest()  {}
func (KillSessionRequest) clientRequest()   {}
func (AttachRequest) clientRequest()        {}
func (AttachInputRequest) clientRequest()   {}
func (AttachResizeRequest) clientRequest()  {}
func (DetachRequest) clientRequest()        {}
func (SendTextRequest) clientRequest()      {}
func (KillServerRequest) clientRequest()    {}

// --- daemon -> client responses ---

type PongResponse struct{}
type OkResponse struct{}
type ErrorResponse struct{ Message string }
type SessionCreatedResponse struct{ Name string }

type SessionInfo struct {
	Name    string
	Command []string
	Pid     int
	Alive   bool
}

type SessionListResponse struct{ Entries []SessionInfo }
type OutputResponse struct{ Bytes []byte }
type SessionEndedResponse struct{}

// DaemonResponse is the tagged union of every daemon->client message.
type DaemonResponse interface{ daemonResponse() }

func (PongResponse) daemonResponse()             {}
func (OkResponse) daemonResponse()                {}
func (ErrorResponse) daemonResponse()             {}
func (SessionCreatedResponse) daemonResponse()    {}
func (SessionListResponse) daemonResponse()       {}
func (OutputResponse) daemonResponse()            {}
func (SessionEndedResponse) daemonResponse()      {}

// --- primitive encode/decode helpers ---

func putString(buf *bytes.Buffer, s string) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(s)))
	buf.Write(lenBuf[:])
	buf.WriteString(s)
}

func putBytes(buf *bytes.Buffer, b []byte) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
	buf.Write(lenBuf[:])
	buf.Write(b)
}

func putUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

type byteReader struct {
	data []byte
	pos  int
}

func (r *byteReader) uint32() (uint32, error) {
	if r.pos+4 > len(r.data) {
		return 0, &ProtocolError{Reason: "truncated uint32"}
	}
	v := binary.BigEndian.Uint32(r.data[r.pos : r.pos+4])
	r.pos += 4
	return v, nil
}

func (r *byteReader) bytes() ([]byte, error) {
	n, err := r.uint32()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	if r.pos+int(n) > len(r.data) {
		return nil, &ProtocolError{Reason: "truncated byte field"}
	}
	out := make([]byte, n)
	copy(out, r.data[r.pos:r.pos+int(n)])
	r.pos += int(n)
	return out, nil
}

func (r *byteReader) string() (string, error) {
	b, err := r.bytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *byteReader) done() bool { return r.pos >= len(r.data) }

// --- request encoding ---

// EncodeRequest serializes a ClientRequest into a frame payload: a tag
// byte followed by the variant's fields in a fixed order.
func EncodeRequest(req ClientRequest) []byte {
	buf := new(bytes.Buffer)
	switch r := req.(type) {
	case PingRequest:
		buf.WriteByte(tagPing)
	case CreateSessionRequest:
		buf.WriteByte(tagCreateSession)
		putString(buf, r.Name)
		putUint32(buf, uint32(len(r.Command)))
		for _, arg := range r.Command {
			putString(buf, arg)
		}
		putUint32(buf, uint32(r.Rows))
		putUint32(buf, uint32(r.Cols))
	case ListSessionsRequest:
		buf.WriteByte(tagListSessions)
	case KillSessionRequest:
		buf.WriteByte(tagKillSession)
		putString(buf, r.Name)
	case AttachRequest:
		buf.WriteByte(tagAttach)
		putString(buf, r.Name)
		putUint32(buf, uint32(r.Rows))
		putUint32(buf, uint32(r.Cols))
	case AttachInputRequest:
		buf.WriteByte(tagAttachInput)
		putBytes(buf, r.Bytes)
	case AttachResizeRequest:
		buf.WriteByte(tagAttachResize)
		putUint32(buf, uint32(r.Rows))
		putUint32(buf, uint32(r.Cols))
	case DetachRequest:
		buf.WriteByte(tagDetach)
	case SendTextRequest:
		buf.WriteByte(tagSendText)
		putString(buf, r.Name)
		putString(buf, r.Text)
	case KillServerRequest:
		buf.WriteByte(tagKillServer)
	default:
		panic(fmt.Sprintf("amux: unencodable request type %T", req))
	}
	return buf.Bytes()
}

func EncodePing() []byte { return EncodeRequest(PingRequest{}) }

// DecodeRequest parses a frame payload produced by EncodeRequest.
// Unknown tags are a hard ProtocolError (§4.2).
func DecodeRequest(payload []byte) (ClientRequest, error) {
	if len(payload) == 0 {
		return nil, &ProtocolError{Reason: "empty request payload"}
	}
	tag := payload[0]
	r := &byteReader{data: payload[1:]}
	switch tag {
	case tagPing:
		return PingRequest{}, nil
	case tagCreateSession:
		name, err := r.string()
		if err != nil {
			return nil, err
		}
		argc, err := r.uint32()
		if err != nil {
			return nil, err
		}
		cmd := make([]string, 0, argc)
		for i := uint32(0); i < argc; i++ {
			arg, err := r.string()
			if err != nil {
				return nil, err
			}
			cmd = append(cmd, arg)
		}
		rows, err := r.uint32()
		if err != nil {
			return nil, err
		}
		cols, err := r.uint32()
		if err != nil {
			return nil, err
		}
		return CreateSessionRequest{Name: name, Command: cmd, Rows: int(rows), Cols: int(cols)}, nil
	case tagListSessions:
		return ListSessionsRequest{}, nil
	case tagKillSession:
		name, err := r.string()
		if err != nil {
			return nil, err
		}
		return KillSessionRequest{Name: name}, nil
	case tagAttach:
		name, err := r.string()
		if err != nil {
			return nil, err
		}
		rows, err := r.uint32()
		if err != nil {
			return nil, err
		}
		cols, err := r.uint32()
		if err != nil {
			return nil, err
		}
		return AttachRequest{Name: name, Rows: int(rows), Cols: int(cols)}, nil
	case tagAttachInput:
		b, err := r.bytes()
		if err != nil {
			return nil, err
		}
		return AttachInputRequest{Bytes: b}, nil
	case tagAttachResize:
		rows, err := r.uint32()
		if err != nil {
			return nil, err
		}
		cols, err := r.uint32()
		if err != nil {
			return nil, err
		}
		return AttachResizeRequest{Rows: int(rows), Cols: int(cols)}, nil
	case tagDetach:
		return DetachRequest{}, nil
	case tagSendText:
		name, err := r.string()
		if err != nil {
			return nil, err
		}
		text, err := r.string()
		if err != nil {
			return nil, err
		}
		return SendTextRequest{Name: name, Text: text}, nil
	case tagKillServer:
		return KillServerRequest{}, nil
	default:
		return nil, &ProtocolError{Reason: fmt.Sprintf("unknown request tag 0x%02x", tag)}
	}
}

// --- response encoding ---

func EncodeResponse(resp DaemonResponse) []byte {
	buf := new(bytes.Buffer)
	switch r := resp.(type) {
	case PongResponse:
		buf.WriteByte(tagPong)
	case OkResponse:
		buf.WriteByte(tagOk)
	case ErrorResponse:
		buf.WriteByte(tagError)
		putString(buf, r.Message)
	case SessionCreatedResponse:
		buf.WriteByte(tagSessionCreated)
		putString(buf, r.Name)
	case SessionListResponse:
		buf.WriteByte(tagSessionList)
		putUint32(buf, uint32(len(r.Entries)))
		for _, e := range r.Entries {
			putString(buf, e.Name)
			putUint32(buf, uint32(len(e.Command)))
			for _, arg := range e.Command {
				putString(buf, arg)
			}
			putUint32(buf, uint32(e.Pid))
			if e.Alive {
				buf.WriteByte(1)
			} else {
				buf.WriteByte(0)
			}
		}
	case OutputResponse:
		buf.WriteByte(tagOutput)
		putBytes(buf, r.Bytes)
	case SessionEndedResponse:
		buf.WriteByte(tagSessionEnded)
	default:
		panic(fmt.Sprintf("amux: unencodable response type %T", resp))
	}
	return buf.Bytes()
}

func DecodeResponse(payload []byte) DaemonResponse {
	resp, err := decodeResponse(payload)
	if err != nil {
		return ErrorResponse{Message: err.Error()}
	}
	return resp
}

func decodeResponse(payload []byte) (DaemonResponse, error) {
	if len(payload) == 0 {
		return nil, &ProtocolError{Reason: "empty response payload"}
	}
	tag := payload[0]
	r := &byteReader{data: payload[1:]}
	switch tag {
	case tagPong:
		return PongResponse{}, nil
	case tagOk:
		return OkResponse{}, nil
	case tagError:
		msg, err := r.string()
		if err != nil {
			return nil, err
		}
		return ErrorResponse{Message: msg}, nil
	case tagSessionCreated:
		name, err := r.string()
		if err != nil {
			return nil, err
		}
		return SessionCreatedResponse{Name: name}, nil
	case tagSessionList:
		n, err := r.uint32()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return SessionListResponse{}, nil
		}
		entries := make([]SessionInfo, 0, n)
		for i := uint32(0); i < n; i++ {
			name, err := r.string()
			if err != nil {
				return nil, err
			}
			argc, err := r.uint32()
			if err != nil {
				return nil, err
			}
			cmd := make([]string, 0, argc)
			for j := uint32(0); j < argc; j++ {
				arg, err := r.string()
				if err != nil {
					return nil, err
				}
				cmd = append(cmd, arg)
			}
			pid, err := r.uint32()
			if err != nil {
				return nil, err
			}
			if r.pos >= len(r.data) {
				return nil, &ProtocolError{Reason: "truncated session entry"}
			}
			alive := r.data[r.pos] != 0
			r.pos++
			entries = append(entries, SessionInfo{Name: name, Command: cmd, Pid: int(pid), Alive: alive})
		}
		return SessionListResponse{Entries: entries}, nil
	case tagOutput:
		b, err := r.bytes()
		if err != nil {
			return nil, err
		}
		return OutputResponse{Bytes: b}, nil
	case tagSessionEnded:
		return SessionEndedResponse{}, nil
	default:
		return nil, &ProtocolError{Reason: fmt.Sprintf("unknown response tag 0x%02x", tag)}
	}
}
