package main

import "fmt"

// The error kinds surfaced across the wire boundary, per §7. Each
// marshals to Error{message} on the wire; only the daemon-side Go code
// distinguishes them structurally.

type NotFoundError struct{ Name string }

func (e *NotFoundError) Error() string { return fmt.Sprintf("no such session: %s", e.Name) }

type AlreadyExistsError struct{ Name string }

func (e *AlreadyExistsError) Error() string { return fmt.Sprintf("session already exists: %s", e.Name) }

type SpawnFailedError struct{ Reason string }

func (e *SpawnFailedError) Error() string { return fmt.Sprintf("spawn failed: %s", e.Reason) }

type ProtocolError struct{ Reason string }

func (e *ProtocolError) Error() string { return fmt.Sprintf("protocol error: %s", e.Reason) }

type IoError struct{ Reason string }

func (e *IoError) Error() string { return fmt.Sprintf("io error: %s", e.Reason) }

type ServerUnavailableError struct{ Reason string }

func (e *ServerUnavailableError) Error() string { return fmt.Sprintf("server unavailable: %s", e.Reason) }
