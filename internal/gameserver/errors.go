package gameserver

import "errors"

var (
	// ErrNotFound covers invalid invitation IDs and unknown usernames.
	ErrNotFound = errors.New("not found")

	// ErrBadState marks an invitation or game state machine precondition
	// violation.
	ErrBadState = errors.New("bad state")

	// ErrDuplicate is returned for a login while already logged in, or a
	// login under a name held by another live client.
	ErrDuplicate = errors.New("duplicate")

	// ErrFull is returned when the client registry is at capacity.
	ErrFull = errors.New("registry full")

	// ErrProtocol marks a malformed request the session answers with a
	// NACK without touching any state.
	ErrProtocol = errors.New("protocol error")
)
