package session

import "errors"

// Session errors. Each one terminates the session that observed it.
var (
	// ErrHeartbeatTimeout is returned when no pong arrived within the ping timeout.
	ErrHeartbeatTimeout = errors.New("session: heartbeat timeout")

	// ErrUnknownFrameID is returned when a result references no pending call.
	ErrUnknownFrameID = errors.New("session: result for unknown frame id")

	// ErrClosedByOwner is the close reason when the owner asked the session to stop.
	ErrClosedByOwner = errors.New("session: closed by owner")

	// ErrTooManyPending is returned when every frame ID is in use.
	ErrTooManyPending = errors.New("session: too many pending calls")

	// ErrBinaryFrame is returned when the peer sends a binary message.
	ErrBinaryFrame = errors.New("session: binary frames are not supported")

	// ErrPeerClosed is returned by Peer.Send once the link has shut down.
	ErrPeerClosed = errors.New("session: peer link closed")

	// ErrInvalidConfig is returned by Config.Validate.
	ErrInvalidConfig = errors.New("session: invalid config")
)
