package actor

import "errors"

// ErrClosed is returned by Notify and Call once the actor has exited.
var ErrClosed = errors.New("actor: closed")
