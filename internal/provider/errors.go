package provider

import "errors"

var (
	// ErrClosed is returned when the provider actor has stopped.
	ErrClosed = errors.New("provider: closed")

	// ErrDuplicateOwner marks an accessory claimed by two peers or providers.
	ErrDuplicateOwner = errors.New("provider: accessory owned twice")
)
