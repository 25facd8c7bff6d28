package frame

import "errors"

// Protocol errors. Both are fatal to the session that received the frame.
var (
	// ErrUnexpectedFrame is returned for an unknown type or a type not legal
	// on the codec's tier or direction.
	ErrUnexpectedFrame = errors.New("frame: unexpected frame")

	// ErrDecode is returned for malformed JSON or missing required fields.
	ErrDecode = errors.New("frame: decode failure")

	// ErrEncode is returned when a frame cannot be encoded for the codec's tier.
	ErrEncode = errors.New("frame: encode failure")
)
