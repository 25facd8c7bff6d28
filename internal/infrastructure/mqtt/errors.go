package mqtt

import "errors"

var (
	ErrNotConnected     = errors.New("mqtt: client not connected")
	ErrConnectionFailed = errors.New("mqtt: connection failed")
	ErrPublishFailed    = errors.New("mqtt: publish failed")
	ErrSubscribeFailed  = errors.New("mqtt: subscribe failed")
	ErrPayloadTooLarge  = errors.New("mqtt: payload too large")
	ErrInvalidQoS       = errors.New("mqtt: QoS must be 0, 1 or 2")

	// ErrInvalidTopic is returned for an empty topic or one that does not
	// follow the houseflow topic layout.
	ErrInvalidTopic = errors.New("mqtt: invalid topic")
)
