package accessory

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Error is the business-level outcome of a characteristic call. It is
// returned to callers verbatim and travels over the wire as its kebab-case
// value.
type Error string

// Accessory errors.
const (
	ErrNotConnected               Error = "not-connected"
	ErrCharacteristicReadOnly     Error = "characteristic-read-only"
	ErrCharacteristicWriteOnly    Error = "characteristic-write-only"
	ErrCharacteristicNotSupported Error = "characteristic-not-supported"
	ErrServiceNotSupported        Error = "service-not-supported"

	// ErrTimeout means a bounded wait for a result expired. It is distinct
	// from ErrNotConnected so callers can target retries.
	ErrTimeout Error = "timeout"
)

func (e Error) Error() string {
	return "accessory: " + strings.ReplaceAll(string(e), "-", " ")
}

// HTTPStatus maps the error onto an HTTP response status.
func (e Error) HTTPStatus() int {
	switch e {
	case ErrNotConnected:
		return http.StatusServiceUnavailable
	case ErrTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadRequest
	}
}

// ParseError converts a wire value into an Error.
func ParseError(s string) (Error, error) {
	switch e := Error(s); e {
	case ErrNotConnected, ErrCharacteristicReadOnly, ErrCharacteristicWriteOnly,
		ErrCharacteristicNotSupported, ErrServiceNotSupported, ErrTimeout:
		return e, nil
	default:
		return "", fmt.Errorf("%w: unknown error kind %q", ErrInvalidResult, s)
	}
}

// AsError extracts the accessory Error from an error chain.
func AsError(err error) (Error, bool) {
	var e Error
	if errors.As(err, &e) {
		return e, true
	}
	return "", false
}

// Validation errors.
var (
	// ErrInvalidAccessory is returned when an accessory descriptor fails validation.
	ErrInvalidAccessory = errors.New("accessory: invalid accessory")

	// ErrInvalidCharacteristic is returned when a characteristic object is malformed.
	ErrInvalidCharacteristic = errors.New("accessory: invalid characteristic")

	// ErrInvalidResult is returned when a result object is malformed.
	ErrInvalidResult = errors.New("accessory: invalid result")
)
