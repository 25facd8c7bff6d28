package accessory

import (
	"encoding/json"
	"fmt"
)

const (
	statusSuccess = "success"
	statusError   = "error"
)

type wireResult struct {
	Status string          `json:"status"`
	Body   json.RawMessage `json:"body"`
}

// MarshalResult encodes the outcome of a call. A non-empty failure wins over
// body; a nil body encodes as JSON null.
//
//	{"status": "success", "body": {"name": "on-off", "on": true}}
//	{"status": "error", "body": "not-connected"}
func MarshalResult(body any, failure Error) (json.RawMessage, error) {
	var w wireResult
	var err error
	if failure != "" {
		w.Status = statusError
		w.Body, err = json.Marshal(string(failure))
	} else {
		w.Status = statusSuccess
		w.Body, err = json.Marshal(body)
	}
	if err != nil {
		return nil, fmt.Errorf("encoding result body: %w", err)
	}
	return json.Marshal(w)
}

// UnmarshalResult decodes a result object. On success it returns the raw
// body for the caller to decode; on failure it returns the accessory Error.
func UnmarshalResult(data []byte) (body json.RawMessage, failure Error, err error) {
	var w wireResult
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrInvalidResult, err)
	}
	switch w.Status {
	case statusSuccess:
		return w.Body, "", nil
	case statusError:
		var kind string
		if err := json.Unmarshal(w.Body, &kind); err != nil {
			return nil, "", fmt.Errorf("%w: error body must be a string", ErrInvalidResult)
		}
		failure, err := ParseError(kind)
		if err != nil {
			return nil, "", err
		}
		return nil, failure, nil
	case "":
		return nil, "", fmt.Errorf("%w: status is required", ErrInvalidResult)
	default:
		return nil, "", fmt.Errorf("%w: unknown status %q", ErrInvalidResult, w.Status)
	}
}
