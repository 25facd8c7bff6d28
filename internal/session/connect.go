package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ConnectErrorKind identifies why a connection attempt was refused.
type ConnectErrorKind string

// Refusal kinds sent in the handshake response body.
const (
	ConnectInvalidAuthorizationHeader ConnectErrorKind = "invalid-authorization-header"
	ConnectNotFound                   ConnectErrorKind = "not-found"
	ConnectAlreadyConnected           ConnectErrorKind = "already-connected"
)

// ConnectError is the JSON body of a refused WebSocket handshake.
type ConnectError struct {
	Kind        ConnectErrorKind `json:"error"`
	Description string           `json:"description,omitempty"`
}

// Sentinels for errors.Is. Matching compares Kind only.
var (
	ErrInvalidAuthorizationHeader = &ConnectError{Kind: ConnectInvalidAuthorizationHeader}
	ErrPeerNotFound               = &ConnectError{Kind: ConnectNotFound}
	ErrAlreadyConnected           = &ConnectError{Kind: ConnectAlreadyConnected}
)

// NewConnectError builds a ConnectError with a formatted description.
func NewConnectError(kind ConnectErrorKind, format string, args ...any) *ConnectError {
	return &ConnectError{Kind: kind, Description: fmt.Sprintf(format, args...)}
}

func (e *ConnectError) Error() string {
	if e.Description == "" {
		return "connect: " + string(e.Kind)
	}
	return "connect: " + string(e.Kind) + ": " + e.Description
}

// Is reports whether target is a ConnectError of the same kind.
func (e *ConnectError) Is(target error) bool {
	t, ok := target.(*ConnectError)
	return ok && t.Kind == e.Kind
}

// Status is the HTTP status used when refusing the handshake.
func (e *ConnectError) Status() int {
	switch e.Kind {
	case ConnectInvalidAuthorizationHeader:
		return http.StatusBadRequest
	case ConnectNotFound:
		return http.StatusUnauthorized
	case ConnectAlreadyConnected:
		return http.StatusNotAcceptable
	default:
		return http.StatusInternalServerError
	}
}

// Write sends the refusal as a JSON response.
func (e *ConnectError) Write(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Status())
	//nolint:errcheck // Best-effort body; status already sent
	json.NewEncoder(w).Encode(e)
}

// Credentials identify a peer during the handshake.
type Credentials struct {
	ID       uuid.UUID
	Password string
}

// ParseCredentials reads HTTP Basic credentials whose username is the peer ID.
func ParseCredentials(r *http.Request) (Credentials, error) {
	user, password, ok := r.BasicAuth()
	if !ok {
		return Credentials{}, NewConnectError(ConnectInvalidAuthorizationHeader, "missing or malformed basic authorization")
	}
	id, err := uuid.Parse(user)
	if err != nil {
		return Credentials{}, NewConnectError(ConnectInvalidAuthorizationHeader, "invalid peer id %q", user)
	}
	return Credentials{ID: id, Password: password}, nil
}

// Header returns the Authorization header for these credentials.
func (c Credentials) Header() http.Header {
	token := base64.StdEncoding.EncodeToString([]byte(c.ID.String() + ":" + c.Password))
	h := http.Header{}
	h.Set("Authorization", "Basic "+token)
	return h
}

// Dial opens a WebSocket to url authenticated with creds. A refused
// handshake is returned as a *ConnectError when the server sent one.
func Dial(ctx context.Context, dialer *websocket.Dialer, url string, creds Credentials) (*websocket.Conn, error) {
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, url, creds.Header())
	if err == nil {
		return conn, nil
	}
	if resp != nil && errors.Is(err, websocket.ErrBadHandshake) {
		var refusal ConnectError
		if json.NewDecoder(resp.Body).Decode(&refusal) == nil && refusal.Kind != "" {
			return nil, &refusal
		}
		return nil, fmt.Errorf("dialing %s: %w (status %d)", url, err, resp.StatusCode)
	}
	return nil, fmt.Errorf("dialing %s: %w", url, err)
}
