package auth

import (
	"fmt"

	"github.com/google/uuid"
)

// Peer is a configured identity allowed to open a session.
type Peer struct {
	ID           uuid.UUID
	Name         string
	PasswordHash string
}

// Unprotected reports whether the peer has no password configured.
// Such peers are accepted with any password.
func (p Peer) Unprotected() bool {
	return p.PasswordHash == ""
}

// Authenticate checks password against the peer's stored hash.
func (p Peer) Authenticate(password string) error {
	if p.Unprotected() {
		return nil
	}
	ok, err := VerifyPassword(password, p.PasswordHash)
	if err != nil {
		return fmt.Errorf("peer %s: %w", p.ID, err)
	}
	if !ok {
		return ErrPasswordMismatch
	}
	return nil
}

// Directory maps peer IDs to their credentials. It is built once from
// configuration and only read afterwards.
type Directory map[uuid.UUID]Peer

// NewDirectory indexes peers by ID. Duplicate IDs are rejected.
func NewDirectory(peers ...Peer) (Directory, error) {
	d := make(Directory, len(peers))
	for _, p := range peers {
		if p.ID == uuid.Nil {
			return nil, fmt.Errorf("peer %q: nil id", p.Name)
		}
		if _, dup := d[p.ID]; dup {
			return nil, fmt.Errorf("peer %s: duplicate id", p.ID)
		}
		d[p.ID] = p
	}
	return d, nil
}

// Lookup returns the peer with the given ID.
func (d Directory) Lookup(id uuid.UUID) (Peer, bool) {
	p, ok := d[id]
	return p, ok
}
