package auth

import "errors"

var (
	// ErrInvalidHash is returned when a stored hash is not an Argon2id PHC string.
	ErrInvalidHash = errors.New("auth: invalid password hash")

	// ErrEmptyPassword is returned when hashing an empty password.
	ErrEmptyPassword = errors.New("auth: empty password")

	// ErrPasswordMismatch is returned by Authenticate for a wrong password.
	ErrPasswordMismatch = errors.New("auth: password mismatch")
)
