package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// argonParams are the Argon2id cost settings recorded in every hash.
type argonParams struct {
	memory  uint32 // KiB
	time    uint32
	threads uint8
}

// defaultParams is what HashPassword uses: 64 MiB, three passes, one lane.
var defaultParams = argonParams{memory: 64 * 1024, time: 3, threads: 1}

const (
	saltLen = 16
	keyLen  = 32
)

var b64 = base64.RawStdEncoding

// HashPassword returns password as an Argon2id PHC string,
// $argon2id$v=19$m=65536,t=3,p=1$<salt>$<key>, ready for a password_hash
// config field.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("auth: reading salt: %w", err)
	}
	p := defaultParams
	key := argon2.IDKey([]byte(password), salt, p.time, p.memory, p.threads, keyLen)
	return p.encode(salt, key), nil
}

// VerifyPassword reports whether password matches encoded, using the cost
// recorded in encoded. A malformed hash yields ErrInvalidHash.
func VerifyPassword(password, encoded string) (bool, error) {
	p, salt, key, err := decodePHC(encoded)
	if err != nil {
		return false, err
	}
	//nolint:gosec // G115: key length comes from a decoded hash and fits uint32
	got := argon2.IDKey([]byte(password), salt, p.time, p.memory, p.threads, uint32(len(key)))
	return subtle.ConstantTimeCompare(key, got) == 1, nil
}

func (p argonParams) encode(salt, key []byte) string {
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, p.memory, p.time, p.threads,
		b64.EncodeToString(salt), b64.EncodeToString(key))
}

func decodePHC(encoded string) (p argonParams, salt, key []byte, err error) {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: "+format, append([]any{ErrInvalidHash}, args...)...)
	}

	// "", "argon2id", "v=19", "m=…,t=…,p=…", salt, key
	f := strings.Split(encoded, "$")
	if len(f) != 6 || f[0] != "" {
		return p, nil, nil, invalid("want 6 $-separated fields, got %d", len(f))
	}
	if f[1] != "argon2id" {
		return p, nil, nil, invalid("algorithm %q", f[1])
	}
	var v int
	if _, err := fmt.Sscanf(f[2], "v=%d", &v); err != nil || v != argon2.Version {
		return p, nil, nil, invalid("version %q", f[2])
	}
	if _, err := fmt.Sscanf(f[3], "m=%d,t=%d,p=%d", &p.memory, &p.time, &p.threads); err != nil {
		return p, nil, nil, invalid("parameters %q", f[3])
	}
	if salt, err = b64.DecodeString(f[4]); err != nil {
		return p, nil, nil, invalid("salt: %v", err)
	}
	if key, err = b64.DecodeString(f[5]); err != nil || len(key) == 0 {
		return p, nil, nil, invalid("key")
	}
	return p, salt, key, nil
}
