package daemon

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"

	"github.com/nerrad567/houseflow-core/internal/auth"
)

// DefaultEnvFile is read before the configuration so that HOUSEFLOW_*
// overrides can live next to the binary.
const DefaultEnvFile = ".env"

// LoadDotEnv loads environment variables from path. Missing files are
// ignored and variables already set in the environment win.
func LoadDotEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// ConfigPath returns the value of envVar if set, otherwise fallback.
func ConfigPath(envVar, fallback string) string {
	if path := os.Getenv(envVar); path != "" {
		return path
	}
	return fallback
}

// HashPassword writes the Argon2id hash of password to w, for pasting
// into a password_hash field.
func HashPassword(w io.Writer, password string) error {
	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}
	_, err = fmt.Fprintln(w, hash)
	return err
}
