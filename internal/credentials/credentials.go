package credentials

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/crypto/pbkdf2"
)

const (
	defaultSaltBytes = 16
	iterations       = 10000
	keyLength        = 64
)

var (
	// ErrMissingPassword indicates a hash was requested for an empty password.
	ErrMissingPassword = errors.New("password is required")
	// ErrMissingSalt indicates a hash was requested without a salt.
	ErrMissingSalt = errors.New("salt is required")
)

// Engine derives and verifies salted password hashes using
// PBKDF2-SHA256 with 10000 iterations and a 64-byte key.
type Engine struct {
	// slots bounds concurrent key derivations so a burst of logins
	// cannot monopolize every core.
	slots chan struct{}
}

func NewEngine() *Engine {
	n := runtime.GOMAXPROCS(0)
	if n < 1 {
		n = 1
	}
	return &Engine{slots: make(chan struct{}, n)}
}

// MakeSalt returns byteSize cryptographically random bytes, base64-encoded.
// A byteSize of zero or less falls back to 16 bytes.
func (e *Engine) MakeSalt(byteSize int) (string, error) {
	if byteSize <= 0 {
		byteSize = defaultSaltBytes
	}
	buf := make([]byte, byteSize)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}

// Hash derives the stored hash for password under the given base64 salt.
// Deterministic: the same inputs always yield the same output.
func (e *Engine) Hash(password, salt string) (string, error) {
	if password == "" {
		return "", ErrMissingPassword
	}
	if salt == "" {
		return "", ErrMissingSalt
	}
	rawSalt, err := base64.StdEncoding.DecodeString(salt)
	if err != nil {
		return "", fmt.Errorf("decode salt: %w", err)
	}

	e.slots <- struct{}{}
	key := pbkdf2.Key([]byte(password), rawSalt, iterations, keyLength, sha256.New)
	<-e.slots

	return base64.StdEncoding.EncodeToString(key), nil
}

// Authenticate recomputes the hash for password under salt and compares
// it to storedHash in constant time.
func (e *Engine) Authenticate(password, storedHash, salt string) bool {
	computed, err := e.Hash(password, salt)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(computed), []byte(storedHash)) == 1
}
