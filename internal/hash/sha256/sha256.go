// Package sha256 derives stable record identifiers.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Hasher implements crawler.Hasher using SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash hashes the input and returns a hex digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// HashFields hashes fields joined by NUL, so ("ab", "c") and ("a", "bc")
// produce different digests.
func (h *Hasher) HashFields(fields ...string) (string, error) {
	return h.Hash([]byte(strings.Join(fields, "\x00")))
}
