// Package hashing provides the content digest used for blob addressing.
package hashing

import (
	"crypto/sha256"
	"encoding/hex"
)

// HexLength is the length of a digest string returned by Hash.
const HexLength = sha256.Size * 2

// Hash computes the SHA-256 digest of the content's UTF-8 bytes and
// returns it as a lowercase hexadecimal string.
//
// This is the single digest implementation for the whole system: the
// write path, content lookups and API-key comparison must all go
// through it so that stored and recomputed digests never drift.
func Hash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// Valid reports whether s has the shape of a digest produced by Hash
// (64 lowercase hex characters).
func Valid(s string) bool {
	if len(s) != HexLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
