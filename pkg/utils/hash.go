package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// HashParts returns the hex SHA-256 of the parts joined with "|".
// Used to build stable identities from several fields.
func HashParts(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// ShortHash returns the first n hex characters of HashParts(s)
func ShortHash(s string, n int) string {
	h := HashParts(s)
	if n <= 0 || n > len(h) {
		return h
	}
	return h[:n]
}
