// Package sha256 derives stable storage keys from URLs and host origins.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Key returns the hex SHA-256 digest of s.
func Key(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// FileName returns Key(s) with a .json suffix, the name used for one stored
// record.
func FileName(s string) string {
	return Key(s) + ".json"
}
