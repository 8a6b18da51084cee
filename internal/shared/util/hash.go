package util

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashUploaderKey returns a filesystem-safe identifier for an uploader ID.
func HashUploaderKey(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
