package util

import (
	"crypto/sha256"
	"encoding/hex"
)

// Signature returns prefix + "-" + full hex SHA-256 of data.
func Signature(prefix string, data []byte) string {
	sum := sha256.Sum256(data)
	return prefix + "-" + hex.EncodeToString(sum[:])
}
