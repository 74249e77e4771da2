package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SourceHash returns the hex SHA-256 of a scene's source bytes
func SourceHash(source []byte) string {
	sum := sha256.Sum256(source)
	return hex.EncodeToString(sum[:])
}

// ModelKey returns the key of the model converted from source in the given
// container format
func ModelKey(source []byte, format string) string {
	return "model:" + SourceHash(source) + ":" + strings.ToLower(format)
}
