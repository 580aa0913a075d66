package auth

import (
	"crypto/sha256"
	"encoding/hex"
)

// Digest is the stored form of a token: hex SHA-256 of the presented value.
func Digest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
