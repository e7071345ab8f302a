package identity

import (
	"crypto/sha256"
	"encoding/hex"
)

// ComputeIdentityHash returns the hex-encoded SHA-256 of the UTF-8
// concatenation of email and phone. Either or both may be empty.
func ComputeIdentityHash(email, phone string) string {
	sum := sha256.Sum256([]byte(email + phone))
	return hex.EncodeToString(sum[:])
}
