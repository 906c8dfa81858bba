package cryptox

import (
	"crypto/sha256"
	"encoding/hex"
)

// DigestHex returns the SHA-256 digest of data as a lowercase hex string.
func DigestHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
