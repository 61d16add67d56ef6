package serialization

import (
	"crypto/sha256"
	"encoding/hex"
)

// ComputeChecksum returns the hex SHA-256 digest of data.
func ComputeChecksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ValidateChecksum compares the digest of content with the one recorded for it.
func ValidateChecksum(content []byte, stored string) error {
	if ComputeChecksum(content) != stored {
		return ErrChecksumMismatch
	}
	return nil
}
