// Package random produces opaque identifiers from crypto/rand.
package random

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// String returns a hex string of exactly length characters.
func String(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("random string length must be positive, got %d", length)
	}
	b := make([]byte, (length+1)/2)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return hex.EncodeToString(b)[:length], nil
}
