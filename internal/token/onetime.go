// Package token mints the one-time tokens used for email verification and
// password reset, and the signed session tokens handed out at login.
package token

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
)

// OneTimeBytes is the entropy of a one-time token (256 bits).
const OneTimeBytes = 32

var randReader io.Reader = rand.Reader

// NewOneTime returns a URL-safe random token suitable for embedding in links.
func NewOneTime() (string, error) {
	b := make([]byte, OneTimeBytes)
	if _, err := io.ReadFull(randReader, b); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
