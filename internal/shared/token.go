package shared

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

const (
	// DefaultTokenBytes is the random payload length used when none is configured.
	DefaultTokenBytes = 32
	// MinTokenBytes is the shortest random payload accepted in configuration.
	MinTokenBytes = 16
)

// NewToken draws n random bytes and returns their on-wire token.
func NewToken(n int) (string, error) {
	if n <= 0 {
		n = DefaultTokenBytes
	}
	raw := make([]byte, n)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("shared: read random: %w", err)
	}
	return EncodeToken(raw), nil
}

// EncodeToken returns base64(SHA-256(raw)).
func EncodeToken(raw []byte) string {
	sum := sha256.Sum256(raw)
	return base64.StdEncoding.EncodeToString(sum[:])
}

// DecodeToken recovers the digest from an on-wire token. Non-ASCII input,
// invalid base64 and digests of the wrong length are rejected.
func DecodeToken(token string) ([]byte, error) {
	for i := 0; i < len(token); i++ {
		if token[i] >= 0x80 {
			return nil, fmt.Errorf("%w: non-ascii input", ErrInvalidToken)
		}
	}
	digest, err := base64.StdEncoding.Strict().DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if len(digest) != sha256.Size {
		return nil, fmt.Errorf("%w: decoded length %d", ErrInvalidToken, len(digest))
	}
	return digest, nil
}
