package shared

import (
	"crypto/sha256"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeToken(t *testing.T) {
	raw := []byte("0123456789abcdef0123456789abcdef")
	sum := sha256.Sum256(raw)

	digest, err := DecodeToken(EncodeToken(raw))
	require.NoError(t, err)
	assert.Equal(t, sum[:], digest)
}

func TestNewTokenIsDecodable(t *testing.T) {
	a, err := NewToken(32)
	require.NoError(t, err)
	b, err := NewToken(0)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	for _, token := range []string{a, b} {
		digest, err := DecodeToken(token)
		require.NoError(t, err)
		assert.Len(t, digest, sha256.Size)
	}
}

func TestDecodeTokenRejects(t *testing.T) {
	cases := map[string]string{
		"non-ascii":     "ääää",
		"bad base64":    "%%%%",
		"wrong length":  base64.StdEncoding.EncodeToString([]byte("short")),
		"empty":         "",
		"url alphabet":  "-_-_-_-_-_-_-_-_-_-_-_-_-_-_-_-_-_-_-_-_-_-_",
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeToken(token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}
