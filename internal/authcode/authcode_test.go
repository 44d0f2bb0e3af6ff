package authcode

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedCode(t *testing.T, fill byte) Code {
	t.Helper()
	c, err := Generate(bytes.NewReader(bytes.Repeat([]byte{fill}, Size)))
	require.NoError(t, err)
	return c
}

func TestGenerate(t *testing.T) {
	a, err := Generate(nil)
	require.NoError(t, err)
	b, err := Generate(nil)
	require.NoError(t, err)
	assert.NotEqual(t, a.Encode(), b.Encode())

	_, err = Generate(bytes.NewReader(make([]byte, Size-1)))
	assert.Error(t, err)
}

func TestParse(t *testing.T) {
	c := fixedCode(t, 0x42)

	parsed, err := Parse(c.Encode())
	require.NoError(t, err)
	assert.Equal(t, c.StorageKey(), parsed.StorageKey())

	for _, bad := range []string{
		"",
		"short",
		c.Encode() + "A",
		strings.Repeat("!", len(c.Encode())),
		c.Encode()[:len(c.Encode())-1] + "=",
	} {
		_, err := Parse(bad)
		assert.ErrorIs(t, err, ErrMalformed, "input %q", bad)
	}
}

func TestStorageKey(t *testing.T) {
	c := fixedCode(t, 0x01)

	key := c.StorageKey()
	assert.Len(t, key, 64)
	_, err := hex.DecodeString(key)
	require.NoError(t, err)

	assert.Equal(t, key, c.StorageKey(), "deterministic")
	assert.NotEqual(t, key, fixedCode(t, 0x02).StorageKey())
}

func TestDeriveKey(t *testing.T) {
	c := fixedCode(t, 0x07)

	k1, err := c.DeriveKey()
	require.NoError(t, err)
	k2, err := c.DeriveKey()
	require.NoError(t, err)

	assert.Len(t, k1, KeySize)
	assert.Equal(t, k1, k2)
	assert.NotEqual(t, hex.EncodeToString(k1), c.StorageKey()[:64], "payload key is not the storage key")

	other, err := fixedCode(t, 0x08).DeriveKey()
	require.NoError(t, err)
	assert.NotEqual(t, k1, other)
}

func TestCodeIsRedacted(t *testing.T) {
	c := fixedCode(t, 0x55)
	wire := c.Encode()

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	logger.Info("issued", "code", c)

	assert.NotContains(t, buf.String(), wire)
	assert.Contains(t, buf.String(), "[REDACTED]")
	assert.NotContains(t, fmt.Sprintf("%v %s %#v %+v", c, c, c, c), wire)
}

func TestZero(t *testing.T) {
	c := fixedCode(t, 0x11)
	before := c.StorageKey()
	c.Zero()
	assert.NotEqual(t, before, c.StorageKey())
	assert.Equal(t, Code{}, c)
}
