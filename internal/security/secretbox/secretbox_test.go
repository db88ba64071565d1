package secretbox

import (
	"encoding/base64"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey() []byte {
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = byte(i + 1)
	}
	return raw
}

func TestSealOpen_RoundTrip(t *testing.T) {
	box, err := New(testKey())
	require.NoError(t, err)

	msg := "hola mundo ✓ secreto"
	ct, err := box.Seal(msg)
	require.NoError(t, err)
	assert.NotContains(t, ct, msg)

	pt, err := box.Open(ct)
	require.NoError(t, err)
	assert.Equal(t, msg, pt)
}

func TestOpen_DetectsTamper(t *testing.T) {
	box, err := New(testKey())
	require.NoError(t, err)

	ct, err := box.Seal("top secret")
	require.NoError(t, err)
	parts := strings.Split(ct, "|")
	require.Len(t, parts, 2)

	bs, err := base64.StdEncoding.DecodeString(parts[1])
	require.NoError(t, err)
	bs[0] ^= 0x01
	corrupted := parts[0] + "|" + base64.StdEncoding.EncodeToString(bs)

	_, err = box.Open(corrupted)
	assert.Error(t, err)

	_, err = box.Open("sin-separador")
	assert.ErrorIs(t, err, ErrFormat)
}

func TestNew_RejectsShortKey(t *testing.T) {
	_, err := New([]byte("short"))
	assert.Error(t, err)
}

func TestParseKey_Encodings(t *testing.T) {
	raw := testKey()
	for name, in := range map[string]string{
		"base64":     base64.StdEncoding.EncodeToString(raw),
		"base64-raw": base64.RawStdEncoding.EncodeToString(raw),
		"hex":        hex.EncodeToString(raw),
	} {
		got, err := ParseKey(in)
		require.NoError(t, err, name)
		assert.Equal(t, raw, got, name)
	}

	got, err := ParseKey("0123456789abcdef0123456789abcdef")
	require.NoError(t, err)
	assert.Len(t, got, 32)

	_, err = ParseKey("nope")
	assert.Error(t, err)
}
