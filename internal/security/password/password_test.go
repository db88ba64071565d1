package password

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fast = Params{Memory: 1024, Time: 1, Parallelism: 1, KeyLen: 32}

func TestHashVerify(t *testing.T) {
	phc, err := Hash(fast, "Abcd1234!")
	require.NoError(t, err)
	assert.Contains(t, phc, "$argon2id$v=19$m=1024,t=1,p=1$")

	assert.True(t, Verify("Abcd1234!", phc))
	assert.False(t, Verify("abcd1234!", phc))
	assert.False(t, Verify("", phc))
}

func TestHash_SaltDiffers(t *testing.T) {
	a, err := Hash(fast, "same")
	require.NoError(t, err)
	b, err := Hash(fast, "same")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestHash_Empty(t *testing.T) {
	_, err := Hash(fast, "")
	assert.ErrorIs(t, err, ErrEmptyPassword)
}

func TestVerify_Malformed(t *testing.T) {
	for _, phc := range []string{
		"",
		"plain",
		"$argon2i$v=19$m=1024,t=1,p=1$c2FsdA$ZGs",
		"$argon2id$v=18$m=1024,t=1,p=1$c2FsdA$ZGs",
		"$argon2id$v=19$m=x,t=1,p=1$c2FsdA$ZGs",
		"$argon2id$v=19$m=1024,t=1,p=1$%%%$ZGs",
	} {
		assert.False(t, Verify("pwd", phc), phc)
	}
}

func TestPolicy_CollectsAllReasons(t *testing.T) {
	p := Policy{MinLength: 8, RequireUpper: true, RequireDigit: true, RequireSymbol: true}

	ok, reasons := p.Validate("abc")
	assert.False(t, ok)
	assert.Equal(t, []string{ReasonTooShort, ReasonMissingUpper, ReasonMissingDigit, ReasonMissingSymbol}, reasons)

	ok, reasons = p.Validate("Abcd1234!")
	assert.True(t, ok)
	assert.Empty(t, reasons)
}

func TestPolicy_Blacklist(t *testing.T) {
	p := Policy{MinLength: 1, Blacklist: NewBlacklist("Password1")}
	ok, reasons := p.Validate("password1")
	assert.False(t, ok)
	assert.Equal(t, []string{ReasonBlacklisted}, reasons)
}

func TestLoadBlacklist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bl.txt")
	require.NoError(t, os.WriteFile(path, []byte("# comunes\nqwerty\n\n  Letmein \n"), 0o600))

	bl, err := LoadBlacklist(path)
	require.NoError(t, err)
	assert.True(t, bl.Contains("QWERTY"))
	assert.True(t, bl.Contains("letmein"))
	assert.False(t, bl.Contains("# comunes"))

	empty, err := LoadBlacklist("")
	require.NoError(t, err)
	assert.False(t, empty.Contains("qwerty"))
}
