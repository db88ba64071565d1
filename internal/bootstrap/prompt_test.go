package bootstrap

import (
	"bufio"
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/johnid/internal/services/session"
)

func prompter(input string, passwords ...string) (*Prompter, *bytes.Buffer) {
	out := &bytes.Buffer{}
	i := 0
	return &Prompter{
		In:  bufio.NewReader(strings.NewReader(input)),
		Out: out,
		ReadPassword: func() ([]byte, error) {
			pw := passwords[i]
			i++
			return []byte(pw), nil
		},
	}, out
}

func TestCompleteSignUp_AsksOnlyMissingFields(t *testing.T) {
	p, out := prompter("alice\na@x.com\n", "Abcd1234!", "Abcd1234!")
	in, err := p.CompleteSignUp(session.SignUp{Roles: []string{"editor"}})
	require.NoError(t, err)
	assert.Equal(t, "alice", in.UserName)
	assert.Equal(t, "a@x.com", in.Email)
	assert.Equal(t, "Abcd1234!", in.Password)
	assert.Equal(t, []string{"editor"}, in.Roles)
	assert.Contains(t, out.String(), "Confirm Password")

	p, out = prompter("")
	in, err = p.CompleteSignUp(session.SignUp{UserName: "bob", Email: "b@x.com", Password: "x"})
	require.NoError(t, err)
	assert.Equal(t, "bob", in.UserName)
	assert.Empty(t, out.String())
}

func TestCompleteSignUp_Rejections(t *testing.T) {
	p, _ := prompter("alice\n\n", "Abcd1234!", "Other1234!")
	_, err := p.CompleteSignUp(session.SignUp{})
	assert.EqualError(t, err, "passwords do not match")

	p, _ = prompter("\n")
	_, err = p.CompleteSignUp(session.SignUp{})
	assert.EqualError(t, err, "user name cannot be empty")

	p, _ = prompter("alice\nnot-an-email\n")
	_, err = p.CompleteSignUp(session.SignUp{})
	assert.EqualError(t, err, "invalid email format")
}
