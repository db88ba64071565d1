// Package bootstrap pide por terminal los datos de un alta cuando el
// operador no los pasa por flags.
package bootstrap

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/dropDatabas3/johnid/internal/domain/repository"
	"github.com/dropDatabas3/johnid/internal/services/session"
)

// Prompter lee respuestas de In y escribe las preguntas en Out.
// ReadPassword lee sin eco; por defecto usa la terminal de stdin.
type Prompter struct {
	In           *bufio.Reader
	Out          io.Writer
	ReadPassword func() ([]byte, error)
}

// NewTerminalPrompter usa stdin/stdout.
func NewTerminalPrompter() *Prompter {
	return &Prompter{
		In:  bufio.NewReader(os.Stdin),
		Out: os.Stdout,
		ReadPassword: func() ([]byte, error) {
			return term.ReadPassword(int(os.Stdin.Fd()))
		},
	}
}

// CompleteSignUp completa los campos vacíos de in preguntando al operador.
// El password se pide dos veces.
func (p *Prompter) CompleteSignUp(in session.SignUp) (session.SignUp, error) {
	var err error
	if strings.TrimSpace(in.UserName) == "" {
		if in.UserName, err = p.line("User name: "); err != nil {
			return in, err
		}
		if in.UserName == "" {
			return in, fmt.Errorf("user name cannot be empty")
		}
	}
	if in.Email == "" {
		// opcional
		if in.Email, err = p.line("Email (optional): "); err != nil {
			return in, err
		}
		if in.Email != "" && !strings.Contains(in.Email, "@") {
			return in, fmt.Errorf("invalid email format")
		}
	}
	if in.Password == "" {
		pw, err := p.secret("Password: ")
		if err != nil {
			return in, err
		}
		confirm, err := p.secret("Confirm Password: ")
		if err != nil {
			return in, err
		}
		if pw != confirm {
			return in, fmt.Errorf("passwords do not match")
		}
		in.Password = pw
	}
	return in, nil
}

// SignUp completa el alta por terminal y la ejecuta.
func (p *Prompter) SignUp(ctx context.Context, m *session.Manager, in session.SignUp) (*repository.User, error) {
	in, err := p.CompleteSignUp(in)
	if err != nil {
		return nil, err
	}
	u, err := m.SignUp(ctx, in)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(p.Out, "\n📝 User created with ID: %s\n", u.ID)
	return u, nil
}

func (p *Prompter) line(q string) (string, error) {
	fmt.Fprint(p.Out, q)
	s, err := p.In.ReadString('\n')
	if err != nil && (err != io.EOF || s == "") {
		return "", err
	}
	return strings.TrimSpace(s), nil
}

func (p *Prompter) secret(q string) (string, error) {
	fmt.Fprint(p.Out, q)
	b, err := p.ReadPassword()
	fmt.Fprintln(p.Out) // New line after hidden input
	if err != nil {
		return "", err
	}
	return string(b), nil
}
