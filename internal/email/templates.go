package email

import (
	"bytes"
	"embed"
	"fmt"
	htmltpl "html/template"
	texttpl "text/template"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// Kind identifica el tipo de mensaje.
type Kind string

const (
	KindResetPassword Kind = "reset_password"
	KindConfirmEmail  Kind = "confirm_email"
	KindChangeEmail   Kind = "change_email"
)

// Vars son las variables disponibles en los templates.
type Vars struct {
	AppName   string
	UserName  string
	UserEmail string
	Token     string
	TTL       string
}

type pair struct {
	subject string
	html    *htmltpl.Template
	text    *texttpl.Template
}

// Templates contiene los templates por tipo de mensaje.
type Templates struct {
	byKind map[Kind]pair
}

var subjects = map[Kind]string{
	KindResetPassword: "Reset your password",
	KindConfirmEmail:  "Confirm your email address",
	KindChangeEmail:   "Confirm your new email address",
}

// DefaultTemplates carga los templates embebidos.
func DefaultTemplates() (*Templates, error) {
	t := &Templates{byKind: map[Kind]pair{}}
	for k, subject := range subjects {
		h, err := htmltpl.ParseFS(templateFS, "templates/"+string(k)+".html.tmpl")
		if err != nil {
			return nil, fmt.Errorf("email: parse %s html: %w", k, err)
		}
		x, err := texttpl.ParseFS(templateFS, "templates/"+string(k)+".txt.tmpl")
		if err != nil {
			return nil, fmt.Errorf("email: parse %s text: %w", k, err)
		}
		t.byKind[k] = pair{subject: subject, html: h, text: x}
	}
	return t, nil
}

// Render devuelve subject, html y texto del mensaje.
func (t *Templates) Render(k Kind, v Vars) (subject, html, text string, err error) {
	p, ok := t.byKind[k]
	if !ok {
		return "", "", "", fmt.Errorf("email: unknown template %q", k)
	}
	var hb, tb bytes.Buffer
	if err := p.html.Execute(&hb, v); err != nil {
		return "", "", "", err
	}
	if err := p.text.Execute(&tb, v); err != nil {
		return "", "", "", err
	}
	subject = p.subject
	if v.AppName != "" {
		subject = v.AppName + ": " + subject
	}
	return subject, hb.String(), tb.String(), nil
}
