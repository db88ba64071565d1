package email

import (
	"context"
	"time"

	"github.com/dropDatabas3/johnid/internal/observability/logger"
)

// Mailer renderiza y envía los mensajes de tokens de un solo uso.
type Mailer struct {
	Sender    Sender
	Templates *Templates
	AppName   string
	TokenTTL  time.Duration
}

// NewMailer crea un Mailer con los templates embebidos.
func NewMailer(s Sender, appName string, ttl time.Duration) (*Mailer, error) {
	t, err := DefaultTemplates()
	if err != nil {
		return nil, err
	}
	if s == nil {
		s = NoOp{}
	}
	return &Mailer{Sender: s, Templates: t, AppName: appName, TokenTTL: ttl}, nil
}

// SendToken envía el token al destinatario con el template del tipo dado.
func (m *Mailer) SendToken(ctx context.Context, k Kind, to, userName, token string) error {
	subject, html, text, err := m.Templates.Render(k, Vars{
		AppName:   m.AppName,
		UserName:  userName,
		UserEmail: to,
		Token:     token,
		TTL:       m.TokenTTL.String(),
	})
	if err != nil {
		return err
	}
	if err := m.Sender.Send(ctx, to, subject, html, text); err != nil {
		return err
	}
	logger.From(ctx).Debug("one-time token delivered",
		logger.Component("email"), logger.String("kind", string(k)), logger.Email(to))
	return nil
}
