// Package email entrega por correo los tokens de un solo uso (reset de
// password, confirmación y cambio de email).
package email

import (
	"context"
	"crypto/tls"
	"fmt"

	mail "github.com/go-mail/mail"

	"github.com/dropDatabas3/johnid/internal/observability/logger"
)

// Sender envía un mensaje con versión HTML y texto plano.
type Sender interface {
	Send(ctx context.Context, to, subject, htmlBody, textBody string) error
}

// SMTPConfig contiene la configuración del servidor SMTP.
type SMTPConfig struct {
	Host      string `yaml:"host" env:"HOST"`
	Port      int    `yaml:"port" env:"PORT"`
	Username  string `yaml:"username" env:"USERNAME"`
	Password  string `yaml:"password" env:"PASSWORD"`
	FromEmail string `yaml:"from_email" env:"FROM_EMAIL"`
	TLSMode   string `yaml:"tls_mode" env:"TLS_MODE"` // "auto" | "starttls" | "ssl" | "none"
}

// Enabled indica si hay un servidor configurado.
func (c SMTPConfig) Enabled() bool { return c.Host != "" }

// SMTPSender implementa Sender con go-mail.
type SMTPSender struct {
	Host               string
	Port               int
	From               string
	User               string
	Pass               string
	TLSMode            string
	InsecureSkipVerify bool

	// dial permite reemplazar el envío real (tests).
	dial func(d *mail.Dialer, m *mail.Message) error
}

// NewSMTPSender crea un SMTPSender. Puerto 0 => 587.
func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	port := cfg.Port
	if port == 0 {
		port = 587
	}
	mode := cfg.TLSMode
	if mode == "" {
		mode = "auto"
	}
	return &SMTPSender{
		Host:    cfg.Host,
		Port:    port,
		From:    cfg.FromEmail,
		User:    cfg.Username,
		Pass:    cfg.Password,
		TLSMode: mode,
		dial:    func(d *mail.Dialer, m *mail.Message) error { return d.DialAndSend(m) },
	}
}

// Message arma el mensaje multipart/alternative (txt + html).
func (s *SMTPSender) Message(to, subject, htmlBody, textBody string) *mail.Message {
	m := mail.NewMessage()
	m.SetHeader("From", s.From)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	if textBody != "" {
		m.SetBody("text/plain", textBody)
	}
	if htmlBody != "" {
		if textBody == "" {
			m.SetBody("text/html", htmlBody)
		} else {
			m.AddAlternative("text/html", htmlBody)
		}
	}
	return m
}

// Dialer arma el dialer según TLSMode.
func (s *SMTPSender) Dialer() *mail.Dialer {
	d := mail.NewDialer(s.Host, s.Port, s.User, s.Pass)
	d.TLSConfig = &tls.Config{ServerName: s.Host, InsecureSkipVerify: s.InsecureSkipVerify}
	switch s.TLSMode {
	case "ssl":
		d.SSL = true
	case "none":
		d.TLSConfig = &tls.Config{InsecureSkipVerify: s.InsecureSkipVerify}
		d.StartTLSPolicy = mail.NoStartTLS
	default:
		// "auto"/"starttls": go-mail negocia STARTTLS si el server lo ofrece
	}
	return d
}

// Send envía el mensaje. go-mail no acepta contexto: solo se chequea antes de discar.
func (s *SMTPSender) Send(ctx context.Context, to, subject, htmlBody, textBody string) error {
	log := logger.From(ctx).With(
		logger.Component("email.smtp"),
		logger.String("host", s.Host),
		logger.Email(to),
	)
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.dial(s.Dialer(), s.Message(to, subject, htmlBody, textBody)); err != nil {
		log.Error("smtp send failed", logger.Err(err))
		return fmt.Errorf("smtp send: %w", err)
	}
	log.Debug("email sent")
	return nil
}

// NoOp descarta todos los mensajes.
type NoOp struct{}

func (NoOp) Send(context.Context, string, string, string, string) error { return nil }
