package session

import (
	"context"
	"strings"

	"github.com/dropDatabas3/johnid/internal/claims"
	"github.com/dropDatabas3/johnid/internal/domain/repository"
	"github.com/dropDatabas3/johnid/internal/email"
	autherrors "github.com/dropDatabas3/johnid/internal/errors"
	"github.com/dropDatabas3/johnid/internal/observability/logger"
	"github.com/dropDatabas3/johnid/internal/store"
)

// ─── Mutaciones sobre la cuenta de la sesión ───

// RemoveExternalLogin desvincula un login externo de la cuenta del principal.
func (m *Manager) RemoveExternalLogin(ctx context.Context, principal *claims.Set, provider, providerKey string) error {
	if err := required(field("provider", provider), field("providerKey", providerKey)); err != nil {
		return err
	}
	u, err := m.current(ctx, principal)
	if err != nil {
		return err
	}
	if p, err := m.deps.Providers.Get(provider); err == nil {
		// nombre canónico del proveedor ("google" => "Google")
		provider = p.Name()
	}
	return m.deps.Credentials.RemoveLogin(ctx, u, provider, providerKey)
}

// SetUsername cambia el nombre de usuario del principal.
func (m *Manager) SetUsername(ctx context.Context, principal *claims.Set, userName string) error {
	if err := required(field("username", userName)); err != nil {
		return err
	}
	u, err := m.current(ctx, principal)
	if err != nil {
		return err
	}
	return m.deps.Credentials.SetUserName(ctx, u, userName)
}

// SetPassword agrega un password a una cuenta que no tiene uno (alta externa).
// Si ya tiene password devuelve ErrSetPasswordConflict.
func (m *Manager) SetPassword(ctx context.Context, principal *claims.Set, password string) error {
	if err := required(field("password", password)); err != nil {
		return err
	}
	u, err := m.current(ctx, principal)
	if err != nil {
		return err
	}
	return m.deps.Credentials.AddPassword(ctx, u, password)
}

// ChangePassword exige el password actual.
func (m *Manager) ChangePassword(ctx context.Context, principal *claims.Set, current, next string) error {
	if err := required(field("currentPassword", current), field("newPassword", next)); err != nil {
		return err
	}
	u, err := m.current(ctx, principal)
	if err != nil {
		return err
	}
	if err := m.deps.Credentials.ChangePassword(ctx, u, current, next); err != nil {
		return err
	}
	m.log(ctx, "ChangePassword").Info("password changed", logger.UserID(u.ID))
	return nil
}

// ChangeEmail aplica el email nuevo con el token de GenerateChangeEmailToken.
func (m *Manager) ChangeEmail(ctx context.Context, principal *claims.Set, newEmail, token string) error {
	if err := required(field("email", newEmail), field("token", token)); err != nil {
		return err
	}
	u, err := m.current(ctx, principal)
	if err != nil {
		return err
	}
	return m.deps.Credentials.ChangeEmail(ctx, u, newEmail, token)
}

// ChangePhoneNumber aplica el teléfono nuevo; queda sin confirmar.
func (m *Manager) ChangePhoneNumber(ctx context.Context, principal *claims.Set, phone, token string) error {
	if err := required(field("phoneNumber", phone), field("token", token)); err != nil {
		return err
	}
	u, err := m.current(ctx, principal)
	if err != nil {
		return err
	}
	return m.deps.Credentials.ChangePhoneNumber(ctx, u, phone, token)
}

// ─── Flujos sin sesión (por email / teléfono) ───

// ResetPassword aplica un password nuevo con el token de GenerateResetPasswordToken.
func (m *Manager) ResetPassword(ctx context.Context, emailAddr, token, password string) error {
	if err := required(field("email", emailAddr), field("token", token), field("password", password)); err != nil {
		return err
	}
	u, err := m.byEmail(ctx, emailAddr)
	if err != nil {
		return err
	}
	if err := m.deps.Credentials.ResetPassword(ctx, u, token, password); err != nil {
		return err
	}
	m.log(ctx, "ResetPassword").Info("password reset", logger.UserID(u.ID))
	return nil
}

// ConfirmEmail confirma el email actual de la cuenta.
func (m *Manager) ConfirmEmail(ctx context.Context, emailAddr, token string) error {
	if err := required(field("email", emailAddr), field("token", token)); err != nil {
		return err
	}
	u, err := m.byEmail(ctx, emailAddr)
	if err != nil {
		return err
	}
	return m.deps.Credentials.ConfirmEmail(ctx, u, token)
}

// ConfirmPhoneNumber confirma el teléfono actual de la cuenta.
func (m *Manager) ConfirmPhoneNumber(ctx context.Context, phone, token string) error {
	if err := required(field("phoneNumber", phone), field("token", token)); err != nil {
		return err
	}
	u, err := m.byPhone(ctx, phone)
	if err != nil {
		return err
	}
	return m.deps.Credentials.ConfirmPhoneNumber(ctx, u, token)
}

// ─── Generación de tokens de un solo uso ───

// GenerateResetPasswordToken emite el token y, si hay Mailer, lo envía al email de la cuenta.
func (m *Manager) GenerateResetPasswordToken(ctx context.Context, emailAddr string) (string, error) {
	u, err := m.byEmail(ctx, emailAddr)
	if err != nil {
		return "", err
	}
	tok, err := m.deps.Credentials.GenerateResetPasswordToken(ctx, u)
	if err != nil {
		return "", err
	}
	return tok, m.deliver(ctx, email.KindResetPassword, u.Email, u, tok)
}

// GenerateConfirmEmailToken emite el token de confirmación del email actual.
func (m *Manager) GenerateConfirmEmailToken(ctx context.Context, emailAddr string) (string, error) {
	u, err := m.byEmail(ctx, emailAddr)
	if err != nil {
		return "", err
	}
	tok, err := m.deps.Credentials.GenerateConfirmEmailToken(ctx, u)
	if err != nil {
		return "", err
	}
	return tok, m.deliver(ctx, email.KindConfirmEmail, u.Email, u, tok)
}

// GenerateChangeEmailToken emite el token para mudar la cuenta a newEmail.
// Falla si newEmail ya pertenece a otra cuenta. El token viaja a la casilla nueva.
func (m *Manager) GenerateChangeEmailToken(ctx context.Context, emailAddr, newEmail string) (string, error) {
	if err := required(field("newEmail", newEmail)); err != nil {
		return "", err
	}
	u, err := m.byEmail(ctx, emailAddr)
	if err != nil {
		return "", err
	}
	other, err := m.deps.Credentials.FindByEmail(ctx, newEmail)
	switch {
	case err == nil && other.ID != u.ID:
		return "", autherrors.NewValidationError(&autherrors.FieldError{Field: "email", Code: "duplicate_email", Message: "email is already taken"})
	case err != nil && !repository.IsNotFound(err):
		return "", store.TranslateError(err)
	}
	tok, err := m.deps.Credentials.GenerateChangeEmailToken(ctx, u, newEmail)
	if err != nil {
		return "", err
	}
	return tok, m.deliver(ctx, email.KindChangeEmail, strings.TrimSpace(newEmail), u, tok)
}

// GenerateConfirmPhoneToken emite el código de confirmación del teléfono actual.
// Los códigos de teléfono no se envían: los entrega el caller por su canal.
func (m *Manager) GenerateConfirmPhoneToken(ctx context.Context, phone string) (string, error) {
	u, err := m.byPhone(ctx, phone)
	if err != nil {
		return "", err
	}
	return m.deps.Credentials.GenerateConfirmPhoneToken(ctx, u)
}

// GenerateChangePhoneToken emite el código para cambiar el teléfono de la
// cuenta identificada por email (la cuenta puede no tener teléfono todavía).
func (m *Manager) GenerateChangePhoneToken(ctx context.Context, emailAddr, newPhone string) (string, error) {
	if err := required(field("phoneNumber", newPhone)); err != nil {
		return "", err
	}
	u, err := m.byEmail(ctx, emailAddr)
	if err != nil {
		return "", err
	}
	tok, err := m.deps.Credentials.GenerateChangePhoneToken(ctx, u, newPhone)
	if err != nil {
		return "", err
	}
	m.log(ctx, "GenerateChangePhoneToken").Info("phone code issued", logger.UserID(u.ID), logger.Phone(newPhone))
	return tok, nil
}

// ─── Two-factor ───

// EnableTwoFactor genera el secreto TOTP y devuelve la URL otpauth para el autenticador.
func (m *Manager) EnableTwoFactor(ctx context.Context, principal *claims.Set) (string, error) {
	u, err := m.current(ctx, principal)
	if err != nil {
		return "", err
	}
	return m.deps.Credentials.EnableTwoFactor(ctx, u)
}

// ConfirmTwoFactor valida el primer código y activa el gate de 2FA.
func (m *Manager) ConfirmTwoFactor(ctx context.Context, principal *claims.Set, code string) error {
	if err := required(field("code", code)); err != nil {
		return err
	}
	u, err := m.current(ctx, principal)
	if err != nil {
		return err
	}
	if err := m.deps.Credentials.ConfirmTwoFactor(ctx, u, code); err != nil {
		return err
	}
	m.log(ctx, "ConfirmTwoFactor").Info("two-factor enabled", logger.UserID(u.ID))
	return nil
}

func (m *Manager) DisableTwoFactor(ctx context.Context, principal *claims.Set) error {
	u, err := m.current(ctx, principal)
	if err != nil {
		return err
	}
	return m.deps.Credentials.DisableTwoFactor(ctx, u)
}

// ─── helpers ───

func (m *Manager) byEmail(ctx context.Context, emailAddr string) (*repository.User, error) {
	if err := m.requireStore(); err != nil {
		return nil, err
	}
	if err := required(field("email", emailAddr)); err != nil {
		return nil, err
	}
	u, err := m.deps.Credentials.FindByEmail(ctx, emailAddr)
	if err != nil {
		return nil, notFound(err, "user")
	}
	return u, nil
}

func (m *Manager) byPhone(ctx context.Context, phone string) (*repository.User, error) {
	if err := m.requireStore(); err != nil {
		return nil, err
	}
	if err := required(field("phoneNumber", phone)); err != nil {
		return nil, err
	}
	u, err := m.deps.Credentials.FindByPhoneNumber(ctx, strings.TrimSpace(phone))
	if err != nil {
		return nil, notFound(err, "user")
	}
	return u, nil
}

// deliver envía el token por email si hay Mailer. Una falla de envío se
// reporta: el token ya quedó emitido y el caller puede reintentar.
func (m *Manager) deliver(ctx context.Context, k email.Kind, to string, u *repository.User, tok string) error {
	if m.deps.Mailer == nil || to == "" {
		return nil
	}
	if err := m.deps.Mailer.SendToken(ctx, k, to, u.UserName, tok); err != nil {
		m.log(ctx, "deliver").Warn("token delivery failed", logger.UserID(u.ID), logger.Email(to), logger.Err(err))
		return autherrors.ErrStore.WithCause(err).WithDetail("token delivery failed")
	}
	return nil
}
