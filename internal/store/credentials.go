package store

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/dropDatabas3/johnid/internal/domain/repository"
	autherrors "github.com/dropDatabas3/johnid/internal/errors"
	"github.com/dropDatabas3/johnid/internal/security/password"
	"github.com/dropDatabas3/johnid/internal/security/secretbox"
	tokens "github.com/dropDatabas3/johnid/internal/security/token"
	"github.com/dropDatabas3/johnid/internal/security/totp"
	"github.com/google/uuid"
)

// Propósitos de los tokens de un solo uso.
const (
	PurposeResetPassword      = "ResetPassword"
	PurposeConfirmEmail       = "ConfirmEmail"
	PurposeChangeEmail        = "ChangeEmail"
	PurposeConfirmPhoneNumber = "ConfirmPhoneNumber"
	PurposeChangePhoneNumber  = "ChangePhoneNumber"
)

// SignInResult es el resultado de verificar una credencial.
type SignInResult int

const (
	SignInFailed SignInResult = iota
	SignInSucceeded
	SignInLockedOut
	SignInRequiresTwoFactor
)

func (r SignInResult) String() string {
	switch r {
	case SignInSucceeded:
		return "success"
	case SignInLockedOut:
		return "locked_out"
	case SignInRequiresTwoFactor:
		return "requires_two_factor"
	default:
		return "failed"
	}
}

// LockoutOptions controla el bloqueo por intentos fallidos.
type LockoutOptions struct {
	AllowedForNewUsers bool
	MaxFailedAttempts  int
	Duration           time.Duration
}

// Options configura Credentials.
type Options struct {
	Hash     password.Params
	Policy   password.Policy
	Lockout  LockoutOptions
	TokenTTL time.Duration

	// TwoFactorIssuer aparece en la URL otpauth.
	TwoFactorIssuer string
	// SecretBox cifra los secretos TOTP. nil => 2FA no disponible.
	SecretBox *secretbox.Box

	Now func() time.Time
}

// DefaultOptions devuelve valores razonables para producción.
func DefaultOptions() Options {
	return Options{
		Hash:     password.Default,
		Policy:   password.Policy{MinLength: 8, RequireUpper: true, RequireLower: true, RequireDigit: true},
		Lockout:  LockoutOptions{AllowedForNewUsers: true, MaxFailedAttempts: 5, Duration: 5 * time.Minute},
		TokenTTL: 24 * time.Hour,
	}
}

// Credentials es el Credential Store: compone una conexión de adapter con
// hashing de passwords, política, lockout y tokens de propósito.
type Credentials struct {
	conn AdapterConnection
	opts Options
}

func NewCredentials(conn AdapterConnection, opts Options) *Credentials {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 24 * time.Hour
	}
	if opts.Hash.KeyLen == 0 {
		opts.Hash = password.Default
	}
	return &Credentials{conn: conn, opts: opts}
}

// Conn expone la conexión subyacente (roles, claims, refresh tokens).
func (c *Credentials) Conn() AdapterConnection { return c.conn }

func (c *Credentials) now() time.Time { return c.opts.Now().UTC() }

// ─── Lookups ───

func (c *Credentials) FindByID(ctx context.Context, id string) (*repository.User, error) {
	return c.conn.Users().GetByID(ctx, id)
}

func (c *Credentials) FindByName(ctx context.Context, userName string) (*repository.User, error) {
	return c.conn.Users().GetByUserName(ctx, userName)
}

func (c *Credentials) FindByEmail(ctx context.Context, email string) (*repository.User, error) {
	return c.conn.Users().GetByEmail(ctx, email)
}

func (c *Credentials) FindByPhoneNumber(ctx context.Context, phone string) (*repository.User, error) {
	return c.conn.Users().GetByPhoneNumber(ctx, phone)
}

func (c *Credentials) FindByLogin(ctx context.Context, provider, providerKey string) (*repository.User, error) {
	return c.conn.ExternalLogins().FindUserByLogin(ctx, provider, providerKey)
}

// ─── Alta y actualización ───

// Validate reporta juntos todos los problemas que impedirían crear la
// credencial: campos requeridos, política de password y nombre/email tomados.
// Create la vuelve a aplicar; el índice único del adapter sigue siendo la
// garantía final ante altas concurrentes.
func (c *Credentials) Validate(ctx context.Context, u *repository.User, plain string) error {
	var verr *autherrors.ValidationError
	name := strings.TrimSpace(u.UserName)
	if name == "" {
		verr = verr.Append(fieldErr("user_name", "required", "user name is required"))
	}
	if plain != "" {
		verr = verr.Append(c.passwordErrors(plain)...)
	}
	if name != "" {
		if _, err := c.conn.Users().GetByUserName(ctx, name); err == nil {
			verr = verr.Append(fieldErr("user_name", "duplicate_user_name", "user name is already taken"))
		} else if !repository.IsNotFound(err) {
			return TranslateError(err)
		}
	}
	if email := strings.TrimSpace(u.Email); email != "" {
		if _, err := c.conn.Users().GetByEmail(ctx, email); err == nil {
			verr = verr.Append(fieldErr("email", "duplicate_email", "email is already taken"))
		} else if !repository.IsNotFound(err) {
			return TranslateError(err)
		}
	}
	if verr != nil {
		return verr
	}
	return nil
}

// Create crea la credencial. plain vacío => cuenta sin password (alta externa).
// Todos los problemas de validación vuelven juntos en un *ValidationError.
func (c *Credentials) Create(ctx context.Context, u *repository.User, plain string) error {
	if err := c.Validate(ctx, u, plain); err != nil {
		return err
	}

	if plain != "" {
		hash, err := password.Hash(c.opts.Hash, plain)
		if err != nil {
			return autherrors.ErrStore.WithCause(err)
		}
		u.PasswordHash = hash
	}
	now := c.now()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.UserName = strings.TrimSpace(u.UserName)
	u.Email = strings.TrimSpace(u.Email)
	u.LockoutEnabled = c.opts.Lockout.AllowedForNewUsers
	u.CreatedAt = now
	u.UpdatedAt = now

	if err := c.conn.Users().Create(ctx, u); err != nil {
		return TranslateError(err)
	}
	return nil
}

// Update persiste la credencial tal cual.
func (c *Credentials) Update(ctx context.Context, u *repository.User) error {
	u.UpdatedAt = c.now()
	if err := c.conn.Users().Update(ctx, u); err != nil {
		return TranslateError(err)
	}
	return nil
}

// Delete borra la credencial y todo lo que cuelga de ella.
func (c *Credentials) Delete(ctx context.Context, u *repository.User) error {
	if err := c.conn.Users().Delete(ctx, u.ID); err != nil {
		return TranslateError(err)
	}
	return nil
}

// SetUserName cambia el nombre de usuario.
func (c *Credentials) SetUserName(ctx context.Context, u *repository.User, userName string) error {
	userName = strings.TrimSpace(userName)
	if userName == "" {
		return autherrors.NewValidationError(fieldErr("user_name", "required", "user name is required"))
	}
	prev := u.UserName
	u.UserName = userName
	if err := c.Update(ctx, u); err != nil {
		u.UserName = prev
		return err
	}
	return nil
}

// ─── Sign-in ───

// CheckPasswordSignIn verifica el password aplicando lockout y el gate de 2FA.
func (c *Credentials) CheckPasswordSignIn(ctx context.Context, u *repository.User, plain string) (SignInResult, error) {
	res, err := c.checkPassword(ctx, u, plain)
	if err != nil || res != SignInSucceeded {
		return res, err
	}
	if u.TwoFactorEnabled {
		return SignInRequiresTwoFactor, nil
	}
	return SignInSucceeded, nil
}

// CheckTwoFactorSignIn verifica password + código TOTP en un solo paso.
// Un código inválido cuenta como intento fallido.
func (c *Credentials) CheckTwoFactorSignIn(ctx context.Context, u *repository.User, plain, code string) (SignInResult, error) {
	res, err := c.checkPassword(ctx, u, plain)
	if err != nil || res != SignInSucceeded {
		return res, err
	}
	if !u.TwoFactorEnabled {
		return SignInSucceeded, nil
	}
	ok, err := c.VerifyTwoFactor(ctx, u, code)
	if err != nil {
		return SignInFailed, err
	}
	if !ok {
		return c.recordFailure(ctx, u)
	}
	return SignInSucceeded, nil
}

func (c *Credentials) checkPassword(ctx context.Context, u *repository.User, plain string) (SignInResult, error) {
	now := c.now()
	if u.IsLockedOut(now) {
		return SignInLockedOut, nil
	}
	if !u.HasPassword() || !password.Verify(plain, u.PasswordHash) {
		return c.recordFailure(ctx, u)
	}
	if u.AccessFailedCount > 0 || u.LockoutEnd != nil {
		if err := c.conn.Users().ResetAccessFailures(ctx, u.ID, now); err != nil {
			return SignInFailed, TranslateError(err)
		}
		u.AccessFailedCount = 0
		u.LockoutEnd = nil
	}
	return SignInSucceeded, nil
}

// recordFailure cuenta el intento en el store, no sobre la copia de u:
// los fallos concurrentes suman todos y no pisan otros campos del usuario.
func (c *Credentials) recordFailure(ctx context.Context, u *repository.User) (SignInResult, error) {
	lo := c.opts.Lockout
	if !u.LockoutEnabled || lo.MaxFailedAttempts <= 0 {
		return SignInFailed, nil
	}
	now := c.now()
	st, err := c.conn.Users().RecordAccessFailure(ctx, u.ID, lo.MaxFailedAttempts, now.Add(lo.Duration), now)
	if err != nil {
		return SignInFailed, TranslateError(err)
	}
	u.AccessFailedCount = st.Count
	u.LockoutEnd = st.LockoutEnd
	u.UpdatedAt = now
	if u.IsLockedOut(now) {
		return SignInLockedOut, nil
	}
	return SignInFailed, nil
}

// ─── Passwords ───

// AddPassword setea el password de una cuenta que no tiene uno.
func (c *Credentials) AddPassword(ctx context.Context, u *repository.User, plain string) error {
	if u.HasPassword() {
		return autherrors.ErrSetPasswordConflict
	}
	return c.setPassword(ctx, u, plain)
}

// ChangePassword exige el password actual.
func (c *Credentials) ChangePassword(ctx context.Context, u *repository.User, current, next string) error {
	if !u.HasPassword() || !password.Verify(current, u.PasswordHash) {
		return autherrors.NewValidationError(fieldErr("current_password", "password_mismatch", "incorrect password"))
	}
	return c.setPassword(ctx, u, next)
}

// ResetPassword consume un token ResetPassword. Si el password nuevo no
// cumple la política el token no se consume.
func (c *Credentials) ResetPassword(ctx context.Context, u *repository.User, token, next string) error {
	if errs := c.passwordErrors(next); len(errs) > 0 {
		return autherrors.NewValidationError(errs...)
	}
	if err := c.consumeToken(ctx, u, PurposeResetPassword, "", token); err != nil {
		return err
	}
	return c.setPassword(ctx, u, next)
}

func (c *Credentials) setPassword(ctx context.Context, u *repository.User, plain string) error {
	if errs := c.passwordErrors(plain); len(errs) > 0 {
		return autherrors.NewValidationError(errs...)
	}
	hash, err := password.Hash(c.opts.Hash, plain)
	if err != nil {
		return autherrors.ErrStore.WithCause(err)
	}
	u.PasswordHash = hash
	return c.Update(ctx, u)
}

func (c *Credentials) passwordErrors(plain string) []error {
	if plain == "" {
		return []error{fieldErr("password", "required", "password is required")}
	}
	_, reasons := c.opts.Policy.Validate(plain)
	out := make([]error, 0, len(reasons))
	for _, r := range reasons {
		out = append(out, fieldErr("password", "password_"+r, "password does not satisfy policy: "+r))
	}
	return out
}

// ─── Email / teléfono ───

// ConfirmEmail marca el email actual como confirmado.
func (c *Credentials) ConfirmEmail(ctx context.Context, u *repository.User, token string) error {
	if err := c.consumeToken(ctx, u, PurposeConfirmEmail, repository.Normalize(u.Email), token); err != nil {
		return err
	}
	u.EmailConfirmed = true
	return c.Update(ctx, u)
}

// ChangeEmail aplica el email nuevo; queda confirmado porque el token llegó a esa casilla.
func (c *Credentials) ChangeEmail(ctx context.Context, u *repository.User, newEmail, token string) error {
	newEmail = strings.TrimSpace(newEmail)
	if err := c.consumeToken(ctx, u, PurposeChangeEmail, repository.Normalize(newEmail), token); err != nil {
		return err
	}
	u.Email = newEmail
	u.EmailConfirmed = true
	return c.Update(ctx, u)
}

// ChangePhoneNumber aplica el teléfono nuevo y deja la confirmación pendiente.
func (c *Credentials) ChangePhoneNumber(ctx context.Context, u *repository.User, phone, token string) error {
	phone = strings.TrimSpace(phone)
	if err := c.consumeToken(ctx, u, PurposeChangePhoneNumber, phone, token); err != nil {
		return err
	}
	u.PhoneNumber = phone
	u.PhoneNumberConfirmed = false
	return c.Update(ctx, u)
}

// ConfirmPhoneNumber marca el teléfono actual como confirmado.
func (c *Credentials) ConfirmPhoneNumber(ctx context.Context, u *repository.User, token string) error {
	if err := c.consumeToken(ctx, u, PurposeConfirmPhoneNumber, u.PhoneNumber, token); err != nil {
		return err
	}
	u.PhoneNumberConfirmed = true
	return c.Update(ctx, u)
}

// ─── Tokens de propósito ───

func (c *Credentials) GenerateResetPasswordToken(ctx context.Context, u *repository.User) (string, error) {
	return c.GenerateToken(ctx, u, PurposeResetPassword, "")
}

func (c *Credentials) GenerateConfirmEmailToken(ctx context.Context, u *repository.User) (string, error) {
	return c.GenerateToken(ctx, u, PurposeConfirmEmail, repository.Normalize(u.Email))
}

func (c *Credentials) GenerateChangeEmailToken(ctx context.Context, u *repository.User, newEmail string) (string, error) {
	return c.GenerateToken(ctx, u, PurposeChangeEmail, repository.Normalize(newEmail))
}

func (c *Credentials) GenerateConfirmPhoneToken(ctx context.Context, u *repository.User) (string, error) {
	return c.GenerateToken(ctx, u, PurposeConfirmPhoneNumber, u.PhoneNumber)
}

func (c *Credentials) GenerateChangePhoneToken(ctx context.Context, u *repository.User, phone string) (string, error) {
	return c.GenerateToken(ctx, u, PurposeChangePhoneNumber, strings.TrimSpace(phone))
}

// GenerateToken emite un token de un solo uso ligado a (usuario, propósito, payload).
// Los propósitos de teléfono usan un código numérico de 6 dígitos.
func (c *Credentials) GenerateToken(ctx context.Context, u *repository.User, purpose, payload string) (string, error) {
	var (
		tok string
		err error
	)
	if purpose == PurposeConfirmPhoneNumber || purpose == PurposeChangePhoneNumber {
		tok, err = numericCode(6)
	} else {
		tok, err = tokens.GenerateOpaqueToken(tokens.RefreshBytes)
	}
	if err != nil {
		return "", autherrors.ErrStore.WithCause(err)
	}
	rec := repository.PurposeToken{
		UserID:    u.ID,
		Purpose:   purpose,
		TokenHash: tokens.SHA256Base64URL(tok),
		Payload:   payload,
		ExpiresAt: c.now().Add(c.opts.TokenTTL),
	}
	if err := c.conn.PurposeTokens().Put(ctx, rec); err != nil {
		return "", TranslateError(err)
	}
	return tok, nil
}

func (c *Credentials) consumeToken(ctx context.Context, u *repository.User, purpose, payload, token string) error {
	invalid := autherrors.NewValidationError(fieldErr("token", "invalid_token", "invalid token"))

	rec, err := c.conn.PurposeTokens().Get(ctx, u.ID, purpose)
	if repository.IsNotFound(err) {
		return invalid
	}
	if err != nil {
		return TranslateError(err)
	}
	if !rec.ExpiresAt.After(c.now()) || rec.Payload != payload || !tokens.MatchesDigest(token, rec.TokenHash) {
		return invalid
	}
	if err := c.conn.PurposeTokens().Consume(ctx, u.ID, purpose, rec.TokenHash); err != nil {
		if repository.IsNotFound(err) {
			return invalid
		}
		return TranslateError(err)
	}
	return nil
}

func numericCode(digits int) (string, error) {
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits)), nil)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", digits, n.Int64()), nil
}

// ─── Logins externos ───

func (c *Credentials) AddLogin(ctx context.Context, u *repository.User, l repository.ExternalLogin) error {
	err := c.conn.ExternalLogins().AddLogin(ctx, u.ID, l)
	if repository.IsConflict(err) {
		return autherrors.NewValidationError(fieldErr("login", "login_already_associated", "external login already linked to an account"))
	}
	if err != nil {
		return TranslateError(err)
	}
	return nil
}

func (c *Credentials) RemoveLogin(ctx context.Context, u *repository.User, provider, providerKey string) error {
	err := c.conn.ExternalLogins().RemoveLogin(ctx, u.ID, provider, providerKey)
	if repository.IsNotFound(err) {
		return autherrors.NewValidationError(fieldErr("login", "login_not_found", "external login not linked to this account"))
	}
	if err != nil {
		return TranslateError(err)
	}
	return nil
}

// ─── Two-factor (TOTP) ───

// EnableTwoFactor genera un secreto nuevo sin confirmar y devuelve la URL otpauth.
// El gate se activa recién con ConfirmTwoFactor.
func (c *Credentials) EnableTwoFactor(ctx context.Context, u *repository.User) (string, error) {
	if c.opts.SecretBox == nil {
		return "", autherrors.ErrConfiguration.WithDetail("two-factor secret box not configured")
	}
	_, secretB32, err := totp.GenerateSecret()
	if err != nil {
		return "", autherrors.ErrStore.WithCause(err)
	}
	enc, err := c.opts.SecretBox.Seal(secretB32)
	if err != nil {
		return "", autherrors.ErrStore.WithCause(err)
	}
	if err := c.conn.TwoFactor().UpsertTOTP(ctx, u.ID, enc); err != nil {
		return "", TranslateError(err)
	}
	return totp.OTPAuthURL(c.opts.TwoFactorIssuer, u.UserName, secretB32), nil
}

// ConfirmTwoFactor valida el primer código y habilita el gate de 2FA.
func (c *Credentials) ConfirmTwoFactor(ctx context.Context, u *repository.User, code string) error {
	ok, err := c.VerifyTwoFactor(ctx, u, code)
	if err != nil {
		return err
	}
	if !ok {
		return autherrors.NewValidationError(fieldErr("code", "invalid_code", "invalid two-factor code"))
	}
	if err := c.conn.TwoFactor().ConfirmTOTP(ctx, u.ID, c.now()); err != nil {
		return TranslateError(err)
	}
	u.TwoFactorEnabled = true
	return c.Update(ctx, u)
}

// DisableTwoFactor borra el secreto y apaga el gate.
func (c *Credentials) DisableTwoFactor(ctx context.Context, u *repository.User) error {
	if err := c.conn.TwoFactor().DeleteTOTP(ctx, u.ID); err != nil {
		return TranslateError(err)
	}
	u.TwoFactorEnabled = false
	return c.Update(ctx, u)
}

// VerifyTwoFactor acepta un código vigente y no reutilizado.
func (c *Credentials) VerifyTwoFactor(ctx context.Context, u *repository.User, code string) (bool, error) {
	if c.opts.SecretBox == nil {
		return false, nil
	}
	rec, err := c.conn.TwoFactor().GetTOTP(ctx, u.ID)
	if repository.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, TranslateError(err)
	}
	secretB32, err := c.opts.SecretBox.Open(rec.SecretEncrypted)
	if err != nil {
		return false, autherrors.ErrStore.WithCause(err)
	}
	raw, err := totp.DecodeSecret(secretB32)
	if err != nil {
		return false, autherrors.ErrStore.WithCause(err)
	}
	ok, counter := totp.Verify(raw, code, c.now(), 1, rec.LastCounter)
	if !ok {
		return false, nil
	}
	if err := c.conn.TwoFactor().AdvanceCounter(ctx, u.ID, counter); err != nil {
		if repository.IsConflict(err) {
			return false, nil
		}
		return false, TranslateError(err)
	}
	return true, nil
}

// ─── helpers ───

func fieldErr(field, code, msg string) error {
	return &autherrors.FieldError{Field: field, Code: code, Message: msg}
}

// TranslateError traduce errores de repositorio a la taxonomía del core.
func TranslateError(err error) error {
	switch {
	case errors.Is(err, repository.ErrDuplicateUserName):
		return autherrors.NewValidationError(fieldErr("user_name", "duplicate_user_name", "user name is already taken"))
	case errors.Is(err, repository.ErrDuplicateEmail):
		return autherrors.NewValidationError(fieldErr("email", "duplicate_email", "email is already taken"))
	case errors.Is(err, repository.ErrNotFound):
		return autherrors.ErrNotFound.WithCause(err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return autherrors.ErrCanceled.WithCause(err)
	default:
		return autherrors.ErrStore.WithCause(err)
	}
}
