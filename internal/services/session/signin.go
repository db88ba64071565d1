package session

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dropDatabas3/johnid/internal/claims"
	"github.com/dropDatabas3/johnid/internal/domain/repository"
	autherrors "github.com/dropDatabas3/johnid/internal/errors"
	jwtx "github.com/dropDatabas3/johnid/internal/jwt"
	"github.com/dropDatabas3/johnid/internal/metrics"
	"github.com/dropDatabas3/johnid/internal/observability/logger"
	"github.com/dropDatabas3/johnid/internal/providers"
	"github.com/dropDatabas3/johnid/internal/services/tokens"
	"github.com/dropDatabas3/johnid/internal/store"
)

// AdminUserID es el id fijo del usuario admin estático.
var AdminUserID = uuid.Nil.String()

// Login es el pedido de sign-in con usuario y password.
type Login struct {
	UserName    string
	Password    string
	AppID       string
	RememberMe  bool
	Refreshable bool
}

// LoginTwoFactor es el segundo paso de un sign-in con 2FA.
type LoginTwoFactor struct {
	Login
	Code string
}

// LoginExternal es el sign-in con un token de proveedor externo.
type LoginExternal struct {
	Provider    string
	AccessToken string
	AppID       string
	RememberMe  bool
	Refreshable bool
}

// LoginExternalTransient es un sign-in sin cuenta local: la sesión sale
// entera del proveedor más los claims y roles pedidos.
type LoginExternalTransient struct {
	Provider    string
	AccessToken string
	Claims      []claims.Claim
	Roles       []string
}

// LoginRefresh canjea un access token (posiblemente vencido) y su refresh token.
type LoginRefresh struct {
	Token        string
	RefreshToken string
}

// SignIn verifica usuario y password. Sin Credential Store delega en SignInAdmin.
func (m *Manager) SignIn(ctx context.Context, in Login) (*tokens.AccessToken, error) {
	if m.deps.Credentials == nil {
		return m.SignInAdmin(ctx, in.UserName, in.Password)
	}
	log := m.log(ctx, "SignIn")
	at, err := m.signIn(ctx, in, func(u *repository.User) (store.SignInResult, error) {
		return m.deps.Credentials.CheckPasswordSignIn(ctx, u, in.Password)
	}, log)
	m.deps.Metrics.SignIn(MethodPassword, signInOutcome(err))
	return at, err
}

// SignInTwoFactor verifica password y código TOTP en un solo paso.
func (m *Manager) SignInTwoFactor(ctx context.Context, in LoginTwoFactor) (*tokens.AccessToken, error) {
	if err := m.requireStore(); err != nil {
		return nil, err
	}
	if err := required(field("code", in.Code)); err != nil {
		return nil, err
	}
	log := m.log(ctx, "SignInTwoFactor")
	at, err := m.signIn(ctx, in.Login, func(u *repository.User) (store.SignInResult, error) {
		return m.deps.Credentials.CheckTwoFactorSignIn(ctx, u, in.Password, in.Code)
	}, log)
	m.deps.Metrics.SignIn(MethodTwoFactor, signInOutcome(err))
	return at, err
}

func (m *Manager) signIn(ctx context.Context, in Login, check func(*repository.User) (store.SignInResult, error), log *zap.Logger) (*tokens.AccessToken, error) {
	if err := required(field("username", in.UserName), field("password", in.Password)); err != nil {
		return nil, err
	}
	u, err := m.deps.Credentials.FindByName(ctx, in.UserName)
	if err != nil {
		if repository.IsNotFound(err) {
			log.Debug("unknown user")
			return nil, autherrors.ErrUnauthorized
		}
		return nil, store.TranslateError(err)
	}
	log = log.With(logger.UserID(u.ID))

	res, err := check(u)
	if err != nil {
		return nil, err
	}
	switch res {
	case store.SignInSucceeded:
	case store.SignInLockedOut:
		log.Info("sign-in rejected: locked out")
		return nil, autherrors.ErrLockedOut
	case store.SignInRequiresTwoFactor:
		return nil, autherrors.ErrTwoFactorRequired
	default:
		log.Debug("sign-in rejected", logger.Outcome(res.String()))
		return nil, autherrors.ErrUnauthorized
	}
	return m.issueFor(ctx, u, in.AppID, in.RememberMe, in.Refreshable, log)
}

// issueFor emite la sesión de un usuario del store y la informa al boundary.
func (m *Manager) issueFor(ctx context.Context, u *repository.User, appID string, persistent, refreshable bool, log *zap.Logger) (*tokens.AccessToken, error) {
	set, err := m.sessionClaims(ctx, u)
	if err != nil {
		return nil, err
	}
	at, err := m.deps.Tokens.Issue(ctx, jwtx.AccessTokenData{
		AppID:     strings.TrimSpace(appID),
		UserID:    u.ID,
		UserName:  u.UserName,
		UserEmail: u.Email,
		Claims:    set,
	}, refreshable)
	if err != nil {
		return nil, err
	}
	if err := m.deps.Boundary.Established(ctx, at, persistent); err != nil {
		return nil, err
	}
	log.Info("session issued", logger.AppID(at.AppID), logger.Bool("refreshable", refreshable))
	return at, nil
}

// SignInAdmin autentica contra el usuario admin estático. No toca el store,
// no cuenta intentos fallidos y no emite refresh tokens.
func (m *Manager) SignInAdmin(ctx context.Context, userName, password string) (*tokens.AccessToken, error) {
	at, err := m.signInAdmin(ctx, userName, password)
	m.deps.Metrics.SignIn(MethodAdmin, signInOutcome(err))
	return at, err
}

func (m *Manager) signInAdmin(ctx context.Context, userName, password string) (*tokens.AccessToken, error) {
	cfg := m.deps.Config.Admin
	if cfg.UserName == "" || cfg.Password == "" {
		return nil, autherrors.ErrConfiguration.WithDetail("admin user not configured")
	}
	if err := required(field("username", userName), field("password", password)); err != nil {
		return nil, err
	}
	userOK := subtle.ConstantTimeCompare([]byte(userName), []byte(cfg.UserName)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(cfg.Password)) == 1
	if !userOK || !passOK {
		m.log(ctx, "SignInAdmin").Debug("admin credentials mismatch")
		return nil, autherrors.ErrUnauthorized
	}

	at, err := m.deps.Tokens.IssueAccessToken(jwtx.AccessTokenData{
		UserID:    AdminUserID,
		UserName:  cfg.UserName,
		UserEmail: cfg.Email,
		Claims:    claims.NewSet(claims.Role(AdministratorRole)),
	})
	if err != nil {
		return nil, err
	}
	if err := m.deps.Boundary.Established(ctx, at, false); err != nil {
		return nil, err
	}
	m.log(ctx, "SignInAdmin").Info("admin session issued")
	return at, nil
}

// SignInExternal valida el token del proveedor y abre sesión para la cuenta
// vinculada. Sin vínculo devuelve ErrNoLinkedAccount para que el caller
// ofrezca el alta.
func (m *Manager) SignInExternal(ctx context.Context, in LoginExternal) (*tokens.AccessToken, error) {
	at, err := m.signInExternal(ctx, in)
	m.deps.Metrics.SignIn(MethodExternal, signInOutcome(err))
	return at, err
}

func (m *Manager) signInExternal(ctx context.Context, in LoginExternal) (*tokens.AccessToken, error) {
	if err := m.requireStore(); err != nil {
		return nil, err
	}
	if err := required(field("provider", in.Provider), field("accessToken", in.AccessToken)); err != nil {
		return nil, err
	}
	log := m.log(ctx, "SignInExternal").With(logger.Provider(in.Provider))

	p, subject, err := m.validateExternal(ctx, in.Provider, in.AccessToken)
	if err != nil {
		return nil, err
	}
	u, err := m.deps.Credentials.FindByLogin(ctx, p.Name(), subject)
	if err != nil {
		if repository.IsNotFound(err) {
			log.Info("external login not linked")
			return nil, autherrors.ErrNoLinkedAccount.WithDetail(p.Name())
		}
		return nil, store.TranslateError(err)
	}
	log = log.With(logger.UserID(u.ID))
	if u.IsLockedOut(m.deps.Tokens.Issuer().Now()) {
		log.Info("sign-in rejected: locked out")
		return nil, autherrors.ErrLockedOut
	}
	return m.issueFor(ctx, u, in.AppID, in.RememberMe, in.Refreshable, log)
}

// SignInExternalTransient arma la sesión solo con el perfil del proveedor y
// los claims/roles pedidos. No consulta ni escribe el store.
func (m *Manager) SignInExternalTransient(ctx context.Context, in LoginExternalTransient) (*tokens.AccessToken, error) {
	at, err := m.signInExternalTransient(ctx, in)
	m.deps.Metrics.SignIn(MethodExternalTransient, signInOutcome(err))
	return at, err
}

func (m *Manager) signInExternalTransient(ctx context.Context, in LoginExternalTransient) (*tokens.AccessToken, error) {
	if err := required(field("provider", in.Provider), field("accessToken", in.AccessToken)); err != nil {
		return nil, err
	}
	p, subject, err := m.validateExternal(ctx, in.Provider, in.AccessToken)
	if err != nil {
		return nil, err
	}
	prof, err := p.FetchProfile(ctx, in.AccessToken)
	if err != nil {
		return nil, err
	}

	set := claims.NewSet(in.Claims...)
	for _, r := range claims.DistinctStrings(in.Roles) {
		set.Add(claims.Role(r))
	}
	at, err := m.deps.Tokens.IssueAccessToken(jwtx.AccessTokenData{
		UserID:    subject,
		UserName:  prof.DisplayName,
		UserEmail: prof.Email,
		Claims:    set,
	})
	if err != nil {
		return nil, err
	}
	if err := m.deps.Boundary.Established(ctx, at, false); err != nil {
		return nil, err
	}
	m.log(ctx, "SignInExternalTransient").Info("transient session issued", logger.Provider(p.Name()))
	return at, nil
}

func (m *Manager) validateExternal(ctx context.Context, provider, accessToken string) (providers.Provider, string, error) {
	p, err := m.deps.Providers.Get(provider)
	if err != nil {
		return nil, "", err
	}
	subject, err := p.ValidateAccessToken(ctx, accessToken)
	if err != nil {
		return nil, "", err
	}
	return p, subject, nil
}

// Refresh canjea el par (access, refresh) por una sesión nueva con refresh rotado.
func (m *Manager) Refresh(ctx context.Context, in LoginRefresh) (*tokens.AccessToken, error) {
	if err := m.requireStore(); err != nil {
		return nil, err
	}
	return m.deps.Tokens.RedeemRefreshToken(ctx, in.Token, in.RefreshToken)
}

// SignOut resuelve la credencial del principal, revoca el refresh token de su
// appId e invalida la sesión en el boundary.
func (m *Manager) SignOut(ctx context.Context, principal *claims.Set) error {
	log := m.log(ctx, "SignOut")
	if m.deps.Credentials == nil {
		if !m.isAdminPrincipal(principal) {
			return autherrors.ErrUnauthorized.WithDetail("unknown session principal")
		}
		return m.deps.Boundary.Invalidated(ctx, principal)
	}
	u, err := m.current(ctx, principal)
	if err != nil {
		return err
	}
	appID := principal.Value(claims.TypeAppID)
	if appID == "" {
		appID = claims.DefaultAppID
	}
	if err := m.deps.Tokens.Revoke(ctx, u.ID, appID); err != nil {
		return err
	}
	if err := m.deps.Boundary.Invalidated(ctx, principal); err != nil {
		return err
	}
	log.Info("signed out", logger.UserID(u.ID), logger.AppID(appID))
	return nil
}

func (m *Manager) isAdminPrincipal(principal *claims.Set) bool {
	cfg := m.deps.Config.Admin
	return cfg.UserName != "" &&
		principal.Value(claims.TypeSubject) == AdminUserID &&
		principal.Value(claims.TypeName) == cfg.UserName &&
		principal.Contains(claims.Role(AdministratorRole))
}

func signInOutcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.Is(err, autherrors.ErrLockedOut):
		return metrics.OutcomeLockedOut
	case errors.Is(err, autherrors.ErrTwoFactorRequired):
		return metrics.OutcomeTwoFactorRequired
	case errors.Is(err, autherrors.ErrNoLinkedAccount):
		return metrics.OutcomeNoLinkedAccount
	case errors.Is(err, autherrors.ErrCanceled):
		return metrics.OutcomeCanceled
	case errors.Is(err, autherrors.ErrUnauthorized), errors.Is(err, autherrors.ErrInvalidInput):
		return metrics.OutcomeUnauthorized
	default:
		return metrics.OutcomeError
	}
}
