// Package tokens emite access tokens, emite y rota refresh tokens, y canjea
// un par (access vencido, refresh) por una sesión nueva.
package tokens

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dropDatabas3/johnid/internal/claims"
	"github.com/dropDatabas3/johnid/internal/domain/repository"
	autherrors "github.com/dropDatabas3/johnid/internal/errors"
	jwtx "github.com/dropDatabas3/johnid/internal/jwt"
	"github.com/dropDatabas3/johnid/internal/metrics"
	"github.com/dropDatabas3/johnid/internal/observability/logger"
	tokens "github.com/dropDatabas3/johnid/internal/security/token"
)

// Scheme es el tag persistido junto al refresh token.
const Scheme = "Bearer"

// AccessToken es el resultado de una emisión.
type AccessToken struct {
	AppID        string        `json:"appId"`
	UserID       string        `json:"userId"`
	Token        string        `json:"token"`
	ExpireAt     time.Time     `json:"expireAt"`
	RefreshToken *RefreshToken `json:"refreshToken,omitempty"`
}

// RefreshToken es el valor opaco entregado al cliente. Solo se persiste su digest.
type RefreshToken struct {
	Token    string    `json:"token"`
	ExpireAt time.Time `json:"expireAt"`
}

// ClaimsLoader arma los claims de sesión (roles, claims de usuario y de rol)
// de un usuario. Se usa al canjear un refresh token.
type ClaimsLoader func(ctx context.Context, u *repository.User) (*claims.Set, error)

// Deps contiene las dependencias del servicio.
type Deps struct {
	Issuer     *jwtx.Issuer
	Users      repository.UserRepository
	Refresh    repository.RefreshTokenRepository
	RefreshTTL time.Duration
	Claims     ClaimsLoader
	Metrics    *metrics.Metrics
}

// Service es el Token Issuer.
type Service struct {
	deps Deps
}

func New(deps Deps) (*Service, error) {
	if deps.Issuer == nil {
		return nil, errors.New("tokens: issuer is required")
	}
	if deps.Refresh == nil || deps.Users == nil {
		return nil, errors.New("tokens: refresh token and user repositories are required")
	}
	if deps.RefreshTTL <= 0 {
		return nil, errors.New("tokens: refresh ttl must be positive")
	}
	return &Service{deps: deps}, nil
}

// NewStateless crea un Service que solo firma access tokens (despliegues sin
// Credential Store). IssueRefreshToken y RedeemRefreshToken devuelven ErrConfiguration.
func NewStateless(issuer *jwtx.Issuer, m *metrics.Metrics) *Service {
	return &Service{deps: Deps{Issuer: issuer, Metrics: m}}
}

// Issuer expone el firmador (verificación de sesiones en el boundary).
func (s *Service) Issuer() *jwtx.Issuer { return s.deps.Issuer }

// IssueAccessToken firma un access token. No tiene efectos secundarios.
func (s *Service) IssueAccessToken(d jwtx.AccessTokenData) (*AccessToken, error) {
	if d.AppID == "" {
		d.AppID = claims.DefaultAppID
	}
	signed, exp, err := s.deps.Issuer.IssueAccessToken(d)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}
	return &AccessToken{AppID: d.AppID, UserID: d.UserID, Token: signed, ExpireAt: exp}, nil
}

// IssueRefreshToken genera un valor opaco nuevo y reemplaza en un solo paso
// cualquier registro previo de (userID, appID).
func (s *Service) IssueRefreshToken(ctx context.Context, userID, appID string) (*RefreshToken, error) {
	if s.deps.Refresh == nil {
		return nil, autherrors.ErrConfiguration.WithDetail("refresh tokens require a credential store")
	}
	rec, rt, err := s.newRecord(userID, appID)
	if err != nil {
		return nil, err
	}
	if err := s.deps.Refresh.Upsert(ctx, rec); err != nil {
		return nil, storeErr(err)
	}
	return rt, nil
}

// Issue firma el access token y, si refreshable, emite el refresh token rotado.
func (s *Service) Issue(ctx context.Context, d jwtx.AccessTokenData, refreshable bool) (*AccessToken, error) {
	at, err := s.IssueAccessToken(d)
	if err != nil {
		return nil, err
	}
	if refreshable {
		rt, err := s.IssueRefreshToken(ctx, at.UserID, at.AppID)
		if err != nil {
			return nil, err
		}
		at.RefreshToken = rt
	}
	return at, nil
}

// RedeemRefreshToken canjea el access token (posiblemente vencido) y el
// refresh token por un access token nuevo y un refresh token rotado.
// Toda falla de la cadena es un único ErrUnauthorized.
func (s *Service) RedeemRefreshToken(ctx context.Context, presentedJWT, presentedRefresh string) (*AccessToken, error) {
	log := logger.From(ctx).With(
		logger.Layer("service"),
		logger.Component("tokens"),
		logger.Op("RedeemRefreshToken"),
	)
	at, err := s.redeem(ctx, presentedJWT, presentedRefresh, log)
	s.deps.Metrics.Refresh(refreshOutcome(err))
	return at, err
}

func (s *Service) redeem(ctx context.Context, presentedJWT, presentedRefresh string, log *zap.Logger) (*AccessToken, error) {
	if s.deps.Refresh == nil {
		return nil, autherrors.ErrConfiguration.WithDetail("refresh tokens require a credential store")
	}
	presentedJWT = strings.TrimSpace(presentedJWT)
	presentedRefresh = strings.TrimSpace(presentedRefresh)
	if presentedJWT == "" || presentedRefresh == "" {
		return nil, autherrors.ErrInvalidInput.WithDetail("token and refresh token are required")
	}

	deny := func(reason string, cause error) (*AccessToken, error) {
		log.Debug("refresh denied", zap.String("reason", reason), logger.Err(cause))
		return nil, autherrors.ErrUnauthorized.WithCause(fmt.Errorf("%s: %w", reason, errOrDenied(cause)))
	}

	set, err := s.deps.Issuer.ParseForRefresh(presentedJWT)
	if err != nil {
		return deny("parse", err)
	}
	userName := set.Value(claims.TypeName)
	appID := set.Value(claims.TypeAppID)
	subject := set.Value(claims.TypeSubject)
	if userName == "" || appID == "" {
		return deny("missing claims", nil)
	}
	log = log.With(logger.AppID(appID))

	u, err := s.deps.Users.GetByUserName(ctx, userName)
	if err != nil {
		if repository.IsNotFound(err) {
			return deny("user not found", err)
		}
		return nil, storeErr(err)
	}
	// un usuario renombrado no hereda sesiones de otro con el mismo nombre
	if subject != "" && subject != u.ID {
		return deny("subject mismatch", nil)
	}
	log = log.With(logger.UserID(u.ID))

	rec, err := s.deps.Refresh.Get(ctx, u.ID, appID)
	if err != nil {
		if repository.IsNotFound(err) {
			return deny("no refresh token", err)
		}
		return nil, storeErr(err)
	}
	if !tokens.MatchesDigest(presentedRefresh, rec.ValueHash) {
		return deny("refresh token mismatch", nil)
	}
	if rec.Expired(s.deps.Issuer.Now()) {
		return deny("refresh token expired", nil)
	}

	var session *claims.Set
	if s.deps.Claims != nil {
		if session, err = s.deps.Claims(ctx, u); err != nil {
			return nil, claimsErr(err)
		}
	}
	at, err := s.IssueAccessToken(jwtx.AccessTokenData{
		AppID:     appID,
		UserID:    u.ID,
		UserName:  u.UserName,
		UserEmail: u.Email,
		Claims:    session,
	})
	if err != nil {
		return nil, err
	}

	next, rt, err := s.newRecord(u.ID, appID)
	if err != nil {
		return nil, err
	}
	if err := s.deps.Refresh.Replace(ctx, rec.ValueHash, next); err != nil {
		if repository.IsConflict(err) || repository.IsNotFound(err) {
			// otro canje ganó la carrera con el mismo valor
			return deny("refresh token already redeemed", err)
		}
		return nil, storeErr(err)
	}
	at.RefreshToken = rt

	log.Info("refresh token rotated")
	return at, nil
}

// Revoke invalida el refresh token de (userID, appID). Es idempotente.
func (s *Service) Revoke(ctx context.Context, userID, appID string) error {
	if s.deps.Refresh == nil {
		return nil
	}
	if err := s.deps.Refresh.Delete(ctx, userID, appID); err != nil {
		return storeErr(err)
	}
	return nil
}

func (s *Service) newRecord(userID, appID string) (repository.RefreshToken, *RefreshToken, error) {
	if appID == "" {
		appID = claims.DefaultAppID
	}
	raw, err := tokens.GenerateOpaqueToken(tokens.RefreshBytes)
	if err != nil {
		return repository.RefreshToken{}, nil, autherrors.ErrStore.WithCause(err)
	}
	exp := s.deps.Issuer.Now().UTC().Truncate(time.Second).Add(s.deps.RefreshTTL)
	rec := repository.RefreshToken{
		UserID:    userID,
		AppID:     appID,
		ValueHash: tokens.SHA256Base64URL(raw),
		Scheme:    Scheme,
		ExpiresAt: exp,
	}
	return rec, &RefreshToken{Token: raw, ExpireAt: exp}, nil
}

func storeErr(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return autherrors.ErrCanceled.WithCause(err)
	}
	return autherrors.ErrStore.WithCause(err)
}

// claimsErr deja pasar los errores ya clasificados del loader y trata el
// resto como falla de store.
func claimsErr(err error) error {
	var ae *autherrors.AppError
	if errors.As(err, &ae) {
		return err
	}
	return storeErr(err)
}

var errDenied = errors.New("denied")

func errOrDenied(err error) error {
	if err == nil {
		return errDenied
	}
	return err
}

func refreshOutcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.Is(err, autherrors.ErrUnauthorized), errors.Is(err, autherrors.ErrInvalidInput):
		return metrics.OutcomeUnauthorized
	case errors.Is(err, autherrors.ErrCanceled):
		return metrics.OutcomeCanceled
	default:
		return metrics.OutcomeError
	}
}
