// Package session es el punto de entrada de los flujos de sesión: sign-in
// (password, 2FA, externo, transitorio, admin), refresh, sign-out, alta de
// cuentas y mutaciones de cuenta.
//
// Compone el Credential Store, el Token Issuer, el administrador de roles y
// claims, y el validador de proveedores externos.
package session

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/dropDatabas3/johnid/internal/claims"
	"github.com/dropDatabas3/johnid/internal/domain/repository"
	"github.com/dropDatabas3/johnid/internal/email"
	autherrors "github.com/dropDatabas3/johnid/internal/errors"
	"github.com/dropDatabas3/johnid/internal/metrics"
	"github.com/dropDatabas3/johnid/internal/observability/logger"
	"github.com/dropDatabas3/johnid/internal/providers"
	"github.com/dropDatabas3/johnid/internal/services/admin"
	"github.com/dropDatabas3/johnid/internal/services/tokens"
	"github.com/dropDatabas3/johnid/internal/store"
)

// AdministratorRole es el rol del usuario admin estático.
const AdministratorRole = "Administrator"

// Métodos de sign-in, usados como label de métricas.
const (
	MethodPassword          = "password"
	MethodTwoFactor         = "two_factor"
	MethodAdmin             = "admin"
	MethodExternal          = "external"
	MethodExternalTransient = "external_transient"
)

// AdminUser es el usuario admin estático (despliegues sin Credential Store).
type AdminUser struct {
	UserName string `yaml:"username" env:"USERNAME"`
	Password string `yaml:"password" env:"PASSWORD"`
	Email    string `yaml:"email" env:"EMAIL"`
}

// Config es la configuración de despliegue que consume el manager.
type Config struct {
	DefaultRoles []string
	Admin        AdminUser
}

// Deps contiene las dependencias del manager. Credentials nil => despliegue
// sin store: SignIn delega en SignInAdmin y los flujos de cuenta no están
// disponibles.
type Deps struct {
	Credentials *store.Credentials
	Tokens      *tokens.Service
	Admin       *admin.Service
	Providers   *providers.Registry
	Mailer      *email.Mailer
	Boundary    Boundary
	Metrics     *metrics.Metrics
	Config      Config
}

// Manager orquesta los flujos de sesión. Es seguro para uso concurrente.
type Manager struct {
	deps Deps
}

func New(deps Deps) (*Manager, error) {
	if deps.Tokens == nil {
		return nil, errors.New("session: token service is required")
	}
	if deps.Credentials != nil && deps.Admin == nil {
		deps.Admin = admin.FromConnection(deps.Credentials.Conn())
	}
	if deps.Providers == nil {
		deps.Providers = providers.NewRegistry(nil, providers.Deps{Metrics: deps.Metrics})
	}
	if deps.Boundary == nil {
		deps.Boundary = NopBoundary{}
	}
	return &Manager{deps: deps}, nil
}

// Authenticate valida un access token emitido por este servicio y devuelve
// el principal (sus claims). Lo usa el boundary para establecer la sesión.
func (m *Manager) Authenticate(token string) (*claims.Set, error) {
	set, err := m.deps.Tokens.Issuer().Verify(token)
	if err != nil {
		return nil, autherrors.ErrUnauthorized.WithCause(err)
	}
	return set, nil
}

func (m *Manager) log(ctx context.Context, op string) *zap.Logger {
	return logger.From(ctx).With(
		logger.Layer("service"),
		logger.Component("session"),
		logger.Op(op),
	)
}

func (m *Manager) requireStore() error {
	if m.deps.Credentials == nil {
		return autherrors.ErrNotSupported.WithDetail("operation requires a credential store")
	}
	return nil
}

// current resuelve la credencial del principal de la sesión establecida.
func (m *Manager) current(ctx context.Context, principal *claims.Set) (*repository.User, error) {
	if err := m.requireStore(); err != nil {
		return nil, err
	}
	name := principal.Value(claims.TypeName)
	if name == "" {
		return nil, autherrors.ErrUnauthorized.WithDetail("session principal has no user name")
	}
	u, err := m.deps.Credentials.FindByName(ctx, name)
	if err != nil {
		return nil, notFound(err, "user")
	}
	if sub := principal.Value(claims.TypeSubject); sub != "" && sub != u.ID {
		return nil, autherrors.ErrUnauthorized.WithDetail("session principal does not match credential")
	}
	return u, nil
}

// sessionClaims arma los claims de roles y claims del usuario.
func (m *Manager) sessionClaims(ctx context.Context, u *repository.User) (*claims.Set, error) {
	return m.deps.Admin.SessionClaims(ctx, u)
}

func notFound(err error, what string) error {
	if repository.IsNotFound(err) {
		return autherrors.ErrNotFound.WithDetail(what)
	}
	return store.TranslateError(err)
}

func required(fields ...[2]string) error {
	var missing []string
	for _, f := range fields {
		if strings.TrimSpace(f[1]) == "" {
			missing = append(missing, f[0])
		}
	}
	if len(missing) > 0 {
		return autherrors.ErrInvalidInput.WithDetail("missing " + strings.Join(missing, ", "))
	}
	return nil
}

func field(name, value string) [2]string { return [2]string{name, value} }
