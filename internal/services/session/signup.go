package session

import (
	"context"
	"errors"
	"strings"

	"github.com/dropDatabas3/johnid/internal/claims"
	"github.com/dropDatabas3/johnid/internal/domain/repository"
	autherrors "github.com/dropDatabas3/johnid/internal/errors"
	"github.com/dropDatabas3/johnid/internal/observability/logger"
	"github.com/dropDatabas3/johnid/internal/services/admin"
	"github.com/dropDatabas3/johnid/internal/store"
)

// SignUp es el alta local con password.
type SignUp struct {
	UserName string
	Password string
	Email    string
	Roles    []string
	Claims   []claims.Claim
}

// ExternalLogin es el token de proveedor con el que se vincula la cuenta.
type ExternalLogin struct {
	Provider    string
	AccessToken string
}

// SignUpExternal es el alta vinculada a un proveedor externo. El email es
// también el nombre de usuario.
type SignUpExternal struct {
	Email         string
	ExternalLogin ExternalLogin
	Roles         []string
	Claims        []claims.Claim
}

// SignUp crea la credencial, asigna los roles pedidos más los roles por
// defecto (sin duplicados) y los claims. Los errores de validación vuelven
// todos juntos.
func (m *Manager) SignUp(ctx context.Context, in SignUp) (*repository.User, error) {
	if err := m.requireStore(); err != nil {
		return nil, err
	}
	if err := required(field("username", in.UserName), field("password", in.Password)); err != nil {
		return nil, err
	}
	u := &repository.User{UserName: in.UserName, Email: in.Email}
	roles := claims.DistinctStrings(in.Roles, m.deps.Config.DefaultRoles)
	if err := m.validate(ctx, roles, m.deps.Credentials.Validate(ctx, u, in.Password), admin.CheckClaims(in.Claims...)); err != nil {
		return nil, err
	}

	if err := m.deps.Credentials.Create(ctx, u, in.Password); err != nil {
		return nil, err
	}
	if err := m.assign(ctx, u, roles, in.Claims); err != nil {
		return nil, m.undoCreate(ctx, "SignUp", u, err)
	}
	m.log(ctx, "SignUp").Info("user created", logger.UserID(u.ID), logger.Count(len(roles)))
	return u, nil
}

// SignUpExternal valida el token del proveedor, crea una credencial sin
// password y la vincula al sujeto del proveedor.
func (m *Manager) SignUpExternal(ctx context.Context, in SignUpExternal) (*repository.User, error) {
	if err := m.requireStore(); err != nil {
		return nil, err
	}
	if err := required(
		field("email", in.Email),
		field("provider", in.ExternalLogin.Provider),
		field("accessToken", in.ExternalLogin.AccessToken),
	); err != nil {
		return nil, err
	}
	p, subject, err := m.validateExternal(ctx, in.ExternalLogin.Provider, in.ExternalLogin.AccessToken)
	if err != nil {
		return nil, err
	}

	var linked error
	if _, err := m.deps.Credentials.FindByLogin(ctx, p.Name(), subject); err == nil {
		linked = autherrors.NewValidationError(&autherrors.FieldError{Field: "login", Code: "login_already_associated", Message: "external login already linked to an account"})
	} else if !repository.IsNotFound(err) {
		return nil, store.TranslateError(err)
	}
	email := strings.TrimSpace(in.Email)
	u := &repository.User{UserName: email, Email: email}
	roles := claims.DistinctStrings(in.Roles, m.deps.Config.DefaultRoles)
	if err := m.validate(ctx, roles, linked, m.deps.Credentials.Validate(ctx, u, ""), admin.CheckClaims(in.Claims...)); err != nil {
		return nil, err
	}

	if err := m.deps.Credentials.Create(ctx, u, ""); err != nil {
		return nil, err
	}
	if err := m.deps.Credentials.AddLogin(ctx, u, repository.ExternalLogin{Provider: p.Name(), ProviderKey: subject, DisplayName: p.Name()}); err != nil {
		return nil, m.undoCreate(ctx, "SignUpExternal", u, err)
	}
	if err := m.assign(ctx, u, roles, in.Claims); err != nil {
		return nil, m.undoCreate(ctx, "SignUpExternal", u, err)
	}
	m.log(ctx, "SignUpExternal").Info("user created", logger.UserID(u.ID), logger.Provider(p.Name()))
	return u, nil
}

// validate junta en un solo *ValidationError los errores de validación
// previos al alta más los roles inexistentes. Cualquier otro error corta.
func (m *Manager) validate(ctx context.Context, roles []string, prior ...error) error {
	var verr *autherrors.ValidationError
	for _, err := range append(prior, m.deps.Admin.CheckRoles(ctx, roles...)) {
		if err == nil {
			continue
		}
		var v *autherrors.ValidationError
		if !errors.As(err, &v) {
			return err
		}
		verr = verr.Append(v.Errors()...)
	}
	if verr != nil {
		return verr
	}
	return nil
}

// undoCreate borra el usuario recién creado cuando falla un paso posterior
// del alta, así no queda una cuenta sin roles o sin vínculo. Devuelve cause.
func (m *Manager) undoCreate(ctx context.Context, op string, u *repository.User, cause error) error {
	if err := m.deps.Credentials.Delete(context.WithoutCancel(ctx), u); err != nil {
		m.log(ctx, op).Error("rollback of created user failed",
			logger.UserID(u.ID), logger.Err(err), logger.String("cause", cause.Error()))
	}
	return cause
}

func (m *Manager) assign(ctx context.Context, u *repository.User, roles []string, cs []claims.Claim) error {
	if len(roles) > 0 {
		if err := m.deps.Admin.AddUserToRoles(ctx, u.ID, roles...); err != nil {
			return err
		}
	}
	if len(cs) > 0 {
		if err := m.deps.Admin.AddUserClaims(ctx, u.ID, cs...); err != nil {
			return err
		}
	}
	return nil
}
