// Package admin administra roles y claims de usuarios y roles.
//
// Los listados de claims vienen ordenados por (type, value). Cuando un type
// tiene varios valores, UserClaim/RoleClaim devuelven el primero en ese orden.
package admin

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dropDatabas3/johnid/internal/claims"
	"github.com/dropDatabas3/johnid/internal/domain/repository"
	autherrors "github.com/dropDatabas3/johnid/internal/errors"
	"github.com/dropDatabas3/johnid/internal/observability/logger"
	"github.com/dropDatabas3/johnid/internal/store"
	"github.com/dropDatabas3/johnid/internal/validation"
)

// Deps contiene las dependencias del servicio.
type Deps struct {
	Roles  repository.RoleRepository
	Claims repository.ClaimRepository
	Now    func() time.Time
}

// Service es el administrador de roles y claims.
type Service struct {
	deps Deps
}

func New(deps Deps) *Service {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Service{deps: deps}
}

// FromConnection arma el servicio sobre una conexión de store.
func FromConnection(conn store.AdapterConnection) *Service {
	return New(Deps{Roles: conn.Roles(), Claims: conn.Claims()})
}

func (s *Service) log(ctx context.Context, op string) *zap.Logger {
	return logger.From(ctx).With(logger.Layer("service"), logger.Component("admin"), logger.Op(op))
}

// ─── Roles ───

// ListRoles devuelve todos los roles ordenados por nombre.
func (s *Service) ListRoles(ctx context.Context) ([]repository.Role, error) {
	roles, err := s.deps.Roles.ListRoles(ctx)
	if err != nil {
		return nil, store.TranslateError(err)
	}
	return roles, nil
}

// CreateRole crea un rol. Un nombre repetido (case-insensitive) es un error de validación.
func (s *Service) CreateRole(ctx context.Context, name string) (*repository.Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, autherrors.ErrInvalidInput.WithDetail("role name is required")
	}
	r := &repository.Role{ID: uuid.NewString(), Name: name, CreatedAt: s.deps.Now().UTC()}
	if err := s.deps.Roles.CreateRole(ctx, r); err != nil {
		if repository.IsConflict(err) {
			return nil, autherrors.NewValidationError(fieldErr("role", "duplicate_role_name", "role "+name+" already exists"))
		}
		return nil, store.TranslateError(err)
	}
	s.log(ctx, "CreateRole").Info("role created", logger.Role(name))
	return r, nil
}

// EnsureRoles crea los roles que falten. Se usa al arrancar para los roles por defecto.
func (s *Service) EnsureRoles(ctx context.Context, names ...string) error {
	for _, n := range claims.DistinctStrings(names) {
		if _, err := s.role(ctx, n); err == nil {
			continue
		} else if !errors.Is(err, autherrors.ErrNotFound) {
			return err
		}
		if _, err := s.CreateRole(ctx, n); err != nil && !errors.Is(err, autherrors.ErrValidationFailed) {
			return err
		}
	}
	return nil
}

// DeleteRole borra el rol junto con sus claims y asignaciones.
func (s *Service) DeleteRole(ctx context.Context, name string) error {
	r, err := s.role(ctx, name)
	if err != nil {
		return err
	}
	if err := s.deps.Roles.DeleteRole(ctx, r.ID); err != nil {
		return store.TranslateError(err)
	}
	s.log(ctx, "DeleteRole").Info("role deleted", logger.Role(r.Name))
	return nil
}

// UserRoles devuelve los nombres de roles del usuario, ordenados.
func (s *Service) UserRoles(ctx context.Context, userID string) ([]string, error) {
	names, err := s.deps.Roles.UserRoleNames(ctx, userID)
	if err != nil {
		return nil, store.TranslateError(err)
	}
	return names, nil
}

// AddUserToRoles asigna los roles (deduplicados). Los roles inexistentes y
// las asignaciones repetidas vuelven juntos en un *ValidationError.
func (s *Service) AddUserToRoles(ctx context.Context, userID string, names ...string) error {
	var verr *autherrors.ValidationError
	for _, n := range claims.DistinctStrings(names) {
		r, err := s.role(ctx, n)
		if errors.Is(err, autherrors.ErrNotFound) {
			verr = verr.Append(fieldErr("role", "role_not_found", "role "+n+" does not exist"))
			continue
		}
		if err != nil {
			return err
		}
		err = s.deps.Roles.AddUserToRole(ctx, userID, r.ID)
		switch {
		case err == nil:
		case repository.IsConflict(err):
			verr = verr.Append(fieldErr("role", "user_already_in_role", "user already in role "+r.Name))
		default:
			return store.TranslateError(err)
		}
	}
	if verr != nil {
		return verr
	}
	return nil
}

// CheckRoles reporta en un *ValidationError los roles que no existen.
func (s *Service) CheckRoles(ctx context.Context, names ...string) error {
	var verr *autherrors.ValidationError
	for _, n := range claims.DistinctStrings(names) {
		_, err := s.role(ctx, n)
		if errors.Is(err, autherrors.ErrNotFound) {
			verr = verr.Append(fieldErr("role", "role_not_found", "role "+n+" does not exist"))
			continue
		}
		if err != nil {
			return err
		}
	}
	if verr != nil {
		return verr
	}
	return nil
}

// RemoveUserFromRole quita la asignación. Si no existía devuelve ErrNotFound.
func (s *Service) RemoveUserFromRole(ctx context.Context, userID, name string) error {
	r, err := s.role(ctx, name)
	if err != nil {
		return err
	}
	if err := s.deps.Roles.RemoveUserFromRole(ctx, userID, r.ID); err != nil {
		return store.TranslateError(err)
	}
	return nil
}

func (s *Service) role(ctx context.Context, name string) (*repository.Role, error) {
	r, err := s.deps.Roles.GetRoleByName(ctx, name)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, autherrors.ErrNotFound.WithDetail("role " + strings.TrimSpace(name))
		}
		return nil, store.TranslateError(err)
	}
	return r, nil
}

// ─── Claims de usuario ───

func (s *Service) UserClaims(ctx context.Context, userID string) ([]claims.Claim, error) {
	cs, err := s.deps.Claims.UserClaims(ctx, userID)
	if err != nil {
		return nil, store.TranslateError(err)
	}
	return cs, nil
}

// UserClaim devuelve el primer claim del type pedido, en orden (type, value).
func (s *Service) UserClaim(ctx context.Context, userID, typ string) (claims.Claim, error) {
	cs, err := s.UserClaims(ctx, userID)
	if err != nil {
		return claims.Claim{}, err
	}
	return first(cs, typ)
}

func (s *Service) AddUserClaims(ctx context.Context, userID string, cs ...claims.Claim) error {
	if len(cs) == 0 {
		return nil
	}
	if err := CheckClaims(cs...); err != nil {
		return err
	}
	if err := s.deps.Claims.AddUserClaims(ctx, userID, claims.Distinct(cs)); err != nil {
		return store.TranslateError(err)
	}
	return nil
}

func (s *Service) RemoveUserClaims(ctx context.Context, userID string, cs ...claims.Claim) error {
	if len(cs) == 0 {
		return nil
	}
	if err := s.deps.Claims.RemoveUserClaims(ctx, userID, cs); err != nil {
		return store.TranslateError(err)
	}
	return nil
}

// CheckClaims reporta juntos todos los claims con type inválido.
func CheckClaims(cs ...claims.Claim) error {
	var verr *autherrors.ValidationError
	for _, c := range cs {
		if !validation.ValidClaimType(c.Type) {
			verr = verr.Append(fieldErr("claim", "invalid_claim_type", "invalid claim type "+strconv.Quote(c.Type)))
		}
	}
	if verr != nil {
		return verr
	}
	return nil
}

// ─── Claims de rol ───

func (s *Service) RoleClaims(ctx context.Context, roleName string) ([]claims.Claim, error) {
	r, err := s.role(ctx, roleName)
	if err != nil {
		return nil, err
	}
	cs, err := s.deps.Claims.RoleClaims(ctx, r.ID)
	if err != nil {
		return nil, store.TranslateError(err)
	}
	return cs, nil
}

// RoleClaim devuelve el primer claim del type pedido, en orden (type, value).
func (s *Service) RoleClaim(ctx context.Context, roleName, typ string) (claims.Claim, error) {
	cs, err := s.RoleClaims(ctx, roleName)
	if err != nil {
		return claims.Claim{}, err
	}
	return first(cs, typ)
}

func (s *Service) AddRoleClaims(ctx context.Context, roleName string, cs ...claims.Claim) error {
	if err := CheckClaims(cs...); err != nil {
		return err
	}
	r, err := s.role(ctx, roleName)
	if err != nil {
		return err
	}
	if err := s.deps.Claims.AddRoleClaims(ctx, r.ID, claims.Distinct(cs)); err != nil {
		return store.TranslateError(err)
	}
	return nil
}

func (s *Service) RemoveRoleClaims(ctx context.Context, roleName string, cs ...claims.Claim) error {
	r, err := s.role(ctx, roleName)
	if err != nil {
		return err
	}
	if err := s.deps.Claims.RemoveRoleClaims(ctx, r.ID, cs); err != nil {
		return store.TranslateError(err)
	}
	return nil
}

// SessionClaims arma los claims que viajan en el access token del usuario:
// un claim role por rol, sus claims propios y los claims de cada rol.
func (s *Service) SessionClaims(ctx context.Context, u *repository.User) (*claims.Set, error) {
	set := claims.NewSet()
	names, err := s.UserRoles(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	for _, n := range names {
		set.Add(claims.Role(n))
	}
	own, err := s.UserClaims(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	set.Add(own...)
	for _, n := range names {
		cs, err := s.RoleClaims(ctx, n)
		if errors.Is(err, autherrors.ErrNotFound) {
			// borrado entre el listado y esta lectura
			continue
		}
		if err != nil {
			return nil, err
		}
		set.Add(cs...)
	}
	return set, nil
}

func first(cs []claims.Claim, typ string) (claims.Claim, error) {
	claims.Sort(cs)
	c, ok := claims.NewSet(cs...).First(typ)
	if !ok {
		return claims.Claim{}, autherrors.ErrNotFound.WithDetail("claim " + typ)
	}
	return c, nil
}

func fieldErr(field, code, msg string) error {
	return &autherrors.FieldError{Field: field, Code: code, Message: msg}
}
