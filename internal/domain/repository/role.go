package repository

import (
	"context"
	"time"
)

// Role es un rol con nombre; many-to-many con User.
type Role struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// RoleRepository define operaciones sobre roles y la relación usuario↔rol.
type RoleRepository interface {
	// ListRoles lista todos los roles ordenados por nombre.
	ListRoles(ctx context.Context) ([]Role, error)

	// GetRoleByName busca por nombre (case-insensitive). Retorna ErrNotFound.
	GetRoleByName(ctx context.Context, name string) (*Role, error)

	// CreateRole retorna ErrConflict si ya existe un rol con ese nombre.
	CreateRole(ctx context.Context, r *Role) error

	// DeleteRole borra el rol, sus claims y sus asignaciones. Retorna ErrNotFound.
	DeleteRole(ctx context.Context, roleID string) error

	// UserRoleNames devuelve los nombres de roles del usuario ordenados por nombre.
	UserRoleNames(ctx context.Context, userID string) ([]string, error)

	// AddUserToRole retorna ErrConflict si el usuario ya tiene el rol.
	AddUserToRole(ctx context.Context, userID, roleID string) error

	// RemoveUserFromRole retorna ErrNotFound si el usuario no tenía el rol.
	RemoveUserFromRole(ctx context.Context, userID, roleID string) error
}
