package repository

import (
	"context"
	"time"
)

// User es la credencial de un usuario. El PasswordHash es opaco para los servicios.
type User struct {
	ID                   string
	UserName             string
	Email                string
	EmailConfirmed       bool
	PhoneNumber          string
	PhoneNumberConfirmed bool
	PasswordHash         string

	LockoutEnabled    bool
	LockoutEnd        *time.Time
	AccessFailedCount int

	TwoFactorEnabled bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasPassword indica si la credencial tiene password local.
func (u *User) HasPassword() bool { return u.PasswordHash != "" }

// IsLockedOut indica si el lockout sigue vigente en now.
func (u *User) IsLockedOut(now time.Time) bool {
	return u.LockoutEnabled && u.LockoutEnd != nil && u.LockoutEnd.After(now)
}

// UserRepository define operaciones sobre credenciales.
type UserRepository interface {
	// GetByID retorna ErrNotFound si no existe.
	GetByID(ctx context.Context, id string) (*User, error)

	// GetByUserName busca por nombre (case-insensitive).
	GetByUserName(ctx context.Context, userName string) (*User, error)

	// GetByEmail busca por email (case-insensitive).
	GetByEmail(ctx context.Context, email string) (*User, error)

	// GetByPhoneNumber busca por teléfono exacto.
	GetByPhoneNumber(ctx context.Context, phone string) (*User, error)

	// Create inserta la credencial. ID y timestamps ya vienen seteados.
	// Retorna ErrDuplicateUserName o ErrDuplicateEmail.
	Create(ctx context.Context, u *User) error

	// Update sobrescribe los campos mutables salvo AccessFailedCount y
	// LockoutEnd, que solo cambian con RecordAccessFailure y ResetAccessFailures.
	// Retorna ErrNotFound, ErrDuplicateUserName o ErrDuplicateEmail.
	Update(ctx context.Context, u *User) error

	// RecordAccessFailure suma un intento fallido en un solo paso atómico.
	// Si el contador llega a maxAttempts setea LockoutEnd = lockUntil y lo
	// vuelve a 0. Retorna el estado resultante o ErrNotFound.
	RecordAccessFailure(ctx context.Context, id string, maxAttempts int, lockUntil, at time.Time) (*AccessFailures, error)

	// ResetAccessFailures pone el contador en 0 y borra LockoutEnd.
	ResetAccessFailures(ctx context.Context, id string, at time.Time) error

	// Delete borra la credencial con sus roles, claims, logins externos y
	// tokens. Retorna ErrNotFound.
	Delete(ctx context.Context, id string) error
}

// AccessFailures es el estado de lockout después de un intento fallido.
type AccessFailures struct {
	Count      int
	LockoutEnd *time.Time
}
