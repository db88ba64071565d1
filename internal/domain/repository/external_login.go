package repository

import "context"

// ExternalLogin vincula (provider, provider key) a un usuario local.
type ExternalLogin struct {
	Provider    string // "Facebook", "Google", "Microsoft"
	ProviderKey string // subject del provider
	DisplayName string
}

// ExternalLoginRepository define operaciones sobre vínculos con providers externos.
type ExternalLoginRepository interface {
	// FindUserByLogin retorna ErrNotFound si no hay vínculo.
	FindUserByLogin(ctx context.Context, provider, providerKey string) (*User, error)

	// AddLogin retorna ErrConflict si (provider, key) ya está vinculado.
	AddLogin(ctx context.Context, userID string, l ExternalLogin) error

	// RemoveLogin retorna ErrNotFound si el vínculo no existe para ese usuario.
	RemoveLogin(ctx context.Context, userID, provider, providerKey string) error

	// UserLogins lista los vínculos de un usuario.
	UserLogins(ctx context.Context, userID string) ([]ExternalLogin, error)
}
