package repository

import (
	"context"
	"time"
)

// RefreshToken es el registro persistido. Hay a lo sumo uno por (UserID, AppID).
// ValueHash es sha256 base64url del valor opaco entregado al cliente.
type RefreshToken struct {
	UserID    string
	AppID     string
	ValueHash string
	Scheme    string // "Bearer"
	ExpiresAt time.Time
}

// Expired reporta si el registro ya no es válido en now (expiresAt <= now).
func (t *RefreshToken) Expired(now time.Time) bool {
	return !t.ExpiresAt.After(now)
}

// RefreshTokenRepository persiste refresh tokens.
type RefreshTokenRepository interface {
	// Get retorna ErrNotFound si no hay registro para (userID, appID).
	Get(ctx context.Context, userID, appID string) (*RefreshToken, error)

	// Upsert reemplaza cualquier registro previo de (UserID, AppID) en un solo paso.
	Upsert(ctx context.Context, t RefreshToken) error

	// Replace es un compare-and-swap: reemplaza el registro solo si su ValueHash
	// sigue siendo oldHash. Si otro redeem ganó la carrera retorna ErrConflict.
	Replace(ctx context.Context, oldHash string, t RefreshToken) error

	// Delete es idempotente.
	Delete(ctx context.Context, userID, appID string) error
}
