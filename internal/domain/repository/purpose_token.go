package repository

import (
	"context"
	"time"
)

// PurposeToken es un token de un solo uso (reset de password, confirmación de email, etc).
// Payload liga el token a un dato concreto (ej: el email nuevo en ChangeEmail).
type PurposeToken struct {
	UserID    string
	Purpose   string
	TokenHash string
	Payload   string
	ExpiresAt time.Time
}

// PurposeTokenRepository persiste tokens de propósito. Uno vigente por (UserID, Purpose).
type PurposeTokenRepository interface {
	// Put reemplaza el token previo del mismo (UserID, Purpose).
	Put(ctx context.Context, t PurposeToken) error

	// Get retorna ErrNotFound si no hay token.
	Get(ctx context.Context, userID, purpose string) (*PurposeToken, error)

	// Consume borra el token solo si su hash coincide. Retorna ErrNotFound si ya
	// fue consumido (o reemplazado) por otro llamado.
	Consume(ctx context.Context, userID, purpose, tokenHash string) error
}
