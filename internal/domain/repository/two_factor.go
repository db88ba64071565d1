package repository

import (
	"context"
	"time"
)

// TOTP es la configuración de segundo factor de un usuario.
type TOTP struct {
	UserID          string
	SecretEncrypted string
	ConfirmedAt     *time.Time
	LastCounter     int64
}

// TwoFactorRepository persiste el secreto TOTP.
type TwoFactorRepository interface {
	// UpsertTOTP guarda un secreto nuevo sin confirmar.
	UpsertTOTP(ctx context.Context, userID, secretEnc string) error

	// GetTOTP retorna ErrNotFound si no existe.
	GetTOTP(ctx context.Context, userID string) (*TOTP, error)

	// ConfirmTOTP marca el secreto como confirmado.
	ConfirmTOTP(ctx context.Context, userID string, at time.Time) error

	// AdvanceCounter guarda el último contador usado solo si es mayor al actual.
	// Retorna ErrConflict si el contador ya fue usado (replay).
	AdvanceCounter(ctx context.Context, userID string, counter int64) error

	// DeleteTOTP es idempotente.
	DeleteTOTP(ctx context.Context, userID string) error
}
