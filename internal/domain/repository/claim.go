package repository

import (
	"context"

	"github.com/dropDatabas3/johnid/internal/claims"
)

// ClaimRepository define claims asociados a usuarios y roles.
// Los listados vuelven ordenados por (type, value): ese orden define
// cuál es el "primero" de un type con varios valores.
type ClaimRepository interface {
	UserClaims(ctx context.Context, userID string) ([]claims.Claim, error)
	// AddUserClaims ignora pares ya presentes.
	AddUserClaims(ctx context.Context, userID string, cs []claims.Claim) error
	// RemoveUserClaims ignora pares ausentes.
	RemoveUserClaims(ctx context.Context, userID string, cs []claims.Claim) error

	RoleClaims(ctx context.Context, roleID string) ([]claims.Claim, error)
	AddRoleClaims(ctx context.Context, roleID string, cs []claims.Claim) error
	RemoveRoleClaims(ctx context.Context, roleID string, cs []claims.Claim) error
}
