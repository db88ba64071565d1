package session

import (
	"context"

	"github.com/dropDatabas3/johnid/internal/claims"
	"github.com/dropDatabas3/johnid/internal/services/tokens"
)

// Boundary es la capa que expone las sesiones al cliente (cookies, headers).
// El manager le avisa cuando una sesión se establece o se invalida.
type Boundary interface {
	Established(ctx context.Context, at *tokens.AccessToken, persistent bool) error
	Invalidated(ctx context.Context, principal *claims.Set) error
}

// NopBoundary no hace nada; las sesiones viven solo en los tokens.
type NopBoundary struct{}

func (NopBoundary) Established(context.Context, *tokens.AccessToken, bool) error { return nil }
func (NopBoundary) Invalidated(context.Context, *claims.Set) error               { return nil }
