// Package audit registra los eventos de sesión como líneas estructuradas.
// Implementa session.Boundary cuando no hay un boundary HTTP real.
package audit

import (
	"context"

	"go.uber.org/zap"

	"github.com/dropDatabas3/johnid/internal/claims"
	"github.com/dropDatabas3/johnid/internal/observability/logger"
	"github.com/dropDatabas3/johnid/internal/services/tokens"
)

const (
	EventSessionEstablished = "session_established"
	EventSessionInvalidated = "session_invalidated"
)

// Log writes a structured audit event.
type Log struct {
	log *zap.Logger
}

// New usa l o, si es nil, el logger global.
func New(l *zap.Logger) *Log {
	if l == nil {
		l = logger.L()
	}
	return &Log{log: l.With(logger.Component("audit"))}
}

func (a *Log) Established(ctx context.Context, at *tokens.AccessToken, persistent bool) error {
	a.log.Info(EventSessionEstablished,
		logger.UserID(at.UserID),
		logger.AppID(at.AppID),
		logger.Bool("persistent", persistent),
		logger.Bool("refreshable", at.RefreshToken != nil),
		zap.Time("expires_at", at.ExpireAt),
	)
	return nil
}

func (a *Log) Invalidated(ctx context.Context, principal *claims.Set) error {
	a.log.Info(EventSessionInvalidated,
		logger.UserID(principal.Value(claims.TypeSubject)),
		logger.AppID(principal.Value(claims.TypeAppID)),
	)
	return nil
}
