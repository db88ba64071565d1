// Package providers valida tokens emitidos por proveedores de identidad
// externos (Facebook, Google, Microsoft).
//
// Cada variante vive en su subpaquete y se auto-registra en init():
//
//	import _ "github.com/dropDatabas3/johnid/internal/providers/all"
//
// Agregar un proveedor es agregar un subpaquete; el Registry no cambia.
package providers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/dropDatabas3/johnid/internal/cache"
	autherrors "github.com/dropDatabas3/johnid/internal/errors"
	"github.com/dropDatabas3/johnid/internal/metrics"
)

// Profile es el perfil mínimo que devuelve un proveedor.
type Profile struct {
	Subject     string
	DisplayName string
	Email       string
}

// Provider es la capacidad uniforme de cada variante.
type Provider interface {
	// Name es el nombre canónico ("Facebook", "Google", "Microsoft").
	Name() string

	// ValidateAccessToken verifica el token presentado y devuelve el
	// identificador estable del sujeto en el proveedor.
	ValidateAccessToken(ctx context.Context, accessToken string) (string, error)

	// FetchProfile consulta la API de perfil del proveedor. Es una capacidad
	// aparte: no asume que el token pasó antes por ValidateAccessToken.
	FetchProfile(ctx context.Context, accessToken string) (*Profile, error)
}

// Config es la configuración de login externo de un proveedor.
type Config struct {
	Name         string `yaml:"name"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
}

// Deps son los colaboradores compartidos por todas las variantes.
type Deps struct {
	// HTTP es el pool compartido. Nunca se crea uno por llamada.
	HTTP *http.Client
	// Cache guarda discovery documents. nil => cache en memoria.
	Cache   cache.Client
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Unauthorized colapsa cualquier falla de validación a ErrUnauthorized,
// salvo cancelación del caller que se reporta como ErrCanceled.
// La causa queda en el error para logs; nunca se expone al caller.
func Unauthorized(ctx context.Context, err error) error {
	if err == nil {
		err = errors.New("provider rejected token")
	}
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return autherrors.ErrCanceled.WithCause(err)
	}
	var appErr *autherrors.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return autherrors.ErrUnauthorized.WithCause(err)
}

// LooksLikeJWT reporta si el token tiene la forma header.payload.signature.
func LooksLikeJWT(token string) bool {
	return strings.Count(token, ".") == 2
}

func key(name string) string { return strings.ToLower(strings.TrimSpace(name)) }
