// Package errors define la taxonomía de errores del core de identidad.
//
// Cada error del catálogo es un *AppError con un Code estable. Las copias
// creadas con WithDetail/WithCause siguen matcheando con errors.Is contra el
// error base, así los callers pueden hacer:
//
//	if errors.Is(err, autherrors.ErrUnauthorized) { ... }
package errors

import (
	stderrors "errors"
	"fmt"
)

// AppError define la estructura estándar para errores del core.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
	Err     error  `json:"-"` // causa original, para logs; nunca se expone al caller
}

// Error implementa la interfaz error
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	if e.Detail != "" {
		return fmt.Sprintf("[%s] %s (%s)", e.Code, e.Message, e.Detail)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap permite acceder al error original
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matchea por Code, de modo que las copias derivadas de un error del
// catálogo sigan siendo reconocidas.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New crea un nuevo AppError
func New(code, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Wrap crea un AppError envolviendo un error existente
func Wrap(err error, code, message string) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// WithDetail devuelve una COPIA con detalle adicional.
func (e *AppError) WithDetail(detail string) *AppError {
	newErr := *e
	newErr.Detail = detail
	return &newErr
}

// WithCause devuelve una COPIA con la causa original.
func (e *AppError) WithCause(err error) *AppError {
	newErr := *e
	newErr.Err = err
	return &newErr
}

// Code devuelve el código del primer *AppError en la cadena, o "".
func Code(err error) string {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// =================================================================================
// CATÁLOGO
// =================================================================================

var (
	// ErrInvalidInput: falta un campo requerido o la forma del input es inválida.
	// Se reporta antes de cualquier regla de negocio.
	ErrInvalidInput = New("INVALID_INPUT", "required field missing or malformed")

	// ErrUnauthorized cubre credenciales inválidas, tokens externos no
	// verificables y refresh tokens inválidos/expirados. Nunca lleva detalle
	// de la causa hacia el caller.
	ErrUnauthorized = New("UNAUTHORIZED", "unauthorized")

	ErrLockedOut           = New("LOCKED_OUT", "account is locked out")
	ErrTwoFactorRequired   = New("TWO_FACTOR_REQUIRED", "two-factor authentication required")
	ErrSetPasswordConflict = New("PASSWORD_ALREADY_SET", "account already has a password")

	// ErrValidationFailed es el error base de ValidationError.
	ErrValidationFailed = New("VALIDATION_FAILED", "validation failed")

	ErrNotFound     = New("NOT_FOUND", "resource not found")
	ErrNotSupported = New("NOT_SUPPORTED", "operation not supported")

	// ErrNoLinkedAccount: el login externo es válido pero no hay cuenta local vinculada.
	ErrNoLinkedAccount = New("NO_LINKED_ACCOUNT", "no local account linked to external login")

	// ErrCanceled: el caller canceló (o venció el deadline) durante I/O externo.
	ErrCanceled = New("CANCELED", "operation canceled")

	// ErrConfiguration: falta configuración de despliegue (provider, admin, etc).
	ErrConfiguration = New("CONFIGURATION", "missing or invalid configuration")

	// ErrStore: falla de persistencia no atribuible al input.
	ErrStore = New("STORE_ERROR", "credential store failure")
)
