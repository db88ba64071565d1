package errors

import (
	"strings"

	"go.uber.org/multierr"
)

// FieldError es un error de validación reportado por el store para un campo.
type FieldError struct {
	Field   string
	Code    string
	Message string
}

func (f *FieldError) Error() string {
	if f.Field == "" {
		return f.Code + ": " + f.Message
	}
	return f.Field + ": " + f.Code + ": " + f.Message
}

// ValidationError agrega todos los errores de validación de una operación.
// Nunca se reporta solo el primero.
type ValidationError struct {
	err error
}

// NewValidationError agrega los errores dados (los nil se ignoran).
// Devuelve nil si no queda ninguno.
func NewValidationError(errs ...error) *ValidationError {
	combined := multierr.Combine(errs...)
	if combined == nil {
		return nil
	}
	return &ValidationError{err: combined}
}

// Append agrega errores a una ValidationError existente (que puede ser nil).
func (v *ValidationError) Append(errs ...error) *ValidationError {
	var base error
	if v != nil {
		base = v.err
	}
	for _, e := range errs {
		base = multierr.Append(base, e)
	}
	if base == nil {
		return nil
	}
	return &ValidationError{err: base}
}

// Errors devuelve la lista plana de errores agregados.
func (v *ValidationError) Errors() []error {
	if v == nil {
		return nil
	}
	return multierr.Errors(v.err)
}

// Fields devuelve los FieldError agregados.
func (v *ValidationError) Fields() []*FieldError {
	var out []*FieldError
	for _, e := range v.Errors() {
		if fe, ok := e.(*FieldError); ok {
			out = append(out, fe)
		}
	}
	return out
}

func (v *ValidationError) Error() string {
	msgs := make([]string, 0, len(v.Errors()))
	for _, e := range v.Errors() {
		msgs = append(msgs, e.Error())
	}
	return ErrValidationFailed.Message + ": " + strings.Join(msgs, "; ")
}

// Unwrap expone el error base del catálogo y los agregados.
func (v *ValidationError) Unwrap() []error {
	return append([]error{ErrValidationFailed}, v.Errors()...)
}
