package repository

import (
	"errors"
	"strings"
)

var (
	// ErrNotFound indica que el recurso solicitado no existe.
	ErrNotFound = errors.New("not found")

	// ErrConflict indica un conflicto (duplicado o compare-and-swap perdido).
	ErrConflict = errors.New("conflict")

	// ErrDuplicateUserName indica que el nombre de usuario ya está tomado.
	ErrDuplicateUserName = errors.New("duplicate user name")

	// ErrDuplicateEmail indica que el email ya pertenece a otro usuario.
	ErrDuplicateEmail = errors.New("duplicate email")

	// ErrInvalidInput indica que los datos de entrada son inválidos.
	ErrInvalidInput = errors.New("invalid input")
)

// IsNotFound verifica si el error es ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict verifica si el error es ErrConflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// Normalize es la forma canónica para búsquedas case-insensitive (user name, email, rol).
func Normalize(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
