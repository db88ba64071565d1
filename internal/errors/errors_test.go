package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_CopiesStillMatchCatalogue(t *testing.T) {
	cause := fmt.Errorf("signature mismatch")
	err := ErrUnauthorized.WithCause(cause).WithDetail("refresh")

	assert.True(t, stderrors.Is(err, ErrUnauthorized))
	assert.False(t, stderrors.Is(err, ErrLockedOut))
	assert.True(t, stderrors.Is(err, cause))
	assert.Equal(t, "UNAUTHORIZED", Code(fmt.Errorf("wrapped: %w", err)))

	// the catalogue entry itself is not mutated
	assert.Nil(t, ErrUnauthorized.Err)
	assert.Empty(t, ErrUnauthorized.Detail)
}

func TestValidationError_AggregatesAll(t *testing.T) {
	verr := NewValidationError(
		&FieldError{Field: "username", Code: "duplicate", Message: "taken"},
		nil,
		&FieldError{Field: "password", Code: "too_short", Message: "min 10"},
	)
	require.NotNil(t, verr)

	assert.Len(t, verr.Errors(), 2)
	assert.Len(t, verr.Fields(), 2)
	assert.True(t, stderrors.Is(verr, ErrValidationFailed))
	assert.Contains(t, verr.Error(), "username")
	assert.Contains(t, verr.Error(), "password")
}

func TestValidationError_EmptyIsNil(t *testing.T) {
	assert.Nil(t, NewValidationError())
	assert.Nil(t, NewValidationError(nil, nil))

	var v *ValidationError
	v = v.Append(&FieldError{Field: "email", Code: "duplicate"})
	require.NotNil(t, v)
	assert.Len(t, v.Errors(), 1)
}

func TestCode_NonAppError(t *testing.T) {
	assert.Equal(t, "", Code(fmt.Errorf("plain")))
}
