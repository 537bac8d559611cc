package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil error", nil, ""},
		{"domain error", Invalid("op", "bad input"), EINVALID},
		{"wrapped domain error", fmt.Errorf("context: %w", Conflict("op", "duplicate")), ECONFLICT},
		{"plain error", errors.New("boom"), EINTERNAL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ErrorCode(tt.err))
		})
	}
}

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "bad input", ErrorMessage(Invalid("op", "bad input")))
	assert.Equal(t,
		"An internal error occurred. Please try again later.",
		ErrorMessage(Internal(errors.New("boom"), "op", "database exploded")),
		"internal details must not leak to callers")
	assert.Equal(t,
		"An internal error occurred. Please try again later.",
		ErrorMessage(errors.New("boom")))
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := Unavailable(cause, "repository.get_account", "store unreachable")
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, EUNAVAILABLE, ErrorCode(err))
}
