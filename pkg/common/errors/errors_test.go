package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{fmt.Errorf("bad filter: %w", ErrInvalidInput), http.StatusBadRequest},
		{fmt.Errorf("doc: %w", ErrNotFound), http.StatusNotFound},
		{ErrUnauthorized, http.StatusUnauthorized},
		{fmt.Errorf("license: %w", ErrForbidden), http.StatusForbidden},
		{fmt.Errorf("store not loaded: %w", ErrConflict), http.StatusConflict},
		{errors.New("boom"), http.StatusInternalServerError},
		{NewAppError(http.StatusTeapot, "teapot", nil), http.StatusTeapot},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			appErr := MapError(tt.err)
			assert.Equal(t, tt.code, appErr.Code)
			assert.ErrorIs(t, appErr, tt.err)
		})
	}
	assert.Nil(t, MapError(nil))
}

func TestTag(t *testing.T) {
	assert.NoError(t, Tag(ErrNotFound, nil))

	base := errors.New("document not found")
	tagged := Tag(ErrNotFound, base)
	assert.ErrorIs(t, tagged, ErrNotFound)
	assert.ErrorIs(t, tagged, base)
	assert.True(t, Tagged(tagged))

	// An already categorized error keeps its category.
	conflict := fmt.Errorf("busy: %w", ErrConflict)
	assert.Same(t, conflict, Tag(ErrNotFound, conflict))
	assert.False(t, Tagged(base))
}
