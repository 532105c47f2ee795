package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid argument", E(CodeInvalidArgument, "Relay.Chat", "invalid request body", nil), http.StatusBadRequest},
		{"not found", E(CodeNotFound, "Relay.Chat", "unknown provider", nil), http.StatusNotFound},
		{"wrapped", fmt.Errorf("outer: %w", E(CodeNotFound, "", "gone", nil)), http.StatusNotFound},
		{"plain error", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}

func TestAppError_Error(t *testing.T) {
	cause := errors.New("eof")
	err := E(CodeInvalidArgument, "Relay.Chat", "invalid request body", cause)

	assert.Equal(t, "Relay.Chat: invalid request body: eof", err.Error())
	assert.True(t, IsCode(err, CodeInvalidArgument))
	assert.ErrorIs(t, err, cause)
}
