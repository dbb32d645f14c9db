package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIs(t *testing.T) {
	t.Run("matches code through wrapping", func(t *testing.T) {
		err := fmt.Errorf("submit: %w", New(CodeAlreadyVoted, "already voted"))
		assert.True(t, Is(err, CodeAlreadyVoted))
		assert.False(t, Is(err, CodeNotVerified))
	})

	t.Run("plain errors carry no code", func(t *testing.T) {
		err := errors.New("boom")
		assert.False(t, HasCode(err, CodeInternal))
		assert.Equal(t, CodeInternal, CodeOf(err))
	})

	t.Run("wrap keeps cause", func(t *testing.T) {
		cause := errors.New("disk full")
		err := Wrap(cause, CodeInternal, "append failed")
		assert.ErrorIs(t, err, cause)
		assert.Equal(t, "append failed: disk full", err.Error())
	})
}

func TestToHTTPStatus(t *testing.T) {
	cases := map[Code]int{
		CodeValidation:     http.StatusBadRequest,
		CodeNotVerified:    http.StatusForbidden,
		CodeWalletRequired: http.StatusPreconditionFailed,
		CodeAlreadyVoted:   http.StatusConflict,
		CodeUnauthorized:   http.StatusUnauthorized,
		CodeInternal:       http.StatusInternalServerError,
	}
	for code, status := range cases {
		assert.Equal(t, status, ToHTTPStatus(code), string(code))
	}
}
