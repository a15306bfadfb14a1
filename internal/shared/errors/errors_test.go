package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCooldownActive(t *testing.T) {
	end := time.Date(2026, 3, 4, 15, 0, 0, 0, time.UTC)
	err := CooldownActive(end)

	assert.True(t, IsCooldownActive(err))
	assert.Equal(t, "2026-03-04", err.Details["cooldown_end"])
	assert.Equal(t, http.StatusConflict, err.HTTPStatus)
	assert.Contains(t, err.Error(), "2026-03-04")
}

func TestKindsSurviveWrapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		is   func(error) bool
	}{
		{"not found", NotFound("record", "r1"), IsNotFound},
		{"validation", Validation("bad", nil), IsValidation},
		{"configuration", Configuration("hospital has no location"), IsConfiguration},
		{"cooldown", CooldownActive(time.Now()), IsCooldownActive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("outer: %w", tt.err)
			assert.True(t, tt.is(wrapped))

			appErr, ok := As(wrapped)
			require.True(t, ok)
			assert.Same(t, tt.err, appErr)
		})
	}
}

func TestDelivery(t *testing.T) {
	err := Delivery("sms", errors.New("gateway timeout"))

	assert.True(t, errors.Is(err, ErrDelivery))
	assert.Equal(t, "sms", err.Details["channel"])
	assert.Contains(t, err.Error(), "gateway timeout")
}

func TestWrap(t *testing.T) {
	t.Run("app error keeps its kind", func(t *testing.T) {
		err := Wrap(NotFound("donor", "d1"), "load donor")
		assert.True(t, IsNotFound(err))
		assert.Equal(t, "load donor: donor not found", err.Message)
	})

	t.Run("plain error becomes internal", func(t *testing.T) {
		err := Wrap(errors.New("boom"), "load donor")
		assert.Equal(t, http.StatusInternalServerError, err.HTTPStatus)
		assert.Equal(t, "INTERNAL_ERROR", err.Code)
	})
}
