package apperrors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSentinelMatchesAfterWrapping(t *testing.T) {
	err := fmt.Errorf("send gift: %w", ErrInsufficientFunds.WithError(errors.New("balance 100 < 500")))

	assert.True(t, errors.Is(err, ErrInsufficientFunds))
	assert.False(t, errors.Is(err, ErrItemNotFound))
	assert.Equal(t, http.StatusPaymentRequired, FromError(err).StatusCode)
}

func TestFromErrorDefaults(t *testing.T) {
	assert.Equal(t, "STORE_UNAVAILABLE", FromError(errors.New("connection reset")).Code)
	assert.Equal(t, http.StatusRequestTimeout, FromError(context.DeadlineExceeded).StatusCode)
}

func TestWithMessageKeepsSentinelUntouched(t *testing.T) {
	custom := Validation("amount must be positive")

	assert.Equal(t, "amount must be positive", custom.Message)
	assert.Equal(t, "invalid request", ErrValidation.Message)
	assert.True(t, errors.Is(custom, ErrValidation))
}

func TestParseValidationErrors(t *testing.T) {
	type req struct {
		Amount int64 `validate:"required,gt=0"`
	}
	err := validator.New().Struct(req{})
	require.Error(t, err)

	appErr := ParseValidationErrors(err)
	assert.Equal(t, "VALIDATION_ERROR", appErr.Code)
	fields, ok := appErr.Details["fields"].([]map[string]string)
	require.True(t, ok)
	require.Len(t, fields, 1)
	assert.Equal(t, "Amount", fields[0]["field"])
}
