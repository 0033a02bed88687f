// Package apperrors defines the economy's error taxonomy and how each error
// surfaces over HTTP.
package apperrors

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
)

var (
	ErrInsufficientFunds         = New("INSUFFICIENT_FUNDS", "insufficient coin balance", http.StatusPaymentRequired)
	ErrItemNotFound              = New("ITEM_NOT_FOUND", "gift item not found or inactive", http.StatusNotFound)
	ErrAccountNotFound           = New("ACCOUNT_NOT_FOUND", "account not found", http.StatusNotFound)
	ErrGroupGiftNotFound         = New("GROUP_GIFT_NOT_FOUND", "group gift not found", http.StatusNotFound)
	ErrExpiredGroupGift          = New("GROUP_GIFT_EXPIRED", "group gift deadline has passed", http.StatusGone)
	ErrAlreadyCompletedGroupGift = New("GROUP_GIFT_COMPLETED", "group gift is already completed", http.StatusConflict)
	ErrIdempotencyConflict       = New("IDEMPOTENCY_CONFLICT", "idempotency key already used for a different request", http.StatusConflict)
	ErrValidation                = New("VALIDATION_ERROR", "invalid request", http.StatusUnprocessableEntity)
	ErrUnauthorized              = New("UNAUTHORIZED", "unauthorized", http.StatusUnauthorized)
	ErrRateLimited               = New("RATE_LIMITED", "too many requests", http.StatusTooManyRequests)
	ErrStoreUnavailable          = New("STORE_UNAVAILABLE", "storage temporarily unavailable", http.StatusServiceUnavailable)

	// Soft outcomes: never returned to callers, used for logging and metrics.
	ErrAlreadyUnlocked  = New("ALREADY_UNLOCKED", "achievement already unlocked", http.StatusOK)
	ErrChallengeExpired = New("CHALLENGE_EXPIRED", "challenge expired", http.StatusOK)
)

type AppError struct {
	Code       string
	Message    string
	StatusCode int
	Details    map[string]interface{}
	Err        error
}

func New(code, message string, statusCode int) *AppError {
	return &AppError{Code: code, Message: message, StatusCode: statusCode}
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s - %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches any AppError with the same code, so a sentinel still matches
// after WithError or WithMessage.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	return ok && t.Code == e.Code
}

func (e *AppError) WithError(err error) *AppError {
	clone := e.clone()
	clone.Err = err
	return clone
}

func (e *AppError) WithMessage(format string, args ...any) *AppError {
	clone := e.clone()
	clone.Message = fmt.Sprintf(format, args...)
	return clone
}

func (e *AppError) WithDetails(details map[string]interface{}) *AppError {
	clone := e.clone()
	clone.Details = make(map[string]interface{}, len(details))
	for k, v := range details {
		clone.Details[k] = v
	}
	return clone
}

func (e *AppError) clone() *AppError {
	c := *e
	if e.Details != nil {
		c.Details = make(map[string]interface{}, len(e.Details))
		for k, v := range e.Details {
			c.Details[k] = v
		}
	}
	return &c
}

// Validation builds a VALIDATION_ERROR with a specific message.
func Validation(format string, args ...any) *AppError {
	return ErrValidation.WithMessage(format, args...)
}

// FromError returns the AppError in err's chain, or wraps err as
// STORE_UNAVAILABLE (or a cancellation) when it carries none.
func FromError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return New("REQUEST_CANCELED", "request canceled", http.StatusRequestTimeout).WithError(err)
	}
	return ErrStoreUnavailable.WithError(err)
}

// ParseValidationErrors turns validator field errors into a VALIDATION_ERROR
// with one entry per field.
func ParseValidationErrors(err error) *AppError {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return ErrValidation.WithError(err)
	}

	fields := make([]map[string]string, 0, len(validationErrors))
	for _, fe := range validationErrors {
		fields = append(fields, map[string]string{
			"field":   fe.Field(),
			"message": fmt.Sprintf("failed on '%s' rule", fe.Tag()),
		})
	}
	return ErrValidation.WithDetails(map[string]interface{}{"fields": fields})
}
