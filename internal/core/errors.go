package core

import (
	"errors"
	"fmt"
)

// ValidationError rejects user input before any write happens.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

func NewValidationError(field, msg string) error {
	return &ValidationError{Field: field, Msg: msg}
}

func IsValidationError(err error) bool {
	var validationError *ValidationError
	return errors.As(err, &validationError)
}

var (
	ErrRemoteWrite        = errors.New("remote write failed")
	ErrRemoteSubscription = errors.New("remote subscription failed")
	ErrConfiguration      = errors.New("configuration error")
	ErrNotFound           = errors.New("not found")
)

var (
	ErrInvalidAmount    = NewValidationError("amount", "must be a non-negative number")
	ErrInvalidType      = NewValidationError("type", "must be Income or Expense")
	ErrEmptyCategory    = NewValidationError("category", "cannot be empty")
	ErrInvalidTimestamp = NewValidationError("timestamp", "must be a valid date")
	ErrInvalidFrequency = NewValidationError("frequency", "only Monthly is supported")
	ErrInvalidGoal      = NewValidationError("goal", "must be a non-negative number")
	ErrInvalidMonth     = NewValidationError("month", "must be between 1 and 12")
	ErrInvalidYear      = NewValidationError("year", "must be between 1970 and 9999")
	ErrEmptyID          = NewValidationError("id", "cannot be empty")
	ErrDescriptionLong  = NewValidationError("description", "too long (max 200 characters)")
)

// RemoteWrite marks err as a failed store write.
func RemoteWrite(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrRemoteWrite, err)
}
