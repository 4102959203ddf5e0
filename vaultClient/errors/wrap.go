package errors

import (
	"errors"
	"fmt"
)

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted message
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is checks if an error is of a specific type
func Is(err error, target error) bool {
	return errors.Is(err, target)
}

// As checks if an error can be assigned to a target type
func As(err error, target any) bool {
	return errors.As(err, target)
}

// IsCeremonyError checks if an error is a CeremonyError with specific code
func IsCeremonyError(err error, code ErrorCode) bool {
	var ce *CeremonyError
	if errors.As(err, &ce) {
		return ce.Code == code
	}
	return false
}

// IsRetryable checks if an error is retryable at the round level
func IsRetryable(err error) bool {
	var ce *CeremonyError
	if errors.As(err, &ce) {
		return ce.IsRetryable()
	}
	return false
}

// IsThresholdError reports whether err is a quorum failure.
func IsThresholdError(err error) bool {
	return IsCeremonyError(err, ErrCodeThreshold)
}

// UserMessage returns the text a UI should display for err.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var ce *CeremonyError
	if !errors.As(err, &ce) {
		return err.Error()
	}
	switch ce.Code {
	case ErrCodeThreshold:
		return ThresholdUserMessage
	case ErrCodeInvalidPayload:
		return InvalidContentMessage
	default:
		return ce.Message
	}
}
