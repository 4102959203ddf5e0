package errors

import (
	"fmt"
	"strings"
)

// ErrorCode represents different categories of errors
type ErrorCode string

const (
	// ErrCodeNetwork indicates relay or RPC transport errors
	ErrCodeNetwork ErrorCode = "NETWORK"

	// ErrCodeThreshold indicates too few honest or available parties
	ErrCodeThreshold ErrorCode = "THRESHOLD"

	// ErrCodeTimeout indicates a liveness cap was exceeded
	ErrCodeTimeout ErrorCode = "TIMEOUT"

	// ErrCodeProtocolMismatch indicates key material that does not belong to the ceremony
	ErrCodeProtocolMismatch ErrorCode = "PROTOCOL_MISMATCH"

	// ErrCodeInvalidPayload indicates malformed join content
	ErrCodeInvalidPayload ErrorCode = "INVALID_PAYLOAD"

	// ErrCodeValidation indicates input validation errors
	ErrCodeValidation ErrorCode = "VALIDATION"

	// ErrCodeUnsupportedChain indicates a chain without a registered builder or adapter
	ErrCodeUnsupportedChain ErrorCode = "UNSUPPORTED_CHAIN"

	// ErrCodeMissingSignature indicates a required message was not signed
	ErrCodeMissingSignature ErrorCode = "MISSING_SIGNATURE"

	// ErrCodeDatabase indicates database operation errors
	ErrCodeDatabase ErrorCode = "DATABASE"

	// ErrCodeConfig indicates configuration errors
	ErrCodeConfig ErrorCode = "CONFIG"

	// ErrCodeInternal indicates internal system errors
	ErrCodeInternal ErrorCode = "INTERNAL"
)

// Severity represents the severity level of an error
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
	SeverityInfo     Severity = "INFO"
)

// ThresholdUserMessage is shown when a ceremony lost its quorum.
const ThresholdUserMessage = "not enough devices to complete the ceremony, make sure all devices are online and try again"

// InvalidContentMessage is the only detail exposed for undecodable join content.
const InvalidContentMessage = "invalid content"

// CeremonyError is the error type surfaced by the ceremony coordination layer.
type CeremonyError struct {
	Code     ErrorCode      `json:"code"`
	Message  string         `json:"message"`
	Session  string         `json:"session,omitempty"`
	Severity Severity       `json:"severity"`
	Cause    error          `json:"-"`
	Context  map[string]any `json:"context,omitempty"`
}

// NewCeremonyError creates a new CeremonyError
func NewCeremonyError(code ErrorCode, message string, cause error) *CeremonyError {
	return &CeremonyError{
		Code:     code,
		Message:  message,
		Severity: determineSeverity(code),
		Cause:    cause,
		Context:  make(map[string]any),
	}
}

// Error implements the error interface
func (e *CeremonyError) Error() string {
	msg := fmt.Sprintf("[%s] %s: %s", e.Code, e.Severity, e.Message)
	if e.Session != "" {
		msg = fmt.Sprintf("[%s:%s] %s: %s", e.Session, e.Code, e.Severity, e.Message)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause
func (e *CeremonyError) Unwrap() error {
	return e.Cause
}

// WithSession tags the error with a session id
func (e *CeremonyError) WithSession(sessionID string) *CeremonyError {
	e.Session = sessionID
	return e
}

// WithContext adds context to the error
func (e *CeremonyError) WithContext(key string, value any) *CeremonyError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// IsRetryable returns true if the error is retryable at the round level
func (e *CeremonyError) IsRetryable() bool {
	return e.Code == ErrCodeNetwork
}

// determineSeverity determines the default severity based on error code
func determineSeverity(code ErrorCode) Severity {
	switch code {
	case ErrCodeInternal, ErrCodeProtocolMismatch:
		return SeverityCritical
	case ErrCodeThreshold, ErrCodeTimeout, ErrCodeDatabase, ErrCodeMissingSignature:
		return SeverityHigh
	case ErrCodeNetwork, ErrCodeUnsupportedChain:
		return SeverityMedium
	case ErrCodeValidation, ErrCodeConfig, ErrCodeInvalidPayload:
		return SeverityLow
	default:
		return SeverityInfo
	}
}

// Common error constructors

// NewNetworkError creates a network error
func NewNetworkError(message string, cause error) *CeremonyError {
	return NewCeremonyError(ErrCodeNetwork, message, cause)
}

// NewThresholdError creates a threshold error
func NewThresholdError(message string, cause error) *CeremonyError {
	return NewCeremonyError(ErrCodeThreshold, message, cause)
}

// NewTimeoutError creates a timeout error
func NewTimeoutError(message string) *CeremonyError {
	return NewCeremonyError(ErrCodeTimeout, message, nil)
}

// NewProtocolMismatchError creates a protocol mismatch error
func NewProtocolMismatchError(message string) *CeremonyError {
	return NewCeremonyError(ErrCodeProtocolMismatch, message, nil)
}

// NewInvalidPayloadError creates an invalid payload error. The cause is kept
// for logs only; Message never carries parser detail.
func NewInvalidPayloadError(cause error) *CeremonyError {
	return NewCeremonyError(ErrCodeInvalidPayload, InvalidContentMessage, cause)
}

// NewValidationError creates a validation error
func NewValidationError(message string) *CeremonyError {
	return NewCeremonyError(ErrCodeValidation, message, nil)
}

// NewUnsupportedChainError creates an unsupported chain error
func NewUnsupportedChainError(chain string) *CeremonyError {
	return NewCeremonyError(ErrCodeUnsupportedChain, fmt.Sprintf("chain %s is not supported", chain), nil).
		WithContext("chain", chain)
}

// NewMissingSignatureError creates a missing signature error
func NewMissingSignatureError(message string) *CeremonyError {
	return NewCeremonyError(ErrCodeMissingSignature, fmt.Sprintf("missing signature for message %s", message), nil).
		WithContext("message", message)
}

// NewDatabaseError creates a database error
func NewDatabaseError(message string, cause error) *CeremonyError {
	return NewCeremonyError(ErrCodeDatabase, message, cause)
}

// NewConfigError creates a configuration error
func NewConfigError(message string) *CeremonyError {
	return NewCeremonyError(ErrCodeConfig, message, nil)
}

// NewInternalError creates an internal error
func NewInternalError(message string, cause error) *CeremonyError {
	return NewCeremonyError(ErrCodeInternal, message, cause)
}

var thresholdPatterns = []string{
	"threshold",
	"failed to update from bytes to new local party",
}

// ClassifyEngineError maps a raw threshold engine error onto the taxonomy.
// Quorum failures become THRESHOLD; everything else is treated as transient.
func ClassifyEngineError(err error) *CeremonyError {
	if err == nil {
		return nil
	}
	var ce *CeremonyError
	if As(err, &ce) {
		return ce
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range thresholdPatterns {
		if strings.Contains(msg, pattern) {
			return NewThresholdError("threshold engine lost quorum", err)
		}
	}
	return NewNetworkError("threshold engine round failed", err)
}
