// Package errors defines the typed error model shared by the flip client
// engine. Every failure that crosses a component boundary is wrapped into a
// GameError carrying a code, a severity, and optional context, so callers can
// decide between silent retry, surfacing a classification to the UI boundary,
// or escalating to the emergency fallback.
package errors

import (
	"fmt"
)

// ErrorCode represents different categories of errors
type ErrorCode string

const (
	// ErrCodeValidation indicates input validation errors
	ErrCodeValidation ErrorCode = "VALIDATION"

	// ErrCodeNetwork indicates transient network errors
	ErrCodeNetwork ErrorCode = "NETWORK"

	// ErrCodeRPC indicates ledger RPC errors
	ErrCodeRPC ErrorCode = "RPC"

	// ErrCodeTimeout indicates request timeout errors
	ErrCodeTimeout ErrorCode = "TIMEOUT"

	// ErrCodeDesync indicates the local phase disagrees with ledger truth
	ErrCodeDesync ErrorCode = "LEDGER_DESYNC"

	// ErrCodeVRF indicates a VRF oracle failure
	ErrCodeVRF ErrorCode = "VRF_FAILURE"

	// ErrCodeDeadline indicates a game deadline was exceeded
	ErrCodeDeadline ErrorCode = "DEADLINE_EXCEEDED"

	// ErrCodeAbandoned indicates a local-only user abandon
	ErrCodeAbandoned ErrorCode = "USER_ABANDON"

	// ErrCodePersistence indicates cache/database operation errors
	ErrCodePersistence ErrorCode = "PERSISTENCE"

	// ErrCodeCircuitOpen indicates the circuit breaker refused an automatic call
	ErrCodeCircuitOpen ErrorCode = "CIRCUIT_OPEN"

	// ErrCodeInternal indicates internal engine errors
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

// GameError represents an error attributed to a specific game
type GameError struct {
	Code     ErrorCode              `json:"code"`
	Message  string                 `json:"message"`
	GameID   string                 `json:"game_id,omitempty"`
	Severity Severity               `json:"severity"`
	Cause    error                  `json:"-"`
	Context  map[string]interface{} `json:"context,omitempty"`
}

// NewGameError creates a new GameError
func NewGameError(code ErrorCode, gameID, message string, cause error) *GameError {
	return &GameError{
		Code:     code,
		Message:  message,
		GameID:   gameID,
		Severity: determineSeverity(code),
		Cause:    cause,
		Context:  make(map[string]interface{}),
	}
}

// Error implements the error interface
func (e *GameError) Error() string {
	if e.GameID != "" {
		return fmt.Sprintf("[%s:%s] %s: %s", e.GameID, e.Code, e.Severity, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Severity, e.Message)
}

// Unwrap returns the underlying cause
func (e *GameError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *GameError) WithContext(key string, value interface{}) *GameError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithSeverity overrides the default severity
func (e *GameError) WithSeverity(severity Severity) *GameError {
	e.Severity = severity
	return e
}

// IsRetryable returns true if the error is retryable
func (e *GameError) IsRetryable() bool {
	switch e.Code {
	case ErrCodeNetwork, ErrCodeRPC, ErrCodeTimeout:
		return true
	case ErrCodePersistence:
		return e.Severity != SeverityCritical
	default:
		return false
	}
}

// determineSeverity determines the default severity based on error code
func determineSeverity(code ErrorCode) Severity {
	switch code {
	case ErrCodeInternal:
		return SeverityCritical
	case ErrCodeDesync, ErrCodeDeadline:
		return SeverityHigh
	case ErrCodeVRF, ErrCodePersistence, ErrCodeCircuitOpen:
		return SeverityMedium
	case ErrCodeNetwork, ErrCodeRPC, ErrCodeTimeout:
		return SeverityMedium
	case ErrCodeValidation, ErrCodeAbandoned:
		return SeverityLow
	default:
		return SeverityInfo
	}
}

// Common error constructors

// NewValidationError creates a validation error
func NewValidationError(gameID, message string) *GameError {
	return NewGameError(ErrCodeValidation, gameID, message, nil)
}

// NewNetworkError creates a transient network error
func NewNetworkError(gameID, message string, cause error) *GameError {
	return NewGameError(ErrCodeNetwork, gameID, message, cause)
}

// NewRPCError creates a ledger RPC error
func NewRPCError(gameID, message string, cause error) *GameError {
	return NewGameError(ErrCodeRPC, gameID, message, cause)
}

// NewTimeoutError creates a timeout error
func NewTimeoutError(gameID, message string) *GameError {
	return NewGameError(ErrCodeTimeout, gameID, message, nil)
}

// NewDesyncError creates a ledger-desync error
func NewDesyncError(gameID, message string) *GameError {
	return NewGameError(ErrCodeDesync, gameID, message, nil)
}

// NewVRFError creates a VRF failure error
func NewVRFError(gameID, message string, cause error) *GameError {
	return NewGameError(ErrCodeVRF, gameID, message, cause)
}

// NewDeadlineError creates a deadline-exceeded error
func NewDeadlineError(gameID, message string) *GameError {
	return NewGameError(ErrCodeDeadline, gameID, message, nil)
}

// NewAbandonedError creates a user-abandon error. Abandoning is local-only:
// escrowed funds may remain locked on the ledger, so the error always carries
// the funds_may_remain_locked context flag.
func NewAbandonedError(gameID string) *GameError {
	return NewGameError(ErrCodeAbandoned, gameID, "game abandoned locally; ledger state unchanged", nil).
		WithContext("funds_may_remain_locked", true)
}

// NewPersistenceError creates a cache/database error
func NewPersistenceError(gameID, message string, cause error) *GameError {
	return NewGameError(ErrCodePersistence, gameID, message, cause)
}

// NewCircuitOpenError creates a circuit-breaker-open error, surfaced
// distinctly from single-request failures so callers can explain that
// automatic refresh is paused rather than failed.
func NewCircuitOpenError(gameID string, cooldownRemaining string) *GameError {
	return NewGameError(ErrCodeCircuitOpen, gameID, "automatic refresh paused by circuit breaker", nil).
		WithContext("cooldown_remaining", cooldownRemaining)
}

// NewInternalError creates an internal error
func NewInternalError(gameID, message string, cause error) *GameError {
	return NewGameError(ErrCodeInternal, gameID, message, cause)
}
