package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted message
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// WrapGameError wraps an error as a GameError if it isn't already one
func WrapGameError(err error, code ErrorCode, gameID, message string) *GameError {
	if err == nil {
		return nil
	}

	// If it's already a GameError, add context
	var gameErr *GameError
	if errors.As(err, &gameErr) {
		gameErr.Context["wrapped_message"] = message
		if gameID != "" && gameErr.GameID == "" {
			gameErr.GameID = gameID
		}
		return gameErr
	}

	return NewGameError(code, gameID, message, err)
}

// Is checks if an error is of a specific type
func Is(err error, target error) bool {
	return errors.Is(err, target)
}

// As checks if an error can be assigned to a target type
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// IsGameError checks if an error is a GameError with specific code
func IsGameError(err error, code ErrorCode) bool {
	var gameErr *GameError
	if errors.As(err, &gameErr) {
		return gameErr.Code == code
	}
	return false
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var gameErr *GameError
	if errors.As(err, &gameErr) {
		return gameErr.IsRetryable()
	}

	// Check for common retryable error patterns
	errStr := strings.ToLower(err.Error())
	retryablePatterns := []string{
		"connection refused",
		"connection reset",
		"timeout",
		"temporary failure",
		"too many requests",
		"rate limit",
	}

	for _, pattern := range retryablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// GetSeverity returns the severity of an error
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityInfo
	}

	var gameErr *GameError
	if errors.As(err, &gameErr) {
		return gameErr.Severity
	}

	errStr := strings.ToLower(err.Error())
	if strings.Contains(errStr, "panic") || strings.Contains(errStr, "fatal") {
		return SeverityCritical
	}
	if strings.Contains(errStr, "failed") || strings.Contains(errStr, "error") {
		return SeverityHigh
	}
	if strings.Contains(errStr, "warning") {
		return SeverityMedium
	}

	return SeverityLow
}
