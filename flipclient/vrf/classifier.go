// Package vrf tracks the health of the VRF oracle account pool, classifies
// oracle failures, and guarantees eventual termination for games whose
// randomness request never resolves.
package vrf

import (
	"context"
	"strings"

	"github.com/allouf/flipCoinFull-sub000/flipclient/errors"
)

// ErrorType classifies a VRF request failure.
type ErrorType string

const (
	ErrTypeTimeout        ErrorType = "timeout"
	ErrTypeQueueFull      ErrorType = "queue_full"
	ErrTypeOracleOffline  ErrorType = "oracle_offline"
	ErrTypeNetwork        ErrorType = "network"
	ErrTypeAccountInvalid ErrorType = "account_invalid"
)

// Classification is the typed result of classifying a raw VRF failure.
type Classification struct {
	Type            ErrorType       `json:"type"`
	Severity        errors.Severity `json:"severity"`
	SuggestedAction string          `json:"suggested_action"`
	VRFAccount      string          `json:"vrf_account"`
}

// ClassifyError maps a raw failure plus the oracle account identity to a
// typed classification. Pure and deterministic: the same (error, account)
// pair always yields the same result. No I/O.
func ClassifyError(err error, vrfAccount string) Classification {
	c := Classification{VRFAccount: vrfAccount}

	if err == nil {
		c.Type = ErrTypeNetwork
		c.Severity = errors.SeverityLow
		c.SuggestedAction = "no error; retry the request"
		return c
	}

	msg := strings.ToLower(err.Error())

	switch {
	case err == context.DeadlineExceeded ||
		strings.Contains(msg, "deadline exceeded") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "timed out"):
		c.Type = ErrTypeTimeout
		c.Severity = errors.SeverityMedium
		c.SuggestedAction = "retry with a different oracle account"

	case strings.Contains(msg, "queue is full") ||
		strings.Contains(msg, "queue full") ||
		strings.Contains(msg, "queue depth") ||
		strings.Contains(msg, "too many requests") ||
		strings.Contains(msg, "rate limit"):
		c.Type = ErrTypeQueueFull
		c.Severity = errors.SeverityMedium
		c.SuggestedAction = "retry with a different oracle account"

	case strings.Contains(msg, "oracle offline") ||
		strings.Contains(msg, "oracle not responding") ||
		strings.Contains(msg, "no oracle") ||
		strings.Contains(msg, "unavailable"):
		c.Type = ErrTypeOracleOffline
		c.Severity = errors.SeverityHigh
		c.SuggestedAction = "quarantine the oracle and escalate to emergency fallback"

	case strings.Contains(msg, "invalid account") ||
		strings.Contains(msg, "account not found") ||
		strings.Contains(msg, "account does not exist") ||
		strings.Contains(msg, "invalid public key") ||
		strings.Contains(msg, "accountownedbywrongprogram"):
		c.Type = ErrTypeAccountInvalid
		c.Severity = errors.SeverityCritical
		c.SuggestedAction = "remove the oracle account from the pool and escalate"

	default:
		c.Type = ErrTypeNetwork
		c.Severity = errors.SeverityLow
		c.SuggestedAction = "retry the same oracle after backoff"
	}

	return c
}

// ShouldSwitchOracle reports whether the classification calls for retrying
// with a different oracle instead of the same one.
func (c Classification) ShouldSwitchOracle() bool {
	switch c.Type {
	case ErrTypeQueueFull, ErrTypeOracleOffline, ErrTypeAccountInvalid, ErrTypeTimeout:
		return true
	default:
		return false
	}
}

// ShouldEscalate reports whether the failure is severe enough for the
// emergency fallback path.
func (c Classification) ShouldEscalate() bool {
	return c.Severity == errors.SeverityHigh || c.Severity == errors.SeverityCritical
}
