package game

import (
	"fmt"
	"time"
)

// ValidationStatus classifies a cached game after re-validation.
type ValidationStatus string

const (
	ValidationActive    ValidationStatus = "active"
	ValidationExpired   ValidationStatus = "expired"
	ValidationCompleted ValidationStatus = "completed"
	ValidationInvalid   ValidationStatus = "invalid"
)

// ValidationResult is derived from a ledger snapshot at a point in time. It
// is always recomputed, never trusted stale.
type ValidationResult struct {
	IsValid   bool             `json:"is_valid"`
	Status    ValidationStatus `json:"status"`
	Details   string           `json:"details"`
	Timestamp time.Time        `json:"timestamp"`
}

// Validate computes the validation result for a decoded game account at the
// given time. Pure: no I/O, deterministic for a fixed (account, now) pair.
func Validate(acct *GameAccount, now time.Time) ValidationResult {
	res := ValidationResult{Timestamp: now}

	if acct == nil {
		res.Status = ValidationInvalid
		res.Details = "no ledger account data"
		return res
	}

	switch acct.Status {
	case StatusResolved:
		res.IsValid = true
		res.Status = ValidationCompleted
		res.Details = "game resolved on ledger"
		return res
	case StatusCancelled:
		res.IsValid = true
		res.Status = ValidationCompleted
		res.Details = "game cancelled on ledger"
		return res
	}

	if acct.BetAmount == 0 {
		res.Status = ValidationInvalid
		res.Details = "zero bet amount"
		return res
	}

	deadline := acct.Deadline()
	if now.Unix() > deadline {
		res.IsValid = true
		res.Status = ValidationExpired
		res.Details = fmt.Sprintf("deadline %d passed; timeout settlement available", deadline)
		return res
	}

	res.IsValid = true
	res.Status = ValidationActive
	res.Details = fmt.Sprintf("in %s until %d", acct.Status, deadline)
	return res
}
