package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrSigningFailed = errors.New("signing failed")
	ErrLockHeld      = errors.New("lock already held")

	ErrInvalidState           = errors.New("invalid rebalance state")
	ErrNotAuthorized          = errors.New("caller not authorized")
	ErrTimingNotElapsed       = errors.New("required time has not elapsed")
	ErrInvalidQuantity        = errors.New("invalid quantity")
	ErrInsufficientFunds      = errors.New("insufficient funds")
	ErrInsufficientEtherValue = fmt.Errorf("insufficient ether value: %w", ErrInsufficientFunds)
	ErrMalformedAuctionState  = errors.New("malformed auction state")
	ErrFeeExceedsCeiling      = errors.New("fee exceeds ceiling")
	ErrInvalidPriceCurve      = errors.New("invalid price curve")
	ErrInvalidBasket          = errors.New("invalid basket")
	ErrInvalidParams          = errors.New("invalid parameters")
	ErrNoPendingFeeChange     = errors.New("no pending fee change")
	ErrTimeout                = errors.New("timed out waiting for transaction")
	ErrTransactionReverted    = errors.New("transaction reverted")
)

// ValidationError reports a failed pre-submission check. Kind is one of the
// sentinel errors above, so callers match with errors.Is.
type ValidationError struct {
	Op     string
	Kind   error
	Detail string
}

// NewValidationError builds a ValidationError for op.
func NewValidationError(op string, kind error, detail string) *ValidationError {
	return &ValidationError{Op: op, Kind: kind, Detail: detail}
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, e.Kind, e.Detail)
}

func (e *ValidationError) Unwrap() error { return e.Kind }

// RevertError is a ledger rejection of a transaction this layer accepted.
// It is never retried.
type RevertError struct {
	TxHash string
	Reason string
}

func (e *RevertError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("transaction %s reverted", e.TxHash)
	}
	return fmt.Sprintf("transaction %s reverted: %s", e.TxHash, e.Reason)
}

func (e *RevertError) Unwrap() error { return ErrTransactionReverted }
