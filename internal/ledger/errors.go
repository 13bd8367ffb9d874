package ledger

import (
	"errors"
	"fmt"
	"math/big"
)

var (
	ErrInvalidAmount = errors.New("ledger: invalid amount")
	ErrInvalidAsset  = errors.New("ledger: invalid asset")
	ErrInvalidOwner  = errors.New("ledger: invalid owner")
	ErrLockNotFound  = errors.New("ledger: lock not found")

	// ErrLockExists is returned when an owner already holds an active lock
	// for the asset. The owner must unlock before locking again.
	ErrLockExists = errors.New("ledger: active lock exists for owner and asset")

	// ErrInsufficientLockedBalance is matched by every *InsufficientBalanceError.
	ErrInsufficientLockedBalance = errors.New("ledger: insufficient locked balance")

	// ErrTransferFailed wraps a custodian failure. No ledger state changes
	// when it is returned.
	ErrTransferFailed = errors.New("ledger: custody transfer failed")

	// ErrInsufficientFunds is returned by custodians when an owner's external
	// balance cannot cover a lock or withdrawal.
	ErrInsufficientFunds = errors.New("ledger: insufficient external balance")

	// ErrFundingUnsupported is returned by Deposit and Withdraw when the
	// custodian does not keep external balances itself.
	ErrFundingUnsupported = errors.New("ledger: custodian does not support funding")

	ErrInvariantViolation = errors.New("ledger: invariant violated")
)

// InsufficientBalanceError reports the amount requested and the amount that
// was actually available for the operation, so callers can retry with a
// corrected value.
type InsufficientBalanceError struct {
	LockID    LockID
	Requested *big.Int
	Available *big.Int
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("ledger: insufficient locked balance on lock %d: requested=%s, available=%s",
		e.LockID, e.Requested, e.Available)
}

func (e *InsufficientBalanceError) Is(target error) bool {
	return target == ErrInsufficientLockedBalance
}
