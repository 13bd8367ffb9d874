package ledger

import (
	fpmath "EscrowLedger/internal/math"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// LockID identifies a lock. IDs start at 1, are assigned in increasing order
// and are never reused.
type LockID uint64

// ResourceLock is one owner's escrowed funds in one asset.
type ResourceLock struct {
	ID        LockID
	Owner     common.Address
	Asset     common.Address
	Total     *big.Int // immutable after creation
	Allocated *big.Int // committed against open claims
	Active    bool
	CreatedAt time.Time
}

// Available returns Total - Allocated.
func (l *ResourceLock) Available() *big.Int {
	return new(big.Int).Sub(l.Total, l.Allocated)
}

// Clone returns a deep copy.
func (l *ResourceLock) Clone() *ResourceLock {
	c := *l
	c.Total = fpmath.Clone(l.Total)
	c.Allocated = fpmath.Clone(l.Allocated)
	return &c
}

// Validate checks 0 <= Allocated <= Total and Total > 0.
func (l *ResourceLock) Validate() error {
	if !fpmath.IsPositive(l.Total) {
		return fmt.Errorf("%w: lock %d has non-positive total %v", ErrInvariantViolation, l.ID, l.Total)
	}
	if l.Allocated == nil || l.Allocated.Sign() < 0 {
		return fmt.Errorf("%w: lock %d has negative allocation %v", ErrInvariantViolation, l.ID, l.Allocated)
	}
	if l.Allocated.Cmp(l.Total) > 0 {
		return fmt.Errorf("%w: lock %d allocation %s exceeds total %s",
			ErrInvariantViolation, l.ID, l.Allocated, l.Total)
	}
	return nil
}

// PairKey indexes the lock of one owner in one asset.
type PairKey struct {
	Owner common.Address
	Asset common.Address
}

func (k PairKey) String() string {
	return fmt.Sprintf("%s:%s", k.Owner.Hex(), k.Asset.Hex())
}
