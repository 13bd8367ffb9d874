package ledger

import (
	fpmath "EscrowLedger/internal/math"
	"EscrowLedger/internal/observability"
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

// Ledger owns the lock lifecycle: Lock -> Allocate/Release -> Unlock.
// Every mutating call is atomic: the store changes and the custody transfer
// either all happen or none do. Mutations are serialized ledger-wide so the
// journal order matches commit order; reads run concurrently.
type Ledger struct {
	store     Store
	custodian Custodian
	journal   *Journal
	nowFn     func() time.Time
	metrics   *observability.Metrics
	logger    zerolog.Logger

	writeMu sync.Mutex
}

func NewLedger(
	store Store,
	custodian Custodian,
	journal *Journal,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Ledger {
	if journal == nil {
		journal = NewJournal(0, GenesisHash(), nil)
	}
	return &Ledger{
		store:     store,
		custodian: custodian,
		journal:   journal,
		nowFn:     time.Now,
		metrics:   metrics,
		logger:    logger,
	}
}

// SetNowFunc overrides the clock used for CreatedAt and event timestamps.
func (l *Ledger) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	l.nowFn = now
}

// Journal returns the ledger's event journal.
func (l *Ledger) Journal() *Journal {
	return l.journal
}

// Lock escrows amount of asset from owner into a new active lock.
func (l *Ledger) Lock(ctx context.Context, owner, asset common.Address, amount *big.Int) (LockID, error) {
	if !fpmath.IsPositive(amount) || !fpmath.FitsUint256(amount) {
		return 0, l.reject("lock", fmt.Errorf("%w: %v", ErrInvalidAmount, amount))
	}
	if asset == (common.Address{}) {
		return 0, l.reject("lock", ErrInvalidAsset)
	}
	if owner == (common.Address{}) {
		return 0, l.reject("lock", ErrInvalidOwner)
	}
	amount = fpmath.Clone(amount)

	var transferred bool
	evt, err := l.mutate(ctx, "lock", func(tx Tx) (Event, error) {
		existing, ok, err := tx.LookupPair(owner, asset)
		if err != nil {
			return Event{}, err
		}
		if ok {
			prev, err := tx.GetLock(existing)
			if err != nil && !errors.Is(err, ErrLockNotFound) {
				return Event{}, err
			}
			if prev != nil && prev.Active {
				return Event{}, fmt.Errorf("%w: lock %d", ErrLockExists, existing)
			}
		}

		id, err := tx.NextLockID()
		if err != nil {
			return Event{}, fmt.Errorf("allocate lock id: %w", err)
		}

		lock := &ResourceLock{
			ID:        id,
			Owner:     owner,
			Asset:     asset,
			Total:     amount,
			Allocated: new(big.Int),
			Active:    true,
			CreatedAt: l.nowFn(),
		}
		if err := lock.Validate(); err != nil {
			return Event{}, err
		}
		if err := tx.PutLock(lock); err != nil {
			return Event{}, err
		}
		if err := tx.SetPair(owner, asset, id); err != nil {
			return Event{}, err
		}

		// Transfer last so every failure above leaves custody untouched
		external, err := l.transferIn(ctx, tx, owner, asset, amount)
		if err != nil {
			return Event{}, fmt.Errorf("%w: %w", ErrTransferFailed, err)
		}
		transferred = external

		return l.event(EventLocked, lock, amount), nil
	})
	if err != nil {
		if transferred {
			// The store refused to commit after an external custody move: hand the funds back
			l.compensate(ctx, "lock", func() error {
				return l.custodian.TransferOut(ctx, owner, asset, amount)
			})
		}
		return 0, err
	}

	if l.metrics != nil {
		l.metrics.ActiveLocks.Inc()
	}
	l.logger.Debug().
		Uint64("lock_id", uint64(evt.LockID)).
		Str("owner", owner.Hex()).
		Str("asset", asset.Hex()).
		Str("amount", amount.String()).
		Msg("lock created")

	return evt.LockID, nil
}

// Allocate commits amount of the lock's available balance.
func (l *Ledger) Allocate(ctx context.Context, id LockID, amount *big.Int) error {
	if !fpmath.IsPositive(amount) || !fpmath.FitsUint256(amount) {
		return l.reject("allocate", fmt.Errorf("%w: %v", ErrInvalidAmount, amount))
	}
	amount = fpmath.Clone(amount)

	_, err := l.mutate(ctx, "allocate", func(tx Tx) (Event, error) {
		lock, err := activeLock(tx, id)
		if err != nil {
			return Event{}, err
		}

		available := lock.Available()
		if available.Cmp(amount) < 0 {
			return Event{}, &InsufficientBalanceError{LockID: id, Requested: amount, Available: available}
		}

		lock.Allocated.Add(lock.Allocated, amount)
		if err := lock.Validate(); err != nil {
			return Event{}, err
		}
		if err := tx.PutLock(lock); err != nil {
			return Event{}, err
		}
		return l.event(EventAllocated, lock, amount), nil
	})
	return err
}

// Release returns amount of the lock's allocation to its available balance.
func (l *Ledger) Release(ctx context.Context, id LockID, amount *big.Int) error {
	if !fpmath.IsPositive(amount) || !fpmath.FitsUint256(amount) {
		return l.reject("release", fmt.Errorf("%w: %v", ErrInvalidAmount, amount))
	}
	amount = fpmath.Clone(amount)

	_, err := l.mutate(ctx, "release", func(tx Tx) (Event, error) {
		lock, err := activeLock(tx, id)
		if err != nil {
			return Event{}, err
		}

		if lock.Allocated.Cmp(amount) < 0 {
			return Event{}, &InsufficientBalanceError{LockID: id, Requested: amount, Available: fpmath.Clone(lock.Allocated)}
		}

		lock.Allocated.Sub(lock.Allocated, amount)
		if err := lock.Validate(); err != nil {
			return Event{}, err
		}
		if err := tx.PutLock(lock); err != nil {
			return Event{}, err
		}
		return l.event(EventReleased, lock, amount), nil
	})
	return err
}

// Unlock destroys a lock with no outstanding allocation and returns its
// total to the owner.
func (l *Ledger) Unlock(ctx context.Context, id LockID) error {
	var (
		transferred bool
		owner       common.Address
		asset       common.Address
		total       *big.Int
	)

	_, err := l.mutate(ctx, "unlock", func(tx Tx) (Event, error) {
		lock, err := activeLock(tx, id)
		if err != nil {
			return Event{}, err
		}

		if lock.Allocated.Sign() != 0 {
			return Event{}, &InsufficientBalanceError{LockID: id, Requested: fpmath.Clone(lock.Total), Available: lock.Available()}
		}

		lock.Active = false
		if err := tx.PutLock(lock); err != nil {
			return Event{}, err
		}

		indexed, ok, err := tx.LookupPair(lock.Owner, lock.Asset)
		if err != nil {
			return Event{}, err
		}
		if ok && indexed == id {
			if err := tx.DeletePair(lock.Owner, lock.Asset); err != nil {
				return Event{}, err
			}
		}

		external, err := l.transferOut(ctx, tx, lock.Owner, lock.Asset, lock.Total)
		if err != nil {
			return Event{}, fmt.Errorf("%w: %w", ErrTransferFailed, err)
		}
		transferred = external
		owner, asset, total = lock.Owner, lock.Asset, lock.Total

		return l.event(EventUnlocked, lock, lock.Total), nil
	})
	if err != nil {
		if transferred {
			l.compensate(ctx, "unlock", func() error {
				return l.custodian.TransferIn(ctx, owner, asset, total)
			})
		}
		return err
	}

	if l.metrics != nil {
		l.metrics.ActiveLocks.Dec()
	}
	l.logger.Debug().
		Uint64("lock_id", uint64(id)).
		Str("owner", owner.Hex()).
		Str("amount", total.String()).
		Msg("lock destroyed")
	return nil
}

// Deposit credits owner's external balance, the funds Lock draws from.
func (l *Ledger) Deposit(ctx context.Context, owner, asset common.Address, amount *big.Int) error {
	return l.fund(ctx, "deposit", owner, asset, amount, func(f Funder) error {
		return f.Deposit(ctx, owner, asset, amount)
	})
}

// Withdraw debits owner's external balance. Escrowed funds are not
// touched; they return to the external balance on Unlock.
func (l *Ledger) Withdraw(ctx context.Context, owner, asset common.Address, amount *big.Int) error {
	return l.fund(ctx, "withdraw", owner, asset, amount, func(f Funder) error {
		return f.Withdraw(ctx, owner, asset, amount)
	})
}

// ExternalBalance returns owner's unescrowed balance held by the custodian.
func (l *Ledger) ExternalBalance(ctx context.Context, owner, asset common.Address) (*big.Int, error) {
	f, ok := l.custodian.(Funder)
	if !ok {
		return nil, ErrFundingUnsupported
	}
	return f.ExternalBalance(ctx, owner, asset)
}

func (l *Ledger) fund(ctx context.Context, op string, owner, asset common.Address, amount *big.Int, fn func(f Funder) error) error {
	start := time.Now()
	if !fpmath.IsPositive(amount) || !fpmath.FitsUint256(amount) {
		return l.reject(op, fmt.Errorf("%w: %v", ErrInvalidAmount, amount))
	}
	if asset == (common.Address{}) {
		return l.reject(op, ErrInvalidAsset)
	}
	if owner == (common.Address{}) {
		return l.reject(op, ErrInvalidOwner)
	}
	f, ok := l.custodian.(Funder)
	if !ok {
		return l.reject(op, ErrFundingUnsupported)
	}

	err := fn(f)
	l.observe(op, err, start)
	if err != nil {
		return err
	}
	l.logger.Info().
		Str("op", op).
		Str("owner", owner.Hex()).
		Str("asset", asset.Hex()).
		Str("amount", amount.String()).
		Msg("external balance updated")
	return nil
}

// AvailableBalance returns the unallocated balance of the owner's active
// lock in asset, or zero when there is none.
func (l *Ledger) AvailableBalance(ctx context.Context, owner, asset common.Address) (*big.Int, error) {
	lock, err := l.LockOf(ctx, owner, asset)
	if errors.Is(err, ErrLockNotFound) {
		return new(big.Int), nil
	}
	if err != nil {
		return nil, err
	}
	return lock.Available(), nil
}

// LockOf returns the owner's active lock in asset.
func (l *Ledger) LockOf(ctx context.Context, owner, asset common.Address) (*ResourceLock, error) {
	var out *ResourceLock
	err := l.store.View(ctx, func(tx Tx) error {
		id, ok, err := tx.LookupPair(owner, asset)
		if err != nil {
			return err
		}
		if !ok {
			return ErrLockNotFound
		}
		lock, err := activeLock(tx, id)
		if err != nil {
			return err
		}
		out = lock
		return nil
	})
	return out, err
}

// GetLock returns a copy of the lock record, active or destroyed.
func (l *Ledger) GetLock(ctx context.Context, id LockID) (*ResourceLock, error) {
	var out *ResourceLock
	err := l.store.View(ctx, func(tx Tx) error {
		lock, err := tx.GetLock(id)
		if err != nil {
			return err
		}
		out = lock
		return nil
	})
	return out, err
}

// CanAllocate reports whether amount could be allocated on the lock right
// now, without mutating it.
func (l *Ledger) CanAllocate(ctx context.Context, id LockID, amount *big.Int) (bool, error) {
	if !fpmath.IsPositive(amount) {
		return false, nil
	}
	var ok bool
	err := l.store.View(ctx, func(tx Tx) error {
		lock, err := activeLock(tx, id)
		if err != nil {
			return err
		}
		ok = lock.Available().Cmp(amount) >= 0
		return nil
	})
	return ok, err
}

func activeLock(tx Tx, id LockID) (*ResourceLock, error) {
	lock, err := tx.GetLock(id)
	if err != nil {
		if errors.Is(err, ErrLockNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrLockNotFound, id)
		}
		return nil, err
	}
	if !lock.Active {
		return nil, fmt.Errorf("%w: %d is destroyed", ErrLockNotFound, id)
	}
	return lock, nil
}

// mutate runs fn in a store transaction and journals the resulting event
// after a successful commit.
func (l *Ledger) mutate(ctx context.Context, op string, fn func(tx Tx) (Event, error)) (Event, error) {
	start := time.Now()

	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	var evt Event
	err := l.store.Update(ctx, func(tx Tx) error {
		var err error
		if evt, err = fn(tx); err != nil {
			return err
		}

		jtx, durable := tx.(JournalTx)
		next, prev := l.journal.Tip()
		if durable {
			if next, prev, err = jtx.JournalTip(); err != nil {
				return fmt.Errorf("journal tip: %w", err)
			}
		}
		evt = Stamp(evt, next, prev)
		if durable {
			if err := jtx.AppendEvent(evt); err != nil {
				return fmt.Errorf("append event %d: %w", evt.Sequence, err)
			}
		}
		return nil
	})
	l.observe(op, err, start)
	if err != nil {
		l.logger.Debug().Err(err).Str("op", op).Msg("ledger operation rejected")
		return Event{}, err
	}

	l.journal.Commit(evt)
	if l.metrics != nil {
		l.metrics.LedgerSequence.Set(float64(evt.Sequence))
	}
	return evt, nil
}

// transferIn moves funds into custody. It reports whether the move happened
// outside the store transaction and must be compensated if the commit fails.
func (l *Ledger) transferIn(ctx context.Context, tx Tx, from, asset common.Address, amount *big.Int) (bool, error) {
	if tc, ok := l.custodian.(TxCustodian); ok {
		return false, tc.TransferInTx(ctx, tx, from, asset, amount)
	}
	if err := l.custodian.TransferIn(ctx, from, asset, amount); err != nil {
		return false, err
	}
	return true, nil
}

func (l *Ledger) transferOut(ctx context.Context, tx Tx, to, asset common.Address, amount *big.Int) (bool, error) {
	if tc, ok := l.custodian.(TxCustodian); ok {
		return false, tc.TransferOutTx(ctx, tx, to, asset, amount)
	}
	if err := l.custodian.TransferOut(ctx, to, asset, amount); err != nil {
		return false, err
	}
	return true, nil
}

func (l *Ledger) event(typ EventType, lock *ResourceLock, amount *big.Int) Event {
	return Event{
		Type:      typ,
		LockID:    lock.ID,
		Owner:     lock.Owner,
		Asset:     lock.Asset,
		Amount:    fpmath.Clone(amount),
		Total:     fpmath.Clone(lock.Total),
		Allocated: fpmath.Clone(lock.Allocated),
		Timestamp: l.nowFn(),
	}
}

func (l *Ledger) compensate(ctx context.Context, op string, undo func() error) {
	if err := undo(); err != nil {
		l.logger.Error().Err(err).Str("op", op).Msg("custody compensation failed, manual reconciliation required")
		return
	}
	l.logger.Warn().Str("op", op).Msg("store commit failed after custody transfer, transfer reversed")
}

func (l *Ledger) reject(op string, err error) error {
	l.observe(op, err, time.Now())
	return err
}

func (l *Ledger) observe(op string, err error, start time.Time) {
	if l.metrics == nil {
		return
	}
	l.metrics.LedgerOps.WithLabelValues(op, Outcome(err)).Inc()
	l.metrics.LedgerOpDur.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// Outcome maps a ledger error to a short metric label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInsufficientLockedBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrLockNotFound):
		return "lock_not_found"
	case errors.Is(err, ErrLockExists):
		return "lock_exists"
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInvalidAsset), errors.Is(err, ErrInvalidOwner):
		return "invalid_input"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrFundingUnsupported):
		return "unsupported"
	case errors.Is(err, ErrTransferFailed):
		return "transfer_failed"
	default:
		return "error"
	}
}
