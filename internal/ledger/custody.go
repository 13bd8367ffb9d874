package ledger

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Custodian moves funds between an owner's external balance and the
// ledger's custody. Each call is all-or-nothing.
type Custodian interface {
	TransferIn(ctx context.Context, from, asset common.Address, amount *big.Int) error
	TransferOut(ctx context.Context, to, asset common.Address, amount *big.Int) error
}

// TxCustodian is a Custodian that keeps custody in the ledger's own store.
// The ledger calls the Tx variants with the open store transaction, so a
// transfer commits or rolls back together with the lock rows.
type TxCustodian interface {
	Custodian
	TransferInTx(ctx context.Context, tx Tx, from, asset common.Address, amount *big.Int) error
	TransferOutTx(ctx context.Context, tx Tx, to, asset common.Address, amount *big.Int) error
}

// Funder is implemented by custodians that hold the external balances
// locks are drawn from.
type Funder interface {
	Deposit(ctx context.Context, owner, asset common.Address, amount *big.Int) error
	Withdraw(ctx context.Context, owner, asset common.Address, amount *big.Int) error
	ExternalBalance(ctx context.Context, owner, asset common.Address) (*big.Int, error)
}

// MemoryCustodian keeps external balances and custody holdings in memory.
// Used by tests and by the binary when no external settlement layer is wired.
type MemoryCustodian struct {
	mu       sync.Mutex
	balances map[PairKey]*big.Int
	held     map[common.Address]*big.Int
}

func NewMemoryCustodian() *MemoryCustodian {
	return &MemoryCustodian{
		balances: make(map[PairKey]*big.Int),
		held:     make(map[common.Address]*big.Int),
	}
}

// Credit adds amount to the external balance of owner.
func (c *MemoryCustodian) Credit(owner, asset common.Address, amount *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := PairKey{Owner: owner, Asset: asset}
	c.balances[key] = new(big.Int).Add(c.balanceLocked(key), amount)
}

// BalanceOf returns the external balance of owner.
func (c *MemoryCustodian) BalanceOf(owner, asset common.Address) *big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return new(big.Int).Set(c.balanceLocked(PairKey{Owner: owner, Asset: asset}))
}

// Held returns the amount of asset in custody.
func (c *MemoryCustodian) Held(asset common.Address) *big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.held[asset]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

func (c *MemoryCustodian) Deposit(ctx context.Context, owner, asset common.Address, amount *big.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.Credit(owner, asset, amount)
	return nil
}

func (c *MemoryCustodian) Withdraw(ctx context.Context, owner, asset common.Address, amount *big.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	key := PairKey{Owner: owner, Asset: asset}
	bal := c.balanceLocked(key)
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientFunds, key, bal, amount)
	}
	c.balances[key] = new(big.Int).Sub(bal, amount)
	return nil
}

func (c *MemoryCustodian) ExternalBalance(ctx context.Context, owner, asset common.Address) (*big.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.BalanceOf(owner, asset), nil
}

func (c *MemoryCustodian) TransferIn(ctx context.Context, from, asset common.Address, amount *big.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	key := PairKey{Owner: from, Asset: asset}
	bal := c.balanceLocked(key)
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientFunds, key, bal, amount)
	}
	c.balances[key] = new(big.Int).Sub(bal, amount)
	c.held[asset] = new(big.Int).Add(c.heldLocked(asset), amount)
	return nil
}

func (c *MemoryCustodian) TransferOut(ctx context.Context, to, asset common.Address, amount *big.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	held := c.heldLocked(asset)
	if held.Cmp(amount) < 0 {
		return fmt.Errorf("custody of %s too low: have=%s, need=%s", asset.Hex(), held, amount)
	}
	key := PairKey{Owner: to, Asset: asset}
	c.held[asset] = new(big.Int).Sub(held, amount)
	c.balances[key] = new(big.Int).Add(c.balanceLocked(key), amount)
	return nil
}

func (c *MemoryCustodian) balanceLocked(key PairKey) *big.Int {
	if v, ok := c.balances[key]; ok {
		return v
	}
	return new(big.Int)
}

func (c *MemoryCustodian) heldLocked(asset common.Address) *big.Int {
	if v, ok := c.held[asset]; ok {
		return v
	}
	return new(big.Int)
}
