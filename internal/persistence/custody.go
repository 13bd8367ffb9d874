package persistence

import (
	"EscrowLedger/internal/ledger"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

var errForeignTx = errors.New("persistence: custody transfer outside a Postgres write transaction")

// PostgresCustodian keeps owners' external balances (escrow.balances) and
// the per-asset custody total (escrow.custody) next to the lock rows.
// Transfers the ledger makes through it join the ledger's own transaction.
type PostgresCustodian struct {
	db *sql.DB
}

func NewPostgresCustodian(db *sql.DB) *PostgresCustodian {
	return &PostgresCustodian{db: db}
}

func (c *PostgresCustodian) TransferInTx(ctx context.Context, tx ledger.Tx, from, asset common.Address, amount *big.Int) error {
	sqlTx, err := writeTxOf(tx)
	if err != nil {
		return err
	}
	return transferIn(ctx, sqlTx, from, asset, amount)
}

func (c *PostgresCustodian) TransferOutTx(ctx context.Context, tx ledger.Tx, to, asset common.Address, amount *big.Int) error {
	sqlTx, err := writeTxOf(tx)
	if err != nil {
		return err
	}
	return transferOut(ctx, sqlTx, to, asset, amount)
}

// TransferIn moves funds into custody in a transaction of its own.
func (c *PostgresCustodian) TransferIn(ctx context.Context, from, asset common.Address, amount *big.Int) error {
	return withTx(ctx, c.db, func(tx *sql.Tx) error {
		return transferIn(ctx, tx, from, asset, amount)
	})
}

// TransferOut moves funds out of custody in a transaction of its own.
func (c *PostgresCustodian) TransferOut(ctx context.Context, to, asset common.Address, amount *big.Int) error {
	return withTx(ctx, c.db, func(tx *sql.Tx) error {
		return transferOut(ctx, tx, to, asset, amount)
	})
}

func (c *PostgresCustodian) Deposit(ctx context.Context, owner, asset common.Address, amount *big.Int) error {
	return credit(ctx, c.db, owner, asset, amount)
}

func (c *PostgresCustodian) Withdraw(ctx context.Context, owner, asset common.Address, amount *big.Int) error {
	return debit(ctx, c.db, owner, asset, amount)
}

func (c *PostgresCustodian) ExternalBalance(ctx context.Context, owner, asset common.Address) (*big.Int, error) {
	var amount decimal.Decimal
	err := c.db.QueryRowContext(ctx,
		`SELECT amount FROM escrow.balances WHERE owner = $1 AND asset = $2`,
		owner.Bytes(), asset.Bytes(),
	).Scan(&amount)
	if errors.Is(err, sql.ErrNoRows) {
		return new(big.Int), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load balance: %w", err)
	}
	return amount.BigInt(), nil
}

func writeTxOf(tx ledger.Tx) (*sql.Tx, error) {
	p, ok := tx.(*pgTx)
	if !ok || !p.write {
		return nil, errForeignTx
	}
	return p.tx, nil
}

func transferIn(ctx context.Context, ex execer, from, asset common.Address, amount *big.Int) error {
	if err := debit(ctx, ex, from, asset, amount); err != nil {
		return err
	}
	_, err := ex.ExecContext(ctx, `
		INSERT INTO escrow.custody (asset, held) VALUES ($1, $2)
		ON CONFLICT (asset) DO UPDATE
		SET held = escrow.custody.held + EXCLUDED.held, updated_at = NOW()`,
		asset.Bytes(), numeric(amount),
	)
	if err != nil {
		return fmt.Errorf("hold custody: %w", err)
	}
	return nil
}

func transferOut(ctx context.Context, ex execer, to, asset common.Address, amount *big.Int) error {
	res, err := ex.ExecContext(ctx, `
		UPDATE escrow.custody SET held = held - $2, updated_at = NOW()
		WHERE asset = $1 AND held >= $2`,
		asset.Bytes(), numeric(amount),
	)
	if err != nil {
		return fmt.Errorf("release custody: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("release custody: %w", err)
	} else if n == 0 {
		return fmt.Errorf("custody of %s below %s", asset.Hex(), amount)
	}
	return credit(ctx, ex, to, asset, amount)
}

func credit(ctx context.Context, ex execer, owner, asset common.Address, amount *big.Int) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO escrow.balances (owner, asset, amount) VALUES ($1, $2, $3)
		ON CONFLICT (owner, asset) DO UPDATE
		SET amount = escrow.balances.amount + EXCLUDED.amount, updated_at = NOW()`,
		owner.Bytes(), asset.Bytes(), numeric(amount),
	)
	if err != nil {
		return fmt.Errorf("credit balance: %w", err)
	}
	return nil
}

func debit(ctx context.Context, ex execer, owner, asset common.Address, amount *big.Int) error {
	res, err := ex.ExecContext(ctx, `
		UPDATE escrow.balances SET amount = amount - $3, updated_at = NOW()
		WHERE owner = $1 AND asset = $2 AND amount >= $3`,
		owner.Bytes(), asset.Bytes(), numeric(amount),
	)
	if err != nil {
		return fmt.Errorf("debit balance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("debit balance: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s below %s", ledger.ErrInsufficientFunds,
			ledger.PairKey{Owner: owner, Asset: asset}, amount)
	}
	return nil
}
