package persistence

import (
	"EscrowLedger/internal/ledger"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// writerLockKey is the transaction-scoped advisory lock every Update takes,
// making ledger writers serialize across all processes sharing the database.
const writerLockKey int64 = 0x657363726f77

// PostgresStore is a ledger.Store backed by the escrow schema. Each Update
// runs in one transaction under the writer advisory lock and reads rows
// FOR UPDATE. Its transactions also carry the event journal (ledger.JournalTx),
// so a committed operation and its event row are never separated.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Update(ctx context.Context, fn func(tx ledger.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, writerLockKey); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("acquire writer lock: %w", err)
	}
	if err := fn(&pgTx{ctx: ctx, tx: tx, write: true}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *PostgresStore) View(ctx context.Context, fn func(tx ledger.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()
	return fn(&pgTx{ctx: ctx, tx: tx})
}

// ActiveLocks counts active locks, used to seed the gauge at startup.
func (s *PostgresStore) ActiveLocks(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM escrow.locks WHERE active`).Scan(&n)
	return n, err
}

var errReadOnly = errors.New("persistence: write in read-only transaction")

type pgTx struct {
	ctx   context.Context
	tx    *sql.Tx
	write bool
}

func (t *pgTx) NextLockID() (ledger.LockID, error) {
	if !t.write {
		return 0, errReadOnly
	}
	var id int64
	if err := t.tx.QueryRowContext(t.ctx, `SELECT nextval('escrow.lock_id_seq')`).Scan(&id); err != nil {
		return 0, err
	}
	return ledger.LockID(id), nil
}

func (t *pgTx) GetLock(id ledger.LockID) (*ledger.ResourceLock, error) {
	query := `SELECT id, owner, asset, total, allocated, active, created_at
		FROM escrow.locks WHERE id = $1`
	if t.write {
		query += ` FOR UPDATE`
	}

	var (
		rowID            int64
		owner, asset     []byte
		total, allocated decimal.Decimal
		active           bool
		createdAt        time.Time
	)
	err := t.tx.QueryRowContext(t.ctx, query, int64(id)).
		Scan(&rowID, &owner, &asset, &total, &allocated, &active, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrLockNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load lock %d: %w", id, err)
	}

	return &ledger.ResourceLock{
		ID:        ledger.LockID(rowID),
		Owner:     common.BytesToAddress(owner),
		Asset:     common.BytesToAddress(asset),
		Total:     total.BigInt(),
		Allocated: allocated.BigInt(),
		Active:    active,
		CreatedAt: createdAt,
	}, nil
}

func (t *pgTx) PutLock(lock *ledger.ResourceLock) error {
	if !t.write {
		return errReadOnly
	}
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO escrow.locks (id, owner, asset, total, allocated, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE
		SET allocated = EXCLUDED.allocated, active = EXCLUDED.active, updated_at = NOW()`,
		int64(lock.ID), lock.Owner.Bytes(), lock.Asset.Bytes(),
		numeric(lock.Total), numeric(lock.Allocated), lock.Active, lock.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("store lock %d: %w", lock.ID, err)
	}
	return nil
}

func (t *pgTx) LookupPair(owner, asset common.Address) (ledger.LockID, bool, error) {
	query := `SELECT lock_id FROM escrow.lock_index WHERE owner = $1 AND asset = $2`
	if t.write {
		query += ` FOR UPDATE`
	}

	var id int64
	err := t.tx.QueryRowContext(t.ctx, query, owner.Bytes(), asset.Bytes()).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("lookup lock index: %w", err)
	}
	return ledger.LockID(id), true, nil
}

func (t *pgTx) SetPair(owner, asset common.Address, id ledger.LockID) error {
	if !t.write {
		return errReadOnly
	}
	// An existing entry is replaced only when the lock it points at is no
	// longer active.
	res, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO escrow.lock_index (owner, asset, lock_id) VALUES ($1, $2, $3)
		ON CONFLICT (owner, asset) DO UPDATE SET lock_id = EXCLUDED.lock_id
		WHERE NOT EXISTS (
			SELECT 1 FROM escrow.locks l
			WHERE l.id = escrow.lock_index.lock_id AND l.active
		)`,
		owner.Bytes(), asset.Bytes(), int64(id),
	)
	if err != nil {
		return fmt.Errorf("store lock index: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store lock index: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ledger.ErrLockExists, ledger.PairKey{Owner: owner, Asset: asset})
	}
	return nil
}

func (t *pgTx) DeletePair(owner, asset common.Address) error {
	if !t.write {
		return errReadOnly
	}
	_, err := t.tx.ExecContext(t.ctx,
		`DELETE FROM escrow.lock_index WHERE owner = $1 AND asset = $2`,
		owner.Bytes(), asset.Bytes(),
	)
	return err
}

func (t *pgTx) JournalTip() (int64, [32]byte, error) {
	return loadTip(t.ctx, t.tx)
}

func (t *pgTx) AppendEvent(evt ledger.Event) error {
	if !t.write {
		return errReadOnly
	}
	return insertEvents(t.ctx, t.tx, []ledger.Event{evt})
}

// numeric adapts a big.Int to NUMERIC(78,0).
func numeric(v *big.Int) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, 0)
}
