package persistence

import (
	"EscrowLedger/internal/ledger"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

const eventColumns = 11

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type rowQueryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// EventLog reads the journal kept in event_log.ledger_events. Rows are
// written by PostgresStore inside the transaction of the operation they
// record.
type EventLog struct {
	db *sql.DB
}

func NewEventLog(db *sql.DB) *EventLog {
	return &EventLog{db: db}
}

// LoadTip returns the sequence to assign next and the hash of the last
// persisted event, or (1, genesis) on an empty log.
func (l *EventLog) LoadTip(ctx context.Context) (int64, [32]byte, error) {
	return loadTip(ctx, l.db)
}

func loadTip(ctx context.Context, q rowQueryer) (int64, [32]byte, error) {
	var (
		seq  int64
		hash []byte
	)
	err := q.QueryRowContext(ctx,
		`SELECT sequence, hash FROM event_log.ledger_events ORDER BY sequence DESC LIMIT 1`,
	).Scan(&seq, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return 1, ledger.GenesisHash(), nil
	}
	if err != nil {
		return 0, [32]byte{}, fmt.Errorf("load journal tip: %w", err)
	}
	if len(hash) != 32 {
		return 0, [32]byte{}, fmt.Errorf("load journal tip: hash at sequence %d has %d bytes", seq, len(hash))
	}

	var tip [32]byte
	copy(tip[:], hash)
	return seq + 1, tip, nil
}

// insertEvents writes events with one multi-row INSERT. A sequence that is
// already taken fails the statement, and with it the caller's transaction.
func insertEvents(ctx context.Context, ex execer, events []ledger.Event) error {
	if len(events) == 0 {
		return nil
	}

	query := `INSERT INTO event_log.ledger_events
		(sequence, event_type, lock_id, owner, asset, amount, total, allocated, hash, prev_hash, occurred_at)
		VALUES `

	values := make([]string, 0, len(events))
	args := make([]any, 0, len(events)*eventColumns)

	for i, e := range events {
		base := i * eventColumns
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10, base+11,
		))
		args = append(args,
			e.Sequence, string(e.Type), int64(e.LockID), e.Owner.Bytes(), e.Asset.Bytes(),
			numeric(e.Amount), numeric(e.Total), numeric(e.Allocated),
			e.Hash[:], e.PrevHash[:], e.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	if _, err := ex.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert events: %w", err)
	}
	return nil
}

// withTx runs fn in a transaction, committing only if fn succeeds.
func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
