package persistence

import (
	"EscrowLedger/internal/claim"
	"context"
	"database/sql"
	"errors"
	"slices"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

const claimLookupTimeout = 500 * time.Millisecond

// ClaimStore is the durable tier of the claim replay guard, backed by
// claims.processed.
type ClaimStore struct {
	db *sql.DB
}

func NewClaimStore(db *sql.DB) *ClaimStore {
	return &ClaimStore{db: db}
}

func (s *ClaimStore) IsProcessed(ctx context.Context, claimHash common.Hash) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, claimLookupTimeout)
	defer cancel()

	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM claims.processed WHERE claim_hash = $1 LIMIT 1`,
		claimHash.Bytes(),
	).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *ClaimStore) MarkProcessed(ctx context.Context, c *claim.Claim) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO claims.processed (claim_hash, sponsor, lock_id, amount)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (claim_hash) DO NOTHING`,
		c.ClaimHash.Bytes(), c.Sponsor.Bytes(), int64(c.LockID), numeric(c.Amount),
	)
	return err
}

// RecentHashes returns up to limit of the most recently processed claim
// hashes, oldest first, for warming the in-memory tier.
func (s *ClaimStore) RecentHashes(ctx context.Context, limit int) ([]common.Hash, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT claim_hash FROM claims.processed ORDER BY processed_at DESC LIMIT $1`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []common.Hash
	for rows.Next() {
		var b []byte
		if err := rows.Scan(&b); err != nil {
			return nil, err
		}
		out = append(out, common.BytesToHash(b))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.Reverse(out)
	return out, nil
}
