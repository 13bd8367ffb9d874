// Package settlement is the boundary the external settlement engine calls
// into: amount quotes before a trade, claim processing after it.
package settlement

import (
	"EscrowLedger/internal/claim"
	"EscrowLedger/internal/ledger"
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// AmountCalculator converts a base amount using an encoded quote request.
type AmountCalculator interface {
	GetSpreadedAmount(ctx context.Context, baseAmount *big.Int, encoded []byte) (*big.Int, error)
}

// ClaimProcessor applies signed claims.
type ClaimProcessor interface {
	Process(ctx context.Context, c *claim.Claim) error
	Verify(ctx context.Context, c *claim.Claim) bool
}

// Trade is what the settlement engine reports after moving assets.
type Trade struct {
	ID          uuid.UUID
	Maker       common.Address
	Taker       common.Address
	MakerAsset  common.Address
	TakerAsset  common.Address
	MakerAmount *big.Int
	TakerAmount *big.Int
	ExecutedAt  time.Time

	// Claim, when set, is applied against the sponsor's lock.
	Claim *claim.Claim
}

type Hooks struct {
	calc   AmountCalculator
	claims ClaimProcessor
	logger zerolog.Logger
}

func NewHooks(calc AmountCalculator, claims ClaimProcessor, logger zerolog.Logger) *Hooks {
	return &Hooks{calc: calc, claims: claims, logger: logger}
}

// GetSpreadedAmount is called once per trade leg. It has no side effects, so
// the engine may call it speculatively.
func (h *Hooks) GetSpreadedAmount(ctx context.Context, baseAmount *big.Int, encoded []byte) (*big.Int, error) {
	return h.calc.GetSpreadedAmount(ctx, baseAmount, encoded)
}

// PostTradeHook runs after the engine transferred a trade's assets.
// Trades without a claim pass through.
func (h *Hooks) PostTradeHook(ctx context.Context, trade Trade) error {
	if trade.Claim == nil {
		return nil
	}
	if err := h.claims.Process(ctx, trade.Claim); err != nil {
		h.logger.Warn().
			Err(err).
			Str("trade_id", trade.ID.String()).
			Str("claim_hash", trade.Claim.ClaimHash.Hex()).
			Msg("post-trade claim rejected")
		return fmt.Errorf("trade %s: %w", trade.ID, err)
	}

	h.logger.Debug().
		Str("trade_id", trade.ID.String()).
		Uint64("lock_id", uint64(trade.Claim.LockID)).
		Msg("post-trade claim applied")
	return nil
}

// ProcessClaim submits a claim assembled from its wire fields.
func (h *Hooks) ProcessClaim(
	ctx context.Context,
	claimHash common.Hash,
	sponsor common.Address,
	nonce *big.Int,
	expiresAt time.Time,
	lockID ledger.LockID,
	amount *big.Int,
	signature []byte,
) error {
	return h.claims.Process(ctx, &claim.Claim{
		ClaimHash: claimHash,
		Sponsor:   sponsor,
		Nonce:     nonce,
		ExpiresAt: expiresAt,
		LockID:    lockID,
		Amount:    amount,
		Signature: signature,
	})
}

// VerifyClaim pre-flights a claim without mutating state.
func (h *Hooks) VerifyClaim(ctx context.Context, c *claim.Claim) bool {
	return h.claims.Verify(ctx, c)
}
