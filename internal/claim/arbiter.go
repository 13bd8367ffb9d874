package claim

import (
	"EscrowLedger/internal/ledger"
	fpmath "EscrowLedger/internal/math"
	"EscrowLedger/internal/observability"
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/rs/zerolog"
)

// Allocator is the slice of the ledger the arbiter needs.
type Allocator interface {
	Allocate(ctx context.Context, id ledger.LockID, amount *big.Int) error
	CanAllocate(ctx context.Context, id ledger.LockID, amount *big.Int) (bool, error)
}

// Arbiter authorizes claims and applies them as ledger allocations.
type Arbiter struct {
	ledger   Allocator
	verifier Verifier
	guard    *ReplayGuard // optional
	nowFn    func() time.Time
	metrics  *observability.Metrics
	logger   zerolog.Logger
}

func NewArbiter(
	alloc Allocator,
	verifier Verifier,
	guard *ReplayGuard,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Arbiter {
	if verifier == nil {
		verifier = ECDSAVerifier{}
	}
	return &Arbiter{
		ledger:   alloc,
		verifier: verifier,
		guard:    guard,
		nowFn:    time.Now,
		metrics:  metrics,
		logger:   logger,
	}
}

func (a *Arbiter) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	a.nowFn = now
}

// Process authorizes c and allocates its amount from the referenced lock.
// Ledger failures are reported as ErrClaimProcessingFailed.
func (a *Arbiter) Process(ctx context.Context, c *Claim) error {
	err := a.process(ctx, c)
	a.recordProcessed(err)
	return err
}

func (a *Arbiter) process(ctx context.Context, c *Claim) error {
	if err := a.authorize(c); err != nil {
		return err
	}

	if a.guard != nil {
		fresh, err := a.guard.Begin(ctx, c.ClaimHash)
		if err != nil {
			a.logger.Error().Err(err).Str("claim_hash", c.ClaimHash.Hex()).Msg("replay check failed")
			return ErrClaimProcessingFailed
		}
		if !fresh {
			return fmt.Errorf("%w: %s", ErrClaimReplayed, c.ClaimHash.Hex())
		}
	}

	if err := a.ledger.Allocate(ctx, c.LockID, c.Amount); err != nil {
		if a.guard != nil {
			a.guard.Abort(c.ClaimHash)
		}
		a.logger.Info().
			Err(err).
			Str("claim_hash", c.ClaimHash.Hex()).
			Uint64("lock_id", uint64(c.LockID)).
			Str("amount", c.Amount.String()).
			Msg("claim allocation rejected")
		return ErrClaimProcessingFailed
	}

	if a.guard != nil {
		if err := a.guard.Commit(ctx, c); err != nil {
			// The allocation already committed; the hash stays in the LRU
			a.logger.Error().Err(err).Str("claim_hash", c.ClaimHash.Hex()).Msg("failed to persist processed claim")
		}
	}

	a.logger.Debug().
		Str("claim_hash", c.ClaimHash.Hex()).
		Str("sponsor", c.Sponsor.Hex()).
		Uint64("lock_id", uint64(c.LockID)).
		Str("amount", c.Amount.String()).
		Msg("claim processed")
	return nil
}

// Verify reports whether Process would accept c right now. It never mutates
// the ledger or the replay guard.
func (a *Arbiter) Verify(ctx context.Context, c *Claim) bool {
	ok := a.verify(ctx, c)
	if a.metrics != nil {
		result := "invalid"
		if ok {
			result = "valid"
		}
		a.metrics.ClaimsVerified.WithLabelValues(result).Inc()
	}
	return ok
}

func (a *Arbiter) verify(ctx context.Context, c *Claim) bool {
	if err := a.authorize(c); err != nil {
		return false
	}
	if a.guard != nil {
		seen, err := a.guard.Seen(ctx, c.ClaimHash)
		if err != nil || seen {
			return false
		}
	}
	ok, err := a.ledger.CanAllocate(ctx, c.LockID, c.Amount)
	return err == nil && ok
}

// authorize runs the expiry and signature checks shared by Process and Verify.
func (a *Arbiter) authorize(c *Claim) error {
	if c == nil {
		return fmt.Errorf("%w: nil claim", ErrMalformedClaim)
	}
	if !fpmath.IsPositive(c.Amount) {
		return fmt.Errorf("%w: amount must be positive", ErrMalformedClaim)
	}
	if c.Nonce == nil {
		return fmt.Errorf("%w: missing nonce", ErrMalformedClaim)
	}
	if a.nowFn().After(c.ExpiresAt) {
		return fmt.Errorf("%w: expired at %s", ErrClaimExpired, c.ExpiresAt.UTC().Format(time.RFC3339))
	}

	hash, err := c.MessageHash()
	if err != nil {
		return err
	}
	if !a.verifier.Verify(hash.Bytes(), c.Signature, c.Sponsor) {
		return ErrInvalidSignature
	}
	return nil
}

func (a *Arbiter) recordProcessed(err error) {
	if a.metrics == nil {
		return
	}
	a.metrics.ClaimsProcessed.WithLabelValues(Outcome(err)).Inc()
}

// Outcome maps a claim error to a short metric label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrClaimExpired):
		return "expired"
	case errors.Is(err, ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, ErrClaimReplayed):
		return "replayed"
	case errors.Is(err, ErrMalformedClaim):
		return "malformed"
	case errors.Is(err, ErrClaimProcessingFailed):
		return "processing_failed"
	default:
		return "error"
	}
}
