package oracle

import (
	fpmath "EscrowLedger/internal/math"
	"EscrowLedger/internal/observability"
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Calculator converts a base amount into a settlement amount using live
// quotes, a spread, and the inversion/cross-rate rules of the request.
// It holds no state besides its collaborators and is safe for concurrent use.
type Calculator struct {
	source  QuoteSource
	ttl     time.Duration
	nowFn   func() time.Time
	metrics *observability.Metrics
}

func NewCalculator(source QuoteSource, metrics *observability.Metrics) *Calculator {
	return &Calculator{
		source:  source,
		ttl:     DefaultQuoteTTL,
		nowFn:   time.Now,
		metrics: metrics,
	}
}

// SetNowFunc overrides the clock used for freshness checks.
func (c *Calculator) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	c.nowFn = now
}

// SetTTL overrides the freshness window. Non-positive values restore the default.
func (c *Calculator) SetTTL(ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultQuoteTTL
	}
	c.ttl = ttl
}

// TTL returns the freshness window in use.
func (c *Calculator) TTL() time.Duration {
	return c.ttl
}

// GetSpreadedAmount decodes an encoded request and computes the settlement
// amount for baseAmount. It has no side effects and may be called
// speculatively.
func (c *Calculator) GetSpreadedAmount(ctx context.Context, baseAmount *big.Int, encoded []byte) (*big.Int, error) {
	req, err := DecodeRequest(encoded)
	if err != nil {
		c.record("unknown", err, time.Now())
		return nil, err
	}
	return c.Compute(ctx, req, baseAmount)
}

// Compute returns the settlement amount for amount under req.
func (c *Calculator) Compute(ctx context.Context, req Request, amount *big.Int) (result *big.Int, err error) {
	start := time.Now()
	mode := "unknown"
	if req != nil {
		mode = string(req.Mode())
	}
	defer func() { c.record(mode, err, start) }()

	if amount == nil || amount.Sign() < 0 {
		return nil, ErrInvalidAmount
	}

	switch r := req.(type) {
	case SingleQuoteRequest:
		return c.single(ctx, r, amount)
	case DoubleQuoteRequest:
		return c.double(ctx, r, amount)
	}
	return nil, fmt.Errorf("%w: unknown request type %T", ErrMalformedRequest, req)
}

// single computes
//
//	direct:  amount * spread * price / 10^decimals / 1e9
//	inverse: amount * spread * 10^decimals / price / 1e9
func (c *Calculator) single(ctx context.Context, r SingleQuoteRequest, amount *big.Int) (*big.Int, error) {
	if !fpmath.FitsUint256(r.Spread) {
		return nil, fmt.Errorf("%w: spread out of range", ErrMalformedRequest)
	}

	q, err := c.quote(ctx, r.Oracle)
	if err != nil {
		return nil, err
	}
	if err := c.validate(r.Oracle, q); err != nil {
		return nil, err
	}

	scale := fpmath.Pow10(int(q.Decimals))
	var numerator, denominator *big.Int
	if r.Inverse {
		numerator = fpmath.Mul(amount, r.Spread, scale)
		denominator = q.Price
	} else {
		numerator = fpmath.Mul(amount, r.Spread, q.Price)
		denominator = scale
	}

	result, err := fpmath.Div(numerator, denominator, fpmath.RoundDown)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidQuote, err)
	}
	return fpmath.Div(result, fpmath.SpreadDenominator, fpmath.RoundDown)
}

// double computes amount * spread * price1, rescaled by 10^decimalsScale,
// divided by price2 and finally by the spread denominator.
func (c *Calculator) double(ctx context.Context, r DoubleQuoteRequest, amount *big.Int) (*big.Int, error) {
	if !fpmath.FitsUint256(r.Spread) {
		return nil, fmt.Errorf("%w: spread out of range", ErrMalformedRequest)
	}
	if r.DecimalsScale > fpmath.MaxPow10Exponent || r.DecimalsScale < -fpmath.MaxPow10Exponent {
		return nil, fmt.Errorf("%w: decimals scale %d out of range", ErrMalformedRequest, r.DecimalsScale)
	}

	q1, err := c.quote(ctx, r.Oracle1)
	if err != nil {
		return nil, err
	}
	q2, err := c.quote(ctx, r.Oracle2)
	if err != nil {
		return nil, err
	}

	if q1.Decimals != q2.Decimals {
		return nil, fmt.Errorf("%w: %s has %d, %s has %d", ErrMismatchedOracleDecimals,
			r.Oracle1.Hex(), q1.Decimals, r.Oracle2.Hex(), q2.Decimals)
	}
	if err := c.validate(r.Oracle1, q1); err != nil {
		return nil, err
	}
	if err := c.validate(r.Oracle2, q2); err != nil {
		return nil, err
	}

	result := fpmath.Mul(amount, r.Spread, q1.Price)
	switch {
	case r.DecimalsScale > 0:
		result.Mul(result, fpmath.Pow10(int(r.DecimalsScale)))
	case r.DecimalsScale < 0:
		result.Quo(result, fpmath.Pow10(int(-r.DecimalsScale)))
	}

	result, err = fpmath.Div(result, q2.Price, fpmath.RoundDown)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidQuote, err)
	}
	return fpmath.Div(result, fpmath.SpreadDenominator, fpmath.RoundDown)
}

func (c *Calculator) quote(ctx context.Context, oracle common.Address) (Quote, error) {
	q, err := c.source.LatestQuote(ctx, oracle)
	if err != nil {
		return Quote{}, fmt.Errorf("oracle %s: %w", oracle.Hex(), err)
	}
	return q, nil
}

// validate enforces freshness and a positive price.
func (c *Calculator) validate(oracle common.Address, q Quote) error {
	age := c.nowFn().Sub(q.UpdatedAt)
	if age > c.ttl {
		return fmt.Errorf("%w: %s updated %s ago (ttl %s)", ErrStaleQuote, oracle.Hex(), age, c.ttl)
	}
	if q.Price == nil || q.Price.Sign() <= 0 {
		return fmt.Errorf("%w: %s answered %v", ErrInvalidQuote, oracle.Hex(), q.Price)
	}
	if int(q.Decimals) > fpmath.MaxPow10Exponent {
		return fmt.Errorf("%w: %s reports %d decimals", ErrInvalidQuote, oracle.Hex(), q.Decimals)
	}
	return nil
}

func (c *Calculator) record(mode string, err error, start time.Time) {
	if c.metrics == nil {
		return
	}
	c.metrics.AmountComputations.WithLabelValues(mode, Outcome(err)).Inc()
	c.metrics.AmountComputeDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
}

// Outcome maps a calculation error to a short metric label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrStaleQuote):
		return "stale_quote"
	case errors.Is(err, ErrMismatchedOracleDecimals):
		return "mismatched_decimals"
	case errors.Is(err, ErrInvalidQuote):
		return "invalid_quote"
	case errors.Is(err, ErrMalformedRequest):
		return "malformed_request"
	case errors.Is(err, ErrUnknownOracle):
		return "unknown_oracle"
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	default:
		return "error"
	}
}
