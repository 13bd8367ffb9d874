package oracle

import "errors"

var (
	// ErrMalformedRequest reports an encoded request whose flags or length do
	// not match the layout of the decoded mode.
	ErrMalformedRequest = errors.New("oracle: malformed request")

	// ErrStaleQuote reports a quote older than the freshness TTL.
	ErrStaleQuote = errors.New("oracle: stale quote")

	// ErrMismatchedOracleDecimals reports a cross-rate request whose two feeds
	// use a different number of fractional digits.
	ErrMismatchedOracleDecimals = errors.New("oracle: mismatched oracle decimals")

	// ErrInvalidQuote reports a zero or negative price.
	ErrInvalidQuote = errors.New("oracle: invalid quote")

	// ErrInvalidAmount reports a nil or negative base amount.
	ErrInvalidAmount = errors.New("oracle: invalid amount")

	// ErrUnknownOracle is returned by a QuoteSource that has no answer for a feed.
	ErrUnknownOracle = errors.New("oracle: unknown oracle")
)
