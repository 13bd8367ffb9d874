package ingestion

import (
	"context"
	"fmt"
)

// QuoteInjector applies quote messages submitted outside NATS, e.g. by an
// operator through the admin API. It uses the same validation as the feed.
type QuoteInjector struct {
	sink QuoteSink
}

func NewQuoteInjector(sink QuoteSink) *QuoteInjector {
	return &QuoteInjector{sink: sink}
}

// Inject parses data as a quote message and stores it. It reports whether the
// quote replaced the held answer.
func (i *QuoteInjector) Inject(ctx context.Context, data []byte) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	addr, q, err := ParseQuote("", data)
	if err != nil {
		return false, fmt.Errorf("inject quote: %w", err)
	}
	return i.sink.Set(addr, q), nil
}
