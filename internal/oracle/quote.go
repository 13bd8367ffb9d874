package oracle

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// DefaultQuoteTTL is the maximum age of a quote before it is rejected.
const DefaultQuoteTTL = 4 * time.Hour

// Quote is a read-only price snapshot for one feed.
type Quote struct {
	Price     *big.Int
	Decimals  uint8
	UpdatedAt time.Time
}

// Clone returns a deep copy of the quote.
func (q Quote) Clone() Quote {
	clone := Quote{Decimals: q.Decimals, UpdatedAt: q.UpdatedAt}
	if q.Price != nil {
		clone.Price = new(big.Int).Set(q.Price)
	}
	return clone
}

// QuoteSource supplies the latest answer of a price feed. Implementations are
// consulted on every calculation; the calculator never caches quotes.
type QuoteSource interface {
	LatestQuote(ctx context.Context, oracle common.Address) (Quote, error)
}

// MemorySource is a QuoteSource backed by an in-memory table of the latest
// answer per feed. The NATS quote feed writes into it.
type MemorySource struct {
	mu     sync.RWMutex
	quotes map[common.Address]Quote
}

func NewMemorySource() *MemorySource {
	return &MemorySource{
		quotes: make(map[common.Address]Quote),
	}
}

// Set records the latest answer for oracle, replacing any previous one.
// Answers older than the one already held are ignored.
func (s *MemorySource) Set(oracle common.Address, q Quote) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.quotes[oracle]; ok && q.UpdatedAt.Before(prev.UpdatedAt) {
		return false
	}
	s.quotes[oracle] = q.Clone()
	return true
}

// LatestQuote returns a copy of the latest answer for oracle.
func (s *MemorySource) LatestQuote(ctx context.Context, oracle common.Address) (Quote, error) {
	if err := ctx.Err(); err != nil {
		return Quote{}, err
	}

	s.mu.RLock()
	q, ok := s.quotes[oracle]
	s.mu.RUnlock()

	if !ok {
		return Quote{}, ErrUnknownOracle
	}
	return q.Clone(), nil
}

// Len returns the number of feeds with an answer.
func (s *MemorySource) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.quotes)
}
