package ingestion

import (
	fpmath "EscrowLedger/internal/math"
	"EscrowLedger/internal/oracle"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// QuoteSubjectPrefix is followed by the oracle address, e.g.
// escrow.quotes.0x5f4eC3Df9cbd43714FE2740f5E3616155c5b8419.
const QuoteSubjectPrefix = "escrow.quotes."

var ErrInvalidQuoteMessage = errors.New("ingestion: invalid quote message")

// quoteJSON is the wire format of one oracle answer. Answer is the price in
// whole units; it is scaled by 10^decimals into the integer the calculator uses.
type quoteJSON struct {
	Oracle    string          `json:"oracle"`
	Answer    decimal.Decimal `json:"answer"`
	Decimals  uint8           `json:"decimals"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// ParseQuote validates a quote message and converts it into an oracle.Quote.
func ParseQuote(subject string, data []byte) (common.Address, oracle.Quote, error) {
	var j quoteJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return common.Address{}, oracle.Quote{}, fmt.Errorf("%w: %w", ErrInvalidQuoteMessage, err)
	}

	if !common.IsHexAddress(j.Oracle) {
		return common.Address{}, oracle.Quote{}, fmt.Errorf("%w: oracle %q", ErrInvalidQuoteMessage, j.Oracle)
	}
	addr := common.HexToAddress(j.Oracle)

	if suffix, ok := strings.CutPrefix(subject, QuoteSubjectPrefix); ok {
		if !common.IsHexAddress(suffix) || common.HexToAddress(suffix) != addr {
			return common.Address{}, oracle.Quote{}, fmt.Errorf("%w: subject %s does not match oracle %s",
				ErrInvalidQuoteMessage, subject, addr.Hex())
		}
	}

	if j.Decimals > fpmath.MaxPow10Exponent {
		return common.Address{}, oracle.Quote{}, fmt.Errorf("%w: decimals %d", ErrInvalidQuoteMessage, j.Decimals)
	}
	if !j.Answer.IsPositive() {
		return common.Address{}, oracle.Quote{}, fmt.Errorf("%w: answer %s", ErrInvalidQuoteMessage, j.Answer)
	}

	scaled := j.Answer.Shift(int32(j.Decimals))
	if !scaled.IsInteger() {
		return common.Address{}, oracle.Quote{}, fmt.Errorf("%w: answer %s has more than %d fractional digits",
			ErrInvalidQuoteMessage, j.Answer, j.Decimals)
	}
	price := scaled.BigInt()
	if !fpmath.FitsUint256(price) {
		return common.Address{}, oracle.Quote{}, fmt.Errorf("%w: answer out of range", ErrInvalidQuoteMessage)
	}

	if j.UpdatedAt.IsZero() {
		return common.Address{}, oracle.Quote{}, fmt.Errorf("%w: missing updated_at", ErrInvalidQuoteMessage)
	}

	return addr, oracle.Quote{Price: price, Decimals: j.Decimals, UpdatedAt: j.UpdatedAt}, nil
}

// QuoteSubject returns the subject a feed publishes on.
func QuoteSubject(o common.Address) string {
	return QuoteSubjectPrefix + o.Hex()
}
