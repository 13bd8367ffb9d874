package oracle

import (
	fpmath "EscrowLedger/internal/math"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	gethmath "github.com/ethereum/go-ethereum/common/math"
)

// Flag bits of the leading request byte.
const (
	FlagInverse     byte = 0x80
	FlagDoublePrice byte = 0x40
	flagsReserved   byte = 0x3F
)

// Encoded request sizes (flags byte included).
const (
	SingleRequestSize = 1 + common.AddressLength + 32
	DoubleRequestSize = 1 + 2*common.AddressLength + 32 + 32
)

// Mode distinguishes single-feed from cross-rate requests.
type Mode string

const (
	ModeSingle Mode = "single"
	ModeDouble Mode = "double"
)

// Request is either a SingleQuoteRequest or a DoubleQuoteRequest.
type Request interface {
	Mode() Mode
	isRequest()
}

// SingleQuoteRequest prices an amount with one feed, optionally inverted.
type SingleQuoteRequest struct {
	Oracle  common.Address
	Spread  *big.Int // fixed-point, 1e9 == 1.0
	Inverse bool
}

func (SingleQuoteRequest) Mode() Mode { return ModeSingle }
func (SingleQuoteRequest) isRequest() {}

// DoubleQuoteRequest prices an amount through two feeds quoted in a common
// unit. DecimalsScale is applied between the two prices.
type DoubleQuoteRequest struct {
	Oracle1       common.Address
	Oracle2       common.Address
	DecimalsScale int64
	Spread        *big.Int
}

func (DoubleQuoteRequest) Mode() Mode { return ModeDouble }
func (DoubleQuoteRequest) isRequest() {}

// DecodeRequest parses the binary request layout:
//
//	single: flags(1) | oracle(20) | spread(32)
//	double: flags(1)=0x40 | oracle1(20) | oracle2(20) | decimalsScale(32, signed) | spread(32)
//
// Reserved flag bits and the inverse bit in double mode are rejected.
func DecodeRequest(data []byte) (Request, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformedRequest)
	}

	flags := data[0]
	if flags&flagsReserved != 0 {
		return nil, fmt.Errorf("%w: reserved flag bits set (0x%02x)", ErrMalformedRequest, flags)
	}

	if flags&FlagDoublePrice == 0 {
		if len(data) != SingleRequestSize {
			return nil, fmt.Errorf("%w: single request is %d bytes, want %d",
				ErrMalformedRequest, len(data), SingleRequestSize)
		}
		return SingleQuoteRequest{
			Oracle:  common.BytesToAddress(data[1:21]),
			Spread:  new(big.Int).SetBytes(data[21:53]),
			Inverse: flags&FlagInverse != 0,
		}, nil
	}

	if flags&FlagInverse != 0 {
		return nil, fmt.Errorf("%w: inverse flag not supported in double mode", ErrMalformedRequest)
	}
	if len(data) != DoubleRequestSize {
		return nil, fmt.Errorf("%w: double request is %d bytes, want %d",
			ErrMalformedRequest, len(data), DoubleRequestSize)
	}

	scale := gethmath.S256(new(big.Int).SetBytes(data[41:73]))
	if !scale.IsInt64() || scale.Int64() > fpmath.MaxPow10Exponent || scale.Int64() < -fpmath.MaxPow10Exponent {
		return nil, fmt.Errorf("%w: decimals scale %s out of range", ErrMalformedRequest, scale)
	}

	return DoubleQuoteRequest{
		Oracle1:       common.BytesToAddress(data[1:21]),
		Oracle2:       common.BytesToAddress(data[21:41]),
		DecimalsScale: scale.Int64(),
		Spread:        new(big.Int).SetBytes(data[73:105]),
	}, nil
}

// EncodeRequest is the inverse of DecodeRequest.
func EncodeRequest(req Request) ([]byte, error) {
	switch r := req.(type) {
	case SingleQuoteRequest:
		if !fpmath.FitsUint256(r.Spread) {
			return nil, fmt.Errorf("%w: spread out of range", ErrMalformedRequest)
		}
		var flags byte
		if r.Inverse {
			flags |= FlagInverse
		}
		out := make([]byte, 0, SingleRequestSize)
		out = append(out, flags)
		out = append(out, r.Oracle.Bytes()...)
		out = append(out, gethmath.U256Bytes(new(big.Int).Set(r.Spread))...)
		return out, nil

	case DoubleQuoteRequest:
		if !fpmath.FitsUint256(r.Spread) {
			return nil, fmt.Errorf("%w: spread out of range", ErrMalformedRequest)
		}
		if r.DecimalsScale > fpmath.MaxPow10Exponent || r.DecimalsScale < -fpmath.MaxPow10Exponent {
			return nil, fmt.Errorf("%w: decimals scale %d out of range", ErrMalformedRequest, r.DecimalsScale)
		}
		out := make([]byte, 0, DoubleRequestSize)
		out = append(out, FlagDoublePrice)
		out = append(out, r.Oracle1.Bytes()...)
		out = append(out, r.Oracle2.Bytes()...)
		out = append(out, gethmath.U256Bytes(big.NewInt(r.DecimalsScale))...)
		out = append(out, gethmath.U256Bytes(new(big.Int).Set(r.Spread))...)
		return out, nil
	}

	return nil, fmt.Errorf("%w: unknown request type %T", ErrMalformedRequest, req)
}
