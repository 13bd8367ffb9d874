// Package math holds the fixed-point big-integer helpers used by the amount
// calculator and the ledger. All helpers multiply before they divide.
package math

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
)

// SpreadDecimals is the number of fractional digits of a spread.
const SpreadDecimals = 9

// MaxPow10Exponent is the largest exponent Pow10 serves. 10^77 is the largest
// power of ten that fits in 256 bits.
const MaxPow10Exponent = 77

// ErrDivisionByZero is returned when a denominator is zero.
var ErrDivisionByZero = errors.New("fixedpoint: division by zero")

// SpreadDenominator is 1.0 expressed as a spread (1e9).
var SpreadDenominator = big.NewInt(1_000_000_000)

type RoundingMode int

const (
	RoundDown     RoundingMode = iota // Truncate toward zero (default)
	RoundHalfEven                     // Banker's rounding
	RoundUp
)

var pow10Table = func() [MaxPow10Exponent + 1]*big.Int {
	var table [MaxPow10Exponent + 1]*big.Int
	ten := big.NewInt(10)
	table[0] = big.NewInt(1)
	for i := 1; i <= MaxPow10Exponent; i++ {
		table[i] = new(big.Int).Mul(table[i-1], ten)
	}
	return table
}()

// Scratch big.Ints for remainders
var bigPool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getBig() *big.Int {
	return bigPool.Get().(*big.Int)
}

func putBig(v *big.Int) {
	v.SetInt64(0) // Clear before returning to pool
	bigPool.Put(v)
}

// Pow10 returns a fresh copy of 10^n. It panics when n is outside
// [0, MaxPow10Exponent]; callers validate exponents at decode time.
func Pow10(n int) *big.Int {
	if n < 0 || n > MaxPow10Exponent {
		panic(fmt.Sprintf("fixedpoint: pow10 exponent %d out of range", n))
	}
	return new(big.Int).Set(pow10Table[n])
}

// Mul returns the product of all factors as a new big.Int.
func Mul(factors ...*big.Int) *big.Int {
	result := big.NewInt(1)
	for _, f := range factors {
		result.Mul(result, f)
	}
	return result
}

// Div returns numerator / denominator rounded with mode. Operands are
// expected to be non-negative.
func Div(numerator, denominator *big.Int, mode RoundingMode) (*big.Int, error) {
	if denominator.Sign() == 0 {
		return nil, ErrDivisionByZero
	}

	quotient := new(big.Int)
	remainder := getBig()
	defer putBig(remainder)

	quotient.QuoRem(numerator, denominator, remainder)
	if remainder.Sign() == 0 {
		return quotient, nil
	}

	switch mode {
	case RoundUp:
		quotient.Add(quotient, big.NewInt(1))
	case RoundHalfEven:
		// Compare 2*remainder against the denominator
		twice := remainder.Lsh(remainder, 1)
		cmp := twice.CmpAbs(denominator)
		if cmp > 0 || (cmp == 0 && quotient.Bit(0) == 1) {
			quotient.Add(quotient, big.NewInt(1))
		}
	}

	return quotient, nil
}

// MulDiv computes a * b / denominator without intermediate truncation.
func MulDiv(a, b, denominator *big.Int, mode RoundingMode) (*big.Int, error) {
	return Div(Mul(a, b), denominator, mode)
}

// Clone copies v, mapping nil to zero.
func Clone(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

// IsPositive reports whether v is non-nil and > 0.
func IsPositive(v *big.Int) bool {
	return v != nil && v.Sign() > 0
}

// FitsUint256 reports whether v is in [0, 2^256).
func FitsUint256(v *big.Int) bool {
	return v != nil && v.Sign() >= 0 && v.BitLen() <= 256
}
