// Package claim authorizes signed allocation requests against the ledger.
package claim

import (
	"EscrowLedger/internal/ledger"
	fpmath "EscrowLedger/internal/math"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethmath "github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
)

// Claim is a signed, time-bounded request to allocate Amount from LockID on
// behalf of Sponsor. It is consumed once by Arbiter.Process.
type Claim struct {
	ClaimHash common.Hash
	Sponsor   common.Address
	Nonce     *big.Int
	ExpiresAt time.Time
	LockID    ledger.LockID
	Amount    *big.Int
	Signature []byte
}

// MessageHash returns the digest the sponsor signs:
//
//	keccak256(claimHash | sponsor | nonce | expiresAt | lockId | amount)
//
// with every integer encoded as a 32-byte big-endian word.
func (c *Claim) MessageHash() (common.Hash, error) {
	if c == nil {
		return common.Hash{}, fmt.Errorf("%w: nil claim", ErrMalformedClaim)
	}
	if !fpmath.FitsUint256(c.Nonce) {
		return common.Hash{}, fmt.Errorf("%w: nonce out of range", ErrMalformedClaim)
	}
	if !fpmath.FitsUint256(c.Amount) {
		return common.Hash{}, fmt.Errorf("%w: amount out of range", ErrMalformedClaim)
	}
	expires := c.ExpiresAt.Unix()
	if expires < 0 {
		return common.Hash{}, fmt.Errorf("%w: expiry before epoch", ErrMalformedClaim)
	}

	packed := make([]byte, 0, 32+20+4*32)
	packed = append(packed, c.ClaimHash.Bytes()...)
	packed = append(packed, c.Sponsor.Bytes()...)
	packed = append(packed, gethmath.U256Bytes(new(big.Int).Set(c.Nonce))...)
	packed = append(packed, gethmath.U256Bytes(big.NewInt(expires))...)
	packed = append(packed, gethmath.U256Bytes(new(big.Int).SetUint64(uint64(c.LockID)))...)
	packed = append(packed, gethmath.U256Bytes(new(big.Int).Set(c.Amount))...)

	return crypto.Keccak256Hash(packed), nil
}
