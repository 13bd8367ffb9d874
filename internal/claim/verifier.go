package claim

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Verifier checks that signature over message was produced by signer.
type Verifier interface {
	Verify(message []byte, signature []byte, signer common.Address) bool
}

// ECDSAVerifier recovers a secp256k1 signer from a 65-byte [R || S || V]
// signature over the personal-message digest of message. V may be 0/1 or 27/28.
type ECDSAVerifier struct{}

func (ECDSAVerifier) Verify(message []byte, signature []byte, signer common.Address) bool {
	if len(signature) != crypto.SignatureLength {
		return false
	}
	sig := make([]byte, crypto.SignatureLength)
	copy(sig, signature)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	if sig[crypto.RecoveryIDOffset] > 1 {
		return false
	}

	pub, err := crypto.SigToPub(PersonalDigest(message), sig)
	if err != nil {
		return false
	}
	return crypto.PubkeyToAddress(*pub) == signer
}

// PersonalDigest prefixes message the way wallets do for personal_sign.
func PersonalDigest(message []byte) []byte {
	prefix := fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(message))
	return crypto.Keccak256([]byte(prefix), message)
}

// Sign produces a signature ECDSAVerifier accepts, with V in {27, 28}.
func Sign(message []byte, key *ecdsa.PrivateKey) ([]byte, error) {
	sig, err := crypto.Sign(PersonalDigest(message), key)
	if err != nil {
		return nil, err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// SignClaim fills c.Signature with the key's signature over c.MessageHash().
func SignClaim(c *Claim, key *ecdsa.PrivateKey) error {
	hash, err := c.MessageHash()
	if err != nil {
		return err
	}
	sig, err := Sign(hash.Bytes(), key)
	if err != nil {
		return err
	}
	c.Signature = sig
	return nil
}
