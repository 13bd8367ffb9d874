package claim_test

import (
	"EscrowLedger/internal/claim"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

func TestECDSAVerifier_AcceptsBothRecoveryEncodings(t *testing.T) {
	key, _ := crypto.GenerateKey()
	signer := crypto.PubkeyToAddress(key.PublicKey)
	msg := []byte("allocate 100")

	sig, err := claim.Sign(msg, key)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	v := claim.ECDSAVerifier{}
	if !v.Verify(msg, sig, signer) {
		t.Fatal("27/28 signature rejected")
	}

	raw := append([]byte(nil), sig...)
	raw[64] -= 27
	if !v.Verify(msg, raw, signer) {
		t.Fatal("0/1 signature rejected")
	}
}

func TestECDSAVerifier_Rejects(t *testing.T) {
	key, _ := crypto.GenerateKey()
	signer := crypto.PubkeyToAddress(key.PublicKey)
	msg := []byte("allocate 100")
	sig, _ := claim.Sign(msg, key)
	v := claim.ECDSAVerifier{}

	tests := []struct {
		name   string
		msg    []byte
		sig    []byte
		signer common.Address
	}{
		{"other signer", msg, sig, common.HexToAddress("0x1111111111111111111111111111111111111111")},
		{"other message", []byte("allocate 101"), sig, signer},
		{"short signature", msg, sig[:64], signer},
		{"bad recovery id", msg, append(append([]byte(nil), sig[:64]...), 5), signer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if v.Verify(tt.msg, tt.sig, tt.signer) {
				t.Error("expected rejection")
			}
		})
	}
}

func TestClaim_MessageHashCoversEveryField(t *testing.T) {
	base := claim.Claim{
		ClaimHash: common.HexToHash("0x01"),
		Sponsor:   common.HexToAddress("0x1111111111111111111111111111111111111111"),
		Nonce:     big.NewInt(1),
		ExpiresAt: time.Unix(1_700_000_000, 0),
		LockID:    1,
		Amount:    big.NewInt(100),
	}
	h0, err := base.MessageHash()
	if err != nil {
		t.Fatalf("MessageHash: %v", err)
	}

	mutations := map[string]func(c *claim.Claim){
		"claim hash": func(c *claim.Claim) { c.ClaimHash = common.HexToHash("0x02") },
		"sponsor":    func(c *claim.Claim) { c.Sponsor = common.HexToAddress("0x22") },
		"nonce":      func(c *claim.Claim) { c.Nonce = big.NewInt(2) },
		"expiry":     func(c *claim.Claim) { c.ExpiresAt = c.ExpiresAt.Add(time.Second) },
		"lock":       func(c *claim.Claim) { c.LockID = 2 },
		"amount":     func(c *claim.Claim) { c.Amount = big.NewInt(101) },
	}
	for name, mutate := range mutations {
		c := base
		mutate(&c)
		h, err := c.MessageHash()
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if h == h0 {
			t.Errorf("changing %s did not change the message hash", name)
		}
	}
}

func TestClaim_MessageHashRejectsOutOfRange(t *testing.T) {
	c := claim.Claim{Nonce: big.NewInt(-1), Amount: big.NewInt(1), ExpiresAt: time.Unix(0, 0)}
	if _, err := c.MessageHash(); err == nil {
		t.Error("negative nonce accepted")
	}
}
