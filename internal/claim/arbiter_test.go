package claim_test

import (
	"EscrowLedger/internal/claim"
	"EscrowLedger/internal/ledger"
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
)

var (
	token = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")
	t0    = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

type fixture struct {
	ledger  *ledger.Ledger
	arbiter *claim.Arbiter
	key     *ecdsa.PrivateKey
	sponsor common.Address
	lockID  ledger.LockID
}

func newFixture(t *testing.T, guard *claim.ReplayGuard) *fixture {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	sponsor := crypto.PubkeyToAddress(key.PublicKey)

	custodian := ledger.NewMemoryCustodian()
	custodian.Credit(sponsor, token, big.NewInt(1000))
	l := ledger.NewLedger(ledger.NewMemoryStore(), custodian, nil, nil, zerolog.Nop())
	id, err := l.Lock(context.Background(), sponsor, token, big.NewInt(1000))
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}

	a := claim.NewArbiter(l, claim.ECDSAVerifier{}, guard, nil, zerolog.Nop())
	a.SetNowFunc(func() time.Time { return t0 })
	return &fixture{ledger: l, arbiter: a, key: key, sponsor: sponsor, lockID: id}
}

func (f *fixture) claim(t *testing.T, seed byte, amount int64, expires time.Time) *claim.Claim {
	t.Helper()
	c := &claim.Claim{
		ClaimHash: common.BytesToHash([]byte{seed}),
		Sponsor:   f.sponsor,
		Nonce:     big.NewInt(int64(seed)),
		ExpiresAt: expires,
		LockID:    f.lockID,
		Amount:    big.NewInt(amount),
	}
	if err := claim.SignClaim(c, f.key); err != nil {
		t.Fatalf("SignClaim: %v", err)
	}
	return c
}

func (f *fixture) allocated(t *testing.T) int64 {
	t.Helper()
	lock, err := f.ledger.GetLock(context.Background(), f.lockID)
	if err != nil {
		t.Fatalf("GetLock: %v", err)
	}
	return lock.Allocated.Int64()
}

// ============================================================================
// Process
// ============================================================================

func TestArbiter_ProcessAllocates(t *testing.T) {
	f := newFixture(t, nil)
	c := f.claim(t, 1, 400, t0.Add(time.Hour))

	if err := f.arbiter.Process(context.Background(), c); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if got := f.allocated(t); got != 400 {
		t.Errorf("allocated: got %d, want 400", got)
	}
}

func TestArbiter_ExpiredClaimLeavesLedgerUntouched(t *testing.T) {
	f := newFixture(t, nil)
	c := f.claim(t, 1, 400, t0.Add(-time.Second))

	err := f.arbiter.Process(context.Background(), c)
	if !errors.Is(err, claim.ErrClaimExpired) {
		t.Fatalf("expected ErrClaimExpired, got %v", err)
	}
	if got := f.allocated(t); got != 0 {
		t.Errorf("allocated: got %d, want 0", got)
	}
}

func TestArbiter_ExpiryBoundaryIsInclusive(t *testing.T) {
	f := newFixture(t, nil)
	c := f.claim(t, 1, 10, t0)

	if err := f.arbiter.Process(context.Background(), c); err != nil {
		t.Fatalf("claim expiring exactly now should pass: %v", err)
	}
}

func TestArbiter_WrongSignerRejected(t *testing.T) {
	f := newFixture(t, nil)
	c := f.claim(t, 1, 400, t0.Add(time.Hour))

	intruder, _ := crypto.GenerateKey()
	if err := claim.SignClaim(c, intruder); err != nil {
		t.Fatalf("SignClaim: %v", err)
	}

	err := f.arbiter.Process(context.Background(), c)
	if !errors.Is(err, claim.ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
	if got := f.allocated(t); got != 0 {
		t.Errorf("allocated: got %d, want 0", got)
	}
}

func TestArbiter_TamperedFieldInvalidatesSignature(t *testing.T) {
	f := newFixture(t, nil)
	c := f.claim(t, 1, 400, t0.Add(time.Hour))
	c.Amount = big.NewInt(900)

	if err := f.arbiter.Process(context.Background(), c); !errors.Is(err, claim.ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestArbiter_LedgerErrorsCollapsed(t *testing.T) {
	f := newFixture(t, nil)

	over := f.claim(t, 1, 1500, t0.Add(time.Hour))
	err := f.arbiter.Process(context.Background(), over)
	if !errors.Is(err, claim.ErrClaimProcessingFailed) {
		t.Fatalf("expected ErrClaimProcessingFailed, got %v", err)
	}
	if errors.Is(err, ledger.ErrInsufficientLockedBalance) {
		t.Error("ledger error should not leak through the claim boundary")
	}

	missing := f.claim(t, 2, 10, t0.Add(time.Hour))
	missing.LockID = 999
	if err := claim.SignClaim(missing, f.key); err != nil {
		t.Fatalf("SignClaim: %v", err)
	}
	if err := f.arbiter.Process(context.Background(), missing); !errors.Is(err, claim.ErrClaimProcessingFailed) {
		t.Fatalf("expected ErrClaimProcessingFailed for unknown lock, got %v", err)
	}
}

func TestArbiter_MalformedClaims(t *testing.T) {
	f := newFixture(t, nil)

	if err := f.arbiter.Process(context.Background(), nil); !errors.Is(err, claim.ErrMalformedClaim) {
		t.Errorf("nil claim: expected ErrMalformedClaim, got %v", err)
	}

	c := f.claim(t, 1, 10, t0.Add(time.Hour))
	c.Amount = big.NewInt(0)
	if err := f.arbiter.Process(context.Background(), c); !errors.Is(err, claim.ErrMalformedClaim) {
		t.Errorf("zero amount: expected ErrMalformedClaim, got %v", err)
	}
}

// ============================================================================
// Verify
// ============================================================================

func TestArbiter_VerifyIsReadOnlyAndStable(t *testing.T) {
	f := newFixture(t, nil)
	c := f.claim(t, 1, 400, t0.Add(time.Hour))

	first := f.arbiter.Verify(context.Background(), c)
	second := f.arbiter.Verify(context.Background(), c)
	if !first || !second {
		t.Fatalf("Verify: got %v then %v, want true twice", first, second)
	}
	if got := f.allocated(t); got != 0 {
		t.Errorf("Verify mutated the lock: allocated %d", got)
	}
}

func TestArbiter_VerifyRejects(t *testing.T) {
	f := newFixture(t, nil)

	if f.arbiter.Verify(context.Background(), f.claim(t, 1, 400, t0.Add(-time.Minute))) {
		t.Error("expired claim verified")
	}
	if f.arbiter.Verify(context.Background(), f.claim(t, 2, 1001, t0.Add(time.Hour))) {
		t.Error("claim exceeding available verified")
	}

	bad := f.claim(t, 3, 10, t0.Add(time.Hour))
	bad.Signature[5] ^= 0xff
	if f.arbiter.Verify(context.Background(), bad) {
		t.Error("corrupted signature verified")
	}
}

func TestArbiter_VerifyTracksAvailableBalance(t *testing.T) {
	f := newFixture(t, nil)
	if err := f.arbiter.Process(context.Background(), f.claim(t, 1, 700, t0.Add(time.Hour))); err != nil {
		t.Fatalf("Process: %v", err)
	}

	if !f.arbiter.Verify(context.Background(), f.claim(t, 2, 300, t0.Add(time.Hour))) {
		t.Error("claim for exactly the remaining balance should verify")
	}
	if f.arbiter.Verify(context.Background(), f.claim(t, 3, 301, t0.Add(time.Hour))) {
		t.Error("claim over the remaining balance verified")
	}
}

// ============================================================================
// Pluggable verifier
// ============================================================================

type stubVerifier struct {
	ok    bool
	calls int
}

func (s *stubVerifier) Verify(message, signature []byte, signer common.Address) bool {
	s.calls++
	return s.ok
}

func TestArbiter_UsesInjectedVerifier(t *testing.T) {
	f := newFixture(t, nil)
	stub := &stubVerifier{ok: true}
	a := claim.NewArbiter(f.ledger, stub, nil, nil, zerolog.Nop())
	a.SetNowFunc(func() time.Time { return t0 })

	c := f.claim(t, 1, 50, t0.Add(time.Hour))
	c.Signature = nil
	if err := a.Process(context.Background(), c); err != nil {
		t.Fatalf("Process with permissive verifier: %v", err)
	}
	if stub.calls != 1 {
		t.Errorf("verifier calls: got %d, want 1", stub.calls)
	}

	stub.ok = false
	if err := a.Process(context.Background(), f.claim(t, 2, 50, t0.Add(time.Hour))); !errors.Is(err, claim.ErrInvalidSignature) {
		t.Errorf("expected ErrInvalidSignature, got %v", err)
	}
}

// ============================================================================
// Replay protection
// ============================================================================

func TestArbiter_ReplayRejected(t *testing.T) {
	f := newFixture(t, claim.NewReplayGuard(16, nil, nil))
	c := f.claim(t, 1, 100, t0.Add(time.Hour))

	if err := f.arbiter.Process(context.Background(), c); err != nil {
		t.Fatalf("first Process: %v", err)
	}
	if err := f.arbiter.Process(context.Background(), c); !errors.Is(err, claim.ErrClaimReplayed) {
		t.Fatalf("expected ErrClaimReplayed, got %v", err)
	}
	if got := f.allocated(t); got != 100 {
		t.Errorf("allocated: got %d, want 100", got)
	}
	if f.arbiter.Verify(context.Background(), c) {
		t.Error("processed claim should no longer verify")
	}
}

func TestArbiter_FailedClaimCanBeResubmitted(t *testing.T) {
	f := newFixture(t, claim.NewReplayGuard(16, nil, nil))
	c := f.claim(t, 1, 1500, t0.Add(time.Hour))

	if err := f.arbiter.Process(context.Background(), c); !errors.Is(err, claim.ErrClaimProcessingFailed) {
		t.Fatalf("expected ErrClaimProcessingFailed, got %v", err)
	}
	// Still a ledger failure, not a replay
	if err := f.arbiter.Process(context.Background(), c); !errors.Is(err, claim.ErrClaimProcessingFailed) {
		t.Fatalf("expected ErrClaimProcessingFailed on resubmit, got %v", err)
	}
}

type failingStore struct{}

func (failingStore) IsProcessed(ctx context.Context, h common.Hash) (bool, error) {
	return false, errors.New("db down")
}

func (failingStore) MarkProcessed(ctx context.Context, c *claim.Claim) error {
	return errors.New("db down")
}

func TestArbiter_ReplayLookupFailureFailsClosed(t *testing.T) {
	f := newFixture(t, claim.NewReplayGuard(16, failingStore{}, nil))
	c := f.claim(t, 1, 100, t0.Add(time.Hour))

	if err := f.arbiter.Process(context.Background(), c); !errors.Is(err, claim.ErrClaimProcessingFailed) {
		t.Fatalf("expected ErrClaimProcessingFailed, got %v", err)
	}
	if got := f.allocated(t); got != 0 {
		t.Errorf("allocated: got %d, want 0", got)
	}
}

func TestArbiter_ConcurrentDuplicatesAllocateOnce(t *testing.T) {
	f := newFixture(t, claim.NewReplayGuard(16, nil, nil))
	c := f.claim(t, 1, 10, t0.Add(time.Hour))

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := f.arbiter.Process(context.Background(), c); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if ok != 1 {
		t.Errorf("successful duplicates: got %d, want 1", ok)
	}
	if got := f.allocated(t); got != 10 {
		t.Errorf("allocated: got %d, want 10", got)
	}
}
