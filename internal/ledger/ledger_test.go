package ledger_test

import (
	"EscrowLedger/internal/ledger"
	"context"
	"errors"
	"math/big"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

var (
	owner = common.HexToAddress("0x1111111111111111111111111111111111111111")
	other = common.HexToAddress("0x2222222222222222222222222222222222222222")
	token = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")
	t0    = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

type fixture struct {
	ledger    *ledger.Ledger
	store     *ledger.MemoryStore
	custodian *ledger.MemoryCustodian
	sink      *recordingSink
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := ledger.NewMemoryStore()
	custodian := ledger.NewMemoryCustodian()
	sink := &recordingSink{}
	journal := ledger.NewJournal(1, ledger.GenesisHash(), sink)
	l := ledger.NewLedger(store, custodian, journal, nil, zerolog.Nop())
	l.SetNowFunc(func() time.Time { return t0 })
	return &fixture{ledger: l, store: store, custodian: custodian, sink: sink}
}

type recordingSink struct {
	mu     sync.Mutex
	events []ledger.Event
}

func (s *recordingSink) Emit(evt ledger.Event) {
	s.mu.Lock()
	s.events = append(s.events, evt)
	s.mu.Unlock()
}

func (s *recordingSink) all() []ledger.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ledger.Event(nil), s.events...)
}

func available(t *testing.T, f *fixture, who, asset common.Address) int64 {
	t.Helper()
	v, err := f.ledger.AvailableBalance(context.Background(), who, asset)
	if err != nil {
		t.Fatalf("AvailableBalance: %v", err)
	}
	return v.Int64()
}

func mustLock(t *testing.T, f *fixture, who common.Address, amount int64) ledger.LockID {
	t.Helper()
	f.custodian.Credit(who, token, big.NewInt(amount))
	id, err := f.ledger.Lock(context.Background(), who, token, big.NewInt(amount))
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	return id
}

// ============================================================================
// Lifecycle
// ============================================================================

func TestLedger_LockAllocateReleaseUnlock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id := mustLock(t, f, owner, 1000)
	if got := available(t, f, owner, token); got != 1000 {
		t.Fatalf("after lock: available=%d, want 1000", got)
	}
	if f.custodian.BalanceOf(owner, token).Sign() != 0 {
		t.Errorf("external balance should be debited")
	}
	if f.custodian.Held(token).Int64() != 1000 {
		t.Errorf("custody should hold 1000, got %s", f.custodian.Held(token))
	}

	if err := f.ledger.Allocate(ctx, id, big.NewInt(500)); err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if got := available(t, f, owner, token); got != 500 {
		t.Fatalf("after allocate: available=%d, want 500", got)
	}

	if err := f.ledger.Release(ctx, id, big.NewInt(500)); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if got := available(t, f, owner, token); got != 1000 {
		t.Fatalf("after release: available=%d, want 1000", got)
	}

	if err := f.ledger.Unlock(ctx, id); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	if got := f.custodian.BalanceOf(owner, token).Int64(); got != 1000 {
		t.Errorf("external balance after unlock: got %d, want 1000", got)
	}
	if got := available(t, f, owner, token); got != 0 {
		t.Errorf("available after unlock: got %d, want 0", got)
	}

	lock, err := f.ledger.GetLock(ctx, id)
	if err != nil {
		t.Fatalf("GetLock: %v", err)
	}
	if lock.Active {
		t.Error("lock should be inactive after unlock")
	}
	if lock.Total.Int64() != 1000 {
		t.Errorf("total must be immutable, got %s", lock.Total)
	}
}

func TestLedger_AllocateBeyondTotal(t *testing.T) {
	f := newFixture(t)
	id := mustLock(t, f, owner, 1000)

	err := f.ledger.Allocate(context.Background(), id, big.NewInt(1500))

	var insufficient *ledger.InsufficientBalanceError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientBalanceError, got %v", err)
	}
	if !errors.Is(err, ledger.ErrInsufficientLockedBalance) {
		t.Error("error should match ErrInsufficientLockedBalance")
	}
	if insufficient.Requested.Int64() != 1500 || insufficient.Available.Int64() != 1000 {
		t.Errorf("got requested=%s available=%s, want 1500/1000", insufficient.Requested, insufficient.Available)
	}

	lock, _ := f.ledger.GetLock(context.Background(), id)
	if lock.Allocated.Sign() != 0 {
		t.Errorf("allocation must be unchanged, got %s", lock.Allocated)
	}
	if len(f.sink.all()) != 1 {
		t.Errorf("rejected operation must not be journaled")
	}
}

func TestLedger_AllocateReportsActualAvailable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := mustLock(t, f, owner, 1000)

	if err := f.ledger.Allocate(ctx, id, big.NewInt(700)); err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	var insufficient *ledger.InsufficientBalanceError
	if err := f.ledger.Allocate(ctx, id, big.NewInt(400)); !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientBalanceError, got %v", err)
	}
	if insufficient.Available.Int64() != 300 {
		t.Errorf("available: got %s, want 300", insufficient.Available)
	}

	// Retrying with the reported amount succeeds
	if err := f.ledger.Allocate(ctx, id, insufficient.Available); err != nil {
		t.Errorf("retry with available amount: %v", err)
	}
}

func TestLedger_AllocateReleaseRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := mustLock(t, f, owner, 1000)
	if err := f.ledger.Allocate(ctx, id, big.NewInt(123)); err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	for _, x := range []int64{1, 77, 877} {
		before := available(t, f, owner, token)
		if err := f.ledger.Allocate(ctx, id, big.NewInt(x)); err != nil {
			t.Fatalf("Allocate(%d): %v", x, err)
		}
		if err := f.ledger.Release(ctx, id, big.NewInt(x)); err != nil {
			t.Fatalf("Release(%d): %v", x, err)
		}
		if after := available(t, f, owner, token); after != before {
			t.Errorf("x=%d: available %d -> %d", x, before, after)
		}
	}
}

func TestLedger_OverRelease(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := mustLock(t, f, owner, 1000)
	if err := f.ledger.Allocate(ctx, id, big.NewInt(200)); err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	var insufficient *ledger.InsufficientBalanceError
	err := f.ledger.Release(ctx, id, big.NewInt(201))
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientBalanceError, got %v", err)
	}
	if insufficient.Available.Int64() != 200 {
		t.Errorf("available: got %s, want 200", insufficient.Available)
	}
}

func TestLedger_UnlockWithAllocationFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := mustLock(t, f, owner, 1000)
	if err := f.ledger.Allocate(ctx, id, big.NewInt(1)); err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	err := f.ledger.Unlock(ctx, id)
	if !errors.Is(err, ledger.ErrInsufficientLockedBalance) {
		t.Fatalf("expected ErrInsufficientLockedBalance, got %v", err)
	}

	lock, _ := f.ledger.GetLock(ctx, id)
	if !lock.Active {
		t.Error("lock must stay active while funds are committed")
	}
	if f.custodian.BalanceOf(owner, token).Sign() != 0 {
		t.Error("no funds may leave custody")
	}
}

// ============================================================================
// Input validation
// ============================================================================

func TestLedger_LockValidation(t *testing.T) {
	tests := []struct {
		name   string
		owner  common.Address
		asset  common.Address
		amount *big.Int
		want   error
	}{
		{"nil_amount", owner, token, nil, ledger.ErrInvalidAmount},
		{"zero_amount", owner, token, big.NewInt(0), ledger.ErrInvalidAmount},
		{"negative_amount", owner, token, big.NewInt(-1), ledger.ErrInvalidAmount},
		{"oversized_amount", owner, token, new(big.Int).Lsh(big.NewInt(1), 256), ledger.ErrInvalidAmount},
		{"zero_asset", owner, common.Address{}, big.NewInt(1), ledger.ErrInvalidAsset},
		{"zero_owner", common.Address{}, token, big.NewInt(1), ledger.ErrInvalidOwner},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.custodian.Credit(owner, token, big.NewInt(10))

			_, err := f.ledger.Lock(context.Background(), tt.owner, tt.asset, tt.amount)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if f.store.Len() != 0 {
				t.Error("no lock may be created on failure")
			}
			if f.custodian.BalanceOf(owner, token).Int64() != 10 {
				t.Error("external balance must be untouched")
			}
		})
	}
}

func TestLedger_AllocateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := mustLock(t, f, owner, 100)

	for _, amount := range []*big.Int{nil, big.NewInt(0), big.NewInt(-3)} {
		if err := f.ledger.Allocate(ctx, id, amount); !errors.Is(err, ledger.ErrInvalidAmount) {
			t.Errorf("Allocate(%v): expected ErrInvalidAmount, got %v", amount, err)
		}
		if err := f.ledger.Release(ctx, id, amount); !errors.Is(err, ledger.ErrInvalidAmount) {
			t.Errorf("Release(%v): expected ErrInvalidAmount, got %v", amount, err)
		}
	}
}

func TestLedger_UnknownAndDestroyedLocks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.ledger.Allocate(ctx, 42, big.NewInt(1)); !errors.Is(err, ledger.ErrLockNotFound) {
		t.Errorf("unknown lock: expected ErrLockNotFound, got %v", err)
	}

	id := mustLock(t, f, owner, 100)
	if err := f.ledger.Unlock(ctx, id); err != nil {
		t.Fatalf("Unlock: %v", err)
	}

	if err := f.ledger.Allocate(ctx, id, big.NewInt(1)); !errors.Is(err, ledger.ErrLockNotFound) {
		t.Errorf("destroyed lock allocate: expected ErrLockNotFound, got %v", err)
	}
	if err := f.ledger.Release(ctx, id, big.NewInt(1)); !errors.Is(err, ledger.ErrLockNotFound) {
		t.Errorf("destroyed lock release: expected ErrLockNotFound, got %v", err)
	}
	if err := f.ledger.Unlock(ctx, id); !errors.Is(err, ledger.ErrLockNotFound) {
		t.Errorf("double unlock: expected ErrLockNotFound, got %v", err)
	}
	if got := f.custodian.BalanceOf(owner, token).Int64(); got != 100 {
		t.Errorf("double unlock must not pay out twice: balance=%d", got)
	}
}

// ============================================================================
// One active lock per (owner, asset)
// ============================================================================

func TestLedger_SecondLockOnPairRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := mustLock(t, f, owner, 100)

	f.custodian.Credit(owner, token, big.NewInt(50))
	_, err := f.ledger.Lock(ctx, owner, token, big.NewInt(50))
	if !errors.Is(err, ledger.ErrLockExists) {
		t.Fatalf("expected ErrLockExists, got %v", err)
	}
	if f.custodian.BalanceOf(owner, token).Int64() != 50 {
		t.Error("rejected lock must not move funds")
	}

	// Other owners are independent
	otherID := mustLock(t, f, other, 10)

	if err := f.ledger.Unlock(ctx, first); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	second, err := f.ledger.Lock(ctx, owner, token, big.NewInt(50))
	if err != nil {
		t.Fatalf("Lock after unlock: %v", err)
	}
	if second <= otherID || second <= first {
		t.Errorf("ids must increase: first=%d other=%d second=%d", first, otherID, second)
	}
	if got := available(t, f, owner, token); got != 50 {
		t.Errorf("available: got %d, want 50", got)
	}
}

// ============================================================================
// Atomicity
// ============================================================================

func TestLedger_LockTransferFailureLeavesNoState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ledger.Lock(ctx, owner, token, big.NewInt(10))
	if !errors.Is(err, ledger.ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}
	if f.store.Len() != 0 {
		t.Error("failed lock must not persist a record")
	}
	if got := available(t, f, owner, token); got != 0 {
		t.Errorf("available: got %d, want 0", got)
	}

	// The rolled back id is not observable: the next lock is the first one
	id := mustLock(t, f, owner, 10)
	if id != 1 {
		t.Errorf("first committed lock id: got %d, want 1", id)
	}
}

type failingOutCustodian struct {
	*ledger.MemoryCustodian
}

func (c failingOutCustodian) TransferOut(ctx context.Context, to, asset common.Address, amount *big.Int) error {
	return errors.New("token contract reverted")
}

func TestLedger_UnlockTransferFailureRollsBack(t *testing.T) {
	store := ledger.NewMemoryStore()
	custodian := ledger.NewMemoryCustodian()
	l := ledger.NewLedger(store, failingOutCustodian{custodian}, nil, nil, zerolog.Nop())
	ctx := context.Background()

	custodian.Credit(owner, token, big.NewInt(100))
	id, err := l.Lock(ctx, owner, token, big.NewInt(100))
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}

	if err := l.Unlock(ctx, id); !errors.Is(err, ledger.ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}

	lock, _ := l.GetLock(ctx, id)
	if !lock.Active {
		t.Error("lock must remain active after failed unlock")
	}
	bal, _ := l.AvailableBalance(ctx, owner, token)
	if bal.Int64() != 100 {
		t.Errorf("index must still resolve the lock, available=%s", bal)
	}
}

// commitFailStore runs fn against a MemoryStore and then refuses to commit.
type commitFailStore struct {
	*ledger.MemoryStore
}

func (s commitFailStore) Update(ctx context.Context, fn func(tx ledger.Tx) error) error {
	return s.MemoryStore.Update(ctx, func(tx ledger.Tx) error {
		if err := fn(tx); err != nil {
			return err
		}
		return errors.New("commit: connection reset")
	})
}

func TestLedger_CommitFailureReversesCustody(t *testing.T) {
	custodian := ledger.NewMemoryCustodian()
	l := ledger.NewLedger(commitFailStore{ledger.NewMemoryStore()}, custodian, nil, nil, zerolog.Nop())

	custodian.Credit(owner, token, big.NewInt(100))
	if _, err := l.Lock(context.Background(), owner, token, big.NewInt(100)); err == nil {
		t.Fatal("expected commit failure")
	}
	if got := custodian.BalanceOf(owner, token).Int64(); got != 100 {
		t.Errorf("external balance must be restored, got %d", got)
	}
	if custodian.Held(token).Sign() != 0 {
		t.Errorf("custody must be empty, got %s", custodian.Held(token))
	}
}

// ============================================================================
// Invariants & concurrency
// ============================================================================

func TestLedger_InvariantHoldsUnderRandomOperations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := mustLock(t, f, owner, 1_000)
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 2_000; i++ {
		amount := big.NewInt(rng.Int63n(400) + 1)
		if rng.Intn(2) == 0 {
			_ = f.ledger.Allocate(ctx, id, amount)
		} else {
			_ = f.ledger.Release(ctx, id, amount)
		}

		lock, err := f.ledger.GetLock(ctx, id)
		if err != nil {
			t.Fatalf("GetLock: %v", err)
		}
		if err := lock.Validate(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}
}

func TestLedger_ConcurrentAllocations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := mustLock(t, f, owner, 300)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := f.ledger.Allocate(ctx, id, big.NewInt(10)); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if succeeded != 30 {
		t.Errorf("succeeded: got %d, want 30", succeeded)
	}
	lock, _ := f.ledger.GetLock(ctx, id)
	if lock.Allocated.Int64() != 300 {
		t.Errorf("allocated: got %s, want 300", lock.Allocated)
	}
}

// ============================================================================
// Journal
// ============================================================================

func TestLedger_JournalChainsCommittedOperations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := mustLock(t, f, owner, 100)
	_ = f.ledger.Allocate(ctx, id, big.NewInt(40))
	_ = f.ledger.Allocate(ctx, id, big.NewInt(1000)) // rejected
	_ = f.ledger.Release(ctx, id, big.NewInt(40))
	_ = f.ledger.Unlock(ctx, id)

	events := f.sink.all()
	wantTypes := []ledger.EventType{ledger.EventLocked, ledger.EventAllocated, ledger.EventReleased, ledger.EventUnlocked}
	if len(events) != len(wantTypes) {
		t.Fatalf("events: got %d, want %d", len(events), len(wantTypes))
	}

	prev := ledger.GenesisHash()
	for i, evt := range events {
		if evt.Type != wantTypes[i] {
			t.Errorf("event %d: type %s, want %s", i, evt.Type, wantTypes[i])
		}
		if evt.Sequence != int64(i+1) {
			t.Errorf("event %d: sequence %d, want %d", i, evt.Sequence, i+1)
		}
		if evt.PrevHash != prev {
			t.Errorf("event %d: broken chain", i)
		}
		if ledger.ChainHash(evt.PrevHash, evt) != evt.Hash {
			t.Errorf("event %d: hash does not verify", i)
		}
		prev = evt.Hash
	}

	if events[1].Allocated.Int64() != 40 || events[2].Allocated.Sign() != 0 {
		t.Errorf("events must carry post-operation allocation")
	}

	next, tip := f.ledger.Journal().Tip()
	if next != 5 || tip != prev {
		t.Errorf("tip: got seq=%d, want 5", next)
	}
}

// journalStore is a MemoryStore whose transactions carry the journal tip
// and collect appended events, the way a database-backed store does.
type journalStore struct {
	*ledger.MemoryStore
	next      int64
	prev      [32]byte
	appended  []ledger.Event
	appendErr error
}

type journalTx struct {
	ledger.Tx
	s *journalStore
}

func (t journalTx) JournalTip() (int64, [32]byte, error) {
	return t.s.next, t.s.prev, nil
}

func (t journalTx) AppendEvent(evt ledger.Event) error {
	if t.s.appendErr != nil {
		return t.s.appendErr
	}
	t.s.appended = append(t.s.appended, evt)
	t.s.next, t.s.prev = evt.Sequence+1, evt.Hash
	return nil
}

func (s *journalStore) Update(ctx context.Context, fn func(tx ledger.Tx) error) error {
	return s.MemoryStore.Update(ctx, func(tx ledger.Tx) error {
		return fn(journalTx{Tx: tx, s: s})
	})
}

func TestLedger_DurableJournalChainsFromStoredTip(t *testing.T) {
	store := &journalStore{MemoryStore: ledger.NewMemoryStore(), next: 10, prev: ledger.GenesisHash()}
	custodian := ledger.NewMemoryCustodian()
	sink := &recordingSink{}
	l := ledger.NewLedger(store, custodian, ledger.NewJournal(1, ledger.GenesisHash(), sink), nil, zerolog.Nop())
	ctx := context.Background()

	custodian.Credit(owner, token, big.NewInt(100))
	id, err := l.Lock(ctx, owner, token, big.NewInt(100))
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if err := l.Allocate(ctx, id, big.NewInt(30)); err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	if len(store.appended) != 2 {
		t.Fatalf("appended: got %d events, want 2", len(store.appended))
	}
	if store.appended[0].Sequence != 10 || store.appended[1].Sequence != 11 {
		t.Errorf("sequences: got %d, %d, want 10, 11", store.appended[0].Sequence, store.appended[1].Sequence)
	}
	if store.appended[1].PrevHash != store.appended[0].Hash {
		t.Error("appended events must chain")
	}

	emitted := sink.all()
	if len(emitted) != 2 || emitted[1].Hash != store.appended[1].Hash {
		t.Error("sink must receive the events that were appended")
	}
	next, tip := l.Journal().Tip()
	if next != 12 || tip != store.appended[1].Hash {
		t.Errorf("tip: got seq=%d, want 12", next)
	}
}

func TestLedger_DurableJournalAppendFailureRollsBack(t *testing.T) {
	store := &journalStore{
		MemoryStore: ledger.NewMemoryStore(),
		next:        1,
		prev:        ledger.GenesisHash(),
		appendErr:   errors.New("duplicate sequence"),
	}
	custodian := ledger.NewMemoryCustodian()
	sink := &recordingSink{}
	l := ledger.NewLedger(store, custodian, ledger.NewJournal(1, ledger.GenesisHash(), sink), nil, zerolog.Nop())

	custodian.Credit(owner, token, big.NewInt(100))
	if _, err := l.Lock(context.Background(), owner, token, big.NewInt(100)); err == nil {
		t.Fatal("expected append failure")
	}
	if store.Len() != 0 {
		t.Error("lock must not persist without its event")
	}
	if got := custodian.BalanceOf(owner, token).Int64(); got != 100 {
		t.Errorf("external balance must be restored, got %d", got)
	}
	if len(sink.all()) != 0 {
		t.Error("nothing may be emitted for a rolled back operation")
	}
}

// ============================================================================
// Funding
// ============================================================================

func TestLedger_DepositLockUnlockWithdraw(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.ledger.Deposit(ctx, owner, token, big.NewInt(500)); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	id, err := f.ledger.Lock(ctx, owner, token, big.NewInt(300))
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}

	bal, err := f.ledger.ExternalBalance(ctx, owner, token)
	if err != nil || bal.Int64() != 200 {
		t.Fatalf("external balance after lock: got %v, %v, want 200", bal, err)
	}

	if err := f.ledger.Withdraw(ctx, owner, token, big.NewInt(250)); !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Errorf("escrowed funds must not be withdrawable, got %v", err)
	}

	if err := f.ledger.Unlock(ctx, id); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	if err := f.ledger.Withdraw(ctx, owner, token, big.NewInt(500)); err != nil {
		t.Fatalf("Withdraw: %v", err)
	}
	bal, _ = f.ledger.ExternalBalance(ctx, owner, token)
	if bal.Sign() != 0 {
		t.Errorf("external balance: got %s, want 0", bal)
	}
}

func TestLedger_LockWithoutFundsReportsCause(t *testing.T) {
	f := newFixture(t)

	_, err := f.ledger.Lock(context.Background(), owner, token, big.NewInt(1))
	if !errors.Is(err, ledger.ErrTransferFailed) || !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("expected ErrTransferFailed wrapping ErrInsufficientFunds, got %v", err)
	}
}

func TestLedger_FundingValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.ledger.Deposit(ctx, owner, token, big.NewInt(0)); !errors.Is(err, ledger.ErrInvalidAmount) {
		t.Errorf("zero deposit: got %v", err)
	}
	if err := f.ledger.Deposit(ctx, owner, common.Address{}, big.NewInt(1)); !errors.Is(err, ledger.ErrInvalidAsset) {
		t.Errorf("zero asset: got %v", err)
	}
	if err := f.ledger.Withdraw(ctx, common.Address{}, token, big.NewInt(1)); !errors.Is(err, ledger.ErrInvalidOwner) {
		t.Errorf("zero owner: got %v", err)
	}
}

// opaqueCustodian hides the funding methods of the custodian it wraps.
type opaqueCustodian struct {
	ledger.Custodian
}

func TestLedger_FundingUnsupportedByCustodian(t *testing.T) {
	l := ledger.NewLedger(ledger.NewMemoryStore(), opaqueCustodian{ledger.NewMemoryCustodian()}, nil, nil, zerolog.Nop())
	ctx := context.Background()

	if err := l.Deposit(ctx, owner, token, big.NewInt(1)); !errors.Is(err, ledger.ErrFundingUnsupported) {
		t.Errorf("Deposit: got %v", err)
	}
	if _, err := l.ExternalBalance(ctx, owner, token); !errors.Is(err, ledger.ErrFundingUnsupported) {
		t.Errorf("ExternalBalance: got %v", err)
	}
}
