package ledger

import (
	"context"
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Store owns lock records and the (owner, asset) index. Every mutation runs
// inside Update: changes made through the Tx become visible only if fn
// returns nil, and are discarded otherwise.
type Store interface {
	Update(ctx context.Context, fn func(tx Tx) error) error
	View(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the view of the store inside one Update or View call.
// Locks returned by GetLock are copies; changes go through PutLock.
type Tx interface {
	NextLockID() (LockID, error)
	GetLock(id LockID) (*ResourceLock, error)
	PutLock(lock *ResourceLock) error
	LookupPair(owner, asset common.Address) (LockID, bool, error)
	SetPair(owner, asset common.Address, id LockID) error
	DeletePair(owner, asset common.Address) error
}

// JournalTx is implemented by transactions of stores that keep the event
// journal next to the lock rows. The ledger then takes the chain tip from
// the store and appends each event in the transaction that produced it.
type JournalTx interface {
	JournalTip() (next int64, prevHash [32]byte, err error)
	AppendEvent(evt Event) error
}

var errReadOnlyTx = errors.New("ledger: write in read-only transaction")

// MemoryStore is an in-memory Store. Writers are serialized; readers run
// concurrently with each other. Update stages changes in an overlay that is
// merged into the base maps only on success.
type MemoryStore struct {
	mu     sync.RWMutex
	locks  map[LockID]*ResourceLock
	pairs  map[PairKey]LockID
	lastID LockID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		locks: make(map[LockID]*ResourceLock),
		pairs: make(map[PairKey]LockID),
	}
}

func (s *MemoryStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{
		store:  s,
		write:  true,
		locks:  make(map[LockID]*ResourceLock),
		pairs:  make(map[PairKey]pairEntry),
		lastID: s.lastID,
	}
	if err := fn(tx); err != nil {
		return err
	}

	// Commit
	for id, lock := range tx.locks {
		s.locks[id] = lock
	}
	for key, entry := range tx.pairs {
		if entry.deleted {
			delete(s.pairs, key)
		} else {
			s.pairs[key] = entry.id
		}
	}
	s.lastID = tx.lastID
	return nil
}

func (s *MemoryStore) View(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&memTx{store: s})
}

// Len returns the number of lock records, destroyed ones included.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.locks)
}

type pairEntry struct {
	id      LockID
	deleted bool
}

type memTx struct {
	store  *MemoryStore
	write  bool
	locks  map[LockID]*ResourceLock
	pairs  map[PairKey]pairEntry
	lastID LockID
}

func (tx *memTx) NextLockID() (LockID, error) {
	if !tx.write {
		return 0, errReadOnlyTx
	}
	tx.lastID++
	return tx.lastID, nil
}

func (tx *memTx) GetLock(id LockID) (*ResourceLock, error) {
	if lock, ok := tx.locks[id]; ok {
		return lock.Clone(), nil
	}
	lock, ok := tx.store.locks[id]
	if !ok {
		return nil, ErrLockNotFound
	}
	return lock.Clone(), nil
}

func (tx *memTx) PutLock(lock *ResourceLock) error {
	if !tx.write {
		return errReadOnlyTx
	}
	tx.locks[lock.ID] = lock.Clone()
	return nil
}

func (tx *memTx) LookupPair(owner, asset common.Address) (LockID, bool, error) {
	key := PairKey{Owner: owner, Asset: asset}
	if entry, ok := tx.pairs[key]; ok {
		return entry.id, !entry.deleted, nil
	}
	id, ok := tx.store.pairs[key]
	return id, ok, nil
}

func (tx *memTx) SetPair(owner, asset common.Address, id LockID) error {
	if !tx.write {
		return errReadOnlyTx
	}
	tx.pairs[PairKey{Owner: owner, Asset: asset}] = pairEntry{id: id}
	return nil
}

func (tx *memTx) DeletePair(owner, asset common.Address) error {
	if !tx.write {
		return errReadOnlyTx
	}
	tx.pairs[PairKey{Owner: owner, Asset: asset}] = pairEntry{deleted: true}
	return nil
}
