package ledger

import (
	"crypto/sha256"
	"encoding/binary"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

const GenesisHashSeed = "EscrowLedger:genesis:v1"

// EventType names the ledger operation an Event records.
type EventType string

const (
	EventLocked    EventType = "lock"
	EventAllocated EventType = "allocate"
	EventReleased  EventType = "release"
	EventUnlocked  EventType = "unlock"
)

// Event is the journal record of one committed ledger operation.
// Total and Allocated are the lock's values after the operation.
type Event struct {
	Sequence  int64
	Type      EventType
	LockID    LockID
	Owner     common.Address
	Asset     common.Address
	Amount    *big.Int
	Total     *big.Int
	Allocated *big.Int
	Timestamp time.Time
	Hash      [32]byte
	PrevHash  [32]byte
}

// EventSink receives journaled events. Emit must not block the ledger for long.
type EventSink interface {
	Emit(evt Event)
}

// GenesisHash is the PrevHash of the first event.
func GenesisHash() [32]byte {
	return sha256.Sum256([]byte(GenesisHashSeed))
}

// Journal sequences committed operations and chains them:
// hash[N] = SHA-256(prev_hash || sequence || digest(event)).
type Journal struct {
	mu       sync.Mutex
	sequence int64
	prevHash [32]byte
	sink     EventSink
}

// NewJournal creates a journal whose next event gets sequence nextSequence
// and chains from prevHash. Use GenesisHash() for an empty log.
func NewJournal(nextSequence int64, prevHash [32]byte, sink EventSink) *Journal {
	return &Journal{
		sequence: nextSequence,
		prevHash: prevHash,
		sink:     sink,
	}
}

// Record stamps evt with the next sequence and chain hash, then emits it.
func (j *Journal) Record(evt Event) Event {
	j.mu.Lock()
	defer j.mu.Unlock()

	evt = Stamp(evt, j.sequence, j.prevHash)
	j.advanceLocked(evt)
	return evt
}

// Commit moves the tip past an event stamped outside the journal, e.g.
// inside a store transaction that read the tip from the database, and
// emits it.
func (j *Journal) Commit(evt Event) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.advanceLocked(evt)
}

func (j *Journal) advanceLocked(evt Event) {
	j.prevHash = evt.Hash
	j.sequence = evt.Sequence + 1

	if j.sink != nil {
		j.sink.Emit(evt)
	}
}

// Stamp assigns evt the given sequence and chains it onto prevHash.
func Stamp(evt Event, sequence int64, prevHash [32]byte) Event {
	evt.Sequence = sequence
	evt.PrevHash = prevHash
	evt.Hash = ChainHash(prevHash, evt)
	return evt
}

// Tip returns the sequence of the next event and the current chain hash.
func (j *Journal) Tip() (int64, [32]byte) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.sequence, j.prevHash
}

// ChainHash computes the hash of evt given the previous hash.
func ChainHash(prevHash [32]byte, evt Event) [32]byte {
	hasher := sha256.New()
	hasher.Write(prevHash[:])

	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(evt.Sequence))
	hasher.Write(buf[:])

	hasher.Write([]byte(evt.Type))
	binary.LittleEndian.PutUint64(buf[:], uint64(evt.LockID))
	hasher.Write(buf[:])
	hasher.Write(evt.Owner.Bytes())
	hasher.Write(evt.Asset.Bytes())
	writeAmount(hasher, evt.Amount)
	writeAmount(hasher, evt.Total)
	writeAmount(hasher, evt.Allocated)
	binary.LittleEndian.PutUint64(buf[:], uint64(evt.Timestamp.UnixMicro()))
	hasher.Write(buf[:])

	var hash [32]byte
	copy(hash[:], hasher.Sum(nil))
	return hash
}

func writeAmount(w interface{ Write([]byte) (int, error) }, v *big.Int) {
	var word [32]byte
	if v != nil {
		v.FillBytes(word[:])
	}
	w.Write(word[:])
}
