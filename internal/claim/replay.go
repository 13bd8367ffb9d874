package claim

import (
	"EscrowLedger/internal/observability"
	"container/list"
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// ProcessedStore is the durable tier of the replay guard.
type ProcessedStore interface {
	IsProcessed(ctx context.Context, claimHash common.Hash) (bool, error)
	MarkProcessed(ctx context.Context, c *Claim) error
}

// ReplayGuard rejects claim hashes that were already processed.
// Tier 1 is an in-memory LRU, tier 2 an optional ProcessedStore.
type ReplayGuard struct {
	mu       sync.Mutex
	lru      *hashLRU
	inflight map[common.Hash]struct{}
	store    ProcessedStore
	metrics  *observability.Metrics
}

func NewReplayGuard(capacity int, store ProcessedStore, metrics *observability.Metrics) *ReplayGuard {
	return &ReplayGuard{
		lru:      newHashLRU(capacity),
		inflight: make(map[common.Hash]struct{}),
		store:    store,
		metrics:  metrics,
	}
}

// Seen reports whether the hash was processed or is being processed.
// A tier-2 lookup error is returned; callers must treat it as a rejection.
func (g *ReplayGuard) Seen(ctx context.Context, claimHash common.Hash) (bool, error) {
	g.mu.Lock()
	if g.lru.Contains(claimHash) {
		g.mu.Unlock()
		g.recordReplay("lru")
		return true, nil
	}
	if _, ok := g.inflight[claimHash]; ok {
		g.mu.Unlock()
		g.recordReplay("inflight")
		return true, nil
	}
	g.mu.Unlock()

	if g.store == nil {
		return false, nil
	}
	done, err := g.store.IsProcessed(ctx, claimHash)
	if err != nil {
		return false, fmt.Errorf("replay lookup: %w", err)
	}
	if done {
		g.recordReplay("store")
		g.mu.Lock()
		g.lru.Add(claimHash)
		g.mu.Unlock()
	}
	return done, nil
}

// Begin reserves claimHash for processing. It returns false when the hash
// was already processed or is in flight.
func (g *ReplayGuard) Begin(ctx context.Context, claimHash common.Hash) (bool, error) {
	seen, err := g.Seen(ctx, claimHash)
	if err != nil || seen {
		return false, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.inflight[claimHash]; ok || g.lru.Contains(claimHash) {
		g.recordReplay("inflight")
		return false, nil
	}
	g.inflight[claimHash] = struct{}{}
	return true, nil
}

// Abort releases a reservation after a failed allocation so that a
// corrected resubmission is not rejected as a replay.
func (g *ReplayGuard) Abort(claimHash common.Hash) {
	g.mu.Lock()
	delete(g.inflight, claimHash)
	g.mu.Unlock()
}

// Commit marks a reserved claim as processed in both tiers.
func (g *ReplayGuard) Commit(ctx context.Context, c *Claim) error {
	g.mu.Lock()
	delete(g.inflight, c.ClaimHash)
	g.lru.Add(c.ClaimHash)
	g.mu.Unlock()

	if g.store == nil {
		return nil
	}
	return g.store.MarkProcessed(ctx, c)
}

// Warm loads recently processed hashes into the LRU.
func (g *ReplayGuard) Warm(hashes []common.Hash) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, h := range hashes {
		g.lru.Add(h)
	}
}

// Size returns the number of hashes held in memory.
func (g *ReplayGuard) Size() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lru.Len()
}

func (g *ReplayGuard) recordReplay(tier string) {
	if g.metrics != nil {
		g.metrics.ClaimReplays.WithLabelValues(tier).Inc()
	}
}

// --- LRU ---

// hashLRU is a bounded set of claim hashes. Not thread-safe; guarded by ReplayGuard.mu.
type hashLRU struct {
	capacity  int
	cache     map[common.Hash]*list.Element
	order     *list.List
	evictions int64
}

func newHashLRU(capacity int) *hashLRU {
	if capacity <= 0 {
		capacity = 1
	}
	return &hashLRU{
		capacity: capacity,
		cache:    make(map[common.Hash]*list.Element, capacity),
		order:    list.New(),
	}
}

// Contains checks membership and promotes the hash to most recently used.
func (l *hashLRU) Contains(h common.Hash) bool {
	elem, ok := l.cache[h]
	if ok {
		l.order.MoveToFront(elem)
	}
	return ok
}

func (l *hashLRU) Add(h common.Hash) {
	if elem, ok := l.cache[h]; ok {
		l.order.MoveToFront(elem)
		return
	}
	l.cache[h] = l.order.PushFront(h)

	if l.order.Len() > l.capacity {
		oldest := l.order.Back()
		l.order.Remove(oldest)
		delete(l.cache, oldest.Value.(common.Hash))
		l.evictions++
	}
}

func (l *hashLRU) Len() int {
	return l.order.Len()
}
