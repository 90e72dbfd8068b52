// Package cookiecache implements the bounded, FIFO-eviction cache of
// per-peer cookie state shared between the daemon and the shim. It is
// sharded the same way the DNS response cache it is grounded on is
// sharded, but the backing storage for the entries themselves is a
// single flat slice so it can be handed in from either make() (heap,
// single-process mode) or a mmap'd region (multi-process mode): the
// cache never allocates the entries, only the index over them.
package cookiecache

import (
	"hash/fnv"
	"sync"
	"sync/atomic"

	"github.com/ayourtch/ipcookied/internal/entry"
	"github.com/ayourtch/ipcookied/internal/proto"
)

const (
	// DefaultShardCount is the number of independent shards the cache
	// is split across, each with its own mutex and FIFO ring.
	DefaultShardCount = 64
)

type shard struct {
	mu     sync.RWMutex
	index  map[proto.Peer]uint32 // peer -> position within this shard's window
	cursor uint32                // next FIFO slot to (re)use
	window []entry.CacheEntry    // this shard's slice of the backing storage
}

// Cache is a sharded, fixed-capacity table of entry.CacheEntry slots
// keyed by peer identity. Once full, inserting a new peer evicts
// whichever entry is oldest in that shard's FIFO order and not
// currently pinned by another caller, never the least-recently-used
// one: the spec calls for a simple bounded cache, not an LRU.
// Allocation and eviction are serialized per shard, not cache-wide:
// two peers hashing to different shards can be recycled concurrently,
// and within a shard a slot is never handed back for recycling while
// any caller still holds a pin on it (see entry.CacheEntry.Pin).
type Cache struct {
	shards []*shard
	mask   uint64

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

// New builds a Cache over backing, a pre-allocated slice of
// entry.CacheEntry. backing's length is split evenly across
// shardCount shards (rounded down), so callers should size backing as
// a multiple of shardCount. shardCount is rounded up to the next power
// of two if it isn't one already.
func New(backing []entry.CacheEntry, shardCount int) *Cache {
	if shardCount <= 0 {
		shardCount = DefaultShardCount
	}
	n := 1
	for n < shardCount {
		n <<= 1
	}
	shardCount = n

	perShard := len(backing) / shardCount
	if perShard == 0 {
		perShard = 1
		shardCount = len(backing)
		if shardCount == 0 {
			shardCount = 1
		}
	}

	c := &Cache{
		shards: make([]*shard, shardCount),
		mask:   uint64(shardCount - 1),
	}
	for i := 0; i < shardCount; i++ {
		lo := i * perShard
		hi := lo + perShard
		if i == shardCount-1 {
			hi = len(backing)
		}
		c.shards[i] = &shard{
			index:  make(map[proto.Peer]uint32, perShard),
			window: backing[lo:hi],
		}
	}
	return c
}

func (c *Cache) shardFor(p proto.Peer) *shard {
	h := fnv.New64a()
	h.Write(p[:])
	return c.shards[h.Sum64()&c.mask]
}

// Lookup returns the entry bound to peer, if one is currently cached.
// The returned entry comes back pinned; the caller must call Unpin
// once it is done reading or mutating it (typically via defer), or
// the slot can never be reclaimed by a later eviction.
func (c *Cache) Lookup(peer proto.Peer) (*entry.CacheEntry, bool) {
	s := c.shardFor(peer)
	s.mu.RLock()
	pos, ok := s.index[peer]
	var e *entry.CacheEntry
	if ok {
		e = &s.window[pos]
		e.Pin()
	}
	s.mu.RUnlock()
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return e, true
}

// GetOrCreate returns the entry bound to peer, creating and
// initializing one via initFn if none exists yet. initFn is called at
// most once, only while the shard lock is held for writing, so it may
// safely perform an uncontended entry.Reset. The returned created flag
// tells the caller whether a fresh entry was minted (and therefore any
// eviction took place).
//
// The returned entry comes back pinned, exactly as Lookup's does; the
// caller must Unpin it once done. e is nil only in the pathological
// case where every slot in the shard is currently pinned by some other
// in-flight caller, so no slot is available to recycle; a correctly
// Unpin()'d caller population should never sustain that for long.
func (c *Cache) GetOrCreate(peer proto.Peer, initFn func(*entry.CacheEntry)) (e *entry.CacheEntry, created bool) {
	s := c.shardFor(peer)

	s.mu.RLock()
	if pos, ok := s.index[peer]; ok {
		got := &s.window[pos]
		got.Pin()
		s.mu.RUnlock()
		c.hits.Add(1)
		return got, false
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if pos, ok := s.index[peer]; ok {
		// Lost the race to another writer between the RUnlock above
		// and taking the write lock.
		got := &s.window[pos]
		got.Pin()
		c.hits.Add(1)
		return got, false
	}

	pos, ok := s.reclaimSlot()
	if !ok {
		return nil, false
	}

	if evicted := s.window[pos].Peer(); !isZeroPeer(evicted) {
		if _, stillPresent := s.index[evicted]; stillPresent {
			delete(s.index, evicted)
			c.evictions.Add(1)
		}
	}

	slot := &s.window[pos]
	initFn(slot)
	slot.Pin()
	s.index[peer] = pos
	c.misses.Add(1)
	return slot, true
}

// reclaimSlot walks the shard's FIFO ring starting at its cursor,
// skipping any slot a caller still has pinned, and returns the first
// reclaimable position it finds. This is the allocation/eviction path's
// whole reclamation scheme: rather than version-tag every slot, it
// simply refuses to recycle one with outstanding readers or writers,
// per the cache-wide invariant that a pinned slot's peer identity and
// fields never change underneath whoever is holding it. ok is false
// only if a full sweep of the ring finds every slot pinned.
func (s *shard) reclaimSlot() (pos uint32, ok bool) {
	n := uint32(len(s.window))
	for i := uint32(0); i < n; i++ {
		pos = s.cursor
		s.cursor = (s.cursor + 1) % n
		if !s.window[pos].Pinned() {
			return pos, true
		}
	}
	return 0, false
}

func isZeroPeer(p proto.Peer) bool {
	return p == proto.Peer{}
}

// Remove evicts peer's entry, if present, ahead of its natural FIFO
// turn. Used when a peer is explicitly torn down (e.g. administrative
// reset).
func (c *Cache) Remove(peer proto.Peer) {
	s := c.shardFor(peer)
	s.mu.Lock()
	delete(s.index, peer)
	s.mu.Unlock()
}

// Stats summarizes cache activity since creation.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Size      int
}

// Stats returns current cache counters and occupancy.
func (c *Cache) Stats() Stats {
	size := 0
	for _, s := range c.shards {
		s.mu.RLock()
		size += len(s.index)
		s.mu.RUnlock()
	}
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Size:      size,
	}
}
