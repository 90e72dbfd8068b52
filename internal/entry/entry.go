// Package entry defines the cache entry record shared between the
// cookie daemon and the shim: a peer's current cookie, its packed
// status byte, and its last-touched timestamp, all stored as
// pointer-free atomic words so the same struct works whether it lives
// on the heap in a single-process deployment or inside a mmap region
// shared across processes.
package entry

import (
	"sync/atomic"

	"github.com/ayourtch/ipcookied/internal/proto"
)

// CacheEntry is one slot in the cookie cache. Peer is fixed for the
// lifetime of the slot between FIFO recycles and is therefore not
// itself atomic; every field that can change while concurrent readers
// are active is backed by sync/atomic.
type CacheEntry struct {
	peer proto.Peer

	// pins counts outstanding holders of a pointer into this slot,
	// taken by Cache.Lookup/GetOrCreate and released by Unpin. The
	// cache's eviction scan skips any slot with pins > 0, so a send-
	// path caller mid-ApplyTimer (or a daemon handler between its
	// SetCookie and ApplyTimer calls) can never have its slot recycled
	// for a different peer out from under it.
	pins atomic.Int32

	// seq is a seqlock counter guarding the 96-bit cookie field: even
	// values mean the cookie is stable, odd values mean a writer is
	// mid-update. Readers retry until they observe a stable, matching
	// seq before and after the read.
	seq         atomic.Uint32
	cookieWords [3]atomic.Uint32

	// word packs the status byte (flags in the upper nibble, lifetime
	// log2 exponent in the lower nibble) into bits 31-24, and the
	// truncated 24-bit mtime into bits 23-0, so both are visible to a
	// reader from a single atomic load.
	word atomic.Uint32
}

// Pin marks the caller as an outstanding holder of this slot. Every
// Cache.Lookup and Cache.GetOrCreate result comes back already pinned;
// callers must release it with Unpin, typically via defer, once done
// reading or mutating the entry.
func (e *CacheEntry) Pin() { e.pins.Add(1) }

// Unpin releases a pin taken by Pin (directly, or implicitly by
// Cache.Lookup/GetOrCreate).
func (e *CacheEntry) Unpin() { e.pins.Add(-1) }

// Pinned reports whether any caller currently holds this slot. The
// cache's FIFO eviction scan uses this to skip slots it must not
// recycle yet.
func (e *CacheEntry) Pinned() bool { return e.pins.Load() > 0 }

// Reset reinitializes the slot for a new peer. It must only be called
// by the cache owner while the slot is not yet visible to lookups
// (either a brand-new slot, or one being recycled after FIFO
// eviction) and is not Pinned; it is not safe to call concurrently
// with readers of the same slot.
func (e *CacheEntry) Reset(peer proto.Peer, cookie proto.Cookie, status uint8, mtime proto.Timestamp) {
	e.peer = peer
	e.seq.Store(0)
	e.storeCookieWords(cookie)
	e.word.Store(packWord(status, mtime))
}

// Peer returns the slot's bound peer identity.
func (e *CacheEntry) Peer() proto.Peer {
	return e.peer
}

// Cookie performs a seqlock read of the 96-bit cookie field, retrying
// if a concurrent writer was in progress.
func (e *CacheEntry) Cookie() proto.Cookie {
	for {
		s1 := e.seq.Load()
		if s1&1 != 0 {
			continue // writer in progress
		}
		var words [3]uint32
		for i := range words {
			words[i] = e.cookieWords[i].Load()
		}
		s2 := e.seq.Load()
		if s1 == s2 {
			return cookieFromWords(words)
		}
	}
}

// SetCookie writes a new 96-bit cookie under the seqlock discipline.
func (e *CacheEntry) SetCookie(c proto.Cookie) {
	e.seq.Add(1) // now odd: readers spin
	e.storeCookieWords(c)
	e.seq.Add(1) // now even: readers proceed
}

func (e *CacheEntry) storeCookieWords(c proto.Cookie) {
	words := cookieToWords(c)
	for i, w := range words {
		e.cookieWords[i].Store(w)
	}
}

func cookieToWords(c proto.Cookie) [3]uint32 {
	var w [3]uint32
	w[0] = uint32(c[0])<<24 | uint32(c[1])<<16 | uint32(c[2])<<8 | uint32(c[3])
	w[1] = uint32(c[4])<<24 | uint32(c[5])<<16 | uint32(c[6])<<8 | uint32(c[7])
	w[2] = uint32(c[8])<<24 | uint32(c[9])<<16 | uint32(c[10])<<8 | uint32(c[11])
	return w
}

func cookieFromWords(w [3]uint32) proto.Cookie {
	var c proto.Cookie
	put := func(off int, v uint32) {
		c[off] = byte(v >> 24)
		c[off+1] = byte(v >> 16)
		c[off+2] = byte(v >> 8)
		c[off+3] = byte(v)
	}
	put(0, w[0])
	put(4, w[1])
	put(8, w[2])
	return c
}

func packWord(status uint8, mtime proto.Timestamp) uint32 {
	return uint32(status)<<24 | uint32(mtime)&0x00FFFFFF
}

func unpackWord(w uint32) (status uint8, mtime proto.Timestamp) {
	return uint8(w >> 24), proto.Timestamp(w & 0x00FFFFFF)
}

// Status returns the current packed status byte and mtime in a single
// atomic read.
func (e *CacheEntry) Status() (status uint8, mtime proto.Timestamp) {
	return unpackWord(e.word.Load())
}

// ApplyTimer atomically applies transform to the entry's current
// (status, mtime) pair, retrying via compare-and-swap until it wins
// the race against any concurrent writer. transform must be a pure
// function of its inputs: it may be invoked more than once under
// contention. This is the single mutation path for the timer state
// machine in internal/shim, closing the read-decide-write race window
// that separate per-case mutator methods would leave open.
func (e *CacheEntry) ApplyTimer(transform func(status uint8, mtime proto.Timestamp) (uint8, proto.Timestamp)) (newStatus uint8, newMtime proto.Timestamp) {
	for {
		old := e.word.Load()
		status, mtime := unpackWord(old)
		newStatus, newMtime = transform(status, mtime)
		next := packWord(newStatus, newMtime)
		if e.word.CompareAndSwap(old, next) {
			return newStatus, newMtime
		}
	}
}
