// Package secret manages the rotating keys from which cookies are
// derived. It follows the same current/previous rotation shape as the
// DNS cookie manager it is grounded on, but stores the rotating state
// as a pair of single-word atomic seeds rather than a mutex-guarded
// struct, so the whole thing stays safe to embed directly inside a
// shared memory region mapped by more than one process.
package secret

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"sync/atomic"
	"time"
)

// KeySize is the width of a derived SipHash-2-4 key.
const KeySize = 16

// DefaultRotationInterval is how often the daemon mints a new secret by
// default, sliding the previous one into the "still accepted" slot.
const DefaultRotationInterval = 120 * time.Second

// State holds the rotating secret as two 64-bit seeds plus a rotation
// deadline. Every field is a single machine word so it can be stored in
// mmap'd memory shared between the daemon and shim processes without
// any embedded pointers for the garbage collector to trip over; the
// actual 128-bit SipHash key is expanded on demand from each seed via
// SHA-256.
type State struct {
	currentSeed  atomic.Uint64
	previousSeed atomic.Uint64
	rotateAt     atomic.Int64 // unix seconds
	interval     int64        // seconds; immutable after Init
}

// Init seeds State with fresh randomness and arms the first rotation
// deadline. It must be called exactly once, before any other process
// attaches to the shared region.
func (s *State) Init(interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultRotationInterval
	}
	seed, err := randomSeed()
	if err != nil {
		return err
	}
	s.currentSeed.Store(seed)
	s.previousSeed.Store(seed)
	s.interval = int64(interval / time.Second)
	s.rotateAt.Store(time.Now().Unix() + s.interval)
	return nil
}

// randomSeed draws a cryptographically random 64-bit seed. A failure
// here means the platform CSPRNG is broken; proceeding with a
// predictable seed would make every cookie the daemon issues
// forgeable, so the error is returned to the caller and no weaker
// source is ever used in its place.
func randomSeed() (uint64, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

// MaybeRotate checks the rotation deadline and, if it has passed,
// mints a new current secret and slides the old one into the previous
// slot. It is safe to call from any number of goroutines or processes
// concurrently; only one caller will win the race to advance
// rotateAt, and the others will observe the new state on their next
// read.
func (s *State) MaybeRotate(now time.Time) error {
	deadline := s.rotateAt.Load()
	if now.Unix() < deadline {
		return nil
	}
	next := now.Unix() + s.interval
	if !s.rotateAt.CompareAndSwap(deadline, next) {
		return nil // another caller already rotated
	}
	seed, err := randomSeed()
	if err != nil {
		// Leave the deadline advanced; the secrets stay as they are and
		// the next attempt happens once the new deadline passes, rather
		// than spinning immediately on a broken CSPRNG.
		return err
	}
	s.previousSeed.Store(s.currentSeed.Load())
	s.currentSeed.Store(seed)
	return nil
}

// Rotate mints a new current secret immediately, ignoring the rotation
// deadline, and reuses whatever interval Init armed to schedule the
// next automatic rotation from now. It exists for the admin plane's
// force-rotate operation; MaybeRotate remains the path the daemon's
// own ticker uses.
func (s *State) Rotate(now time.Time) error {
	seed, err := randomSeed()
	if err != nil {
		return err
	}
	s.rotateAt.Store(now.Unix() + s.interval)
	s.previousSeed.Store(s.currentSeed.Load())
	s.currentSeed.Store(seed)
	return nil
}

// CurrentKey derives the SipHash-2-4 key from the current seed.
func (s *State) CurrentKey() [KeySize]byte {
	return expand(s.currentSeed.Load())
}

// PreviousKey derives the SipHash-2-4 key from the previous seed,
// still accepted during the rotation grace period.
func (s *State) PreviousKey() [KeySize]byte {
	return expand(s.previousSeed.Load())
}

func expand(seed uint64) [KeySize]byte {
	var in [8]byte
	binary.BigEndian.PutUint64(in[:], seed)
	sum := sha256.Sum256(in[:])
	var key [KeySize]byte
	copy(key[:], sum[:KeySize])
	return key
}
