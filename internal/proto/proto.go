// Package proto defines the wire-level primitives shared by the cookie
// daemon and the in-kernel-adjacent shim: peer identities, the 96-bit
// cookie value, and the truncated 24-bit timestamp with its wraparound
// arithmetic.
package proto

import "encoding/binary"

// PeerSize is the width of a peer identity as hashed into a cookie.
// Callers normalize both IPv4 and IPv6 addresses into this fixed width
// (IPv4 is stored v4-in-v6) so the SipHash input length never varies.
const PeerSize = 16

// Peer identifies the remote endpoint a cookie is bound to.
type Peer [PeerSize]byte

// CookieSize is the width of a cookie in bytes (96 bits).
const CookieSize = 12

// Cookie is the 96-bit value exchanged in SET-COOKIE/SETCOOKIE-NOT-EXPECTED
// messages and stored alongside each cache entry.
type Cookie [CookieSize]byte

// IsZero reports whether c is the all-zero cookie, used as the sentinel
// for "no cookie seen yet".
func (c Cookie) IsZero() bool {
	return c == Cookie{}
}

// Bytes returns the cookie encoded as a byte slice.
func (c Cookie) Bytes() []byte {
	b := make([]byte, CookieSize)
	copy(b, c[:])
	return b
}

// CookieFromBytes builds a Cookie from a 12-byte slice. The caller must
// ensure len(b) >= CookieSize.
func CookieFromBytes(b []byte) Cookie {
	var c Cookie
	copy(c[:], b[:CookieSize])
	return c
}

// Timestamp is a truncated 24-bit monotonic second counter, as stored in
// the low 24 bits of a cache entry's mtime word. It wraps every 2^24
// seconds (~194 days); comparisons must use Sub/Before, never plain
// arithmetic, to stay correct across the wrap.
type Timestamp uint32

const timestampMask = 1<<24 - 1

// TruncateTimestamp masks a wall/monotonic second count down to the
// 24-bit range stored in an entry.
func TruncateTimestamp(seconds int64) Timestamp {
	return Timestamp(uint32(seconds) & timestampMask)
}

// Sub returns t-u as a signed second delta, correctly handling wraparound
// the same way TCP sequence number comparisons do: the 24-bit difference
// is sign-extended from bit 23.
func (t Timestamp) Sub(u Timestamp) int32 {
	d := (uint32(t) - uint32(u)) & timestampMask
	if d&(1<<23) != 0 {
		return int32(d) - (1 << 24)
	}
	return int32(d)
}

// Before reports whether t represents an earlier instant than u, within
// the usual +/-2^23 second window in which truncated comparisons remain
// meaningful.
func (t Timestamp) Before(u Timestamp) bool {
	return t.Sub(u) < 0
}

// Add returns t advanced by delta seconds (delta may be negative), still
// truncated to 24 bits. Used for the "backdating" trick in the shim's
// timer state machine.
func (t Timestamp) Add(delta int32) Timestamp {
	return Timestamp((uint32(int32(t) + delta)) & timestampMask)
}

// PutUint24 writes the low 24 bits of v into b in big-endian order. b
// must have length >= 3.
func PutUint24(b []byte, v Timestamp) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], uint32(v)<<8)
	copy(b, tmp[:3])
}

// Uint24 reads a big-endian 24-bit value from b. b must have length >= 3.
func Uint24(b []byte) Timestamp {
	var tmp [4]byte
	copy(tmp[1:], b[:3])
	return Timestamp(binary.BigEndian.Uint32(tmp[:]))
}

// Entry bit layout shared by internal/entry and internal/shim. The
// packed status word is one byte: upper nibble carries two flags plus
// two reserved bits, lower nibble carries the lifetime exponent.
const (
	FlagDisableCookies      = 1 << 7
	FlagExpectingSetCookie  = 1 << 6
	FlagReservedMask        = 0x30
	LifetimeMask            = 0x0F
	LifetimeInfinite        = 0x0F
)

// LifetimeSeconds expands a 4-bit log2 exponent into a concrete duration
// in seconds. An exponent of LifetimeInfinite means "never expire".
func LifetimeSeconds(log2 uint8) (seconds uint32, infinite bool) {
	if log2&LifetimeMask == LifetimeInfinite {
		return 0, true
	}
	return uint32(1) << (log2 & LifetimeMask), false
}

// Policy constants taken from the reference timer state machine. T_RECOVER
// is the minimum width, in seconds, of the renewal window guaranteed after
// a peer's first transition into Case 1. FallbackLog2 and TryLog2 are the
// lifetime exponents an entry gets on entering fallback (no confirmed
// cookie support) and on retrying cookies once fallback expires,
// respectively.
const (
	TRecover     = 3
	FallbackLog2 = 8
	TryLog2      = 3
)
