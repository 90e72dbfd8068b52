// Package ssv implements the stateless server verifier: a pure
// function that derives the 96-bit cookie owed to a peer and checks an
// offered cookie against the current and previous secrets, with no
// state of its own beyond the keys it is handed.
package ssv

import (
	"crypto/subtle"
	"encoding/binary"

	"github.com/dchest/siphash"

	"github.com/ayourtch/ipcookied/internal/proto"
)

// Result classifies an offered cookie against a peer's expected value.
type Result int

const (
	// Invalid means the cookie matches neither the current nor the
	// previous secret for this peer.
	Invalid Result = iota
	// ValidCurrent means the cookie matches what the current secret
	// would produce for this peer right now.
	ValidCurrent
	// ValidPrevious means the cookie only matches the previous
	// secret, i.e. it was issued before the last rotation.
	ValidPrevious
)

// CookieOf derives the 96-bit cookie owed to peer under key. SipHash-2-4
// produces a 64-bit output, so two keyed hashes over distinguishing
// domain-separated inputs are concatenated and truncated to fill the
// 96-bit cookie.
func CookieOf(key [16]byte, peer proto.Peer) proto.Cookie {
	var cookie proto.Cookie

	h0 := siphash.New(key[:])
	h0.Write(peer[:])
	h0.Write([]byte{0})
	var b0 [8]byte
	binary.BigEndian.PutUint64(b0[:], h0.Sum64())

	h1 := siphash.New(key[:])
	h1.Write(peer[:])
	h1.Write([]byte{1})
	var b1 [8]byte
	binary.BigEndian.PutUint64(b1[:], h1.Sum64())

	copy(cookie[0:8], b0[:])
	copy(cookie[8:12], b1[:4])
	return cookie
}

// KeyPair supplies the two keys a Verify call checks an offered cookie
// against. Callers fill it from internal/secret.State's CurrentKey and
// PreviousKey, or from fixed test keys, via a struct literal.
type KeyPair struct {
	Current  [16]byte
	Previous [16]byte
}

// Verify derives the expected cookie for peer under each key in turn
// and reports whether offered matches either, in constant time per
// comparison so a failed match leaks no timing signal about which byte
// differed.
func Verify(keys KeyPair, peer proto.Peer, offered proto.Cookie) Result {
	cur := CookieOf(keys.Current, peer)
	if subtle.ConstantTimeCompare(cur[:], offered[:]) == 1 {
		return ValidCurrent
	}
	prev := CookieOf(keys.Previous, peer)
	if subtle.ConstantTimeCompare(prev[:], offered[:]) == 1 {
		return ValidPrevious
	}
	return Invalid
}
