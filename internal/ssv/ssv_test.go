package ssv

import (
	"testing"

	"github.com/ayourtch/ipcookied/internal/proto"
)

func peer(b byte) proto.Peer {
	var p proto.Peer
	p[0] = b
	return p
}

func TestCookieOfDeterministic(t *testing.T) {
	var key [16]byte
	key[0] = 0x42
	p := peer(1)
	a := CookieOf(key, p)
	b := CookieOf(key, p)
	if a != b {
		t.Error("CookieOf should be deterministic for the same key and peer")
	}
}

func TestCookieOfDiffersByPeer(t *testing.T) {
	var key [16]byte
	if CookieOf(key, peer(1)) == CookieOf(key, peer(2)) {
		t.Error("expected distinct peers to get distinct cookies")
	}
}

func TestVerifyCurrentAndPrevious(t *testing.T) {
	var cur, prev [16]byte
	cur[0] = 1
	prev[0] = 2
	keys := KeyPair{Current: cur, Previous: prev}
	p := peer(7)

	if got := Verify(keys, p, CookieOf(cur, p)); got != ValidCurrent {
		t.Errorf("Verify(current cookie) = %v, want ValidCurrent", got)
	}
	if got := Verify(keys, p, CookieOf(prev, p)); got != ValidPrevious {
		t.Errorf("Verify(previous cookie) = %v, want ValidPrevious", got)
	}

	var garbage proto.Cookie
	garbage[0] = 0xFF
	if got := Verify(keys, p, garbage); got != Invalid {
		t.Errorf("Verify(garbage) = %v, want Invalid", got)
	}
}
