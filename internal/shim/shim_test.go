package shim

import (
	"testing"

	"github.com/ayourtch/ipcookied/internal/cookiecache"
	"github.com/ayourtch/ipcookied/internal/entry"
	"github.com/ayourtch/ipcookied/internal/proto"
	"github.com/ayourtch/ipcookied/internal/ssv"
)

func ssvKeys(current [16]byte) ssv.KeyPair {
	return ssv.KeyPair{Current: current, Previous: current}
}

func cookieOfForTest(key [16]byte, p proto.Peer) proto.Cookie {
	return ssv.CookieOf(key, p)
}

func newCache() *cookiecache.Cache {
	return cookiecache.New(make([]entry.CacheEntry, 16), 4)
}

func peer(b byte) proto.Peer {
	var p proto.Peer
	p[0] = b
	return p
}

// S1: cold send at t=0 creates an ACTIVE-EXPECTING entry with no
// cookie attached, then the daemon's SET-COOKIE (modeled directly via
// entry mutation) installs a cookie and the send path settles.
func TestScenarioS1ColdSendToActiveExpecting(t *testing.T) {
	c := newCache()
	p := peer(1)
	always := SendPolicy{CookiesActive: func(proto.Peer) bool { return true }}

	decision := Send(c, always, p, 0)
	if decision.AttachCookie {
		t.Error("fresh entry should not attach a cookie before SET-COOKIE arrives")
	}

	e, ok := c.Lookup(p)
	if !ok {
		t.Fatal("entry should exist after first send")
	}
	defer e.Unpin()
	status, mtime := e.Status()
	if status != proto.FlagExpectingSetCookie || mtime != 0 {
		t.Fatalf("status/mtime = (%x,%d), want (%x,0)", status, mtime, proto.FlagExpectingSetCookie)
	}

	// Daemon applies SET-COOKIE(echoed=0, requested=0xAA..., lt=4) at t=2.
	var requested proto.Cookie
	for i := range requested {
		requested[i] = 0xAA
	}
	applySetCookie(e, requested, 4, 2)

	status, mtime = e.Status()
	if status&^proto.LifetimeMask != 0 || mtime != 2 || status&proto.LifetimeMask != 4 {
		t.Errorf("after SET-COOKIE: status=%x mtime=%d, want settled at mtime=2", status, mtime)
	}
	if e.Cookie() != requested {
		t.Error("cookie not installed by SET-COOKIE")
	}
}

// applySetCookie models the daemon-side mutation of §4.2's SET-COOKIE
// match branch, used here purely to drive the scenario forward.
func applySetCookie(e *entry.CacheEntry, requested proto.Cookie, ltLog2 uint8, now proto.Timestamp) {
	e.SetCookie(requested)
	e.ApplyTimer(func(status uint8, _ proto.Timestamp) (uint8, proto.Timestamp) {
		newStatus := status &^ (proto.FlagExpectingSetCookie | proto.FlagDisableCookies)
		newStatus = (newStatus &^ proto.LifetimeMask) | (ltLog2 & proto.LifetimeMask)
		return newStatus, now
	})
}

// S2: entry settled at mtime=0, lifetime_log2=4 (16s). A send at t=18
// falls into the renew window and must set EXPECTING_SETCOOKIE with
// mtime backdated to 2, giving a renew deadline of exactly 21.
func TestScenarioS2CaseOneBackdate(t *testing.T) {
	c := newCache()
	p := peer(2)
	seed, _ := c.GetOrCreate(p, func(e *entry.CacheEntry) {
		e.Reset(p, proto.Cookie{}, 4, 0) // settled, D=0 X=0, lt=4
	})
	seed.Unpin()

	Send(c, SendPolicy{}, p, 18)

	e, _ := c.Lookup(p)
	defer e.Unpin()
	status, mtime := e.Status()
	if status&proto.FlagExpectingSetCookie == 0 {
		t.Error("expected EXPECTING_SETCOOKIE to be set entering the renew window")
	}
	if mtime != 2 {
		t.Errorf("backdated mtime = %d, want 2", mtime)
	}
}

// S3: continuing S2 with no SET-COOKIE, a send at t=22 is past the
// renew window and must fall back: D=1, X=0, mtime=22, lt=8.
func TestScenarioS3CaseTwoFallback(t *testing.T) {
	c := newCache()
	p := peer(3)
	seed, _ := c.GetOrCreate(p, func(e *entry.CacheEntry) {
		e.Reset(p, proto.Cookie{}, proto.FlagExpectingSetCookie|4, 2) // post-backdate state from S2
	})
	seed.Unpin()

	decision := Send(c, SendPolicy{}, p, 22)
	if decision.AttachCookie {
		t.Error("fallback entry must not attach a cookie")
	}

	e, _ := c.Lookup(p)
	defer e.Unpin()
	status, mtime := e.Status()
	if status&proto.FlagDisableCookies == 0 {
		t.Error("expected DISABLE_COOKIES to be set after case-2 fallback")
	}
	if status&proto.FlagExpectingSetCookie != 0 {
		t.Error("EXPECTING_SETCOOKIE must be cleared on fallback")
	}
	if mtime != 22 {
		t.Errorf("mtime after fallback = %d, want 22", mtime)
	}
	if status&proto.LifetimeMask != proto.FallbackLog2 {
		t.Errorf("lifetime_log2 after fallback = %d, want %d", status&proto.LifetimeMask, proto.FallbackLog2)
	}
}

// S4: continuing S3, a send at t=280 (past the 256s fallback timer,
// which expired at 278) falls in the renew window; with DISABLE_COOKIES
// set that is handled like case 2, so it clears DISABLE, updates mtime,
// and sets lifetime_log2 = TRY_LT2.
func TestScenarioS4FallbackRetry(t *testing.T) {
	c := newCache()
	p := peer(4)
	seed, _ := c.GetOrCreate(p, func(e *entry.CacheEntry) {
		e.Reset(p, proto.Cookie{}, proto.FlagDisableCookies|proto.FallbackLog2, 22)
	})
	seed.Unpin()

	Send(c, SendPolicy{}, p, 280)

	e, _ := c.Lookup(p)
	defer e.Unpin()
	status, mtime := e.Status()
	if status&proto.FlagDisableCookies != 0 {
		t.Error("expected DISABLE_COOKIES cleared on fallback retry")
	}
	if mtime != 280 {
		t.Errorf("mtime after retry = %d, want 280", mtime)
	}
	if status&proto.LifetimeMask != proto.TryLog2 {
		t.Errorf("lifetime_log2 after retry = %d, want %d", status&proto.LifetimeMask, proto.TryLog2)
	}
}

func TestRecvValidCurrentDelivers(t *testing.T) {
	var cur [16]byte
	cur[0] = 7
	keys := ssvKeys(cur)
	p := peer(5)
	cookie := cookieOfForTest(cur, p)

	action := Recv(keys, RecvPolicy{AdvertisedLifetimeLog2: 4}, p, cookie)
	if !action.Deliver || action.SendReply {
		t.Errorf("expected a valid cookie to deliver without a reply, got %+v", action)
	}
}

func TestRecvInvalidTriggersSetCookie(t *testing.T) {
	var cur [16]byte
	cur[0] = 7
	keys := ssvKeys(cur)
	p := peer(6)
	var garbage proto.Cookie
	garbage[0] = 0xFF

	action := Recv(keys, RecvPolicy{AdvertisedLifetimeLog2: 4}, p, garbage)
	if action.Deliver {
		t.Error("invalid cookie should not be marked deliverable by the verifier itself")
	}
	if !action.SendReply {
		t.Fatal("expected a SET-COOKIE reply for an invalid cookie")
	}
	if action.ReplyEchoed != garbage {
		t.Error("reply must echo the offered cookie")
	}
	if action.ReplyLifetimeLog2 != 4 {
		t.Error("reply must carry the host's advertised lifetime exponent")
	}
}
