// Package shim implements the two per-datagram decision paths that run
// in the packet fast path: Send, which runs the three-case timer
// analysis against a peer's cache entry and decides whether to attach
// a cookie to an outbound datagram, and Recv, which checks an inbound
// cookie against the stateless verifier and reacts to a mismatch.
//
// Neither function blocks or allocates on the hot path beyond what the
// cache itself needs to create a first-time entry; control-message
// emission is expressed as a returned, possibly-absent message rather
// than a direct socket write; so the caller decides how (and whether,
// under backpressure) to actually send it.
package shim

import (
	"github.com/ayourtch/ipcookied/internal/cookiecache"
	"github.com/ayourtch/ipcookied/internal/entry"
	"github.com/ayourtch/ipcookied/internal/proto"
	"github.com/ayourtch/ipcookied/internal/ssv"
)

// timerCase classifies where t_now falls relative to an entry's
// effective lifetime window, per spec §4.4.
type timerCase int

const (
	caseStillValid timerCase = iota
	caseRenewWindow
	casePastRenew
)

func classify(now, mtime proto.Timestamp, lifetimeLog2 uint8, recoverSeconds int32) timerCase {
	lifetime, infinite := proto.LifetimeSeconds(lifetimeLog2)
	if infinite {
		return caseStillValid
	}
	expiry := mtime.Add(int32(lifetime))
	delta := now.Sub(expiry) // now - expiry
	switch {
	case delta < 0:
		return caseStillValid
	case delta < recoverSeconds:
		return caseRenewWindow
	default:
		return casePastRenew
	}
}

// SendDecision is the outcome of Send: whether the outbound datagram
// should carry a cookie, and if so, which value.
type SendDecision struct {
	AttachCookie bool
	Cookie       proto.Cookie
}

// SendPolicy controls how a brand-new entry is initialized, since the
// spec leaves "cookies active for P" to local policy.
type SendPolicy struct {
	// CookiesActive reports whether cookies should be attempted for a
	// peer that has no existing cache entry yet.
	CookiesActive func(peer proto.Peer) bool
}

// Send runs the send-path state machine for an outbound datagram to
// peer, mutating or creating its cache entry as needed, and returns
// whether the datagram should carry a cookie.
func Send(cache *cookiecache.Cache, policy SendPolicy, peer proto.Peer, now proto.Timestamp) SendDecision {
	e, created := cache.GetOrCreate(peer, func(e *entry.CacheEntry) {
		if policy.CookiesActive == nil || policy.CookiesActive(peer) {
			e.Reset(peer, proto.Cookie{}, proto.FlagExpectingSetCookie, now)
		} else {
			e.Reset(peer, proto.Cookie{}, proto.FlagDisableCookies, now)
		}
	})
	if e == nil {
		// Every slot in this peer's shard is pinned by some other
		// in-flight caller; nothing to recycle right now. Send
		// uncookied this once rather than block the packet path.
		return SendDecision{AttachCookie: false}
	}
	defer e.Unpin()

	if created {
		status, _ := e.Status()
		if status&proto.FlagDisableCookies != 0 {
			return SendDecision{AttachCookie: false}
		}
		// ACTIVE-EXPECTING: cookie not learned yet, nothing to attach.
		return SendDecision{AttachCookie: false}
	}

	e.ApplyTimer(func(status uint8, mtime proto.Timestamp) (uint8, proto.Timestamp) {
		lifetimeLog2 := status & proto.LifetimeMask
		c := classify(now, mtime, lifetimeLog2, proto.TRecover)
		disabled := status&proto.FlagDisableCookies != 0
		expecting := status&proto.FlagExpectingSetCookie != 0

		switch {
		case disabled && c == caseStillValid:
			return status, mtime

		case disabled && (c == caseRenewWindow || c == casePastRenew):
			newStatus := status &^ proto.FlagDisableCookies
			newStatus = (newStatus &^ proto.LifetimeMask) | (proto.TryLog2 & proto.LifetimeMask)
			return newStatus, now

		case !disabled && c == caseStillValid:
			return status, mtime

		case !disabled && c == caseRenewWindow:
			if expecting {
				return status, mtime
			}
			newStatus := status | proto.FlagExpectingSetCookie
			backdated := now.Add(-int32(uint32(1) << lifetimeLog2))
			return newStatus, backdated

		default: // !disabled && casePastRenew
			if expecting {
				newStatus := (status | proto.FlagDisableCookies) &^ proto.FlagExpectingSetCookie
				newStatus = (newStatus &^ proto.LifetimeMask) | (proto.FallbackLog2 & proto.LifetimeMask)
				return newStatus, now
			}
			newStatus := status | proto.FlagExpectingSetCookie
			backdated := now.Add(-int32(uint32(1) << lifetimeLog2))
			return newStatus, backdated
		}
	})

	status, _ := e.Status()
	if status&proto.FlagDisableCookies != 0 {
		return SendDecision{AttachCookie: false}
	}
	return SendDecision{AttachCookie: true, Cookie: e.Cookie()}
}

// RecvAction is what the receive path wants the caller to do after
// classifying an inbound cookie.
type RecvAction struct {
	Deliver           bool
	SendReply         bool
	ReplyEchoed       proto.Cookie
	ReplyRequested    proto.Cookie
	ReplyLifetimeLog2 uint8
}

// RecvPolicy supplies the host's advertised refresh exponent used in a
// SET-COOKIE reply to an invalid inbound cookie.
type RecvPolicy struct {
	AdvertisedLifetimeLog2 uint8
}

// Recv implements the receive-path decision of spec §4.3: verify an
// inbound cookie and, on mismatch, ask the caller to emit a SET-COOKIE
// reply. It never creates or mutates a cache entry.
func Recv(keys ssv.KeyPair, policy RecvPolicy, peer proto.Peer, cookie proto.Cookie) RecvAction {
	switch ssv.Verify(keys, peer, cookie) {
	case ssv.ValidCurrent, ssv.ValidPrevious:
		return RecvAction{Deliver: true}
	default:
		return RecvAction{
			Deliver:           false,
			SendReply:         true,
			ReplyEchoed:       cookie,
			ReplyRequested:    ssv.CookieOf(keys.Current, peer),
			ReplyLifetimeLog2: policy.AdvertisedLifetimeLog2,
		}
	}
}
