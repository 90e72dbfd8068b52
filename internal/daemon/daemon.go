// Package daemon implements the Cookie Daemon: the process that owns
// the rotating secret pair, receives inbound control messages on the
// ICMP-family control socket, and applies SET-COOKIE/SETCOOKIE-NOT-
// EXPECTED against each peer's cache entry, per the handling rules the
// shim's send/recv path does not itself carry out.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/ayourtch/ipcookied/internal/acl"
	"github.com/ayourtch/ipcookied/internal/cookiecache"
	"github.com/ayourtch/ipcookied/internal/eventbus"
	"github.com/ayourtch/ipcookied/internal/metrics"
	"github.com/ayourtch/ipcookied/internal/pool"
	"github.com/ayourtch/ipcookied/internal/proto"
	"github.com/ayourtch/ipcookied/internal/ratelimit"
	"github.com/ayourtch/ipcookied/internal/secret"
	"github.com/ayourtch/ipcookied/internal/ssv"
	"github.com/ayourtch/ipcookied/internal/wire"
	"github.com/ayourtch/ipcookied/internal/worker"
)

// ControlConn is the subset of net.PacketConn the daemon needs from
// its control socket, small enough to fake in tests without standing
// up a raw socket.
type ControlConn interface {
	ReadFrom(b []byte) (n int, addr net.Addr, err error)
	WriteTo(b []byte, addr net.Addr) (n int, err error)
	Close() error
}

// Config controls daemon behavior; fields mirror internal/config.File
// but stay decoupled from YAML so daemon has no parsing concerns of
// its own.
type Config struct {
	AdvertisedLifetimeLog2 uint8
	RateLimit              ratelimit.Config
	Workers                worker.Config
}

// Daemon owns the rotating secret, the shared cookie cache, and the
// control socket read loop. Its decision logic is pure (see
// handleSetCookie/handleSetCookieNotExpected); the loop itself just
// wires sockets, workers, and logging around it.
type Daemon struct {
	conn   ControlConn
	secret *secret.State
	cache  *cookiecache.Cache
	acl    *acl.ACL
	limits *ratelimit.Logger
	bus    *eventbus.Bus
	pool   *worker.Pool
	log    *slog.Logger
	cfg    Config

	stop          context.CancelFunc
	lastEvictions atomic.Uint64
}

// New builds a Daemon over an already-mapped secret state and cookie
// cache (typically internal/sharedstate.Handle's fields) and the
// control socket conn, ready for Run.
func New(conn ControlConn, st *secret.State, cache *cookiecache.Cache, accessList *acl.ACL, bus *eventbus.Bus, cfg Config, log *slog.Logger) *Daemon {
	if log == nil {
		log = slog.Default()
	}
	if accessList == nil {
		accessList = acl.New(true)
	}
	if bus == nil {
		bus = eventbus.New(64)
	}
	return &Daemon{
		conn:   conn,
		secret: st,
		cache:  cache,
		acl:    accessList,
		limits: ratelimit.New(cfg.RateLimit),
		bus:    bus,
		pool:   worker.NewPool(cfg.Workers),
		log:    log,
		cfg:    cfg,
	}
}

// Run drives the control socket read loop until ctx is canceled or the
// socket errors out. Each datagram is dispatched to the worker pool so
// a burst of control traffic from one peer cannot stall processing of
// another's.
func (d *Daemon) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	d.stop = cancel
	defer d.pool.Close()

	go func() {
		<-ctx.Done()
		d.conn.Close()
	}()

	for {
		buf := pool.GetDatagramBuffer()
		n, addr, err := d.conn.ReadFrom(buf)
		if err != nil {
			pool.PutDatagramBuffer(buf)
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("daemon: control socket read: %w", err)
		}
		msg := make([]byte, n)
		copy(msg, buf[:n])
		pool.PutDatagramBuffer(buf)

		job := worker.DispatchFunc(func(jctx context.Context) error {
			d.handleDatagram(jctx, msg, addr)
			return nil
		})
		if err := d.pool.TrySubmit(ctx, job); err != nil {
			d.log.Warn("control message dropped: worker pool saturated", "peer", addr, "error", err)
		}
	}
}

// Stop ends the read loop started by Run.
func (d *Daemon) Stop() {
	if d.stop != nil {
		d.stop()
	}
}

func (d *Daemon) handleDatagram(ctx context.Context, b []byte, addr net.Addr) {
	ip := addrIP(addr)
	if ip != nil && !d.acl.IsAllowed(ip) {
		metrics.ControlMessagesTotal.WithLabelValues("unknown", "denied_acl").Inc()
		return
	}

	peer := peerFromIP(ip)

	msg, err := wire.Decode(b)
	if err != nil {
		metrics.ControlMessagesTotal.WithLabelValues("unknown", "dropped_malformed").Inc()
		if d.limits.Allow(peer, ratelimit.KindMalformed) {
			d.log.Warn("dropping malformed control message", "peer", addr, "error", err)
		}
		d.bus.Publish(ctx, eventbus.TopicControlDropped, err)
		return
	}

	switch msg.Code {
	case wire.CodeSetCookie:
		d.handleSetCookie(ctx, peer, addr, msg)
	case wire.CodeSetCookieNotExpected:
		d.handleSetCookieNotExpected(ctx, peer, addr, msg)
	}
}

// handleSetCookie implements spec §4.2's SET-COOKIE handling: an
// unknown peer gets bounced a SETCOOKIE-NOT-EXPECTED carrying the
// value it wanted us to adopt (resolved per the requested_cookie
// reading of the ambiguous reference text); a known peer's entry is
// updated only if the echoed cookie matches what is currently stored.
func (d *Daemon) handleSetCookie(ctx context.Context, peer proto.Peer, addr net.Addr, msg wire.Message) {
	e, ok := d.cache.Lookup(peer)
	if !ok {
		encoded := wire.Encode(wire.Message{
			Code:         wire.CodeSetCookieNotExpected,
			EchoedCookie: msg.RequestedCookie,
		})
		reply := pool.GetControlBuffer()
		copy(reply, encoded[:])
		if _, err := d.conn.WriteTo(reply, addr); err != nil {
			d.log.Error("failed to send SETCOOKIE-NOT-EXPECTED", "peer", addr, "error", err)
		}
		pool.PutControlBuffer(reply)
		metrics.ControlMessagesTotal.WithLabelValues("set_cookie", "unknown_peer").Inc()
		return
	}
	defer e.Unpin()

	stored := e.Cookie()
	if stored != msg.EchoedCookie {
		metrics.ControlMessagesTotal.WithLabelValues("set_cookie", "dropped_mismatch").Inc()
		if d.limits.Allow(peer, ratelimit.KindSetCookieMismatch) {
			d.log.Warn("SET-COOKIE echo mismatch, dropping", "peer", addr)
		}
		d.bus.Publish(ctx, eventbus.TopicControlDropped, peer)
		return
	}

	e.SetCookie(msg.RequestedCookie)
	now := proto.TruncateTimestamp(time.Now().Unix())
	e.ApplyTimer(func(status uint8, _ proto.Timestamp) (uint8, proto.Timestamp) {
		newStatus := (status &^ proto.FlagExpectingSetCookie) &^ proto.FlagDisableCookies
		newStatus = (newStatus &^ proto.LifetimeMask) | (msg.LifetimeLog2 & proto.LifetimeMask)
		return newStatus, now
	})
	metrics.ControlMessagesTotal.WithLabelValues("set_cookie", "accepted").Inc()
}

// handleSetCookieNotExpected implements spec §4.2's SETCOOKIE-NOT-
// EXPECTED handling. No entry is ever created or mutated in response
// to this message; it only drives logging and the confirmed-spoof
// event.
func (d *Daemon) handleSetCookieNotExpected(ctx context.Context, peer proto.Peer, addr net.Addr, msg wire.Message) {
	keys := ssv.KeyPair{Current: d.secret.CurrentKey(), Previous: d.secret.PreviousKey()}
	switch ssv.Verify(keys, peer, msg.EchoedCookie) {
	case ssv.ValidCurrent, ssv.ValidPrevious:
		metrics.ControlMessagesTotal.WithLabelValues("set_cookie_not_expected", "spoof_confirmed").Inc()
		d.log.Error("confirmed spoofing attempt: SETCOOKIE-NOT-EXPECTED verified", "peer", addr)
		d.bus.Publish(ctx, eventbus.TopicSpoofConfirmed, peer)
	default:
		metrics.ControlMessagesTotal.WithLabelValues("set_cookie_not_expected", "dropped_forged").Inc()
		if d.limits.Allow(peer, ratelimit.KindForgedNotExpected) {
			d.log.Warn("dropping unverifiable SETCOOKIE-NOT-EXPECTED, suspected forged notification", "peer", addr)
		}
		d.bus.Publish(ctx, eventbus.TopicControlDropped, peer)
	}
}

// RotateSecretIfDue checks and, if the rotation deadline has passed,
// advances the daemon's secret pair. Callers run this on a ticker;
// unlike the read loop it is not triggered by inbound traffic.
func (d *Daemon) RotateSecretIfDue(ctx context.Context, now time.Time) {
	before := d.secret.CurrentKey()
	if err := d.secret.MaybeRotate(now); err != nil {
		d.log.Error("secret rotation failed", "error", err)
		return
	}
	if after := d.secret.CurrentKey(); after != before {
		metrics.SecretRotationsTotal.Inc()
		d.bus.Publish(ctx, eventbus.TopicSecretRotated, now)
	}
}

// ForceRotate advances the secret pair immediately, independent of the
// normal rotation deadline. It backs the admin plane's force-rotate
// operation; the periodic ticker should keep calling RotateSecretIfDue
// for its own schedule.
func (d *Daemon) ForceRotate(ctx context.Context, now time.Time) error {
	if err := d.secret.Rotate(now); err != nil {
		d.log.Error("forced secret rotation failed", "error", err)
		return err
	}
	metrics.SecretRotationsTotal.Inc()
	d.bus.Publish(ctx, eventbus.TopicSecretRotated, now)
	return nil
}

// PeerEntry is a point-in-time snapshot of one peer's cache entry, for
// the admin plane's per-peer lookup operation.
type PeerEntry struct {
	Found              bool
	Cookie             proto.Cookie
	ExpectingSetCookie bool
	DisableCookies     bool
	LifetimeLog2       uint8
	Mtime              proto.Timestamp
}

// LookupPeer reports the cache entry, if any, bound to ip.
func (d *Daemon) LookupPeer(ip net.IP) PeerEntry {
	peer := peerFromIP(ip)
	e, ok := d.cache.Lookup(peer)
	if !ok {
		return PeerEntry{}
	}
	defer e.Unpin()

	status, mtime := e.Status()
	return PeerEntry{
		Found:              true,
		Cookie:             e.Cookie(),
		ExpectingSetCookie: status&proto.FlagExpectingSetCookie != 0,
		DisableCookies:     status&proto.FlagDisableCookies != 0,
		LifetimeLog2:       status & proto.LifetimeMask,
		Mtime:              mtime,
	}
}

// RefreshCacheMetrics pushes current cache occupancy and the eviction
// count accumulated since the last call into the Prometheus gauges
// exposed at /metrics. Callers run this on a ticker alongside
// RotateSecretIfDue; it is independent of whether console stats
// printing is enabled.
func (d *Daemon) RefreshCacheMetrics() {
	s := d.cache.Stats()
	metrics.CacheEntriesGauge.Set(float64(s.Size))
	if prev := d.lastEvictions.Swap(s.Evictions); s.Evictions > prev {
		metrics.CacheEvictionsTotal.Add(float64(s.Evictions - prev))
	}
}

// Stats summarizes daemon-observable state for the admin plane.
type Stats struct {
	Cache        cookiecache.Stats
	TrackedLimit int
}

// Stats reports current cache and rate-limiter occupancy.
func (d *Daemon) Stats() Stats {
	return Stats{Cache: d.cache.Stats(), TrackedLimit: d.limits.TrackedKeys()}
}

func addrIP(addr net.Addr) net.IP {
	switch a := addr.(type) {
	case *net.UDPAddr:
		return a.IP
	case *net.IPAddr:
		return a.IP
	case *net.TCPAddr:
		return a.IP
	default:
		host, _, err := net.SplitHostPort(addr.String())
		if err != nil {
			return net.ParseIP(addr.String())
		}
		return net.ParseIP(host)
	}
}

func peerFromIP(ip net.IP) proto.Peer {
	var p proto.Peer
	if ip == nil {
		return p
	}
	if v4 := ip.To4(); v4 != nil {
		copy(p[12:], v4)
		return p
	}
	copy(p[:], ip.To16())
	return p
}
