package entry

import (
	"sync"
	"testing"

	"github.com/ayourtch/ipcookied/internal/proto"
)

func TestResetAndRead(t *testing.T) {
	var e CacheEntry
	var p proto.Peer
	p[0] = 9
	var c proto.Cookie
	c[0] = 0xAB
	e.Reset(p, c, proto.FlagExpectingSetCookie, proto.Timestamp(100))

	if e.Peer() != p {
		t.Error("Peer mismatch after Reset")
	}
	if e.Cookie() != c {
		t.Error("Cookie mismatch after Reset")
	}
	status, mtime := e.Status()
	if status != proto.FlagExpectingSetCookie || mtime != 100 {
		t.Errorf("Status() = (%x,%d), want (%x,100)", status, mtime, proto.FlagExpectingSetCookie)
	}
}

func TestSetCookieConcurrentReaders(t *testing.T) {
	var e CacheEntry
	var c1, c2 proto.Cookie
	c1[0] = 1
	c2[0] = 2
	e.Reset(proto.Peer{}, c1, 0, 0)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				got := e.Cookie()
				if got != c1 && got != c2 {
					t.Errorf("torn cookie read: %x", got)
				}
			}
		}
	}()

	for i := 0; i < 1000; i++ {
		if i%2 == 0 {
			e.SetCookie(c2)
		} else {
			e.SetCookie(c1)
		}
	}
	close(stop)
	wg.Wait()
}

func TestPinUnpin(t *testing.T) {
	var e CacheEntry
	if e.Pinned() {
		t.Fatal("fresh entry must not be pinned")
	}
	e.Pin()
	if !e.Pinned() {
		t.Error("expected Pinned() after Pin()")
	}
	e.Pin()
	e.Unpin()
	if !e.Pinned() {
		t.Error("expected Pinned() to stay true with one outstanding pin")
	}
	e.Unpin()
	if e.Pinned() {
		t.Error("expected Pinned() false once every Pin is matched by an Unpin")
	}
}

func TestApplyTimerConcurrentCAS(t *testing.T) {
	var e CacheEntry
	e.Reset(proto.Peer{}, proto.Cookie{}, 0, 0)

	var wg sync.WaitGroup
	const n = 100
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			e.ApplyTimer(func(status uint8, mtime proto.Timestamp) (uint8, proto.Timestamp) {
				return status + 1, mtime
			})
		}()
	}
	wg.Wait()

	status, _ := e.Status()
	if status != n {
		t.Errorf("status after %d concurrent increments = %d, want %d", n, status, n)
	}
}
