// Package sharedstate lays out and maps FullState: the rotating
// secret pair followed by the cookie cache's entry array, in a single
// region the daemon initializes and one or more shim processes attach
// to read-mostly. The region is either a file-backed mmap (multi-
// process deployment) or a plain heap allocation (single-process
// deployment); both paths hand back the same Go types because
// secret.State and entry.CacheEntry are pointer-free, fixed-layout
// structs, so reinterpreting a raw byte slice via unsafe.Slice is
// safe either way.
package sharedstate

import (
	"fmt"
	"os"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/ayourtch/ipcookied/internal/cookiecache"
	"github.com/ayourtch/ipcookied/internal/entry"
	"github.com/ayourtch/ipcookied/internal/secret"
)

// FullState is the daemon's and shims' shared view of the world: the
// rotating secret pair, and the backing storage for the cookie cache.
// Cache itself (the sharded index) is built locally by each attaching
// process over the same Entries slice; the index structure is not
// shared, only the slot contents are.
type FullState struct {
	Secret  *secret.State
	Entries []entry.CacheEntry
}

// region owns the memory FullState's fields point into, so Close can
// release it the right way for however it was obtained.
type region struct {
	mapped []byte // nil if heap-allocated
	file   *os.File
}

// Handle is a live attachment to a FullState region.
type Handle struct {
	State *FullState
	Cache *cookiecache.Cache
	region region
}

func layoutSize(entryCount int) uintptr {
	return unsafe.Sizeof(secret.State{}) + uintptr(entryCount)*unsafe.Sizeof(entry.CacheEntry{})
}

// InitAnonymous allocates FullState on the Go heap, for a
// single-process deployment where the daemon and shims are goroutines
// sharing one address space rather than separate processes.
func InitAnonymous(entryCount, shardCount int, rotationInterval time.Duration) (*Handle, error) {
	st := &secret.State{}
	if err := st.Init(rotationInterval); err != nil {
		return nil, fmt.Errorf("sharedstate: init secret: %w", err)
	}
	entries := make([]entry.CacheEntry, entryCount)

	fs := &FullState{Secret: st, Entries: entries}
	return &Handle{
		State: fs,
		Cache: cookiecache.New(entries, shardCount),
	}, nil
}

// InitFile creates (or truncates) a file at path sized to hold
// FullState for entryCount entries, maps it, and initializes a fresh
// secret. The daemon calls this exactly once at startup.
func InitFile(path string, entryCount, shardCount int, rotationInterval time.Duration) (*Handle, error) {
	size := layoutSize(entryCount)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("sharedstate: open %s: %w", path, err)
	}
	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		return nil, fmt.Errorf("sharedstate: truncate %s: %w", path, err)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("sharedstate: mmap %s: %w", path, err)
	}

	fs := viewOf(data, entryCount)
	if err := fs.Secret.Init(rotationInterval); err != nil {
		unix.Munmap(data)
		f.Close()
		return nil, fmt.Errorf("sharedstate: init secret: %w", err)
	}

	return &Handle{
		State:  fs,
		Cache:  cookiecache.New(fs.Entries, shardCount),
		region: region{mapped: data, file: f},
	}, nil
}

// AttachFile maps an existing region created by InitFile, without
// reinitializing the secret state. Used by shim processes joining a
// daemon that is already running.
func AttachFile(path string, entryCount, shardCount int) (*Handle, error) {
	size := layoutSize(entryCount)

	f, err := os.OpenFile(path, os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("sharedstate: open %s: %w", path, err)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("sharedstate: mmap %s: %w", path, err)
	}

	fs := viewOf(data, entryCount)
	return &Handle{
		State:  fs,
		Cache:  cookiecache.New(fs.Entries, shardCount),
		region: region{mapped: data, file: f},
	}, nil
}

// viewOf reinterprets a raw mmap'd byte slice as a FullState view: a
// *secret.State at the front, followed by an entry.CacheEntry array.
// Both types are pointer-free and fixed-size, so this aliasing never
// confuses the garbage collector — there is nothing in shared memory
// for it to scan.
func viewOf(data []byte, entryCount int) *FullState {
	secretPtr := (*secret.State)(unsafe.Pointer(&data[0]))
	entriesOff := unsafe.Sizeof(secret.State{})
	entriesPtr := (*entry.CacheEntry)(unsafe.Pointer(&data[entriesOff]))
	entries := unsafe.Slice(entriesPtr, entryCount)
	return &FullState{Secret: secretPtr, Entries: entries}
}

// Close unmaps and/or closes whatever backing resource the handle
// owns. Safe to call on a heap-backed handle, where it is a no-op.
func (h *Handle) Close() error {
	if h.region.mapped != nil {
		if err := unix.Munmap(h.region.mapped); err != nil {
			return err
		}
	}
	if h.region.file != nil {
		return h.region.file.Close()
	}
	return nil
}
