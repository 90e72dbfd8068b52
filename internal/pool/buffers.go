// Package pool reduces GC pressure on the control-message hot path by
// reusing fixed-size byte buffers instead of allocating one per
// datagram: a 32-byte buffer for wire.Message encode/decode, and a
// 1500-byte buffer for the raw socket read.
package pool

import "sync"

const (
	// ControlMessageSize is the fixed wire size of one control
	// message (see internal/wire).
	ControlMessageSize = 32

	// MaxDatagramSize is the largest input buffer the daemon reads a
	// raw control datagram into before decoding.
	MaxDatagramSize = 1500
)

var controlPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, ControlMessageSize)
		return &buf
	},
}

// GetControlBuffer returns a zeroed 32-byte buffer for encoding or
// decoding one control message.
func GetControlBuffer() []byte {
	bufPtr := controlPool.Get().(*[]byte)
	buf := (*bufPtr)[:ControlMessageSize]
	clear(buf)
	return buf
}

// PutControlBuffer returns buf to the pool. Buffers of an unexpected
// capacity are not pooled.
func PutControlBuffer(buf []byte) {
	if cap(buf) != ControlMessageSize {
		return
	}
	buf = buf[:ControlMessageSize]
	controlPool.Put(&buf)
}

var datagramPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, MaxDatagramSize)
		return &buf
	},
}

// GetDatagramBuffer returns a buffer sized for one raw socket read.
func GetDatagramBuffer() []byte {
	bufPtr := datagramPool.Get().(*[]byte)
	return (*bufPtr)[:MaxDatagramSize]
}

// PutDatagramBuffer returns buf to the pool.
func PutDatagramBuffer(buf []byte) {
	if cap(buf) != MaxDatagramSize {
		return
	}
	buf = buf[:MaxDatagramSize]
	datagramPool.Put(&buf)
}
