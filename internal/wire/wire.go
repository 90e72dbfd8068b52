// Package wire encodes and decodes the 32-byte control-message format
// carried on the ICMP-family socket: a standard 8-byte header (type,
// code, checksum, and a 4-byte data word whose low nibble carries the
// lifetime exponent) followed by the echoed and requested 96-bit
// cookies.
package wire

import (
	"encoding/binary"
	"errors"

	"github.com/ayourtch/ipcookied/internal/proto"
)

var (
	// ErrMessageTooShort indicates fewer than MessageSize bytes were
	// available to decode.
	ErrMessageTooShort = errors.New("control message too short")

	// ErrMessageTooLong indicates more than the maximum accepted
	// input buffer size (1500 bytes) was handed to Decode.
	ErrMessageTooLong = errors.New("control message exceeds maximum input size")

	// ErrWrongProtocol indicates the type byte did not match the
	// registered protocol value.
	ErrWrongProtocol = errors.New("unexpected control message protocol type")

	// ErrUnknownCode indicates a type byte matched but the code byte
	// named neither SET-COOKIE nor SETCOOKIE-NOT-EXPECTED.
	ErrUnknownCode = errors.New("unknown control message code")

	// ErrBadChecksum indicates the Internet checksum over the message
	// did not validate.
	ErrBadChecksum = errors.New("control message checksum mismatch")
)

const (
	// ProtocolType is the ICMP-family type value reserved for this
	// mechanism's control messages.
	ProtocolType = 0x42

	// CodeSetCookie and CodeSetCookieNotExpected are the two control
	// message codes defined by the protocol.
	CodeSetCookie            = 0x01
	CodeSetCookieNotExpected = 0x02

	// MessageSize is the fixed wire length of every control message:
	// an 8-byte header plus two 96-bit cookies.
	MessageSize = 8 + proto.CookieSize + proto.CookieSize

	// MaxInputSize is the largest buffer the daemon will attempt to
	// decode a control message out of; Decode rejects anything larger
	// with ErrMessageTooLong.
	MaxInputSize = 1500

	lifetimeNibbleMask = 0x0F
)

// Message is the decoded form of a control message.
type Message struct {
	Code            uint8
	LifetimeLog2    uint8
	EchoedCookie    proto.Cookie
	RequestedCookie proto.Cookie
}

// Encode serializes msg into the 32-byte wire format, computing the
// Internet checksum over the whole message with the checksum field
// itself zeroed during the calculation.
func Encode(msg Message) [MessageSize]byte {
	var buf [MessageSize]byte
	buf[0] = ProtocolType
	buf[1] = msg.Code
	// buf[2:4] checksum, filled in below.
	buf[4] = msg.LifetimeLog2 & lifetimeNibbleMask
	// buf[5:8] reserved, zero.
	copy(buf[8:8+proto.CookieSize], msg.EchoedCookie[:])
	copy(buf[8+proto.CookieSize:], msg.RequestedCookie[:])

	sum := checksum(buf[:])
	binary.BigEndian.PutUint16(buf[2:4], sum)
	return buf
}

// Decode parses a control message out of b, validating its length,
// protocol type, code, and checksum. Reserved bits in the data word
// and in the three trailing reserved bytes are ignored, per spec,
// regardless of their value.
func Decode(b []byte) (Message, error) {
	if len(b) > MaxInputSize {
		return Message{}, ErrMessageTooLong
	}
	if len(b) < MessageSize {
		return Message{}, ErrMessageTooShort
	}
	b = b[:MessageSize]

	if b[0] != ProtocolType {
		return Message{}, ErrWrongProtocol
	}
	code := b[1]
	if code != CodeSetCookie && code != CodeSetCookieNotExpected {
		return Message{}, ErrUnknownCode
	}

	got := binary.BigEndian.Uint16(b[2:4])
	verify := make([]byte, MessageSize)
	copy(verify, b)
	verify[2] = 0
	verify[3] = 0
	want := checksum(verify)
	if got != want {
		return Message{}, ErrBadChecksum
	}

	var msg Message
	msg.Code = code
	msg.LifetimeLog2 = b[4] & lifetimeNibbleMask
	copy(msg.EchoedCookie[:], b[8:8+proto.CookieSize])
	copy(msg.RequestedCookie[:], b[8+proto.CookieSize:])
	return msg, nil
}

// checksum computes the RFC 1071 Internet checksum over b.
func checksum(b []byte) uint16 {
	var sum uint32
	n := len(b)
	for i := 0; i+1 < n; i += 2 {
		sum += uint32(binary.BigEndian.Uint16(b[i : i+2]))
	}
	if n%2 == 1 {
		sum += uint32(b[n-1]) << 8
	}
	for sum>>16 != 0 {
		sum = (sum & 0xFFFF) + (sum >> 16)
	}
	return ^uint16(sum)
}
