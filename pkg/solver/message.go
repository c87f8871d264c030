package solver

import (
	"encoding/binary"
	"math/bits"
)

const (
	SaltLength = 8
	Separator  = ':'
)

// Message returns identifier ':' LE64(salt). Only the trailing SaltLength
// bytes change while solving.
func Message(identifier string, salt uint64) []byte {
	msg := make([]byte, len(identifier)+1+SaltLength)
	n := copy(msg, identifier)
	msg[n] = Separator
	binary.LittleEndian.PutUint64(msg[n+1:], salt)
	return msg
}

// MessageSalt decodes the salt from the tail of a message built by Message.
func MessageSalt(msg []byte) uint64 {
	if len(msg) < SaltLength {
		return 0
	}
	return binary.LittleEndian.Uint64(msg[len(msg)-SaltLength:])
}

// IncrementSalt adds one to the little-endian counter in the last
// SaltLength bytes of msg, carrying into higher-order bytes.
func IncrementSalt(msg []byte) {
	tail := msg[len(msg)-SaltLength:]
	for i := range tail {
		if tail[i] != 0xff {
			tail[i]++
			return
		}
		tail[i] = 0
	}
}

// LeadingZeroBits counts the zero bits contiguous from the most significant
// bit of digest[0].
func LeadingZeroBits(digest []byte) uint32 {
	var total uint32
	for _, b := range digest {
		n := bits.LeadingZeros8(b)
		total += uint32(n)
		if n < 8 {
			break
		}
	}
	return total
}
