package ber

import (
	"math"

	"github.com/geekxflood/proteus/internal/types"
)

// maxIntegerBytes bounds INTEGER content to the width of an int64.
const maxIntegerBytes = 8

// DecodeInteger decodes two's-complement INTEGER content, sign-extending
// the most significant byte.
func DecodeInteger(data []byte) (int64, error) {
	if len(data) == 0 {
		return 0, types.NewParseError(0, "empty integer")
	}
	if len(data) > maxIntegerBytes {
		return 0, types.NewParseError(0, "integer of %d bytes exceeds %d", len(data), maxIntegerBytes)
	}

	v := int64(int8(data[0]))
	for _, b := range data[1:] {
		v = v<<8 | int64(b)
	}
	return v, nil
}

// IntegerLen returns the minimal two's-complement content length of v.
func IntegerLen(v int64) int {
	n := 1
	for v > 127 || v < -128 {
		n++
		v >>= 8
	}
	return n
}

// EncodeInteger encodes v as minimal two's-complement INTEGER content.
// A non-negative value whose top bit would be set gets a leading 0x00.
func EncodeInteger(v int64) []byte {
	n := IntegerLen(v)
	out := make([]byte, n)
	for i := n - 1; i >= 0; i-- {
		out[i] = byte(v)
		v >>= 8
	}
	return out
}

// DecodeUnsigned32 decodes Counter32, Gauge32 and TimeTicks content.
// Up to five bytes are accepted so that a 0x00 sign pad may precede a
// full 32-bit value.
func DecodeUnsigned32(data []byte) (uint32, error) {
	if len(data) == 0 {
		return 0, types.NewParseError(0, "empty unsigned integer")
	}
	if len(data) > 5 || (len(data) == 5 && data[0] != 0) {
		return 0, types.NewParseError(0, "unsigned integer of %d bytes exceeds 32 bits", len(data))
	}

	var v uint64
	for _, b := range data {
		v = v<<8 | uint64(b)
	}
	if v > math.MaxUint32 {
		return 0, types.NewParseError(0, "unsigned integer %d exceeds 32 bits", v)
	}
	return uint32(v), nil
}

// EncodeUnsigned32 encodes v as minimal non-negative INTEGER content.
func EncodeUnsigned32(v uint32) []byte {
	return EncodeInteger(int64(v))
}

// DecodeOctetString returns an owned copy of exactly the content octets.
func DecodeOctetString(data []byte) []byte {
	out := make([]byte, len(data))
	copy(out, data)
	return out
}

// EncodeOctetString returns OCTET STRING content for s. Every byte is kept,
// embedded zero bytes included.
func EncodeOctetString(s []byte) []byte {
	return DecodeOctetString(s)
}
