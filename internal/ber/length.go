// Package ber implements the Basic Encoding Rules subset used by SNMP:
// length fields, INTEGER, OCTET STRING and OBJECT IDENTIFIER primitives,
// and whole-tree decode/encode of asn1.Node trees.
//
// Decoders never read past the slice they are given; every failure
// unwraps to types.ErrMalformedEncoding.
package ber

import (
	"math"

	"github.com/geekxflood/proteus/internal/types"
)

// maxLengthBytes is the widest long-form length accepted, one machine word.
const maxLengthBytes = 8

// DecodeLength decodes a BER length field at the start of data and returns
// the length value and the number of bytes the field occupies.
func DecodeLength(data []byte) (int, int, error) {
	if len(data) == 0 {
		return 0, 0, types.NewParseError(0, "missing length field")
	}

	first := data[0]
	if first&0x80 == 0 {
		return int(first), 1, nil
	}

	count := int(first & 0x7f)
	if count == 0 {
		return 0, 0, types.NewParseError(0, "indefinite length form is not supported")
	}
	if count > maxLengthBytes {
		return 0, 0, types.NewParseError(0, "length field of %d bytes exceeds %d", count, maxLengthBytes)
	}
	if len(data) < 1+count {
		return 0, 0, types.NewParseError(len(data), "length field truncated: need %d bytes, have %d", count, len(data)-1)
	}

	var length uint64
	for _, b := range data[1 : 1+count] {
		length = length<<8 | uint64(b)
	}
	if length > math.MaxInt {
		return 0, 0, types.NewParseError(0, "length %d does not fit an int", length)
	}
	return int(length), 1 + count, nil
}

// LengthLen returns the number of bytes EncodeLength writes for n.
func LengthLen(n int) int {
	if n <= 0x7f {
		return 1
	}
	size := 1
	for v := uint64(n); v > 0; v >>= 8 {
		size++
	}
	return size
}

// EncodeLength encodes n in the shortest BER length form.
func EncodeLength(n int) []byte {
	return AppendLength(make([]byte, 0, LengthLen(n)), n)
}

// AppendLength appends the BER length field for n to dst.
func AppendLength(dst []byte, n int) []byte {
	if n < 0 {
		n = 0
	}
	if n <= 0x7f {
		return append(dst, byte(n))
	}
	count := LengthLen(n) - 1
	dst = append(dst, 0x80|byte(count))
	for i := count - 1; i >= 0; i-- {
		dst = append(dst, byte(uint64(n)>>(8*uint(i))))
	}
	return dst
}
