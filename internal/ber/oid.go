package ber

import (
	"fmt"
	"math"

	"github.com/geekxflood/proteus/internal/types"
)

// subidLen returns the number of base-128 digits needed for v.
func subidLen(v uint64) int {
	switch {
	case v < 1<<7:
		return 1
	case v < 1<<14:
		return 2
	case v < 1<<21:
		return 3
	case v < 1<<28:
		return 4
	case v < 1<<35:
		return 5
	default:
		n := 5
		for v >>= 35; v > 0; v >>= 7 {
			n++
		}
		return n
	}
}

func appendSubid(dst []byte, v uint64) []byte {
	for i := subidLen(v) - 1; i > 0; i-- {
		dst = append(dst, byte(v>>(7*uint(i)))|0x80)
	}
	return append(dst, byte(v)&0x7f)
}

// OIDLen returns the content length EncodeOID produces for oid, or 0 if the
// OID cannot be encoded.
func OIDLen(oid types.OID) int {
	if oid.Validate() != nil {
		return 0
	}
	n := subidLen(uint64(oid[0])*40 + uint64(oid[1]))
	for _, arc := range oid[2:] {
		n += subidLen(uint64(arc))
	}
	return n
}

// EncodeOID packs oid as OBJECT IDENTIFIER content. The first two arcs are
// combined as arc0*40+arc1.
func EncodeOID(oid types.OID) ([]byte, error) {
	if err := oid.Validate(); err != nil {
		return nil, err
	}
	out := make([]byte, 0, OIDLen(oid))
	out = appendSubid(out, uint64(oid[0])*40+uint64(oid[1]))
	for _, arc := range oid[2:] {
		out = appendSubid(out, uint64(arc))
	}
	return out, nil
}

// DecodeOID unpacks OBJECT IDENTIFIER content.
func DecodeOID(data []byte) (types.OID, error) {
	if len(data) == 0 {
		return nil, types.NewParseError(0, "empty object identifier")
	}

	oid := make(types.OID, 0, 8)
	var v uint64
	start := 0
	for i, b := range data {
		if i == start && b == 0x80 {
			return nil, types.NewParseError(i, "sub-identifier has a leading 0x80 pad")
		}
		v = v<<7 | uint64(b&0x7f)
		if v > math.MaxUint32+80 {
			return nil, types.NewParseError(i, "sub-identifier exceeds 32 bits")
		}
		if b&0x80 != 0 {
			continue
		}

		if len(oid) == 0 {
			switch {
			case v < 40:
				oid = append(oid, 0, uint32(v))
			case v < 80:
				oid = append(oid, 1, uint32(v-40))
			default:
				oid = append(oid, 2, uint32(v-80))
			}
		} else {
			if v > math.MaxUint32 {
				return nil, types.NewParseError(i, "sub-identifier exceeds 32 bits")
			}
			oid = append(oid, uint32(v))
		}
		if len(oid) > types.MaxOIDArcs {
			return nil, types.NewParseError(i, "object identifier exceeds %d arcs", types.MaxOIDArcs)
		}
		v = 0
		start = i + 1
	}

	if start != len(data) {
		return nil, types.NewParseError(len(data), "object identifier truncated inside a sub-identifier")
	}
	return oid, nil
}

// MustEncodeOID is like EncodeOID but panics on error.
func MustEncodeOID(oid types.OID) []byte {
	b, err := EncodeOID(oid)
	if err != nil {
		panic(fmt.Sprintf("encode OID %s: %v", oid, err))
	}
	return b
}
