package ber

import (
	"encoding/hex"
	"fmt"
	"math"
	"net"
	"net/netip"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/geekxflood/proteus/internal/asn1"
	"github.com/geekxflood/proteus/internal/types"
)

// EncodeValue encodes a getter result as content bytes for the given object
// type tag.
//
// Accepted Go values per type:
//
//	INTEGER                          signed and unsigned integers
//	OCTET STRING, OPAQUE, NSAPADDRESS []byte, string
//	NULL                             nil
//	OBJECT IDENTIFIER                types.OID, dotted string
//	IPADDRESS                        net.IP, netip.Addr, [4]byte, dotted string
//	COUNTER, GAUGE                   non-negative integers up to 2^32-1
//	TIMETICKS                        as COUNTER, or time.Duration
func EncodeValue(tag byte, v any) ([]byte, error) {
	switch tag {
	case types.TypeInteger:
		i, err := toInt64(v)
		if err != nil {
			return nil, err
		}
		return EncodeInteger(i), nil

	case types.TypeOctetString, types.TypeOpaque, types.TypeNsapAddress:
		switch s := v.(type) {
		case []byte:
			return EncodeOctetString(s), nil
		case string:
			return []byte(s), nil
		}

	case types.TypeNull:
		if v == nil {
			return []byte{}, nil
		}

	case types.TypeObjectIdentifier:
		switch o := v.(type) {
		case types.OID:
			return EncodeOID(o)
		case string:
			oid, err := types.ParseOID(o)
			if err != nil {
				return nil, err
			}
			return EncodeOID(oid)
		}

	case types.TypeIPAddress:
		return encodeIPAddress(v)

	case types.TypeCounter32, types.TypeGauge32, types.TypeTimeTicks:
		if d, ok := v.(time.Duration); ok && tag == types.TypeTimeTicks {
			v = int64(d / (10 * time.Millisecond))
		}
		u, err := toUint32(v)
		if err != nil {
			return nil, err
		}
		return EncodeUnsigned32(u), nil

	default:
		return nil, fmt.Errorf("cannot encode object type 0x%02x: %w", tag, types.ErrInvalidArgument)
	}

	return nil, fmt.Errorf("cannot encode %T as %s: %w", v, types.GetTypeName(tag), types.ErrInvalidArgument)
}

func encodeIPAddress(v any) ([]byte, error) {
	var addr netip.Addr
	switch a := v.(type) {
	case net.IP:
		ip4 := a.To4()
		if ip4 == nil {
			return nil, fmt.Errorf("IpAddress %v is not IPv4: %w", a, types.ErrInvalidArgument)
		}
		return []byte(ip4), nil
	case [4]byte:
		return a[:], nil
	case netip.Addr:
		addr = a
	case string:
		parsed, err := netip.ParseAddr(a)
		if err != nil {
			return nil, fmt.Errorf("IpAddress %q: %w", a, types.ErrInvalidArgument)
		}
		addr = parsed
	default:
		return nil, fmt.Errorf("cannot encode %T as IpAddress: %w", v, types.ErrInvalidArgument)
	}
	addr = addr.Unmap()
	if !addr.Is4() {
		return nil, fmt.Errorf("IpAddress %v is not IPv4: %w", addr, types.ErrInvalidArgument)
	}
	b := addr.As4()
	return b[:], nil
}

func toInt64(v any) (int64, error) {
	switch i := v.(type) {
	case int:
		return int64(i), nil
	case int8:
		return int64(i), nil
	case int16:
		return int64(i), nil
	case int32:
		return int64(i), nil
	case int64:
		return i, nil
	case uint:
		if uint64(i) > math.MaxInt64 {
			break
		}
		return int64(i), nil
	case uint8:
		return int64(i), nil
	case uint16:
		return int64(i), nil
	case uint32:
		return int64(i), nil
	case uint64:
		if i > math.MaxInt64 {
			break
		}
		return int64(i), nil
	default:
		return 0, fmt.Errorf("cannot encode %T as INTEGER: %w", v, types.ErrInvalidArgument)
	}
	return 0, fmt.Errorf("value %v overflows INTEGER: %w", v, types.ErrInvalidArgument)
}

func toUint32(v any) (uint32, error) {
	var i int64
	switch u := v.(type) {
	case uint32:
		return u, nil
	case uint64:
		if u > math.MaxUint32 {
			return 0, fmt.Errorf("value %d exceeds 32 bits: %w", u, types.ErrInvalidArgument)
		}
		return uint32(u), nil
	default:
		var err error
		if i, err = toInt64(v); err != nil {
			return 0, err
		}
	}
	if i < 0 || i > math.MaxUint32 {
		return 0, fmt.Errorf("value %d out of unsigned 32-bit range: %w", i, types.ErrInvalidArgument)
	}
	return uint32(i), nil
}

// DecodeValue decodes content bytes of the given type into a Go value of the
// kind EncodeValue accepts.
func DecodeValue(tag byte, content []byte) (any, error) {
	switch tag {
	case types.TypeInteger:
		return DecodeInteger(content)
	case types.TypeOctetString, types.TypeOpaque, types.TypeNsapAddress:
		return DecodeOctetString(content), nil
	case types.TypeNull, types.TypeNoSuchObject, types.TypeNoSuchInstance, types.TypeEndOfMibView:
		if len(content) != 0 {
			return nil, types.NewParseError(0, "%s carries %d content bytes", types.GetTypeName(tag), len(content))
		}
		return nil, nil
	case types.TypeObjectIdentifier:
		return DecodeOID(content)
	case types.TypeIPAddress:
		if len(content) != 4 {
			return nil, types.NewParseError(0, "IpAddress must be 4 bytes, got %d", len(content))
		}
		return netip.AddrFrom4([4]byte(content)), nil
	case types.TypeCounter32, types.TypeGauge32, types.TypeTimeTicks:
		return DecodeUnsigned32(content)
	default:
		return nil, fmt.Errorf("cannot decode object type 0x%02x: %w", tag, types.ErrUnimplemented)
	}
}

// ParseValue converts a textual value, as found in data files and the
// database, into a Go value for the given type.
func ParseValue(tag byte, s string) (any, error) {
	switch tag {
	case types.TypeInteger:
		i, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("INTEGER %q: %w", s, types.ErrInvalidArgument)
		}
		return i, nil
	case types.TypeOctetString, types.TypeNsapAddress:
		return s, nil
	case types.TypeOpaque:
		b, err := hex.DecodeString(strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("Opaque %q must be hex: %w", s, types.ErrInvalidArgument)
		}
		return b, nil
	case types.TypeNull:
		return nil, nil
	case types.TypeObjectIdentifier:
		return types.ParseOID(s)
	case types.TypeIPAddress:
		addr, err := netip.ParseAddr(strings.TrimSpace(s))
		if err != nil || !addr.Unmap().Is4() {
			return nil, fmt.Errorf("IpAddress %q: %w", s, types.ErrInvalidArgument)
		}
		return addr.Unmap(), nil
	case types.TypeCounter32, types.TypeGauge32, types.TypeTimeTicks:
		u, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%s %q: %w", types.GetTypeName(tag), s, types.ErrInvalidArgument)
		}
		return uint32(u), nil
	default:
		return nil, fmt.Errorf("cannot parse object type 0x%02x: %w", tag, types.ErrInvalidArgument)
	}
}

// FormatValue renders a primitive node for asn1.Dump, decoding the content
// by tag and falling back to hex.
func FormatValue(n *asn1.Node) string {
	v, err := DecodeValue(n.Tag(), n.Data())
	if err != nil {
		return hex.EncodeToString(n.Data())
	}
	switch val := v.(type) {
	case nil:
		return "-"
	case []byte:
		if utf8.Valid(val) && printable(val) {
			return strconv.Quote(string(val))
		}
		return hex.EncodeToString(val)
	case types.OID:
		return val.String()
	default:
		return fmt.Sprintf("%v", val)
	}
}

func printable(b []byte) bool {
	for _, c := range string(b) {
		if !strconv.IsPrint(c) {
			return false
		}
	}
	return true
}
