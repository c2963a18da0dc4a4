package ber

import (
	"encoding/hex"
	"errors"
	"math"
	"math/rand/v2"
	"net"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geekxflood/proteus/internal/asn1"
	"github.com/geekxflood/proteus/internal/types"
)

func mustHex(t testing.TB, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(strings.ReplaceAll(s, " ", ""))
	require.NoError(t, err)
	return b
}

func TestLengthRoundTrip(t *testing.T) {
	values := []int{0, 1, 127, 128, 255, 256, 65535, 65536, 1 << 24, math.MaxInt32, math.MaxInt}
	for _, n := range values {
		enc := EncodeLength(n)
		assert.Equal(t, LengthLen(n), len(enc), "n=%d", n)

		if n <= 127 {
			assert.Len(t, enc, 1)
		} else {
			assert.NotZero(t, enc[0]&0x80)
			assert.Equal(t, len(enc)-1, int(enc[0]&0x7f))
			assert.NotZero(t, enc[1], "long form must be minimal")
		}

		got, consumed, err := DecodeLength(enc)
		require.NoError(t, err, "n=%d", n)
		assert.Equal(t, n, got)
		assert.Equal(t, len(enc), consumed)
	}
}

func TestLengthEncoding(t *testing.T) {
	assert.Equal(t, []byte{0x7f}, EncodeLength(127))
	assert.Equal(t, []byte{0x81, 0x80}, EncodeLength(128))
	assert.Equal(t, []byte{0x82, 0x01, 0x00}, EncodeLength(256))
}

func TestDecodeLengthErrors(t *testing.T) {
	tests := map[string][]byte{
		"empty":            {},
		"indefinite":       {0x80},
		"too wide":         {0x89, 1, 1, 1, 1, 1, 1, 1, 1, 1},
		"truncated":        {0x82, 0x01},
		"reserved":         {0xff},
		"exceeds int":      {0x88, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
		"truncated single": {0x81},
	}
	for name, input := range tests {
		t.Run(name, func(t *testing.T) {
			_, _, err := DecodeLength(input)
			require.Error(t, err)
			assert.True(t, errors.Is(err, types.ErrMalformedEncoding))
		})
	}
}

func TestIntegerEncoding(t *testing.T) {
	tests := []struct {
		value int64
		want  string
	}{
		{0, "00"},
		{1, "01"},
		{127, "7f"},
		// Strict two's complement: the sign bit forces a 0x00 pad.
		{128, "0080"},
		{255, "00ff"},
		{256, "0100"},
		{-1, "ff"},
		{-128, "80"},
		{-129, "ff7f"},
		{0x7f501aff, "7f501aff"},
		{0xffffffff, "00ffffffff"},
		{math.MaxInt64, "7fffffffffffffff"},
		{math.MinInt64, "8000000000000000"},
	}
	for _, tt := range tests {
		enc := EncodeInteger(tt.value)
		assert.Equal(t, tt.want, hex.EncodeToString(enc), "value %d", tt.value)
		assert.Equal(t, len(enc), IntegerLen(tt.value))

		got, err := DecodeInteger(enc)
		require.NoError(t, err)
		assert.Equal(t, tt.value, got)
	}
}

func TestDecodeIntegerSignExtends(t *testing.T) {
	v, err := DecodeInteger([]byte{0x80})
	require.NoError(t, err)
	assert.Equal(t, int64(-128), v)

	v, err = DecodeInteger([]byte{0xff, 0xfe})
	require.NoError(t, err)
	assert.Equal(t, int64(-2), v)
}

func TestDecodeIntegerErrors(t *testing.T) {
	_, err := DecodeInteger(nil)
	assert.ErrorIs(t, err, types.ErrMalformedEncoding)

	_, err = DecodeInteger(make([]byte, 9))
	assert.ErrorIs(t, err, types.ErrMalformedEncoding)
}

func TestUnsigned32(t *testing.T) {
	for _, v := range []uint32{0, 1, 127, 128, 65535, 1 << 31, math.MaxUint32} {
		got, err := DecodeUnsigned32(EncodeUnsigned32(v))
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}

	// Agents that skip the sign pad are still accepted.
	got, err := DecodeUnsigned32([]byte{0xff, 0xff, 0xff, 0xff})
	require.NoError(t, err)
	assert.Equal(t, uint32(math.MaxUint32), got)

	_, err = DecodeUnsigned32([]byte{0x01, 0x00, 0x00, 0x00, 0x00})
	assert.ErrorIs(t, err, types.ErrMalformedEncoding)
	_, err = DecodeUnsigned32(nil)
	assert.ErrorIs(t, err, types.ErrMalformedEncoding)
}

func TestOctetStringIsBinarySafe(t *testing.T) {
	input := []byte{'a', 0x00, 'b', 0xff}
	enc := EncodeOctetString(input)
	assert.Equal(t, input, enc)

	dec := DecodeOctetString(enc)
	assert.Equal(t, input, dec)
	dec[0] = 'z'
	assert.Equal(t, byte('a'), enc[0])
}

func TestOIDEncoding(t *testing.T) {
	tests := []struct {
		oid  string
		want string
	}{
		{"1.3.6.1.2.1.1.1.0", "2b06010201010100"},
		{"1.3.14.3.4.26", "2b0e03041a"},
		{"1.3.14.34334.2.26", "2b0e828c1e021a"},
		{"1.3.6.1.4.1.2021", "2b060104018f65"},
		{"0.0", "00"},
		{"2.999.3", "8837 03"},
	}
	for _, tt := range tests {
		oid := types.MustParseOID(tt.oid)
		enc, err := EncodeOID(oid)
		require.NoError(t, err, tt.oid)
		assert.Equal(t, strings.ReplaceAll(tt.want, " ", ""), hex.EncodeToString(enc), tt.oid)
		assert.Equal(t, len(enc), OIDLen(oid))

		dec, err := DecodeOID(enc)
		require.NoError(t, err)
		assert.Equal(t, oid, dec)
	}
}

func TestOIDArcWidths(t *testing.T) {
	widths := []struct {
		arc  uint32
		want int
	}{
		{127, 1},
		{128, 2},
		{1<<14 - 1, 2},
		{1 << 14, 3},
		{1 << 21, 4},
		{1<<28 - 1, 4},
		{1 << 28, 5},
		{math.MaxUint32, 5},
	}
	for _, w := range widths {
		oid := types.OID{1, 3, w.arc}
		assert.Equal(t, 1+w.want, OIDLen(oid), "arc %d", w.arc)
		enc, err := EncodeOID(oid)
		require.NoError(t, err)
		assert.Len(t, enc, 1+w.want)
	}
}

func TestOIDRoundTripRandom(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 2000; i++ {
		n := 2 + rng.IntN(types.MaxOIDArcs-1)
		oid := make(types.OID, n)
		oid[0] = uint32(rng.IntN(3))
		if oid[0] < 2 {
			oid[1] = uint32(rng.IntN(40))
		} else {
			oid[1] = uint32(rng.IntN(1 << 28))
		}
		for j := 2; j < n; j++ {
			oid[j] = uint32(rng.IntN(1 << 28))
		}

		enc, err := EncodeOID(oid)
		require.NoError(t, err)
		require.Equal(t, len(enc), OIDLen(oid))

		dec, err := DecodeOID(enc)
		require.NoError(t, err)
		require.Equal(t, oid, dec)
	}
}

func TestEncodeOIDErrors(t *testing.T) {
	_, err := EncodeOID(types.OID{1})
	assert.ErrorIs(t, err, types.ErrInvalidArgument)
	_, err = EncodeOID(types.OID{1, 40})
	assert.ErrorIs(t, err, types.ErrInvalidArgument)
	_, err = EncodeOID(make(types.OID, types.MaxOIDArcs+1))
	assert.ErrorIs(t, err, types.ErrInvalidArgument)
	assert.Zero(t, OIDLen(types.OID{7, 1}))
}

func TestDecodeOIDErrors(t *testing.T) {
	tests := map[string][]byte{
		"empty":        {},
		"truncated":    {0x2b, 0x82},
		"leading pad":  {0x2b, 0x80, 0x01},
		"arc overflow": {0x2b, 0x90, 0x80, 0x80, 0x80, 0x00},
		"too many":     append([]byte{0x2b}, make([]byte, types.MaxOIDArcs)...),
	}
	for name, input := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeOID(input)
			assert.ErrorIs(t, err, types.ErrMalformedEncoding)
		})
	}
}

const getRequestHex = "30 33 02 01 01 04 06 70 75 62 6c 69 63 a0 26 02 04 7f 50 1a ff 02 01 00 02 01 00" +
	" 30 18 30 09 06 05 2b 0e 03 04 1a 05 00 30 0b 06 07 2b 0e 82 8c 1e 02 1a 05 00"

func TestDecodeTreeGetRequest(t *testing.T) {
	packet := mustHex(t, getRequestHex)

	root, consumed, err := DecodeTree(packet)
	require.NoError(t, err)
	assert.Equal(t, len(packet), consumed)

	require.Equal(t, byte(types.TypeSequence), root.Tag())
	require.Equal(t, 3, root.NumChildren())

	version, err := DecodeInteger(root.Child(0).Data())
	require.NoError(t, err)
	assert.Equal(t, int64(types.VersionSNMPv2c), version)
	assert.Equal(t, "public", string(root.Child(1).Data()))
	assert.Equal(t, asn1.Borrowed, root.Child(1).Ownership())

	pdu := root.Child(2)
	assert.Equal(t, byte(types.PDUGetRequest), pdu.Tag())
	assert.Same(t, root, pdu.Parent())
	require.Equal(t, 4, pdu.NumChildren())

	requestID, err := DecodeInteger(pdu.Child(0).Data())
	require.NoError(t, err)
	assert.Equal(t, int64(2136495359), requestID)

	for _, i := range []int{1, 2} {
		v, err := DecodeInteger(pdu.Child(i).Data())
		require.NoError(t, err)
		assert.Zero(t, v)
	}

	varbinds := pdu.Child(3)
	require.Equal(t, 2, varbinds.NumChildren())
	var oids []string
	for _, vb := range varbinds.Children() {
		require.Equal(t, 2, vb.NumChildren())
		oid, err := DecodeOID(vb.Child(0).Data())
		require.NoError(t, err)
		oids = append(oids, oid.String())
		assert.Equal(t, byte(types.TypeNull), vb.Child(1).Tag())
	}
	assert.Equal(t, []string{"1.3.14.3.4.26", "1.3.14.34334.2.26"}, oids)

	enc, err := EncodeTree(root)
	require.NoError(t, err)
	assert.Equal(t, packet, enc)
}

func TestDecodeTreeTruncated(t *testing.T) {
	packet := mustHex(t, getRequestHex)
	for i := 0; i < len(packet); i++ {
		_, _, err := DecodeTree(packet[:i])
		require.Error(t, err, "prefix %d", i)
		assert.True(t, errors.Is(err, types.ErrMalformedEncoding), "prefix %d: %v", i, err)
	}
}

func TestDecodeTreeLengthBeyondInput(t *testing.T) {
	// The sequence claims 5 content bytes, only 2 follow.
	_, _, err := DecodeTree([]byte{0x30, 0x05, 0x05, 0x00})
	assert.ErrorIs(t, err, types.ErrMalformedEncoding)

	// A child claims more than its parent holds.
	_, _, err = DecodeTree([]byte{0x30, 0x02, 0x04, 0x03, 'a', 'b', 'c'})
	assert.ErrorIs(t, err, types.ErrMalformedEncoding)
}

func TestDecodeTreeHighTag(t *testing.T) {
	_, _, err := DecodeTree([]byte{0x1f, 0x01, 0x00})
	assert.ErrorIs(t, err, types.ErrMalformedEncoding)
}

func TestDecodeTreeDepthLimit(t *testing.T) {
	nested := []byte{0x05, 0x00}
	for i := 0; i <= MaxDepth; i++ {
		nested = append(append([]byte{0x30}, EncodeLength(len(nested))...), nested...)
	}
	_, _, err := DecodeTree(nested)
	assert.ErrorIs(t, err, types.ErrMalformedEncoding)

	_, _, err = DecodeTree(nested[2:])
	assert.NoError(t, err)
}

func TestDecodeTreeReportsConsumed(t *testing.T) {
	data := []byte{0x02, 0x01, 0x05, 0xde, 0xad}
	node, consumed, err := DecodeTree(data)
	require.NoError(t, err)
	assert.Equal(t, 3, consumed)
	assert.Equal(t, []byte{0x05}, node.Data())
}

func TestTreeRoundTrip(t *testing.T) {
	root := asn1.MustNewNode(nil, types.TypeSequence, nil, asn1.Owned)
	asn1.MustNewNode(root, types.TypeInteger, EncodeInteger(1), asn1.Owned)
	asn1.MustNewNode(root, types.TypeOctetString, []byte(strings.Repeat("x", 300)), asn1.Owned)
	pdu := asn1.MustNewNode(root, types.PDUGetResponse, nil, asn1.Owned)
	asn1.MustNewNode(pdu, types.TypeInteger, EncodeInteger(42), asn1.Owned)
	asn1.MustNewNode(pdu, types.TypeSequence, nil, asn1.Owned)
	vbs := asn1.MustNewNode(pdu, types.TypeSequence, nil, asn1.Owned)
	vb := asn1.MustNewNode(vbs, types.TypeSequence, nil, asn1.Owned)
	asn1.MustNewNode(vb, types.TypeObjectIdentifier, MustEncodeOID(types.MustParseOID("1.3.6.1.2.1.1.5.0")), asn1.Owned)
	asn1.MustNewNode(vb, types.TypeNoSuchObject, nil, asn1.Owned)

	enc, err := EncodeTree(root)
	require.NoError(t, err)
	assert.Equal(t, len(enc), root.EncodedSize())

	dec, consumed, err := DecodeTree(enc)
	require.NoError(t, err)
	assert.Equal(t, len(enc), consumed)
	assert.True(t, asn1.Equal(root, dec))
}

func TestEncodeTreeRecomputesSize(t *testing.T) {
	root := asn1.MustNewNode(nil, types.TypeSequence, nil, asn1.Owned)
	_, err := EncodeTree(root)
	require.NoError(t, err)
	assert.Equal(t, 2, root.EncodedSize())

	asn1.MustNewNode(root, types.TypeNull, nil, asn1.Owned)
	assert.Zero(t, root.EncodedSize())

	enc, err := EncodeTree(root)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x30, 0x02, 0x05, 0x00}, enc)
}

func TestEncodeTreeErrors(t *testing.T) {
	_, err := EncodeTree(nil)
	assert.ErrorIs(t, err, types.ErrInvalidArgument)

	root := asn1.MustNewNode(nil, 0x3f, nil, asn1.Owned)
	_, err = EncodeTree(root)
	assert.ErrorIs(t, err, types.ErrInvalidArgument)
}

func TestEncodeValue(t *testing.T) {
	tests := []struct {
		name  string
		tag   byte
		value any
		want  string
	}{
		{"integer", types.TypeInteger, 300, "012c"},
		{"negative integer", types.TypeInteger, int32(-2), "fe"},
		{"uint8 integer", types.TypeInteger, uint8(200), "00c8"},
		{"string", types.TypeOctetString, "test", "74657374"},
		{"bytes", types.TypeOctetString, []byte{0, 1}, "0001"},
		{"null", types.TypeNull, nil, ""},
		{"oid", types.TypeObjectIdentifier, types.MustParseOID("1.3.6.1"), "2b0601"},
		{"oid string", types.TypeObjectIdentifier, "1.3.6.1", "2b0601"},
		{"ip string", types.TypeIPAddress, "192.168.1.1", "c0a80101"},
		{"ip net", types.TypeIPAddress, net.ParseIP("10.0.0.1"), "0a000001"},
		{"ip netip", types.TypeIPAddress, netip.MustParseAddr("127.0.0.1"), "7f000001"},
		{"counter", types.TypeCounter32, uint32(math.MaxUint32), "00ffffffff"},
		{"gauge", types.TypeGauge32, 5, "05"},
		{"timeticks duration", types.TypeTimeTicks, 3 * time.Second, "012c"},
		{"opaque", types.TypeOpaque, []byte{0xde, 0xad}, "dead"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EncodeValue(tt.tag, tt.value)
			require.NoError(t, err)
			assert.Equal(t, tt.want, hex.EncodeToString(got))
		})
	}
}

func TestEncodeValueErrors(t *testing.T) {
	tests := []struct {
		name  string
		tag   byte
		value any
	}{
		{"integer from string", types.TypeInteger, "5"},
		{"uint64 overflow", types.TypeInteger, uint64(math.MaxUint64)},
		{"negative counter", types.TypeCounter32, -1},
		{"counter overflow", types.TypeCounter32, int64(math.MaxUint32 + 1)},
		{"ipv6", types.TypeIPAddress, "::1"},
		{"null with value", types.TypeNull, 1},
		{"octet from int", types.TypeOctetString, 1},
		{"unknown tag", 0x46, uint64(1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := EncodeValue(tt.tag, tt.value)
			assert.ErrorIs(t, err, types.ErrInvalidArgument)
		})
	}
}

func TestParseValue(t *testing.T) {
	v, err := ParseValue(types.TypeInteger, "-42")
	require.NoError(t, err)
	assert.Equal(t, int64(-42), v)

	v, err = ParseValue(types.TypeGauge32, "4294967295")
	require.NoError(t, err)
	assert.Equal(t, uint32(math.MaxUint32), v)

	v, err = ParseValue(types.TypeIPAddress, "10.1.2.3")
	require.NoError(t, err)
	enc, err := EncodeValue(types.TypeIPAddress, v)
	require.NoError(t, err)
	assert.Equal(t, []byte{10, 1, 2, 3}, enc)

	v, err = ParseValue(types.TypeOpaque, "beef")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xbe, 0xef}, v)

	_, err = ParseValue(types.TypeCounter32, "-1")
	assert.ErrorIs(t, err, types.ErrInvalidArgument)
}

func TestDecodeValue(t *testing.T) {
	v, err := DecodeValue(types.TypeIPAddress, []byte{192, 168, 0, 1})
	require.NoError(t, err)
	assert.Equal(t, netip.MustParseAddr("192.168.0.1"), v)

	v, err = DecodeValue(types.TypeTimeTicks, []byte{0x01, 0x2c})
	require.NoError(t, err)
	assert.Equal(t, uint32(300), v)

	_, err = DecodeValue(types.TypeIPAddress, []byte{1, 2})
	assert.ErrorIs(t, err, types.ErrMalformedEncoding)
}

func TestFormatValue(t *testing.T) {
	str := asn1.MustNewNode(nil, types.TypeOctetString, []byte("public"), asn1.Owned)
	assert.Equal(t, `"public"`, FormatValue(str))

	bin := asn1.MustNewNode(nil, types.TypeOctetString, []byte{0x00, 0x01}, asn1.Owned)
	assert.Equal(t, "0001", FormatValue(bin))

	oid := asn1.MustNewNode(nil, types.TypeObjectIdentifier, mustHex(t, "2b0e828c1e021a"), asn1.Owned)
	assert.Equal(t, "1.3.14.34334.2.26", FormatValue(oid))

	null := asn1.MustNewNode(nil, types.TypeNull, nil, asn1.Owned)
	assert.Equal(t, "-", FormatValue(null))
}

func FuzzDecodeTree(f *testing.F) {
	f.Add(mustHex(f, getRequestHex))
	f.Add([]byte{0x30, 0x00})
	f.Add([]byte{0x30, 0x84, 0xff, 0xff, 0xff, 0xff})
	f.Add([]byte{0x06, 0x03, 0x2b, 0x82, 0x8c})

	f.Fuzz(func(t *testing.T, data []byte) {
		root, consumed, err := DecodeTree(data)
		if err != nil {
			return
		}
		if consumed > len(data) {
			t.Fatalf("consumed %d of %d bytes", consumed, len(data))
		}
		enc, err := EncodeTree(root)
		if err != nil {
			t.Fatalf("re-encode failed: %v", err)
		}
		if len(enc) > consumed {
			t.Fatalf("re-encoded %d bytes from %d consumed", len(enc), consumed)
		}
		_ = asn1.Traverse(root, func(n *asn1.Node) error {
			if !n.IsConstructed() {
				_, _ = DecodeValue(n.Tag(), n.Data())
			}
			return nil
		})
	})
}
