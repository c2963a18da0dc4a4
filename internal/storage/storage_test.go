package storage

import (
	"net/netip"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geekxflood/proteus/internal/ber"
	"github.com/geekxflood/proteus/internal/mib"
	"github.com/geekxflood/proteus/internal/testutil"
	"github.com/geekxflood/proteus/internal/types"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	cfg := testutil.NewMockConfig(map[string]any{
		"storage.enabled":           true,
		"storage.connection_string": filepath.Join(t.TempDir(), "values.db"),
		"storage.max_connections":   2,
	})
	s, err := NewStorage(cfg, testutil.NewTestLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestNewStorage(t *testing.T) {
	_, err := NewStorage(nil, testutil.NewTestLogger(t))
	assert.EqualError(t, err, "configuration provider cannot be nil")

	cfg := LoadStorageConfig(testutil.NewMockConfig(map[string]any{}))
	assert.Equal(t, DefaultStorageConfig(), cfg)

	cfg = LoadStorageConfig(testutil.NewMockConfig(map[string]any{
		"storage.enabled":           true,
		"storage.connection_string": "/var/lib/proteus/values.db",
		"storage.max_connections":   4,
	}))
	assert.True(t, cfg.Enabled)
	assert.Equal(t, "/var/lib/proteus/values.db", cfg.ConnectionString)
	assert.Equal(t, 4, cfg.MaxConnections)
}

func TestPutAndGet(t *testing.T) {
	s := newTestStorage(t)
	oid := types.MustParseOID("1.3.6.1.4.1.9999.1.1.0")

	require.NoError(t, s.Put(oid, types.TypeOctetString, "rack 4"))

	value, err := s.Get(oid)
	require.NoError(t, err)
	assert.Equal(t, types.TypeOctetString, value.Type)
	assert.Equal(t, []byte("rack 4"), value.Content)
	assert.False(t, value.UpdatedAt.IsZero())

	decoded, err := value.Decode()
	require.NoError(t, err)
	assert.Equal(t, []byte("rack 4"), decoded)

	require.NoError(t, s.PutText(oid, types.TypeGauge32, "17"))
	value, err = s.Get(oid)
	require.NoError(t, err)
	assert.Equal(t, types.TypeGauge32, value.Type)
	decoded, err = value.Decode()
	require.NoError(t, err)
	assert.Equal(t, uint32(17), decoded)
}

func TestPutRejectsInvalid(t *testing.T) {
	s := newTestStorage(t)

	assert.ErrorIs(t, s.Put(types.OID{1}, types.TypeInteger, 1), types.ErrInvalidArgument)
	assert.ErrorIs(t, s.Put(types.MustParseOID("1.3.6"), types.TypeCounter32, -1), types.ErrInvalidArgument)
	assert.ErrorIs(t, s.PutText(types.MustParseOID("1.3.6"), types.TypeIPAddress, "not-an-ip"), types.ErrInvalidArgument)
}

func TestGetMissing(t *testing.T) {
	s := newTestStorage(t)

	_, err := s.Get(types.MustParseOID("1.3.6.1"))
	assert.ErrorIs(t, err, types.ErrNotFound)
	assert.ErrorIs(t, s.Delete(types.MustParseOID("1.3.6.1")), types.ErrNotFound)
}

func TestListOrdersByOID(t *testing.T) {
	s := newTestStorage(t)

	for _, oid := range []string{"1.3.6.1.10", "1.3.6.1.9", "1.3.6.1.9.1", "1.3.6.1.100"} {
		require.NoError(t, s.Put(types.MustParseOID(oid), types.TypeInteger, 1))
	}

	values, err := s.List()
	require.NoError(t, err)
	var got []string
	for _, v := range values {
		got = append(got, v.OID.String())
	}
	assert.Equal(t, []string{"1.3.6.1.9", "1.3.6.1.9.1", "1.3.6.1.10", "1.3.6.1.100"}, got)

	require.NoError(t, s.Delete(types.MustParseOID("1.3.6.1.9")))
	values, err = s.List()
	require.NoError(t, err)
	assert.Len(t, values, 3)
}

func TestRegister(t *testing.T) {
	s := newTestStorage(t)
	contact := types.MustParseOID("1.3.6.1.2.1.1.4.0")
	gateway := types.MustParseOID("1.3.6.1.4.1.9999.2.0")
	require.NoError(t, s.Put(contact, types.TypeOctetString, "noc@example.net"))
	require.NoError(t, s.Put(gateway, types.TypeIPAddress, "192.0.2.1"))

	store := mib.New()
	require.NoError(t, store.Insert(contact, types.TypeOctetString,
		func(types.OID) (any, error) { return "static", nil }, nil))

	added, err := s.Register(store)
	require.NoError(t, err)
	assert.Equal(t, 1, added, "existing registration wins")

	entry, ok := store.FindExact(gateway)
	require.True(t, ok)
	assert.Equal(t, types.TypeIPAddress, entry.Type)

	value, err := entry.Get(gateway)
	require.NoError(t, err)
	assert.Equal(t, netip.MustParseAddr("192.0.2.1"), value)

	// Getters read through to the database.
	require.NoError(t, s.Put(gateway, types.TypeIPAddress, "192.0.2.254"))
	value, err = entry.Get(gateway)
	require.NoError(t, err)
	assert.Equal(t, netip.MustParseAddr("192.0.2.254"), value)

	require.NotNil(t, entry.Set)
	content, err := ber.EncodeValue(types.TypeIPAddress, "198.51.100.7")
	require.NoError(t, err)
	require.NoError(t, entry.Set(gateway, content))
	value, err = entry.Get(gateway)
	require.NoError(t, err)
	assert.Equal(t, netip.MustParseAddr("198.51.100.7"), value)

	assert.Error(t, entry.Set(gateway, []byte{1, 2, 3}), "IpAddress content must be four bytes")

	require.NoError(t, s.Delete(gateway))
	_, err = entry.Get(gateway)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestGetStats(t *testing.T) {
	s := newTestStorage(t)

	stats, err := s.GetStats()
	require.NoError(t, err)
	assert.Zero(t, stats.TotalValues)
	assert.Nil(t, stats.LastUpdate)

	oid := types.MustParseOID("1.3.6.1.4.1.9999.3.0")
	require.NoError(t, s.Put(oid, types.TypeTimeTicks, uint32(100)))
	_, err = s.Get(oid)
	require.NoError(t, err)

	stats, err = s.GetStats()
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalValues)
	assert.Equal(t, uint64(1), stats.Writes)
	assert.Equal(t, uint64(1), stats.Reads)
	assert.NotNil(t, stats.LastUpdate)
}
