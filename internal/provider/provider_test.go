package provider

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geekxflood/proteus/internal/loader"
	"github.com/geekxflood/proteus/internal/mib"
	"github.com/geekxflood/proteus/internal/testutil"
	"github.com/geekxflood/proteus/internal/types"
)

func newTestProvider(t *testing.T, values map[string]any) *Provider {
	t.Helper()
	p, err := NewProvider(testutil.NewMockConfig(values), testutil.NewTestLogger(t))
	require.NoError(t, err)
	return p
}

func getValue(t *testing.T, store *mib.Store, oid types.OID) any {
	t.Helper()
	entry, ok := store.FindExact(oid)
	require.True(t, ok, "missing %s", oid)
	v, err := entry.Get(oid)
	require.NoError(t, err)
	return v
}

func TestLoadSystemConfig(t *testing.T) {
	sc, err := LoadSystemConfig(testutil.NewMockConfig(nil))
	require.NoError(t, err)
	assert.Equal(t, "Proteus SNMP agent", sc.Description)
	assert.Equal(t, 72, sc.Services)
	assert.NotEmpty(t, sc.Name)

	tests := []struct {
		name   string
		values map[string]any
	}{
		{name: "bad object id", values: map[string]any{"system.object_id": "1.3.x"}},
		{name: "single arc object id", values: map[string]any{"system.object_id": "1"}},
		{name: "services too large", values: map[string]any{"system.services": 128}},
		{name: "contact too long", values: map[string]any{"system.contact": string(make([]byte, 256))}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadSystemConfig(testutil.NewMockConfig(tt.values))
			assert.ErrorIs(t, err, types.ErrInvalidArgument)
		})
	}
}

func TestRegisterSystem(t *testing.T) {
	p := newTestProvider(t, map[string]any{
		"system.description": "edge router",
		"system.object_id":   "1.3.6.1.4.1.8072.3.2.10",
		"system.contact":     "noc@example.net",
		"system.name":        "edge-1",
		"system.location":    "rack 4",
		"system.services":    6,
	})

	store := mib.New()
	require.NoError(t, p.RegisterSystem(store))
	assert.Equal(t, 7, store.Len())

	assert.Equal(t, "edge router", getValue(t, store, OIDSysDescr))
	assert.Equal(t, types.MustParseOID("1.3.6.1.4.1.8072.3.2.10"), getValue(t, store, OIDSysObjectID))
	assert.Equal(t, "noc@example.net", getValue(t, store, OIDSysContact))
	assert.Equal(t, "edge-1", getValue(t, store, OIDSysName))
	assert.Equal(t, "rack 4", getValue(t, store, OIDSysLocation))
	assert.Equal(t, 6, getValue(t, store, OIDSysServices))

	entry, ok := store.FindExact(OIDSysUpTime)
	require.True(t, ok)
	assert.Equal(t, types.TypeTimeTicks, entry.Type)
	uptime, err := entry.Get(OIDSysUpTime)
	require.NoError(t, err)
	assert.IsType(t, time.Duration(0), uptime)

	assert.ErrorIs(t, p.RegisterSystem(store), mib.ErrAlreadyRegistered)
}

func TestReloadKeepsUptime(t *testing.T) {
	p := newTestProvider(t, nil)
	start := p.start

	require.NoError(t, p.Reload(testutil.NewMockConfig(map[string]any{"system.name": "renamed"})))
	assert.Equal(t, "renamed", p.System().Name)
	assert.Equal(t, start, p.start)
	assert.Equal(t, int64(1), p.GetReloadStats()["reload_count"])

	assert.Error(t, p.Reload(testutil.NewMockConfig(map[string]any{"system.services": -1})))
	assert.Equal(t, "renamed", p.System().Name, "failed reload keeps the previous values")
}

type fakeRegistrar struct {
	oid types.OID
}

func (f fakeRegistrar) Register(store *mib.Store) (int, error) {
	err := store.Insert(f.oid, types.TypeGauge32, constant(uint32(5)), nil)
	if err != nil {
		return 0, err
	}
	return 1, nil
}

func TestBuild(t *testing.T) {
	p := newTestProvider(t, map[string]any{"system.description": "static"})

	defs := []loader.Definition{
		{OID: types.MustParseOID("1.3.6.1.2.1.2.1.0"), Type: types.TypeInteger, Value: int64(2), Source: "a.json"},
		{OID: OIDSysDescr, Type: types.TypeOctetString, Value: "from file", Source: "a.json"},
	}

	store, err := p.Build(defs, fakeRegistrar{oid: types.MustParseOID("1.3.6.1.4.1.9999.1.0")})
	require.NoError(t, err)
	assert.Equal(t, 9, store.Len())

	assert.Equal(t, "static", getValue(t, store, OIDSysDescr), "system group wins over data files")
	assert.Equal(t, int64(2), getValue(t, store, types.MustParseOID("1.3.6.1.2.1.2.1.0")))
	assert.Equal(t, uint32(5), getValue(t, store, types.MustParseOID("1.3.6.1.4.1.9999.1.0")))

	_, err = p.Build(nil, fakeRegistrar{oid: OIDSysName})
	assert.ErrorIs(t, err, mib.ErrAlreadyRegistered)
}

func TestRegisterInterfaceTable(t *testing.T) {
	store := mib.New()
	rows := []InterfaceData{
		{Index: 1, Descr: "lo", Type: ifTypeSoftwareLoopback, MTU: 65536, AdminStatus: ifStatusUp, OperStatus: ifStatusUp},
		{Index: 2, Descr: "eth0", Type: ifTypeEthernetCsmacd, MTU: 1500,
			PhysAddress: []byte{0x02, 0, 0, 0, 0, 1}, AdminStatus: ifStatusUp, OperStatus: ifStatusDown},
	}
	require.NoError(t, RegisterInterfaceTable(store, rows))
	assert.Equal(t, 1+2*7, store.Len())

	assert.Equal(t, 2, getValue(t, store, OIDIfNumber))
	assert.Equal(t, "eth0", getValue(t, store, types.MustParseOID("1.3.6.1.2.1.2.2.1.2.2")))
	assert.Equal(t, 1500, getValue(t, store, types.MustParseOID("1.3.6.1.2.1.2.2.1.4.2")))
	assert.Equal(t, ifStatusDown, getValue(t, store, types.MustParseOID("1.3.6.1.2.1.2.2.1.8.2")))

	// Column-major walk order: ifDescr.1 follows ifIndex.2.
	next, ok := store.FindNext(types.MustParseOID("1.3.6.1.2.1.2.2.1.1.2"))
	require.True(t, ok)
	assert.Equal(t, types.MustParseOID("1.3.6.1.2.1.2.2.1.2.1"), next.OID)

	err := RegisterInterfaceTable(mib.New(), []InterfaceData{{Index: 0, Descr: "bad"}})
	assert.ErrorIs(t, err, types.ErrInvalidArgument)
}

func TestRegisterInterfacesFromHost(t *testing.T) {
	store := mib.New()
	n, err := RegisterInterfaces(store)
	require.NoError(t, err)
	assert.Equal(t, n, getValue(t, store, OIDIfNumber))
	assert.Equal(t, 1+n*7, store.Len())
}
