package provider

import (
	"fmt"
	"net"

	"github.com/geekxflood/proteus/internal/mib"
	"github.com/geekxflood/proteus/internal/types"
)

// Interfaces group OIDs (1.3.6.1.2.1.2).
var (
	OIDIfNumber = types.MustParseOID("1.3.6.1.2.1.2.1.0")
	oidIfEntry  = types.MustParseOID("1.3.6.1.2.1.2.2.1")
)

// ifTable columns.
const (
	ifIndex       = 1
	ifDescr       = 2
	ifType        = 3
	ifMtu         = 4
	ifPhysAddress = 6
	ifAdminStatus = 7
	ifOperStatus  = 8
)

// IANAifType values.
const (
	ifTypeOther            = 1
	ifTypeEthernetCsmacd   = 6
	ifTypeSoftwareLoopback = 24
)

// ifStatus values for ifAdminStatus and ifOperStatus.
const (
	ifStatusUp   = 1
	ifStatusDown = 2
)

// InterfaceData is one row of the ifTable.
type InterfaceData struct {
	Index       int
	Descr       string
	Type        int
	MTU         int
	PhysAddress []byte
	AdminStatus int
	OperStatus  int
}

// snapshotInterfaces reads the host's network interfaces.
func snapshotInterfaces() ([]InterfaceData, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("failed to list interfaces: %w", err)
	}

	rows := make([]InterfaceData, 0, len(ifaces))
	for _, iface := range ifaces {
		row := InterfaceData{
			Index:       iface.Index,
			Descr:       iface.Name,
			Type:        ifTypeOther,
			MTU:         iface.MTU,
			PhysAddress: []byte(iface.HardwareAddr),
			AdminStatus: ifStatusDown,
			OperStatus:  ifStatusDown,
		}
		switch {
		case iface.Flags&net.FlagLoopback != 0:
			row.Type = ifTypeSoftwareLoopback
		case len(iface.HardwareAddr) == 6:
			row.Type = ifTypeEthernetCsmacd
		}
		if iface.Flags&net.FlagUp != 0 {
			row.AdminStatus = ifStatusUp
		}
		if iface.Flags&net.FlagRunning != 0 {
			row.OperStatus = ifStatusUp
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// RegisterInterfaces inserts ifNumber and an ifTable snapshot of the host's
// interfaces into store and returns the number of interfaces.
func RegisterInterfaces(store *mib.Store) (int, error) {
	rows, err := snapshotInterfaces()
	if err != nil {
		return 0, err
	}
	return len(rows), RegisterInterfaceTable(store, rows)
}

// RegisterInterfaceTable inserts ifNumber and one ifTable row per entry.
func RegisterInterfaceTable(store *mib.Store, rows []InterfaceData) error {
	if err := store.Insert(OIDIfNumber, types.TypeInteger, constant(len(rows)), nil); err != nil {
		return fmt.Errorf("failed to register ifNumber: %w", err)
	}

	for _, row := range rows {
		if row.Index <= 0 {
			return fmt.Errorf("interface %q has invalid ifIndex %d: %w", row.Descr, row.Index, types.ErrInvalidArgument)
		}
		columns := []struct {
			column uint32
			tag    byte
			value  any
		}{
			{ifIndex, types.TypeInteger, row.Index},
			{ifDescr, types.TypeOctetString, row.Descr},
			{ifType, types.TypeInteger, row.Type},
			{ifMtu, types.TypeInteger, row.MTU},
			{ifPhysAddress, types.TypeOctetString, row.PhysAddress},
			{ifAdminStatus, types.TypeInteger, row.AdminStatus},
			{ifOperStatus, types.TypeInteger, row.OperStatus},
		}
		for _, col := range columns {
			oid := append(oidIfEntry.Copy(), col.column, uint32(row.Index))
			if err := store.Insert(oid, col.tag, constant(col.value), nil); err != nil {
				return fmt.Errorf("failed to register %s: %w", oid, err)
			}
		}
	}
	return nil
}
