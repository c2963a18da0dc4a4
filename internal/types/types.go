// Package types provides common SNMP types and constants.
package types

import (
	"fmt"
	"time"
)

// SNMP version constants, as carried in the message version field.
const (
	VersionSNMPv1  = 0
	VersionSNMPv2c = 1
	VersionSNMPv3  = 3
)

// SNMP PDU tags (context-specific, constructed).
const (
	PDUGetRequest     = 0xA0
	PDUGetNextRequest = 0xA1
	PDUGetResponse    = 0xA2
	PDUSetRequest     = 0xA3
	PDUTrap           = 0xA4
)

// ASN.1 and SNMP application data type tags.
const (
	TypeInteger          = 0x02
	TypeOctetString      = 0x04
	TypeNull             = 0x05
	TypeObjectIdentifier = 0x06
	TypeSequence         = 0x30
	TypeIPAddress        = 0x40
	TypeCounter32        = 0x41
	TypeGauge32          = 0x42
	TypeTimeTicks        = 0x43
	TypeOpaque           = 0x44
	TypeNsapAddress      = 0x45
)

// SNMPv2 exception tags used in place of a varbind value.
const (
	TypeNoSuchObject   = 0x80
	TypeNoSuchInstance = 0x81
	TypeEndOfMibView   = 0x82
)

// SNMP error status constants
const (
	ErrorStatusNoError    = 0
	ErrorStatusTooBig     = 1
	ErrorStatusNoSuchName = 2
	ErrorStatusBadValue   = 3
	ErrorStatusReadOnly   = 4
	ErrorStatusGenErr     = 5
)

// constructedBit marks a constructed (sequence-like) tag.
const constructedBit = 0x20

// IsConstructed reports whether tag denotes a constructed ASN.1 type.
func IsConstructed(tag byte) bool {
	return tag&constructedBit != 0
}

// GetTypeName returns the human-readable name of an ASN.1/SNMP tag.
func GetTypeName(tag byte) string {
	switch tag {
	case TypeInteger:
		return "INTEGER"
	case TypeOctetString:
		return "OCTET STRING"
	case TypeNull:
		return "NULL"
	case TypeObjectIdentifier:
		return "OBJECT IDENTIFIER"
	case TypeSequence:
		return "SEQUENCE"
	case TypeIPAddress:
		return "IpAddress"
	case TypeCounter32:
		return "Counter32"
	case TypeGauge32:
		return "Gauge32"
	case TypeTimeTicks:
		return "TimeTicks"
	case TypeOpaque:
		return "Opaque"
	case TypeNsapAddress:
		return "NsapAddress"
	case TypeNoSuchObject:
		return "noSuchObject"
	case TypeNoSuchInstance:
		return "noSuchInstance"
	case TypeEndOfMibView:
		return "endOfMibView"
	case PDUGetRequest, PDUGetNextRequest, PDUGetResponse, PDUSetRequest, PDUTrap:
		return GetPDUTypeName(tag)
	default:
		return fmt.Sprintf("Unknown(0x%02x)", tag)
	}
}

// ParseTypeName maps a type name used in data files and the database to its tag.
// Matching is case-insensitive on the canonical names returned by GetTypeName.
func ParseTypeName(name string) (byte, error) {
	switch normalizeTypeName(name) {
	case "integer", "integer32":
		return TypeInteger, nil
	case "octetstring", "string", "displaystring":
		return TypeOctetString, nil
	case "null":
		return TypeNull, nil
	case "objectidentifier", "oid":
		return TypeObjectIdentifier, nil
	case "ipaddress":
		return TypeIPAddress, nil
	case "counter", "counter32":
		return TypeCounter32, nil
	case "gauge", "gauge32", "unsigned32":
		return TypeGauge32, nil
	case "timeticks":
		return TypeTimeTicks, nil
	case "opaque":
		return TypeOpaque, nil
	case "nsapaddress":
		return TypeNsapAddress, nil
	}
	return 0, fmt.Errorf("unknown object type %q: %w", name, ErrInvalidArgument)
}

func normalizeTypeName(name string) string {
	out := make([]byte, 0, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c == ' ' || c == '-' || c == '_':
			continue
		case c >= 'A' && c <= 'Z':
			out = append(out, c+('a'-'A'))
		default:
			out = append(out, c)
		}
	}
	return string(out)
}

// GetVersionName returns the human-readable name of an SNMP version.
func GetVersionName(version int) string {
	switch version {
	case VersionSNMPv1:
		return "SNMPv1"
	case VersionSNMPv2c:
		return "SNMPv2c"
	case VersionSNMPv3:
		return "SNMPv3"
	default:
		return fmt.Sprintf("Unknown(%d)", version)
	}
}

// ParseVersion maps a configured version label ("1", "2c", "v2c", "3") to
// its wire value.
func ParseVersion(label string) (int, error) {
	switch normalizeTypeName(label) {
	case "1", "v1", "snmpv1":
		return VersionSNMPv1, nil
	case "2", "2c", "v2c", "snmpv2c":
		return VersionSNMPv2c, nil
	case "3", "v3", "snmpv3":
		return VersionSNMPv3, nil
	}
	return 0, fmt.Errorf("unknown SNMP version %q: %w", label, ErrInvalidArgument)
}

// GetPDUTypeName returns the human-readable name of a PDU tag.
func GetPDUTypeName(tag byte) string {
	switch tag {
	case PDUGetRequest:
		return "GetRequest"
	case PDUGetNextRequest:
		return "GetNextRequest"
	case PDUGetResponse:
		return "GetResponse"
	case PDUSetRequest:
		return "SetRequest"
	case PDUTrap:
		return "Trap"
	default:
		return fmt.Sprintf("Unknown(0x%02x)", tag)
	}
}

// ProcessorStats represents statistics for the request processor.
type ProcessorStats struct {
	PacketsReceived  uint64            `json:"packets_received"`
	PacketsResponded uint64            `json:"packets_responded"`
	PacketsDropped   uint64            `json:"packets_dropped"`
	ParseErrors      uint64            `json:"parse_errors"`
	ValidationErrors uint64            `json:"validation_errors"`
	AuthErrors       uint64            `json:"auth_errors"`
	Unimplemented    uint64            `json:"unimplemented"`
	ResourceErrors   uint64            `json:"resource_errors"`
	VarbindsMissed   uint64            `json:"varbinds_missed"`
	LastPacketTime   time.Time         `json:"last_packet_time"`
	PacketsByVersion map[string]uint64 `json:"packets_by_version"`
	PacketsByType    map[string]uint64 `json:"packets_by_type"`
}

// NewProcessorStats creates a new ProcessorStats instance.
func NewProcessorStats() *ProcessorStats {
	return &ProcessorStats{
		PacketsByVersion: make(map[string]uint64),
		PacketsByType:    make(map[string]uint64),
	}
}
