package snmp

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/geekxflood/common/config"
	"github.com/geekxflood/common/logging"

	"github.com/geekxflood/proteus/internal/asn1"
	"github.com/geekxflood/proteus/internal/ber"
	"github.com/geekxflood/proteus/internal/mib"
	"github.com/geekxflood/proteus/internal/types"
)

// Drop reasons reported to observers and counted in stats.
const (
	DropMalformed     = "malformed"
	DropProtocol      = "protocol"
	DropAuth          = "auth"
	DropUnimplemented = "unimplemented"
	DropResource      = "resource"
)

// Observer receives per-request events, typically to feed metrics.
type Observer interface {
	RecordRequest(version, pduType string)
	RecordResponse(pduType string, duration time.Duration, size int)
	RecordDrop(reason string)
	RecordVarbind(result string)
}

// Varbind results reported to observers.
const (
	VarbindFound          = "found"
	VarbindNoSuchObject   = "no_such_object"
	VarbindNoSuchInstance = "no_such_instance"
	VarbindEndOfMibView   = "end_of_mib_view"
)

// Processor turns request packets into response packets. It is safe for
// concurrent use by transport workers.
type Processor struct {
	config   atomic.Pointer[ProcessorConfig]
	store    atomic.Pointer[mib.Store]
	logger   logging.Logger
	observer Observer

	stats   *types.ProcessorStats
	statsMu sync.Mutex

	reloadCount atomic.Uint64
}

// request is a validated SNMP message.
type request struct {
	version   int
	pduType   byte
	envelope  *asn1.Node
	pdu       *asn1.Node
	requestID int64
}

// NewProcessor creates a processor serving store. The processor reads the
// snmp.* configuration keys.
func NewProcessor(cfg config.Provider, store *mib.Store, logger logging.Logger) (*Processor, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration provider cannot be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("MIB store cannot be nil")
	}

	pc, err := LoadProcessorConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load processor configuration: %w", err)
	}

	p := &Processor{
		logger: logger.With("component", "processor"),
		stats:  types.NewProcessorStats(),
	}
	p.config.Store(pc)
	p.store.Store(store)
	return p, nil
}

// SetObserver registers an observer. It must be called before serving.
func (p *Processor) SetObserver(o Observer) {
	p.observer = o
}

// SetStore atomically swaps the served MIB store and returns the previous one.
func (p *Processor) SetStore(store *mib.Store) *mib.Store {
	return p.store.Swap(store)
}

// Store returns the MIB store currently served.
func (p *Processor) Store() *mib.Store {
	return p.store.Load()
}

// Config returns the active processor configuration.
func (p *Processor) Config() ProcessorConfig {
	return *p.config.Load()
}

// Reload re-reads the snmp.* keys. Requests in flight keep the configuration
// they started with.
func (p *Processor) Reload(cfg config.Provider) error {
	pc, err := LoadProcessorConfig(cfg)
	if err != nil {
		return fmt.Errorf("failed to reload processor configuration: %w", err)
	}
	p.config.Store(pc)
	p.reloadCount.Add(1)
	p.logger.Info("Processor configuration reloaded",
		"versions", pc.Versions,
		"auth_required", pc.AuthRequired)
	return nil
}

// GetReloadStats returns reload statistics.
func (p *Processor) GetReloadStats() map[string]any {
	return map[string]any{
		"reload_count": p.reloadCount.Load(),
	}
}

// Process decodes, validates and answers one request packet. A non-nil error
// means the request was rejected and nothing must be sent back.
func (p *Processor) Process(packet []byte) ([]byte, error) {
	start := time.Now()
	cfg := p.config.Load()
	store := p.store.Load()

	p.updateStats(func(s *types.ProcessorStats) {
		s.PacketsReceived++
		s.LastPacketTime = start
	})

	root, consumed, err := ber.DecodeTree(packet)
	if err != nil {
		return nil, p.reject(err)
	}
	defer asn1.Release(root)
	if consumed != len(packet) {
		return nil, p.reject(types.NewParseError(consumed, "%d trailing bytes after message", len(packet)-consumed))
	}

	req, err := validateMessage(root, cfg)
	if err != nil {
		return nil, p.reject(err)
	}

	versionName := types.GetVersionName(req.version)
	pduName := types.GetPDUTypeName(req.pduType)
	p.updateStats(func(s *types.ProcessorStats) {
		s.PacketsByVersion[versionName]++
		s.PacketsByType[pduName]++
	})
	if p.observer != nil {
		p.observer.RecordRequest(versionName, pduName)
	}

	var find lookupFunc
	switch req.pduType {
	case types.PDUGetRequest:
		find = store.FindExact
	case types.PDUGetNextRequest:
		find = store.FindNext
	default:
		return nil, p.reject(types.ValidationError{
			Field:   "pdu",
			Message: fmt.Sprintf("%s is not supported", pduName),
			Kind:    types.ErrUnimplemented,
		})
	}

	resp, err := p.buildResponse(req, find)
	if err != nil {
		return nil, p.reject(err)
	}
	defer asn1.Release(resp)

	out, err := ber.EncodeTree(resp)
	if err != nil {
		return nil, p.reject(err)
	}
	if len(out) > cfg.MaxMessageSize {
		return nil, p.reject(fmt.Errorf("response of %d bytes exceeds %d: %w", len(out), cfg.MaxMessageSize, types.ErrResourceExhaustion))
	}

	p.updateStats(func(s *types.ProcessorStats) {
		s.PacketsResponded++
	})
	if p.observer != nil {
		p.observer.RecordResponse(pduName, time.Since(start), len(out))
	}
	p.logger.Debug("Request answered",
		"version", versionName,
		"pdu", pduName,
		"request_id", req.requestID,
		"size", len(out))
	return out, nil
}

type lookupFunc func(types.OID) (*mib.Entry, bool)

// validateMessage checks the envelope and PDU shape of a decoded message.
func validateMessage(root *asn1.Node, cfg *ProcessorConfig) (*request, error) {
	if root.Tag() != types.TypeSequence || root.NumChildren() != 3 {
		return nil, types.ValidationError{Field: "message", Message: "expected a SEQUENCE of version, community and PDU"}
	}

	versionNode := root.Child(0)
	if versionNode.Tag() != types.TypeInteger || len(versionNode.Data()) != 1 {
		return nil, types.ValidationError{Field: "version", Message: "expected a one-byte INTEGER"}
	}
	version := int(int8(versionNode.Data()[0]))
	if version == types.VersionSNMPv3 {
		return nil, types.ValidationError{Field: "version", Message: "SNMPv3 is not supported", Kind: types.ErrUnimplemented}
	}
	if !cfg.supportsVersion(version) {
		return nil, types.ValidationError{Field: "version", Message: fmt.Sprintf("%s is not enabled", types.GetVersionName(version))}
	}

	community := root.Child(1)
	if community.Tag() != types.TypeOctetString {
		return nil, types.ValidationError{Field: "community", Message: "expected an OCTET STRING"}
	}
	if cfg.AuthRequired && subtle.ConstantTimeCompare(community.Data(), []byte(cfg.Community)) != 1 {
		return nil, types.ValidationError{Field: "community", Message: "community does not match"}
	}

	pdu := root.Child(2)
	req := &request{version: version, pduType: pdu.Tag(), envelope: root, pdu: pdu}

	switch pdu.Tag() {
	case types.PDUGetRequest, types.PDUGetNextRequest, types.PDUSetRequest:
	case types.PDUTrap:
		return nil, types.ValidationError{Field: "pdu", Message: "Trap is not supported", Kind: types.ErrUnimplemented}
	default:
		return nil, types.ValidationError{Field: "pdu", Message: fmt.Sprintf("unexpected PDU tag 0x%02x", pdu.Tag())}
	}

	if pdu.NumChildren() != 4 {
		return nil, types.ValidationError{Field: "pdu", Message: fmt.Sprintf("expected 4 fields, got %d", pdu.NumChildren())}
	}

	idNode := pdu.Child(0)
	if idNode.Tag() != types.TypeInteger {
		return nil, types.ValidationError{Field: "request_id", Message: "expected an INTEGER"}
	}
	id, err := ber.DecodeInteger(idNode.Data())
	if err != nil {
		return nil, err
	}
	if id < 0 || id > math.MaxInt32 {
		return nil, types.ValidationError{Field: "request_id", Message: fmt.Sprintf("%d is outside [0, 2^31-1]", id)}
	}
	req.requestID = id

	for i, field := range []string{"error_status", "error_index"} {
		n := pdu.Child(1 + i)
		if n.Tag() != types.TypeInteger || len(n.Data()) != 1 || n.Data()[0] != 0 {
			return nil, types.ValidationError{Field: field, Message: "expected a one-byte zero INTEGER"}
		}
	}

	varbinds := pdu.Child(3)
	if varbinds.Tag() != types.TypeSequence || varbinds.NumChildren() == 0 {
		return nil, types.ValidationError{Field: "varbinds", Message: "expected a non-empty SEQUENCE"}
	}
	for i, vb := range varbinds.Children() {
		if vb.Tag() != types.TypeSequence || vb.NumChildren() != 2 ||
			vb.Child(0).Tag() != types.TypeObjectIdentifier || vb.Child(1).IsConstructed() {
			return nil, types.ValidationError{
				Field:   fmt.Sprintf("varbinds[%d]", i),
				Message: "expected a SEQUENCE of OBJECT IDENTIFIER and a primitive value",
			}
		}
	}

	return req, nil
}

// buildResponse creates the GetResponse tree for req.
func (p *Processor) buildResponse(req *request, find lookupFunc) (*asn1.Node, error) {
	resp, err := asn1.NewNode(nil, types.TypeSequence, nil, asn1.Owned)
	if err != nil {
		return nil, err
	}
	for _, field := range req.envelope.Children()[:2] {
		if err := copyLeafTo(resp, field); err != nil {
			return nil, err
		}
	}

	pdu, err := asn1.NewNode(resp, types.PDUGetResponse, nil, asn1.Owned)
	if err != nil {
		return nil, err
	}
	for _, field := range req.pdu.Children()[:3] {
		if err := copyLeafTo(pdu, field); err != nil {
			return nil, err
		}
	}

	list, err := asn1.NewNode(pdu, types.TypeSequence, nil, asn1.Owned)
	if err != nil {
		return nil, err
	}
	for _, vb := range req.pdu.Child(3).Children() {
		if err := p.appendVarbind(list, vb.Child(0), req.pduType, find); err != nil {
			return nil, err
		}
	}
	return resp, nil
}

func copyLeafTo(parent, leaf *asn1.Node) error {
	c, err := asn1.CopyLeaf(leaf)
	if err != nil {
		return err
	}
	return asn1.Attach(parent, c)
}

// appendVarbind resolves one requested OID and appends the response binding.
// Lookup misses become exception values rather than failing the whole PDU.
func (p *Processor) appendVarbind(list, oidNode *asn1.Node, pduType byte, find lookupFunc) error {
	oid, err := ber.DecodeOID(oidNode.Data())
	if err != nil {
		return err
	}

	vb, err := asn1.NewNode(list, types.TypeSequence, nil, asn1.Owned)
	if err != nil {
		return err
	}

	entry, ok := find(oid)
	if !ok {
		tag, result := byte(types.TypeNoSuchObject), VarbindNoSuchObject
		if pduType == types.PDUGetNextRequest {
			tag, result = types.TypeEndOfMibView, VarbindEndOfMibView
		}
		return p.appendException(vb, oidNode.Data(), tag, result)
	}

	name := oidNode.Data()
	if pduType == types.PDUGetNextRequest {
		if name, err = ber.EncodeOID(entry.OID); err != nil {
			return err
		}
	}

	content, err := p.readEntry(entry)
	if err != nil {
		p.logger.Warn("Failed to read managed object",
			"oid", entry.OID.String(),
			"type", types.GetTypeName(entry.Type),
			"error", err.Error())
		return p.appendException(vb, name, types.TypeNoSuchInstance, VarbindNoSuchInstance)
	}

	if _, err := asn1.NewNode(vb, types.TypeObjectIdentifier, name, asn1.Owned); err != nil {
		return err
	}
	if _, err := asn1.NewNode(vb, entry.Type, content, asn1.Owned); err != nil {
		return err
	}
	p.recordVarbind(VarbindFound)
	return nil
}

func (p *Processor) readEntry(entry *mib.Entry) ([]byte, error) {
	v, err := entry.Get(entry.OID)
	if err != nil {
		return nil, err
	}
	return ber.EncodeValue(entry.Type, v)
}

func (p *Processor) appendException(vb *asn1.Node, name []byte, tag byte, result string) error {
	if _, err := asn1.NewNode(vb, types.TypeObjectIdentifier, name, asn1.Owned); err != nil {
		return err
	}
	if _, err := asn1.NewNode(vb, tag, nil, asn1.Owned); err != nil {
		return err
	}
	p.updateStats(func(s *types.ProcessorStats) {
		s.VarbindsMissed++
	})
	p.recordVarbind(result)
	return nil
}

func (p *Processor) recordVarbind(result string) {
	if p.observer != nil {
		p.observer.RecordVarbind(result)
	}
}

// reject counts and logs a dropped request and returns err unchanged.
func (p *Processor) reject(err error) error {
	reason := dropReason(err)
	p.updateStats(func(s *types.ProcessorStats) {
		s.PacketsDropped++
		switch reason {
		case DropMalformed:
			s.ParseErrors++
		case DropProtocol:
			s.ValidationErrors++
		case DropAuth:
			s.AuthErrors++
		case DropUnimplemented:
			s.Unimplemented++
		case DropResource:
			s.ResourceErrors++
		}
	})
	if p.observer != nil {
		p.observer.RecordDrop(reason)
	}
	p.logger.Debug("Request rejected", "reason", reason, "error", err.Error())
	return err
}

func dropReason(err error) string {
	var verr types.ValidationError
	switch {
	case errors.Is(err, types.ErrMalformedEncoding):
		return DropMalformed
	case errors.Is(err, types.ErrUnimplemented):
		return DropUnimplemented
	case errors.Is(err, types.ErrResourceExhaustion):
		return DropResource
	case errors.As(err, &verr) && verr.Field == "community":
		return DropAuth
	default:
		return DropProtocol
	}
}

func (p *Processor) updateStats(fn func(*types.ProcessorStats)) {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	fn(p.stats)
}

// GetStats returns processor statistics.
func (p *Processor) GetStats() map[string]any {
	s := p.GetDetailedStats()
	return map[string]any{
		"packets_received":   s.PacketsReceived,
		"packets_responded":  s.PacketsResponded,
		"packets_dropped":    s.PacketsDropped,
		"parse_errors":       s.ParseErrors,
		"validation_errors":  s.ValidationErrors,
		"auth_errors":        s.AuthErrors,
		"unimplemented":      s.Unimplemented,
		"resource_errors":    s.ResourceErrors,
		"varbinds_missed":    s.VarbindsMissed,
		"last_packet_time":   s.LastPacketTime,
		"packets_by_version": s.PacketsByVersion,
		"packets_by_type":    s.PacketsByType,
		"mib_entries":        p.store.Load().Len(),
	}
}

// GetDetailedStats returns a copy of the processor statistics.
func (p *Processor) GetDetailedStats() *types.ProcessorStats {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()

	statsCopy := *p.stats
	statsCopy.PacketsByVersion = make(map[string]uint64, len(p.stats.PacketsByVersion))
	for k, v := range p.stats.PacketsByVersion {
		statsCopy.PacketsByVersion[k] = v
	}
	statsCopy.PacketsByType = make(map[string]uint64, len(p.stats.PacketsByType))
	for k, v := range p.stats.PacketsByType {
		statsCopy.PacketsByType[k] = v
	}
	return &statsCopy
}
