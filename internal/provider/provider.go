// Package provider populates MIB stores: the system group, an interfaces
// snapshot, definitions from data files and values held in storage.
package provider

import (
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/geekxflood/common/config"
	"github.com/geekxflood/common/logging"

	"github.com/geekxflood/proteus/internal/loader"
	"github.com/geekxflood/proteus/internal/mib"
	"github.com/geekxflood/proteus/internal/types"
)

// System group OIDs (1.3.6.1.2.1.1).
var (
	OIDSysDescr    = types.MustParseOID("1.3.6.1.2.1.1.1.0")
	OIDSysObjectID = types.MustParseOID("1.3.6.1.2.1.1.2.0")
	OIDSysUpTime   = types.MustParseOID("1.3.6.1.2.1.1.3.0")
	OIDSysContact  = types.MustParseOID("1.3.6.1.2.1.1.4.0")
	OIDSysName     = types.MustParseOID("1.3.6.1.2.1.1.5.0")
	OIDSysLocation = types.MustParseOID("1.3.6.1.2.1.1.6.0")
	OIDSysServices = types.MustParseOID("1.3.6.1.2.1.1.7.0")
)

// SystemConfig holds the values served by the system group.
type SystemConfig struct {
	Description string `json:"description"`
	ObjectID    string `json:"object_id"`
	Contact     string `json:"contact"`
	Name        string `json:"name"`
	Location    string `json:"location"`
	Services    int    `json:"services"`
	Interfaces  bool   `json:"interfaces"`
}

// DefaultSystemConfig returns the default system group values. The name
// defaults to the host name.
func DefaultSystemConfig() *SystemConfig {
	name, err := os.Hostname()
	if err != nil {
		name = "unknown"
	}
	return &SystemConfig{
		Description: "Proteus SNMP agent",
		ObjectID:    "1.3.6.1.4.1.99999.1",
		Name:        name,
		Services:    72,
	}
}

// LoadSystemConfig reads the system.* keys from cfg.
func LoadSystemConfig(cfg config.Provider) (*SystemConfig, error) {
	sc := DefaultSystemConfig()

	if v, err := cfg.GetString("system.description", sc.Description); err == nil {
		sc.Description = v
	}
	if v, err := cfg.GetString("system.object_id", sc.ObjectID); err == nil {
		sc.ObjectID = v
	}
	if v, err := cfg.GetString("system.contact", sc.Contact); err == nil {
		sc.Contact = v
	}
	if v, err := cfg.GetString("system.name", sc.Name); err == nil {
		sc.Name = v
	}
	if v, err := cfg.GetString("system.location", sc.Location); err == nil {
		sc.Location = v
	}
	if v, err := cfg.GetInt("system.services", sc.Services); err == nil {
		sc.Services = v
	}
	if v, err := cfg.GetBool("system.interfaces", sc.Interfaces); err == nil {
		sc.Interfaces = v
	}

	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return sc, nil
}

// Validate checks the configured values against their MIB types.
func (c *SystemConfig) Validate() error {
	oid, err := types.ParseOID(c.ObjectID)
	if err == nil {
		err = oid.Validate()
	}
	if err != nil {
		return types.ValidationError{Field: "system.object_id", Message: err.Error(), Kind: types.ErrInvalidArgument}
	}
	if c.Services < 0 || c.Services > 127 {
		return types.ValidationError{
			Field:   "system.services",
			Message: fmt.Sprintf("%d is outside [0, 127]", c.Services),
			Kind:    types.ErrInvalidArgument,
		}
	}
	for field, value := range map[string]string{
		"system.description": c.Description,
		"system.contact":     c.Contact,
		"system.name":        c.Name,
		"system.location":    c.Location,
	} {
		if len(value) > 255 {
			return types.ValidationError{Field: field, Message: "longer than 255 octets", Kind: types.ErrInvalidArgument}
		}
	}
	return nil
}

// Provider builds MIB stores from configuration, data files and storage.
type Provider struct {
	system  atomic.Pointer[SystemConfig]
	reloads atomic.Int64
	start   time.Time
	logger logging.Logger
}

// NewProvider creates a provider. Uptime is measured from this call.
func NewProvider(cfg config.Provider, logger logging.Logger) (*Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration provider cannot be nil")
	}
	system, err := LoadSystemConfig(cfg)
	if err != nil {
		return nil, err
	}
	p := &Provider{
		start:  time.Now(),
		logger: logger.With("component", "provider"),
	}
	p.system.Store(system)
	return p, nil
}

// Reload re-reads the system.* keys. Uptime is unaffected.
func (p *Provider) Reload(cfg config.Provider) error {
	system, err := LoadSystemConfig(cfg)
	if err != nil {
		return err
	}
	p.system.Store(system)
	p.reloads.Add(1)
	return nil
}

// GetReloadStats returns reload statistics.
func (p *Provider) GetReloadStats() map[string]any {
	return map[string]any{
		"reload_count": p.reloads.Load(),
		"sys_name":     p.System().Name,
	}
}

// System returns the active system group values.
func (p *Provider) System() SystemConfig {
	return *p.system.Load()
}

// Uptime returns the time since the provider was created.
func (p *Provider) Uptime() time.Duration {
	return time.Since(p.start)
}

func constant(v any) mib.Getter {
	return func(types.OID) (any, error) { return v, nil }
}

// RegisterSystem inserts the system group into store.
func (p *Provider) RegisterSystem(store *mib.Store) error {
	sys := p.System()
	objectID, err := types.ParseOID(sys.ObjectID)
	if err != nil {
		return err
	}

	objects := []struct {
		oid types.OID
		tag byte
		get mib.Getter
	}{
		{OIDSysDescr, types.TypeOctetString, constant(sys.Description)},
		{OIDSysObjectID, types.TypeObjectIdentifier, constant(objectID)},
		{OIDSysUpTime, types.TypeTimeTicks, func(types.OID) (any, error) { return p.Uptime(), nil }},
		{OIDSysContact, types.TypeOctetString, constant(sys.Contact)},
		{OIDSysName, types.TypeOctetString, constant(sys.Name)},
		{OIDSysLocation, types.TypeOctetString, constant(sys.Location)},
		{OIDSysServices, types.TypeInteger, constant(sys.Services)},
	}

	for _, obj := range objects {
		if err := store.Insert(obj.oid, obj.tag, obj.get, nil); err != nil {
			return fmt.Errorf("failed to register %s: %w", obj.oid, err)
		}
	}
	return nil
}

// RegisterDefinitions inserts data file definitions into store and returns
// how many were added. Definitions for OIDs that are already registered are
// skipped with a warning.
func (p *Provider) RegisterDefinitions(store *mib.Store, defs []loader.Definition) (int, error) {
	added := 0
	for _, def := range defs {
		err := store.Insert(def.OID, def.Type, constant(def.Value), nil)
		if errors.Is(err, mib.ErrAlreadyRegistered) {
			p.logger.Warn("Duplicate definition ignored", "oid", def.OID.String(), "source", def.Source)
			continue
		}
		if err != nil {
			return added, fmt.Errorf("failed to register %s from %s: %w", def.OID, def.Source, err)
		}
		added++
	}
	return added, nil
}

// Registrar adds objects from an external source to a store.
type Registrar interface {
	Register(store *mib.Store) (int, error)
}

// Build creates a new store holding the system group, the interfaces
// snapshot when enabled, defs, and the objects of every registrar in that
// order. Earlier sources win on conflicting OIDs.
func (p *Provider) Build(defs []loader.Definition, registrars ...Registrar) (*mib.Store, error) {
	store := mib.New()

	if err := p.RegisterSystem(store); err != nil {
		store.Free()
		return nil, err
	}

	if p.System().Interfaces {
		n, err := RegisterInterfaces(store)
		if err != nil {
			p.logger.Warn("Failed to register interfaces", "error", err.Error())
		} else {
			p.logger.Debug("Registered interfaces", "count", n)
		}
	}

	if _, err := p.RegisterDefinitions(store, defs); err != nil {
		store.Free()
		return nil, err
	}

	for _, r := range registrars {
		if _, err := r.Register(store); err != nil {
			store.Free()
			return nil, err
		}
	}

	p.logger.Info("MIB store built", "entries", store.Len())
	return store, nil
}
