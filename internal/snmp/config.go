// Package snmp provides the SNMP request processor: envelope and PDU
// validation, GET and GET-NEXT dispatch against the MIB store, and
// response encoding.
package snmp

import (
	"fmt"
	"slices"

	"github.com/geekxflood/common/config"

	"github.com/geekxflood/proteus/internal/types"
)

// maxUDPPayload is the largest payload a single IPv4 UDP datagram can carry.
const maxUDPPayload = 65507

// ProcessorConfig holds request processing configuration.
type ProcessorConfig struct {
	Community      string `json:"community"`
	AuthRequired   bool   `json:"auth_required"`
	Versions       []int  `json:"versions"`
	MaxMessageSize int    `json:"max_message_size"`
}

// DefaultProcessorConfig returns the default processor configuration.
func DefaultProcessorConfig() *ProcessorConfig {
	return &ProcessorConfig{
		Community:      "public",
		AuthRequired:   true,
		Versions:       []int{types.VersionSNMPv1, types.VersionSNMPv2c},
		MaxMessageSize: maxUDPPayload,
	}
}

// LoadProcessorConfig reads the snmp.* keys from cfg.
func LoadProcessorConfig(cfg config.Provider) (*ProcessorConfig, error) {
	pc := DefaultProcessorConfig()

	if community, err := cfg.GetString("snmp.community", pc.Community); err == nil {
		pc.Community = community
	}
	if authRequired, err := cfg.GetBool("snmp.auth_required", pc.AuthRequired); err == nil {
		pc.AuthRequired = authRequired
	}
	if maxSize, err := cfg.GetInt("snmp.max_message_size", pc.MaxMessageSize); err == nil {
		pc.MaxMessageSize = maxSize
	}
	if labels, err := cfg.GetStringSlice("snmp.versions"); err == nil {
		versions := make([]int, 0, len(labels))
		for _, label := range labels {
			v, err := types.ParseVersion(label)
			if err != nil {
				return nil, fmt.Errorf("invalid snmp.versions entry: %w", err)
			}
			if v == types.VersionSNMPv3 {
				return nil, fmt.Errorf("snmp.versions: SNMPv3 is not supported: %w", types.ErrUnimplemented)
			}
			if !slices.Contains(versions, v) {
				versions = append(versions, v)
			}
		}
		pc.Versions = versions
	}

	if err := pc.Validate(); err != nil {
		return nil, err
	}
	return pc, nil
}

// Validate checks the configuration for consistency.
func (c *ProcessorConfig) Validate() error {
	if len(c.Versions) == 0 {
		return types.ValidationError{Field: "snmp.versions", Message: "at least one version must be enabled", Kind: types.ErrInvalidArgument}
	}
	if c.AuthRequired && c.Community == "" {
		return types.ValidationError{Field: "snmp.community", Message: "community is required when auth_required is set", Kind: types.ErrInvalidArgument}
	}
	if c.MaxMessageSize < 484 || c.MaxMessageSize > maxUDPPayload {
		return types.ValidationError{
			Field:   "snmp.max_message_size",
			Message: fmt.Sprintf("%d is outside [484, %d]", c.MaxMessageSize, maxUDPPayload),
			Kind:    types.ErrInvalidArgument,
		}
	}
	return nil
}

// supportsVersion reports whether v is enabled.
func (c *ProcessorConfig) supportsVersion(v int) bool {
	return slices.Contains(c.Versions, v)
}
