package listener

import (
	"fmt"
	"net"
	"strings"

	"github.com/geekxflood/common/config"

	"github.com/geekxflood/proteus/internal/types"
)

// FilterConfig holds source and size restrictions applied before a packet
// reaches the processor.
type FilterConfig struct {
	MaxPacketSize  int      `json:"max_packet_size"`
	AllowedSources []string `json:"allowed_sources"`
	BlockedSources []string `json:"blocked_sources"`
}

// DefaultFilterConfig returns a filter that accepts any source.
func DefaultFilterConfig() *FilterConfig {
	return &FilterConfig{
		MaxPacketSize:  65535,
		AllowedSources: []string{},
		BlockedSources: []string{},
	}
}

// loadFilterConfig reads the server.* filter keys.
func loadFilterConfig(cfg config.Provider) *FilterConfig {
	fc := DefaultFilterConfig()
	if size, err := cfg.GetInt("server.max_packet_size", fc.MaxPacketSize); err == nil {
		fc.MaxPacketSize = size
	}
	if allowed, err := cfg.GetStringSlice("server.allowed_sources"); err == nil {
		fc.AllowedSources = allowed
	}
	if blocked, err := cfg.GetStringSlice("server.blocked_sources"); err == nil {
		fc.BlockedSources = blocked
	}
	return fc
}

// SourceFilter rejects packets by source address and size.
type SourceFilter struct {
	config  *FilterConfig
	allowed []*net.IPNet
	blocked []*net.IPNet
}

// NewSourceFilter creates a filter. Patterns are IP addresses or CIDR blocks.
func NewSourceFilter(config *FilterConfig) (*SourceFilter, error) {
	if config == nil {
		config = DefaultFilterConfig()
	}
	allowed, err := parsePatterns(config.AllowedSources)
	if err != nil {
		return nil, fmt.Errorf("invalid server.allowed_sources: %w", err)
	}
	blocked, err := parsePatterns(config.BlockedSources)
	if err != nil {
		return nil, fmt.Errorf("invalid server.blocked_sources: %w", err)
	}
	return &SourceFilter{config: config, allowed: allowed, blocked: blocked}, nil
}

func parsePatterns(patterns []string) ([]*net.IPNet, error) {
	nets := make([]*net.IPNet, 0, len(patterns))
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if !strings.Contains(pattern, "/") {
			ip := net.ParseIP(pattern)
			if ip == nil {
				return nil, fmt.Errorf("%q is not an IP address: %w", pattern, types.ErrInvalidArgument)
			}
			bits := 8 * net.IPv6len
			if ip4 := ip.To4(); ip4 != nil {
				ip, bits = ip4, 8*net.IPv4len
			}
			nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, network, err := net.ParseCIDR(pattern)
		if err != nil {
			return nil, fmt.Errorf("%q is not a CIDR block: %w", pattern, types.ErrInvalidArgument)
		}
		nets = append(nets, network)
	}
	return nets, nil
}

// Check validates a packet from ip.
func (f *SourceFilter) Check(ip net.IP, size int) error {
	if size > f.config.MaxPacketSize {
		return types.ValidationError{
			Field:   "packet_size",
			Message: fmt.Sprintf("packet size %d exceeds maximum %d", size, f.config.MaxPacketSize),
			Kind:    types.ErrResourceExhaustion,
		}
	}

	for _, network := range f.blocked {
		if network.Contains(ip) {
			return types.ValidationError{
				Field:   "source_address",
				Message: fmt.Sprintf("source address %s is blocked", ip),
			}
		}
	}

	if len(f.allowed) > 0 {
		for _, network := range f.allowed {
			if network.Contains(ip) {
				return nil
			}
		}
		return types.ValidationError{
			Field:   "source_address",
			Message: fmt.Sprintf("source address %s is not in allowed list", ip),
		}
	}
	return nil
}
