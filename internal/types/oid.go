package types

import (
	"fmt"
	"strconv"
	"strings"
)

// MaxOIDArcs is the maximum number of arcs an OID may carry.
const MaxOIDArcs = 40

// OID is an object identifier, an ordered sequence of non-negative arcs.
type OID []uint32

// ParseOID parses a dotted OID string such as "1.3.6.1.2.1.1.1.0".
// A single leading dot is accepted.
func ParseOID(s string) (OID, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), ".")
	if s == "" {
		return nil, fmt.Errorf("empty OID: %w", ErrInvalidArgument)
	}

	parts := strings.Split(s, ".")
	if len(parts) > MaxOIDArcs {
		return nil, fmt.Errorf("OID %q has %d arcs, maximum is %d: %w", s, len(parts), MaxOIDArcs, ErrInvalidArgument)
	}

	oid := make(OID, len(parts))
	for i, part := range parts {
		v, err := strconv.ParseUint(part, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid arc %q in OID %q: %w", part, s, ErrInvalidArgument)
		}
		oid[i] = uint32(v)
	}
	return oid, nil
}

// MustParseOID is like ParseOID but panics on error. Intended for constants.
func MustParseOID(s string) OID {
	oid, err := ParseOID(s)
	if err != nil {
		panic(err)
	}
	return oid
}

// String returns the dotted representation of the OID.
func (o OID) String() string {
	var b strings.Builder
	for i, arc := range o {
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(strconv.FormatUint(uint64(arc), 10))
	}
	return b.String()
}

// Compare compares two OIDs arc by arc. A proper prefix sorts first.
// The result is -1, 0 or +1.
func (o OID) Compare(other OID) int {
	n := min(len(o), len(other))
	for i := 0; i < n; i++ {
		switch {
		case o[i] < other[i]:
			return -1
		case o[i] > other[i]:
			return 1
		}
	}
	switch {
	case len(o) < len(other):
		return -1
	case len(o) > len(other):
		return 1
	}
	return 0
}

// Equal reports whether both OIDs have the same arcs.
func (o OID) Equal(other OID) bool {
	return o.Compare(other) == 0
}

// HasPrefix reports whether prefix is a leading subsequence of o.
func (o OID) HasPrefix(prefix OID) bool {
	if len(prefix) > len(o) {
		return false
	}
	for i := range prefix {
		if o[i] != prefix[i] {
			return false
		}
	}
	return true
}

// Copy returns an independent copy of the OID.
func (o OID) Copy() OID {
	if o == nil {
		return nil
	}
	c := make(OID, len(o))
	copy(c, o)
	return c
}

// Validate checks the arc-count bound and the BER first-two-arc rules.
func (o OID) Validate() error {
	if len(o) < 2 {
		return fmt.Errorf("OID %q needs at least 2 arcs: %w", o.String(), ErrInvalidArgument)
	}
	if len(o) > MaxOIDArcs {
		return fmt.Errorf("OID %q has %d arcs, maximum is %d: %w", o.String(), len(o), MaxOIDArcs, ErrInvalidArgument)
	}
	if o[0] > 2 {
		return fmt.Errorf("OID %q first arc must be 0, 1 or 2: %w", o.String(), ErrInvalidArgument)
	}
	if o[0] < 2 && o[1] > 39 {
		return fmt.Errorf("OID %q second arc must be below 40: %w", o.String(), ErrInvalidArgument)
	}
	if o[0] == 2 && o[1] > ^uint32(0)-80 {
		return fmt.Errorf("OID %q second arc too large: %w", o.String(), ErrInvalidArgument)
	}
	return nil
}
