package types

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by the codec, the MIB store and the request processor.
var (
	// ErrMalformedEncoding reports truncated or over-length BER input.
	ErrMalformedEncoding = errors.New("malformed encoding")
	// ErrProtocolViolation reports a well-formed tree with the wrong SNMP shape.
	ErrProtocolViolation = errors.New("protocol violation")
	// ErrNotFound reports an OID with no registered entry.
	ErrNotFound = errors.New("not found")
	// ErrResourceExhaustion reports a request aborted on a size or depth limit.
	ErrResourceExhaustion = errors.New("resource exhaustion")
	// ErrUnimplemented reports a PDU or version the agent does not serve.
	ErrUnimplemented = errors.New("unimplemented")
	// ErrInvalidArgument reports misuse of a constructor or helper.
	ErrInvalidArgument = errors.New("invalid argument")
)

// ValidationError represents an SNMP message validation error.
type ValidationError struct {
	Field   string
	Message string
	// Kind is the sentinel the error unwraps to, ErrProtocolViolation when nil.
	Kind error
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error in %s: %s", e.Field, e.Message)
}

// Unwrap returns the sentinel category of the error.
func (e ValidationError) Unwrap() error {
	if e.Kind == nil {
		return ErrProtocolViolation
	}
	return e.Kind
}

// ParseError represents a BER decoding error.
type ParseError struct {
	Offset  int
	Message string
}

func (e ParseError) Error() string {
	return fmt.Sprintf("parse error at offset %d: %s", e.Offset, e.Message)
}

// Unwrap returns ErrMalformedEncoding.
func (e ParseError) Unwrap() error {
	return ErrMalformedEncoding
}

// NewParseError creates a ParseError at the given offset.
func NewParseError(offset int, format string, args ...any) error {
	return ParseError{Offset: offset, Message: fmt.Sprintf(format, args...)}
}
