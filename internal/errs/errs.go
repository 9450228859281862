// Package errs defines the error-kind taxonomy shared by the writer, merger
// and delta components, so callers can switch on a stable Kind regardless of
// which component raised the error.
package errs

import "fmt"

// Kind is an abstract error category shared across components. Each
// component surfaces it wrapped in its own Error type with a Component tag.
type Kind int

const (
	InvalidConfig Kind = iota
	FileOpen
	FileNotFound
	Write
	BufferOverflow
	Compression
	Decompression
	SchemaMismatch
	Parse
	DuplicateResolution
	Memory
	IO
	VersionMismatch
)

func (k Kind) String() string {
	switch k {
	case InvalidConfig:
		return "InvalidConfig"
	case FileOpen:
		return "FileOpen"
	case FileNotFound:
		return "FileNotFound"
	case Write:
		return "Write"
	case BufferOverflow:
		return "BufferOverflow"
	case Compression:
		return "Compression"
	case Decompression:
		return "Decompression"
	case SchemaMismatch:
		return "SchemaMismatch"
	case Parse:
		return "Parse"
	case DuplicateResolution:
		return "DuplicateResolution"
	case Memory:
		return "Memory"
	case IO:
		return "IO"
	case VersionMismatch:
		return "VersionMismatch"
	default:
		return "Unknown"
	}
}

// Error is the concrete error type raised by writer/merger/delta. Component
// names the subsystem that raised it ("writer", "merger", "delta") so the
// same abstract Kind reads as a distinct per-component variant.
type Error struct {
	Component string
	Kind      Kind
	Message   string
	Cause     error
}

func New(component string, kind Kind, message string) *Error {
	return &Error{Component: component, Kind: kind, Message: message}
}

func Wrap(component string, kind Kind, message string, cause error) *Error {
	return &Error{Component: component, Kind: kind, Message: message, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s: %v", e.Component, e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s: %s", e.Component, e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error with the same Kind, so
// errors.Is(err, &errs.Error{Kind: errs.InvalidConfig}) matches any error of
// that kind in the chain; Component, Message and Cause are not compared.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}
