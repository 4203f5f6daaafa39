// Package errors provides the structured error type shared by every layer
// of kvsearch. Errors carry a Kind that maps one-to-one onto the wire-level
// error class prefix (ERR, NOT-FOUND, TIMEOUT, ...), an optional 1-based
// position for parse errors, and an optional cause for chain support.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies an error into one of the abstract kinds of the error
// taxonomy. The zero value is KindInvalidArgument.
type Kind int

const (
	// KindInvalidArgument covers parse errors and unsupported parameter
	// combinations. Wire class: ERR.
	KindInvalidArgument Kind = iota
	// KindNotFound covers missing indexes and missing query parameters.
	KindNotFound
	// KindPermissionDenied covers ACL failures on the schema's key prefixes.
	KindPermissionDenied
	// KindResourceExhausted is the cluster aggregator sentinel that cancels
	// an in-flight fanout round.
	KindResourceExhausted
	// KindFailedPrecondition covers slot / index fingerprint mismatches
	// while consistent results are requested.
	KindFailedPrecondition
	// KindTimeout is a deadline-cancelled operation without partial results.
	KindTimeout
	// KindOutOfMemory is the used-memory gate in vector search.
	KindOutOfMemory
	// KindTransport is an RPC or IO failure talking to a shard. It never
	// reaches the client directly; the fanout aggregator absorbs it.
	KindTransport
	// KindInternal covers violated invariants, e.g. an unknown indexer type.
	KindInternal
)

// wirePrefix is the ERR-class prefix a client sees for each kind.
var wirePrefix = map[Kind]string{
	KindInvalidArgument:    "ERR",
	KindNotFound:           "NOT-FOUND",
	KindPermissionDenied:   "PERMISSION-DENIED",
	KindResourceExhausted:  "INTERNAL",
	KindFailedPrecondition: "INTERNAL",
	KindTimeout:            "TIMEOUT",
	KindOutOfMemory:        "OOM",
	KindTransport:          "INTERNAL",
	KindInternal:           "INTERNAL",
}

// Error is the structured error type for kvsearch.
type Error struct {
	Kind    Kind
	Message string
	// Position is the 1-based byte offset into the query string for parse
	// errors, 0 when not applicable.
	Position int
	Cause    error
}

// Error implements the error interface, rendering the wire form.
func (e *Error) Error() string {
	if e.Position > 0 {
		return fmt.Sprintf("%s %s at position %d", wirePrefix[e.Kind], e.Message, e.Position)
	}
	return fmt.Sprintf("%s %s", wirePrefix[e.Kind], e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches by kind so errors.Is works across wrapping layers.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind && (t.Message == "" || t.Message == e.Message)
	}
	return false
}

// New creates an error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an existing error. Returns nil when
// err is nil.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: err}
}

// InvalidArgument creates a parse / policy error.
func InvalidArgument(format string, args ...any) *Error {
	return New(KindInvalidArgument, format, args...)
}

// InvalidArgumentAt creates a parse error carrying a 1-based position.
func InvalidArgumentAt(pos int, format string, args ...any) *Error {
	return &Error{Kind: KindInvalidArgument, Message: fmt.Sprintf(format, args...), Position: pos}
}

// NotFound creates a missing-index / missing-parameter error.
func NotFound(format string, args ...any) *Error {
	return New(KindNotFound, format, args...)
}

// Timeout creates the deadline-exceeded error.
func Timeout(format string, args ...any) *Error {
	return New(KindTimeout, format, args...)
}

// FailedPrecondition creates a fingerprint-mismatch error.
func FailedPrecondition(format string, args ...any) *Error {
	return New(KindFailedPrecondition, format, args...)
}

// Internal creates an invariant-violation error.
func Internal(format string, args ...any) *Error {
	return New(KindInternal, format, args...)
}

// KindOf extracts the kind from any error; non-Error values map to
// KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind anywhere in its chain.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
