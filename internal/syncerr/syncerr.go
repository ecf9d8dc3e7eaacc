// Package syncerr classifies errors raised during synchronization.
//
// Every failure surfaced by the engine carries one of a small set of kinds
// (configuration, authentication, not-found, protocol, transport,
// adapter-internal) so the CLI can pick an exit code and print a compact
// cause chain without inspecting tracker-specific error types.
package syncerr

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
)

// Kind identifies the failure class of an Error.
type Kind int

const (
	// KindUnknown is the zero kind, used for errors that were never classified.
	KindUnknown Kind = iota

	// KindConfiguration covers schema or validation failures detected before
	// any network call.
	KindConfiguration

	// KindAuthentication covers credentials rejected by the platform or a tracker.
	KindAuthentication

	// KindNotFound covers named resources (tracker issue, program) that do not exist.
	KindNotFound

	// KindProtocol covers structurally invalid remote responses: non-JSON where
	// JSON was expected, missing required fields, a populated errors array.
	KindProtocol

	// KindTransport covers network I/O failures.
	KindTransport

	// KindAdapter covers tracker-specific constraint violations, such as an
	// attachment over the tracker's size limit.
	KindAdapter
)

// String returns the lowercase label used in error chains and logs.
func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindAuthentication:
		return "authentication"
	case KindNotFound:
		return "not-found"
	case KindProtocol:
		return "protocol"
	case KindTransport:
		return "transport"
	case KindAdapter:
		return "adapter"
	default:
		return "error"
	}
}

// Error is a classified error with an optional cause and the source location
// where it was raised.
type Error struct {
	Kind Kind
	Msg  string
	Err  error // wrapped cause, may be nil

	file string
	line int
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error { return e.Err }

// New creates a classified error.
func New(kind Kind, format string, args ...interface{}) *Error {
	e := &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
	e.file, e.line = caller(2)
	return e
}

// Wrap classifies an existing error with a kind and contextual message.
// A nil cause returns nil so call sites can wrap unconditionally.
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}
	e := &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
	e.file, e.line = caller(2)
	return e
}

func caller(skip int) (string, int) {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "", 0
	}
	return filepath.Base(file), line
}

// KindOf walks the error chain and returns the kind of the outermost
// classified error, or KindUnknown if none is found.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether any error in the chain carries the given kind.
func IsKind(err error, kind Kind) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Err
	}
	return false
}

// FormatChain renders an error chain one cause per line, outermost first,
// each cause indented under its effect:
//
//	authentication: login rejected (client.go:142)
//	  transport: connection refused
func FormatChain(err error) string {
	var b strings.Builder
	depth := 0
	for err != nil {
		if depth > 0 {
			b.WriteString("\n")
			b.WriteString(strings.Repeat("  ", depth))
		}
		var e *Error
		if errors.As(err, &e) && e == err { // only annotate the exact node
			b.WriteString(e.Kind.String())
			b.WriteString(": ")
			b.WriteString(e.Msg)
			if e.file != "" {
				fmt.Fprintf(&b, " (%s:%d)", e.file, e.line)
			}
			err = e.Err
		} else {
			b.WriteString(err.Error())
			err = errors.Unwrap(err)
		}
		depth++
	}
	return b.String()
}
