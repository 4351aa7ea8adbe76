// Package apperr defines the portable error taxonomy used across pai-deps
// and the uniform result envelope returned to callers.
package apperr

import (
	"fmt"
)

// Kind identifies one of the error categories from the error-handling
// design: manifest problems abort with detail, store problems roll back,
// verification problems never escape their contract boundary.
type Kind string

const (
	KindInvalidManifest Kind = "invalid_manifest"
	KindNotFound        Kind = "not_found"
	KindConflict        Kind = "conflict"
	KindStoreError      Kind = "store_error"
	KindParseError      Kind = "parse_error"
	KindTimeout         Kind = "timeout"
	KindDegraded        Kind = "degraded"
	KindIOError         Kind = "io_error"
)

// FieldError names one failed validation constraint by its dotted field
// path, e.g. "depends_on.2.kind".
type FieldError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// Error is the concrete error type returned by the manifest, store and
// registrar operations (canon, config and schema return plain wrapped
// errors). Callers should errors.As into *Error to inspect Kind and Fields.
type Error struct {
	Kind    Kind
	Message string
	Fields  []FieldError // populated for KindInvalidManifest
	Err     error        // wrapped cause, if any
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// InvalidManifest reports every failed constraint at once; the caller
// never sees only the first failure.
func InvalidManifest(fields ...FieldError) *Error {
	return &Error{Kind: KindInvalidManifest, Message: "manifest validation failed", Fields: fields}
}

// NotFound reports a missing tool, contract, or dependency.
func NotFound(kind, id string) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("%s %q not found", kind, id)}
}

// Conflict reports an operation blocked by live state (e.g. unregistering
// a tool with live dependents).
func Conflict(message string) *Error {
	return &Error{Kind: KindConflict, Message: message}
}

// StoreErrorf wraps a backing-store failure; the enclosing transaction
// must already have been rolled back by the caller.
func StoreErrorf(cause error, format string, args ...any) *Error {
	return &Error{Kind: KindStoreError, Message: fmt.Sprintf(format, args...), Err: cause}
}

// ParseErrorf reports a runtime payload that failed to parse as JSON
// where JSON was required (verifier output).
func ParseErrorf(cause error, format string, args ...any) *Error {
	return &Error{Kind: KindParseError, Message: fmt.Sprintf(format, args...), Err: cause}
}

// Timeoutf reports a verifier deadline exceeded.
func Timeoutf(format string, args ...any) *Error {
	return &Error{Kind: KindTimeout, Message: fmt.Sprintf(format, args...)}
}

// Degradedf reports a non-essential subtask (cycle detection, drift,
// analytics) failing after the primary write already succeeded.
func Degradedf(format string, args ...any) *Error {
	return &Error{Kind: KindDegraded, Message: fmt.Sprintf(format, args...)}
}

// IOErrorf wraps a filesystem or process-spawn failure.
func IOErrorf(cause error, format string, args ...any) *Error {
	return &Error{Kind: KindIOError, Message: fmt.Sprintf(format, args...), Err: cause}
}

// Envelope is the uniform JSON shape every non-table-rendering caller
// gets back: {success, data, error, warnings}.
type Envelope struct {
	Success  bool           `json:"success"`
	Data     any            `json:"data,omitempty"`
	Error    *EnvelopeError `json:"error,omitempty"`
	Warnings []string       `json:"warnings,omitempty"`
}

// EnvelopeError is the serialized form of Error in an Envelope.
type EnvelopeError struct {
	Kind    Kind         `json:"kind"`
	Message string       `json:"message"`
	Fields  []FieldError `json:"fields,omitempty"`
}

// OK builds a success envelope.
func OK(data any, warnings ...string) Envelope {
	return Envelope{Success: true, Data: data, Warnings: warnings}
}

// Fail builds a failure envelope from any error, translating *Error when
// possible; any other error is reported with kind store_error and its
// own Error() text as the message.
func Fail(err error, warnings ...string) Envelope {
	var appErr *Error
	if as, ok := err.(*Error); ok {
		appErr = as
	} else {
		appErr = &Error{Kind: KindStoreError, Message: err.Error()}
	}
	return Envelope{
		Success: false,
		Error: &EnvelopeError{
			Kind:    appErr.Kind,
			Message: appErr.Message,
			Fields:  appErr.Fields,
		},
		Warnings: warnings,
	}
}
