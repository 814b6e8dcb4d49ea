// Package syncerr defines the error taxonomy shared by every sync component.
//
// Each failure class has a concrete type carrying context (index name,
// locale, operation) and a sentinel that errors.Is matches against, so
// callers can branch on the class without type switches.
package syncerr

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrSourceFetch   = errors.New("source fetch failed")
	ErrLookup        = errors.New("identity lookup failed")
	ErrWrite         = errors.New("index write failed")
	ErrConfiguration = errors.New("invalid configuration")
	ErrIndexOpen     = errors.New("index open failed")
)

// SourceFetchError reports a failed CMS query
type SourceFetchError struct {
	Locale string
	Err    error
}

func (e *SourceFetchError) Error() string {
	if e.Locale != "" {
		return fmt.Sprintf("%v (locale %s): %v", ErrSourceFetch, e.Locale, e.Err)
	}
	return fmt.Sprintf("%v: %v", ErrSourceFetch, e.Err)
}

func (e *SourceFetchError) Unwrap() []error { return []error{ErrSourceFetch, e.Err} }

// LookupError reports a failed identity-resolution batch query
type LookupError struct {
	Index string
	Err   error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("%v on index %s: %v", ErrLookup, e.Index, e.Err)
}

func (e *LookupError) Unwrap() []error { return []error{ErrLookup, e.Err} }

// Write operations
const (
	OpCreate = "create"
	OpUpdate = "update"
)

// WriteError reports a failed bulk create or bulk update
type WriteError struct {
	Index string
	Op    string
	Count int
	Err   error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("%v: %s of %d records on index %s: %v", ErrWrite, e.Op, e.Count, e.Index, e.Err)
}

func (e *WriteError) Unwrap() []error { return []error{ErrWrite, e.Err} }

// ConfigurationError reports missing or invalid settings
type ConfigurationError struct {
	Field string
	Err   error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%v: %s: %v", ErrConfiguration, e.Field, e.Err)
}

func (e *ConfigurationError) Unwrap() []error { return []error{ErrConfiguration, e.Err} }

// IndexOpenError reports an index that could not be opened with a valid
// configuration, such as a lock held by another process
type IndexOpenError struct {
	Index string
	Err   error
}

func (e *IndexOpenError) Error() string {
	return fmt.Sprintf("%v: %s: %v", ErrIndexOpen, e.Index, e.Err)
}

func (e *IndexOpenError) Unwrap() []error { return []error{ErrIndexOpen, e.Err} }

// Configuration builds a ConfigurationError from a message
func Configuration(field, format string, args ...any) error {
	return &ConfigurationError{Field: field, Err: fmt.Errorf(format, args...)}
}

// Code classifies err into a short label used in logs and tool output
func Code(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancel"
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrIndexOpen):
		return "index_open"
	case errors.Is(err, ErrSourceFetch):
		return "source_fetch"
	case errors.Is(err, ErrLookup):
		return "lookup"
	case errors.Is(err, ErrWrite):
		return "write"
	default:
		return "unknown"
	}
}
