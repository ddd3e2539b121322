package core

import (
	"errors"
	"fmt"
)

// ErrUnknownTopic is returned when a topic is not present in the catalog.
var ErrUnknownTopic = errors.New("unknown topic")

// ConfigKind classifies configuration errors.
type ConfigKind string

const (
	ConfigUnknownTopic  ConfigKind = "unknown topic"
	ConfigUnknownField  ConfigKind = "unknown field"
	ConfigUnknownFormat ConfigKind = "unknown format"
	ConfigInvalidParam  ConfigKind = "invalid parameter"
	ConfigMalformed     ConfigKind = "malformed catalog"
)

// ConfigurationError is a fatal problem with the catalog or the caller's
// request. It is raised before any row is produced and is never retried.
type ConfigurationError struct {
	Kind   ConfigKind
	Topic  string
	Source string // Source URL, if the problem is local to one source
	Field  string
	Err    error
}

func (e *ConfigurationError) Error() string {
	msg := "configuration error: " + string(e.Kind)
	if e.Topic != "" {
		msg += fmt.Sprintf(" (topic %q", e.Topic)
		if e.Source != "" {
			msg += fmt.Sprintf(", source %q", e.Source)
		}
		if e.Field != "" {
			msg += fmt.Sprintf(", field %q", e.Field)
		}
		msg += ")"
	} else if e.Field != "" {
		msg += fmt.Sprintf(" (field %q)", e.Field)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// FetchKind classifies per-source retrieval failures.
type FetchKind string

const (
	FetchUnreachable FetchKind = "unreachable"
	FetchMalformed   FetchKind = "malformed"
	FetchUnsupported FetchKind = "unsupported format"
)

// SourceFetchError reports that one source could not be retrieved or parsed.
// The merge stream records it and continues with the next source.
type SourceFetchError struct {
	Kind FetchKind
	URL  string
	Err  error
}

func (e *SourceFetchError) Error() string {
	return fmt.Sprintf("source %s: %s: %v", e.URL, e.Kind, e.Err)
}

func (e *SourceFetchError) Unwrap() error { return e.Err }

// NewFetchError wraps err as a SourceFetchError for url.
func NewFetchError(kind FetchKind, url string, err error) *SourceFetchError {
	return &SourceFetchError{Kind: kind, URL: url, Err: err}
}

// asFetchError classifies any adapter error. Errors that are not already
// SourceFetchErrors are treated as unreachable.
func asFetchError(url string, err error) *SourceFetchError {
	var fe *SourceFetchError
	if errors.As(err, &fe) {
		return fe
	}
	return NewFetchError(FetchUnreachable, url, err)
}

// IsConfigurationError reports whether err is, or wraps, a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}
