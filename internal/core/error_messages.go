// Package core provides the harmonization pipeline.
//
// # Error Codes Reference
//
// This file defines user-friendly error messages with codes for support reference.
// Typed errors from this package are matched first; anything else falls back
// to case-insensitive pattern matching on the error text.
//
// # Configuration Errors (CFG001-CFG099)
//
//	CFG001 - Unknown topic: The requested topic does not exist
//	         Action: List the available topics and choose one of them
//
//	CFG002 - Unknown field: A requested column is not part of the topic schema
//	         Action: Check the column names against the topic's fields
//
//	CFG003 - Unknown format: The catalog references an unknown transformation
//	         Action: Fix the catalog entry; this is not a data problem
//
//	CFG004 - Invalid parameter: A source's field parameters are invalid
//	         Action: Fix the specifier or locator in the catalog entry
//
//	CFG005 - Malformed catalog: A catalog file could not be read or validated
//	         Action: Validate the schema.json and meta.json files
//
// # Source Errors (SRC001-SRC099)
//
//	SRC001 - Source unreachable: A source could not be retrieved
//	SRC002 - Source malformed: A source's content could not be parsed
//	SRC003 - Unsupported format: A source's file type is not supported
//
// # Run Errors (RUN001-RUN099)
//
//	RUN001 - System busy: Too many runs in progress
//	RUN002 - Run cancelled: The request was cancelled
//	RUN003 - Run timeout: The run exceeded its time limit
//	RUN004 - Run not found: No recorded run has the requested id
//
// # Export Errors (SINK001-SINK099)
//
//	SINK001 - Unsupported destination: The DSN scheme is not recognised
//	SINK002 - Missing destination: An export named no destination
//	SINK003 - Unknown destination: The name is not a configured destination
//	SINK004 - Outside export directory: A file destination escapes SINK_EXPORT_DIR
//
// # Rate Limiting (RATE001)
//
// # Default Error (ERR000)
package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

var configMessages = map[ConfigKind]UserMessage{
	ConfigUnknownTopic: {
		Message: "The requested topic does not exist",
		Action:  "List the available topics and choose one of them",
		Code:    "CFG001",
	},
	ConfigUnknownField: {
		Message: "A requested column is not part of the topic schema",
		Action:  "Check the column names against the topic's fields",
		Code:    "CFG002",
	},
	ConfigUnknownFormat: {
		Message: "The catalog references an unknown transformation",
		Action:  "Fix the catalog entry; this is not a data problem",
		Code:    "CFG003",
	},
	ConfigInvalidParam: {
		Message: "A source's field parameters are invalid",
		Action:  "Fix the specifier or locator in the catalog entry",
		Code:    "CFG004",
	},
	ConfigMalformed: {
		Message: "A catalog file could not be read or validated",
		Action:  "Validate the schema.json and meta.json files",
		Code:    "CFG005",
	},
}

var fetchMessages = map[FetchKind]UserMessage{
	FetchUnreachable: {
		Message: "A source could not be retrieved",
		Action:  "Check the source URL or try again later",
		Code:    "SRC001",
	},
	FetchMalformed: {
		Message: "A source's content could not be parsed",
		Action:  "Check the source's file type and start offset",
		Code:    "SRC002",
	},
	FetchUnsupported: {
		Message: "A source's file type is not supported",
		Action:  "Convert the source to CSV or XLSX",
		Code:    "SRC003",
	},
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns maps technical error patterns (case-insensitive) to user messages.
// The first matching pattern wins, so more specific patterns come first.
var errorPatterns = []errorPattern{
	{
		pattern: "too many concurrent runs",
		msg: UserMessage{
			Message: "Too many runs in progress",
			Action:  "Please wait a moment and try again",
			Code:    "RUN001",
		},
	},
	{
		pattern: "context canceled",
		msg: UserMessage{
			Message: "The request was cancelled",
			Action:  "Please try again",
			Code:    "RUN002",
		},
	},
	{
		pattern: "context deadline exceeded",
		msg: UserMessage{
			Message: "The run exceeded its time limit",
			Action:  "Narrow the scope or required columns and try again",
			Code:    "RUN003",
		},
	},
	{
		pattern: "run not found",
		msg: UserMessage{
			Message: "No recorded run has that id",
			Action:  "List recent runs and use one of their ids",
			Code:    "RUN004",
		},
	},
	{
		pattern: "unsupported sink destination",
		msg: UserMessage{
			Message: "The export destination is not supported",
			Action:  "Use a postgres://, mysql://, sqlite://, mongodb://, csv:// or jsonl:// destination",
			Code:    "SINK001",
		},
	},
	{
		pattern: "export destination required",
		msg: UserMessage{
			Message: "No export destination was given",
			Action:  "Name a destination or configure SINK_DSN",
			Code:    "SINK002",
		},
	},
	{
		pattern: "unknown export destination",
		msg: UserMessage{
			Message: "The export destination is not configured",
			Action:  "Use one of the destination names configured in SINK_DESTINATIONS",
			Code:    "SINK003",
		},
	},
	{
		pattern: "outside export directory",
		msg: UserMessage{
			Message: "The export file is outside the export directory",
			Action:  "Use a relative path below SINK_EXPORT_DIR",
			Code:    "SINK004",
		},
	},
	{
		pattern: "rate limit",
		msg: UserMessage{
			Message: "Too many requests",
			Action:  "Please wait a moment before trying again",
			Code:    "RATE001",
		},
	},
}

// defaultMessage is returned when no pattern matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// Typed errors are matched first, then known text patterns. If nothing
// matches, a generic fallback message with code ERR000 is returned.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	var ce *ConfigurationError
	if errors.As(err, &ce) {
		if msg, ok := configMessages[ce.Kind]; ok {
			return msg
		}
	}
	if errors.Is(err, ErrUnknownTopic) {
		return configMessages[ConfigUnknownTopic]
	}

	var fe *SourceFetchError
	if errors.As(err, &fe) {
		if msg, ok := fetchMessages[fe.Kind]; ok {
			return msg
		}
	}

	switch {
	case errors.Is(err, context.Canceled):
		return errorPatterns[1].msg
	case errors.Is(err, context.DeadlineExceeded):
		return errorPatterns[2].msg
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing checks if an error maps to a specific code rather than the
// generic ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
