package core

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantCode    string
		wantMessage string
	}{
		{
			name:        "nil error returns empty",
			err:         nil,
			wantCode:    "",
			wantMessage: "",
		},
		{
			name:        "unknown topic sentinel",
			err:         fmt.Errorf("dataset: %w", ErrUnknownTopic),
			wantCode:    "CFG001",
			wantMessage: "The requested topic does not exist",
		},
		{
			name:        "unknown field",
			err:         &ConfigurationError{Kind: ConfigUnknownField, Topic: "use_of_force", Field: "x"},
			wantCode:    "CFG002",
			wantMessage: "A requested column is not part of the topic schema",
		},
		{
			name:        "wrapped unknown format",
			err:         fmt.Errorf("load: %w", &ConfigurationError{Kind: ConfigUnknownFormat}),
			wantCode:    "CFG003",
			wantMessage: "The catalog references an unknown transformation",
		},
		{
			name:        "invalid parameter",
			err:         &ConfigurationError{Kind: ConfigInvalidParam},
			wantCode:    "CFG004",
			wantMessage: "A source's field parameters are invalid",
		},
		{
			name:        "malformed catalog",
			err:         &ConfigurationError{Kind: ConfigMalformed},
			wantCode:    "CFG005",
			wantMessage: "A catalog file could not be read or validated",
		},
		{
			name:        "unreachable source",
			err:         NewFetchError(FetchUnreachable, "https://example.org/a.csv", errors.New("404")),
			wantCode:    "SRC001",
			wantMessage: "A source could not be retrieved",
		},
		{
			name:        "unsupported source",
			err:         NewFetchError(FetchUnsupported, "https://example.org/a.xls", errors.New("xls")),
			wantCode:    "SRC003",
			wantMessage: "A source's file type is not supported",
		},
		{
			name:        "too many runs",
			err:         errors.New("too many concurrent runs"),
			wantCode:    "RUN001",
			wantMessage: "Too many runs in progress",
		},
		{
			name:        "cancelled",
			err:         fmt.Errorf("merge: %w", context.Canceled),
			wantCode:    "RUN002",
			wantMessage: "The request was cancelled",
		},
		{
			name:        "deadline",
			err:         context.DeadlineExceeded,
			wantCode:    "RUN003",
			wantMessage: "The run exceeded its time limit",
		},
		{
			name:        "unsupported destination",
			err:         fmt.Errorf("open destination: %w", errors.New(`unsupported sink destination: "ftp://x"`)),
			wantCode:    "SINK001",
			wantMessage: "The export destination is not supported",
		},
		{
			name:        "unknown destination",
			err:         fmt.Errorf(`%w: "warehouse"`, errors.New("unknown export destination")),
			wantCode:    "SINK003",
			wantMessage: "The export destination is not configured",
		},
		{
			name:        "file outside export directory",
			err:         fmt.Errorf("open destination: %w", errors.New("file destination outside export directory")),
			wantCode:    "SINK004",
			wantMessage: "The export file is outside the export directory",
		},
		{
			name:        "run not found",
			err:         errors.New("run not found: 42"),
			wantCode:    "RUN004",
			wantMessage: "No recorded run has that id",
		},
		{
			name:        "rate limit maps correctly",
			err:         errors.New("rate limit exceeded"),
			wantCode:    "RATE001",
			wantMessage: "Too many requests",
		},
		{
			name:        "unknown error returns default",
			err:         errors.New("some random error xyz"),
			wantCode:    "ERR000",
			wantMessage: "An unexpected error occurred",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(tt.err)
			if got.Code != tt.wantCode {
				t.Errorf("MapError() code = %v, want %v", got.Code, tt.wantCode)
			}
			if got.Message != tt.wantMessage {
				t.Errorf("MapError() message = %v, want %v", got.Message, tt.wantMessage)
			}
		})
	}
}

func TestFormatUserError(t *testing.T) {
	err := &ConfigurationError{Kind: ConfigUnknownField, Field: "x"}
	result := FormatUserError(err)

	expected := "A requested column is not part of the topic schema (Code: CFG002). Check the column names against the topic's fields"
	if result != expected {
		t.Errorf("FormatUserError() = %q, want %q", result, expected)
	}
}

func TestIsUserFacing(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "nil error is not user facing",
			err:  nil,
			want: false,
		},
		{
			name: "configuration error is user facing",
			err:  &ConfigurationError{Kind: ConfigMalformed},
			want: true,
		},
		{
			name: "unknown error is not user facing",
			err:  errors.New("random internal error xyz"),
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsUserFacing(tt.err)
			if got != tt.want {
				t.Errorf("IsUserFacing() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConfigurationError_Error(t *testing.T) {
	err := &ConfigurationError{
		Kind:   ConfigInvalidParam,
		Topic:  "use_of_force",
		Source: "https://example.org/a.csv",
		Field:  "date",
		Err:    errors.New("date requires a specifier"),
	}
	want := `configuration error: invalid parameter (topic "use_of_force", source "https://example.org/a.csv", field "date"): date requires a specifier`
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !IsConfigurationError(fmt.Errorf("wrap: %w", err)) {
		t.Error("IsConfigurationError() = false for wrapped error")
	}
}
