package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestExportError_IsMatchesByCode(t *testing.T) {
	err := EmptyPayload("primary", 3)

	if !errors.Is(err, ErrEmptyPayload) {
		t.Error("Expected errors.Is to match ErrEmptyPayload")
	}
	if errors.Is(err, ErrUnknownField) {
		t.Error("Did not expect errors.Is to match ErrUnknownField")
	}

	wrapped := fmt.Errorf("processing event: %w", err)
	if !errors.Is(wrapped, ErrEmptyPayload) {
		t.Error("Expected wrapped error to match ErrEmptyPayload")
	}
	if GetCode(wrapped) != CodeEmptyPayload {
		t.Errorf("GetCode() = %s, want %s", GetCode(wrapped), CodeEmptyPayload)
	}
}

func TestExportError_Message(t *testing.T) {
	err := UnknownField("y", "primary")
	msg := err.Error()

	for _, want := range []string{"E102", "UnknownFieldError", "field=y", "stream=primary"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, missing %q", msg, want)
		}
	}
	if strings.Index(msg, "field=y") > strings.Index(msg, "stream=primary") {
		t.Errorf("Expected context keys in sorted order, got %q", msg)
	}
}

func TestWrap(t *testing.T) {
	if Wrap(nil, CodeFileWrite, "x") != nil {
		t.Error("Expected Wrap(nil) to return nil")
	}

	cause := errors.New("disk full")
	err := FileWrite(cause, "/tmp/out.jsonl")
	if !errors.Is(err, cause) {
		t.Error("Expected cause to be reachable through Unwrap")
	}
	if len(err.StackTrace) == 0 {
		t.Error("Expected a captured stack trace")
	}
}

func TestIsRecoverable(t *testing.T) {
	tests := []struct {
		err         error
		recoverable bool
	}{
		{OutOfOrderEvent("primary", 1, 2), true},
		{EmptyPayload("primary", 1), false},
		{DanglingReference("d1", "r1"), false},
		{TemplateResolution("{x}", "missing key"), false},
		{errors.New("plain"), false},
	}

	for _, tt := range tests {
		if got := IsRecoverable(tt.err); got != tt.recoverable {
			t.Errorf("IsRecoverable(%v) = %v, want %v", tt.err, got, tt.recoverable)
		}
		if got := IsFatal(tt.err); got == tt.recoverable {
			t.Errorf("IsFatal(%v) = %v, want %v", tt.err, got, !tt.recoverable)
		}
	}
	if IsFatal(nil) {
		t.Error("IsFatal(nil) should be false")
	}
}

func TestMultiError(t *testing.T) {
	var m MultiError
	if m.Combined() != nil {
		t.Error("Expected nil for empty MultiError")
	}

	m.Add(nil)
	m.Add(FileWrite(errors.New("a"), "p1"))
	if m.Combined() != m.Errors[0] {
		t.Error("Expected single error to be returned as-is")
	}

	m.Add(UnresolvedReference("d9"))
	combined := m.Combined()
	if !strings.Contains(combined.Error(), "2 errors occurred") {
		t.Errorf("Unexpected message: %s", combined.Error())
	}
	if !errors.Is(combined, ErrUnresolvedReference) {
		t.Error("Expected MultiError to expose members to errors.Is")
	}
}
