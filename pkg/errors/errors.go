// Package errors provides the coded error taxonomy used across docexport.
// Every failure surfaced by the serializer and its collaborators is an
// *ExportError carrying a stable code, optional context and a captured stack.
package errors

import (
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"
)

// Code identifies an error class for programmatic handling.
type Code string

const (
	// Document errors (1xx)
	CodeInvalidDocument     Code = "E100"
	CodeEmptyPayload        Code = "E101"
	CodeUnknownField        Code = "E102"
	CodeDanglingReference   Code = "E103"
	CodeUnresolvedReference Code = "E104"

	// Ordering errors (2xx)
	CodeOutOfSequence   Code = "E201"
	CodeOutOfOrderEvent Code = "E202"
	CodeSchemaConflict  Code = "E203"

	// Output errors (3xx)
	CodeTemplateResolution Code = "E301"
	CodeFileWrite          Code = "E302"
	CodePathExists         Code = "E303"

	// System errors (4xx)
	CodeContextCanceled Code = "E401"
	CodeInvalidConfig   Code = "E402"

	// Unknown
	CodeUnknown Code = "E999"
)

// Name returns the taxonomy name for the code.
func (c Code) Name() string {
	switch c {
	case CodeInvalidDocument:
		return "InvalidDocumentError"
	case CodeEmptyPayload:
		return "EmptyPayloadError"
	case CodeUnknownField:
		return "UnknownFieldError"
	case CodeDanglingReference:
		return "DanglingReferenceError"
	case CodeUnresolvedReference:
		return "UnresolvedReferenceError"
	case CodeOutOfSequence:
		return "OutOfSequenceError"
	case CodeOutOfOrderEvent:
		return "OutOfOrderEventError"
	case CodeSchemaConflict:
		return "SchemaConflictError"
	case CodeTemplateResolution:
		return "TemplateResolutionError"
	case CodeFileWrite:
		return "FileWriteError"
	case CodePathExists:
		return "PathExistsError"
	case CodeContextCanceled:
		return "ContextCanceledError"
	case CodeInvalidConfig:
		return "InvalidConfigError"
	default:
		return "UnknownError"
	}
}

// Sentinels for errors.Is checks. Matching is by code only.
var (
	ErrInvalidDocument     = &ExportError{Code: CodeInvalidDocument}
	ErrEmptyPayload        = &ExportError{Code: CodeEmptyPayload}
	ErrUnknownField        = &ExportError{Code: CodeUnknownField}
	ErrDanglingReference   = &ExportError{Code: CodeDanglingReference}
	ErrUnresolvedReference = &ExportError{Code: CodeUnresolvedReference}
	ErrOutOfSequence       = &ExportError{Code: CodeOutOfSequence}
	ErrOutOfOrderEvent     = &ExportError{Code: CodeOutOfOrderEvent}
	ErrSchemaConflict      = &ExportError{Code: CodeSchemaConflict}
	ErrTemplateResolution  = &ExportError{Code: CodeTemplateResolution}
	ErrFileWrite           = &ExportError{Code: CodeFileWrite}
	ErrPathExists          = &ExportError{Code: CodePathExists}
	ErrInvalidConfig       = &ExportError{Code: CodeInvalidConfig}
)

// ExportError is the base error type for all docexport errors.
type ExportError struct {
	Code       Code
	Message    string
	Cause      error
	Context    map[string]interface{}
	StackTrace []Frame
}

// Frame represents a stack frame.
type Frame struct {
	Function string
	File     string
	Line     int
}

// Error implements the error interface.
func (e *ExportError) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s] %s: %s", e.Code, e.Code.Name(), e.Message))

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		sb.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		sb.WriteString(")")
	}

	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}

	return sb.String()
}

// Unwrap returns the underlying cause.
func (e *ExportError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches a target error.
func (e *ExportError) Is(target error) bool {
	if t, ok := target.(*ExportError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithContext adds context to the error.
func (e *ExportError) WithContext(key string, value interface{}) *ExportError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a new ExportError.
func New(code Code, message string) *ExportError {
	return &ExportError{
		Code:       code,
		Message:    message,
		StackTrace: captureStack(2),
	}
}

// Newf creates a new ExportError with a formatted message.
func Newf(code Code, format string, args ...interface{}) *ExportError {
	return &ExportError{
		Code:       code,
		Message:    fmt.Sprintf(format, args...),
		StackTrace: captureStack(2),
	}
}

// Wrap wraps an existing error with additional context.
func Wrap(err error, code Code, message string) *ExportError {
	if err == nil {
		return nil
	}

	return &ExportError{
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: captureStack(2),
	}
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, code Code, format string, args ...interface{}) *ExportError {
	if err == nil {
		return nil
	}
	e := Wrap(err, code, fmt.Sprintf(format, args...))
	e.StackTrace = captureStack(2)
	return e
}

// captureStack captures the current stack trace.
func captureStack(skip int) []Frame {
	var frames []Frame
	pcs := make([]uintptr, 32)
	n := runtime.Callers(skip+1, pcs)
	pcs = pcs[:n]

	cf := runtime.CallersFrames(pcs)
	for {
		frame, more := cf.Next()
		frames = append(frames, Frame{
			Function: frame.Function,
			File:     frame.File,
			Line:     frame.Line,
		})
		if !more || len(frames) >= 10 {
			break
		}
	}
	return frames
}

// FormatStack returns a formatted stack trace.
func (e *ExportError) FormatStack() string {
	var sb strings.Builder
	for _, f := range e.StackTrace {
		sb.WriteString(fmt.Sprintf("  at %s\n    %s:%d\n", f.Function, f.File, f.Line))
	}
	return sb.String()
}

// --- Convenience constructors ---

// EmptyPayload reports an event without any non-null field.
func EmptyPayload(stream string, seq int64) *ExportError {
	return New(CodeEmptyPayload, "event carries no data").
		WithContext("stream", stream).
		WithContext("seq_num", seq)
}

// UnknownField reports an event key that its descriptor does not declare.
func UnknownField(field, stream string) *ExportError {
	return New(CodeUnknownField, "field not declared by descriptor").
		WithContext("field", field).
		WithContext("stream", stream)
}

// DanglingReference reports a datum pointing at an undeclared resource.
func DanglingReference(datumID, resource string) *ExportError {
	return New(CodeDanglingReference, "datum references undeclared resource").
		WithContext("datum_id", datumID).
		WithContext("resource", resource)
}

// UnresolvedReference reports an event value naming an unknown datum.
func UnresolvedReference(datumID string) *ExportError {
	return New(CodeUnresolvedReference, "datum reference was never recorded").
		WithContext("datum_id", datumID)
}

// OutOfSequence reports a document that arrived before its prerequisites.
func OutOfSequence(kind, reason string) *ExportError {
	return New(CodeOutOfSequence, reason).WithContext("kind", kind)
}

// OutOfOrderEvent reports a non-increasing sequence number within a stream.
func OutOfOrderEvent(stream string, seq, last int64) *ExportError {
	return New(CodeOutOfOrderEvent, "sequence number is not increasing").
		WithContext("stream", stream).
		WithContext("seq_num", seq).
		WithContext("last_seq_num", last)
}

// TemplateResolution reports a naming template that cannot be resolved.
func TemplateResolution(template, reason string) *ExportError {
	return New(CodeTemplateResolution, reason).WithContext("template", template)
}

// FileWrite wraps an output failure for a path.
func FileWrite(err error, path string) *ExportError {
	return Wrap(err, CodeFileWrite, "write failed").WithContext("path", path)
}

// ContextCanceled creates a cancellation error.
func ContextCanceled(operation string) *ExportError {
	return New(CodeContextCanceled, "operation canceled").
		WithContext("operation", operation)
}

// --- Error checking utilities ---

// IsCode checks if an error has a specific code.
func IsCode(err error, code Code) bool {
	var exErr *ExportError
	if errors.As(err, &exErr) {
		return exErr.Code == code
	}
	return false
}

// GetCode extracts the error code from an error.
func GetCode(err error) Code {
	var exErr *ExportError
	if errors.As(err, &exErr) {
		return exErr.Code
	}
	return CodeUnknown
}

// IsRecoverable reports whether a run may continue after err.
// Only per-record ordering violations are recoverable.
func IsRecoverable(err error) bool {
	return GetCode(err) == CodeOutOfOrderEvent
}

// IsFatal returns true if the error invalidates the run.
func IsFatal(err error) bool {
	return err != nil && !IsRecoverable(err)
}

// MultiError collects multiple errors.
type MultiError struct {
	Errors []error
}

// Error implements the error interface.
func (m *MultiError) Error() string {
	if len(m.Errors) == 0 {
		return "no errors"
	}
	if len(m.Errors) == 1 {
		return m.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d errors occurred:\n", len(m.Errors)))
	for i, err := range m.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Unwrap exposes the collected errors to errors.Is and errors.As.
func (m *MultiError) Unwrap() []error {
	return m.Errors
}

// Add adds an error to the collection.
func (m *MultiError) Add(err error) {
	if err != nil {
		m.Errors = append(m.Errors, err)
	}
}

// HasErrors returns true if any errors were collected.
func (m *MultiError) HasErrors() bool {
	return len(m.Errors) > 0
}

// Combined returns nil if no errors, the single error if one, or the MultiError.
func (m *MultiError) Combined() error {
	switch len(m.Errors) {
	case 0:
		return nil
	case 1:
		return m.Errors[0]
	default:
		return m
	}
}
