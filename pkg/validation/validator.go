// Package validation checks documents and inputs before they reach the
// serializer's state. Document checks are pure: they read run state through
// the State interface and never modify it.
package validation

import (
	"github.com/logflow/docexport/internal/model"
	exerrors "github.com/logflow/docexport/pkg/errors"
	"github.com/logflow/docexport/pkg/normalize"
)

// State is the read-only view of a run that document checks need.
type State interface {
	// Descriptor returns the descriptor registered under uid.
	Descriptor(uid string) (model.Descriptor, bool)

	// HasResource reports whether a resource uid was declared.
	HasResource(uid string) bool

	// RunUID returns the uid of the open run, or "" if none is open.
	RunUID() string
}

// Result is the outcome of validating one document.
type Result struct {
	// Err is set when the document must be rejected.
	Err error

	// Warnings are non-fatal observations (e.g. a stop for an unknown run).
	Warnings []string
}

// OK reports whether the document was accepted.
func (r Result) OK() bool {
	return r.Err == nil
}

func reject(err error) Result {
	return Result{Err: err}
}

func warn(msg string) Result {
	return Result{Warnings: []string{msg}}
}

// Validate checks a decoded document of the given kind against state.
func Validate(kind model.Kind, doc any, state State) Result {
	switch d := doc.(type) {
	case model.Start:
		return validateStart(d)
	case model.Descriptor:
		return validateDescriptor(d)
	case model.Event:
		desc, ok := state.Descriptor(d.Descriptor)
		if !ok {
			return reject(exerrors.OutOfSequence(string(kind), "event precedes its descriptor").
				WithContext("descriptor", d.Descriptor))
		}
		return ValidateEvent(d, desc)
	case model.Resource:
		return validateResource(d)
	case model.Datum:
		return validateDatum(d, state)
	case model.Stop:
		return validateStop(d, state)
	}
	return reject(exerrors.Newf(exerrors.CodeInvalidDocument, "unsupported document %T for kind %s", doc, kind))
}

func validateStart(s model.Start) Result {
	if s.UID == "" {
		return reject(exerrors.New(exerrors.CodeInvalidDocument, "start document has no uid"))
	}
	return Result{}
}

func validateDescriptor(d model.Descriptor) Result {
	if d.Name == "" {
		return reject(exerrors.New(exerrors.CodeInvalidDocument, "descriptor has no stream name").
			WithContext("descriptor", d.UID))
	}
	if d.UID == "" {
		return reject(exerrors.New(exerrors.CodeInvalidDocument, "descriptor has no uid").
			WithContext("stream", d.Name))
	}
	if len(d.DataKeys) == 0 {
		return reject(exerrors.New(exerrors.CodeInvalidDocument, "descriptor declares no fields").
			WithContext("stream", d.Name))
	}
	for name := range d.DataKeys {
		if name == "" {
			return reject(exerrors.New(exerrors.CodeInvalidDocument, "descriptor declares an empty field name").
				WithContext("stream", d.Name))
		}
	}

	// A field may belong to at most one device group.
	owner := make(map[string]string)
	for object, fields := range d.ObjectKeys {
		for _, f := range fields {
			if prev, dup := owner[f]; dup {
				return reject(exerrors.New(exerrors.CodeInvalidDocument, "field declared twice").
					WithContext("stream", d.Name).
					WithContext("field", f).
					WithContext("objects", []string{prev, object}))
			}
			owner[f] = object
		}
	}
	return Result{}
}

// ValidateEvent checks an event payload against the descriptor of its stream.
// The payload must already be normalized.
func ValidateEvent(ev model.Event, desc model.Descriptor) Result {
	empty := true
	for key, value := range ev.Data {
		if _, declared := desc.DataKeys[key]; !declared {
			return reject(exerrors.UnknownField(key, desc.Name))
		}
		if !normalize.IsNull(value) {
			empty = false
		}
	}
	if empty {
		return reject(exerrors.EmptyPayload(desc.Name, ev.SeqNum))
	}
	return Result{}
}

func validateResource(r model.Resource) Result {
	switch {
	case r.UID == "":
		return reject(exerrors.New(exerrors.CodeInvalidDocument, "resource has no uid"))
	case r.Spec == "":
		return reject(exerrors.New(exerrors.CodeInvalidDocument, "resource has no spec").
			WithContext("resource", r.UID))
	case r.ResourcePath == "":
		return reject(exerrors.New(exerrors.CodeInvalidDocument, "resource has no resource_path").
			WithContext("resource", r.UID))
	}
	return Result{}
}

func validateDatum(d model.Datum, state State) Result {
	if d.DatumID == "" {
		return reject(exerrors.New(exerrors.CodeInvalidDocument, "datum has no datum_id"))
	}
	if d.Resource == "" {
		return reject(exerrors.New(exerrors.CodeInvalidDocument, "datum has no resource").
			WithContext("datum_id", d.DatumID))
	}
	if !state.HasResource(d.Resource) {
		return reject(exerrors.DanglingReference(d.DatumID, d.Resource))
	}
	return Result{}
}

func validateStop(s model.Stop, state State) Result {
	if s.RunStart == "" {
		return reject(exerrors.New(exerrors.CodeInvalidDocument, "stop document has no run_start"))
	}
	open := state.RunUID()
	if open == "" {
		return warn("stop for a run that is not open: " + s.RunStart)
	}
	if open != s.RunStart {
		return warn("stop for unknown run " + s.RunStart + " while " + open + " is open")
	}
	return Result{}
}
