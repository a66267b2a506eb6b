package model

import (
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/logflow/docexport/pkg/normalize"
)

// Decode converts a raw document into its typed form for kind.
// doc may be a map, a Document, an already typed document, or any struct
// (normalized into a field map first).
func Decode(kind Kind, doc any) (any, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown document kind %q", kind)
	}

	switch t := doc.(type) {
	case Start, Descriptor, Stop, Resource, Datum, DatumPage, EventPage:
		if !typedMatches(kind, doc) {
			return nil, fmt.Errorf("document of type %T cannot be a %s", doc, kind)
		}
		return withMetadata(t), nil
	case *Start, *Descriptor, *Stop, *Resource, *Datum, *DatumPage, *EventPage, *Event:
		return Decode(kind, derefTyped(t))
	case Event:
		if kind != KindEvent {
			return nil, fmt.Errorf("document of type %T cannot be a %s", doc, kind)
		}
		data, err := normalize.Payload(t.Data)
		if err != nil {
			return nil, err
		}
		t.Data = data
		return t, nil
	}

	raw, err := rawMap(doc)
	if err != nil {
		return nil, err
	}

	switch kind {
	case KindStart:
		var s Start
		if err := decodeInto(raw, &s); err != nil {
			return nil, err
		}
		s.Metadata = raw
		return s, nil

	case KindDescriptor:
		var d Descriptor
		if err := decodeInto(raw, &d); err != nil {
			return nil, err
		}
		d.Metadata = raw
		return d, nil

	case KindEvent:
		data, err := normalize.Payload(raw["data"])
		if err != nil {
			return nil, err
		}
		raw["data"] = data
		var ev Event
		if err := decodeInto(raw, &ev); err != nil {
			return nil, err
		}
		if ev.Data == nil {
			ev.Data = map[string]any{}
		}
		return ev, nil

	case KindEventPage:
		var p EventPage
		if err := decodeInto(raw, &p); err != nil {
			return nil, err
		}
		return p, nil

	case KindResource:
		var r Resource
		if err := decodeInto(raw, &r); err != nil {
			return nil, err
		}
		return r, nil

	case KindDatum:
		var d Datum
		if err := decodeInto(raw, &d); err != nil {
			return nil, err
		}
		return d, nil

	case KindDatumPage:
		var p DatumPage
		if err := decodeInto(raw, &p); err != nil {
			return nil, err
		}
		return p, nil

	case KindStop:
		var s Stop
		if err := decodeInto(raw, &s); err != nil {
			return nil, err
		}
		s.Metadata = raw
		return s, nil
	}

	return nil, fmt.Errorf("unknown document kind %q", kind)
}

// rawMap returns a shallow copy of doc as a map so decoding never mutates
// caller-owned documents.
func rawMap(doc any) (map[string]any, error) {
	var src map[string]any
	switch t := doc.(type) {
	case nil:
		return nil, fmt.Errorf("document is nil")
	case map[string]any:
		src = t
	case Document:
		src = t
	default:
		m, err := normalize.Payload(doc)
		if err != nil {
			return nil, fmt.Errorf("document of type %T is not a mapping", doc)
		}
		src = m
	}

	out := make(map[string]any, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out, nil
}

func decodeInto(raw map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(raw); err != nil {
		return fmt.Errorf("malformed document: %w", err)
	}
	return nil
}

func typedMatches(kind Kind, doc any) bool {
	switch doc.(type) {
	case Start:
		return kind == KindStart
	case Descriptor:
		return kind == KindDescriptor
	case EventPage:
		return kind == KindEventPage
	case Resource:
		return kind == KindResource
	case Datum:
		return kind == KindDatum
	case DatumPage:
		return kind == KindDatumPage
	case Stop:
		return kind == KindStop
	}
	return false
}

func derefTyped(doc any) any {
	switch t := doc.(type) {
	case *Start:
		return *t
	case *Descriptor:
		return *t
	case *Stop:
		return *t
	case *Resource:
		return *t
	case *Datum:
		return *t
	case *DatumPage:
		return *t
	case *EventPage:
		return *t
	case *Event:
		return *t
	}
	return doc
}

// withMetadata fills Metadata of typed documents built in code so templates
// can still see their identifying keys.
func withMetadata(doc any) any {
	switch t := doc.(type) {
	case Start:
		if t.Metadata == nil {
			t.Metadata = map[string]any{"uid": t.UID, "time": t.Time}
		}
		return t
	case Descriptor:
		if t.Metadata == nil {
			t.Metadata = map[string]any{"uid": t.UID, "name": t.Name, "run_start": t.RunStart}
		}
		return t
	case Stop:
		if t.Metadata == nil {
			t.Metadata = map[string]any{"uid": t.UID, "run_start": t.RunStart, "time": t.Time, "exit_status": t.ExitStatus}
		}
		return t
	}
	return doc
}
