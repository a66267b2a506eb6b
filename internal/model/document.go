// Package model defines the document types of a data-acquisition run.
// Times are float64 seconds since the Unix epoch, as the producers emit them.
package model

import (
	"sort"
	"time"
)

// Kind names a document type in the stream.
type Kind string

const (
	KindStart      Kind = "start"
	KindDescriptor Kind = "descriptor"
	KindEvent      Kind = "event"
	KindEventPage  Kind = "event_page"
	KindResource   Kind = "resource"
	KindDatum      Kind = "datum"
	KindDatumPage  Kind = "datum_page"
	KindStop       Kind = "stop"
)

// Valid reports whether k is a known document kind.
func (k Kind) Valid() bool {
	switch k {
	case KindStart, KindDescriptor, KindEvent, KindEventPage,
		KindResource, KindDatum, KindDatumPage, KindStop:
		return true
	}
	return false
}

// Document is a raw, untyped document as it arrives from a source.
type Document map[string]any

// Item is one (kind, document) pair of the input stream.
type Item struct {
	Kind Kind
	Doc  any
}

// Start opens a run. Metadata holds the complete start document.
type Start struct {
	UID      string         `json:"uid"`
	Time     float64        `json:"time"`
	Metadata map[string]any `json:"-"`
}

// DataKey describes one field of a stream.
type DataKey struct {
	Dtype    string `json:"dtype"`
	Shape    []int  `json:"shape"`
	Source   string `json:"source"`
	External string `json:"external"`

	// Fields names the members of positional (named-tuple) values.
	Fields []string `json:"fields"`

	// Variables is the legacy spelling of Fields used by variable signals.
	Variables []string `json:"variables"`
}

// MemberNames returns the declared member names of a tuple-valued key.
func (k DataKey) MemberNames() []string {
	if len(k.Fields) > 0 {
		return k.Fields
	}
	return k.Variables
}

// IsExternal reports whether values of this key are datum references.
func (k DataKey) IsExternal() bool {
	return k.External != ""
}

// Descriptor declares the schema of a stream.
type Descriptor struct {
	UID        string              `json:"uid"`
	RunStart   string              `json:"run_start"`
	Name       string              `json:"name"`
	Time       float64             `json:"time"`
	DataKeys   map[string]DataKey  `json:"data_keys"`
	ObjectKeys map[string][]string `json:"object_keys"`
	Metadata   map[string]any      `json:"-"`
}

// Keys returns the declared field names in a stable order.
func (d Descriptor) Keys() []string {
	keys := make([]string, 0, len(d.DataKeys))
	for k := range d.DataKeys {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Event is one data point of a stream.
type Event struct {
	UID        string             `json:"uid"`
	Descriptor string             `json:"descriptor"`
	SeqNum     int64              `json:"seq_num"`
	Time       float64            `json:"time"`
	Data       map[string]any     `json:"data"`
	Timestamps map[string]float64 `json:"timestamps"`
	Filled     map[string]bool    `json:"filled"`
}

// EventPage carries several events of one descriptor in columnar form.
type EventPage struct {
	UID        []string             `json:"uid"`
	Descriptor string               `json:"descriptor"`
	SeqNum     []int64              `json:"seq_num"`
	Time       []float64            `json:"time"`
	Data       map[string][]any     `json:"data"`
	Timestamps map[string][]float64 `json:"timestamps"`
	Filled     map[string][]bool    `json:"filled"`
}

// Resource declares externally stored data.
type Resource struct {
	UID            string         `json:"uid"`
	RunStart       string         `json:"run_start"`
	Spec           string         `json:"spec"`
	Root           string         `json:"root"`
	ResourcePath   string         `json:"resource_path"`
	ResourceKwargs map[string]any `json:"resource_kwargs"`
	PathSemantics  string         `json:"path_semantics"`
}

// Datum references a slice of a Resource.
type Datum struct {
	DatumID     string         `json:"datum_id"`
	Resource    string         `json:"resource"`
	DatumKwargs map[string]any `json:"datum_kwargs"`
}

// DatumPage carries several datums of one resource in columnar form.
type DatumPage struct {
	DatumID     []string         `json:"datum_id"`
	Resource    string           `json:"resource"`
	DatumKwargs map[string][]any `json:"datum_kwargs"`
}

// Stop closes a run.
type Stop struct {
	UID        string         `json:"uid"`
	RunStart   string         `json:"run_start"`
	Time       float64        `json:"time"`
	ExitStatus string         `json:"exit_status"`
	Reason     string         `json:"reason"`
	NumEvents  map[string]int `json:"num_events"`
	Metadata   map[string]any `json:"-"`
}

// Events unpacks the page into individual events.
func (p EventPage) Events() []Event {
	n := len(p.SeqNum)
	events := make([]Event, n)
	for i := 0; i < n; i++ {
		ev := Event{
			Descriptor: p.Descriptor,
			SeqNum:     p.SeqNum[i],
			Data:       make(map[string]any, len(p.Data)),
		}
		if i < len(p.UID) {
			ev.UID = p.UID[i]
		}
		if i < len(p.Time) {
			ev.Time = p.Time[i]
		}
		for k, col := range p.Data {
			if i < len(col) {
				ev.Data[k] = col[i]
			}
		}
		if len(p.Timestamps) > 0 {
			ev.Timestamps = make(map[string]float64, len(p.Timestamps))
			for k, col := range p.Timestamps {
				if i < len(col) {
					ev.Timestamps[k] = col[i]
				}
			}
		}
		if len(p.Filled) > 0 {
			ev.Filled = make(map[string]bool, len(p.Filled))
			for k, col := range p.Filled {
				if i < len(col) {
					ev.Filled[k] = col[i]
				}
			}
		}
		events[i] = ev
	}
	return events
}

// Datums unpacks the page into individual datums.
func (p DatumPage) Datums() []Datum {
	datums := make([]Datum, len(p.DatumID))
	for i, id := range p.DatumID {
		d := Datum{DatumID: id, Resource: p.Resource}
		if len(p.DatumKwargs) > 0 {
			d.DatumKwargs = make(map[string]any, len(p.DatumKwargs))
			for k, col := range p.DatumKwargs {
				if i < len(col) {
					d.DatumKwargs[k] = col[i]
				}
			}
		}
		datums[i] = d
	}
	return datums
}

// EpochTime converts a document timestamp to time.Time.
func EpochTime(ts float64) time.Time {
	sec := int64(ts)
	nsec := int64((ts - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}

// ISOTime formats a document timestamp as ISO 8601 in loc.
func ISOTime(ts float64, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return EpochTime(ts).In(loc).Format(time.RFC3339Nano)
}
