package format

import (
	"sort"
	"strings"

	"github.com/logflow/docexport/internal/model"
)

// ColumnType is the storage type of a column.
type ColumnType int

const (
	TypeFloat64 ColumnType = iota
	TypeInt64
	TypeBool
	TypeString
	// TypeJSON stores arrays and objects as JSON text.
	TypeJSON
)

func (t ColumnType) String() string {
	switch t {
	case TypeFloat64:
		return "float64"
	case TypeInt64:
		return "int64"
	case TypeBool:
		return "bool"
	case TypeString:
		return "string"
	default:
		return "json"
	}
}

// Fixed leading columns of every stream.
const (
	ColumnSeqNum  = "seq_num"
	ColumnTime    = "time"
	ColumnElapsed = "elapsed_time"
)

// Column is one output column. Member is set for columns split out of a
// tuple-valued key.
type Column struct {
	Name   string
	Key    string
	Member string
	Type   ColumnType
}

// Schema is the column layout of one stream generation.
type Schema struct {
	// Columns are the data columns; the fixed columns precede them.
	Columns []Column

	// Metadata is attached to formats that carry file-level metadata.
	Metadata map[string]string
}

// NewSchema derives the column layout from a descriptor. sample is the
// normalized payload of the first event and decides the members of tuple
// values whose descriptor does not name them.
func NewSchema(desc model.Descriptor, sample map[string]any) Schema {
	var cols []Column
	for _, key := range desc.Keys() {
		dk := desc.DataKeys[key]
		name := key
		if isFixed(key) {
			name = "data/" + key
		}

		if dk.IsExternal() {
			cols = append(cols, Column{Name: name, Key: key, Type: TypeJSON})
			continue
		}

		members := dk.MemberNames()
		if len(members) == 0 && dk.Dtype != "object" {
			if m, ok := sample[key].(map[string]any); ok {
				members = sortedKeys(m)
			}
		}
		if len(members) == 0 {
			cols = append(cols, Column{Name: name, Key: key, Type: dtypeColumn(dk.Dtype)})
			continue
		}

		sub, _ := sample[key].(map[string]any)
		for _, member := range members {
			cols = append(cols, Column{
				Name:   name + "/" + member,
				Key:    key,
				Member: member,
				Type:   inferColumn(sub[member]),
			})
		}
	}
	return Schema{Columns: cols, Metadata: map[string]string{}}
}

// Names returns all column names including the fixed columns.
func (s Schema) Names() []string {
	names := []string{ColumnSeqNum, ColumnTime, ColumnElapsed}
	for _, c := range s.Columns {
		names = append(names, c.Name)
	}
	return names
}

// Values maps a normalized payload onto the schema's columns. Missing keys
// and members become nil.
func (s Schema) Values(data map[string]any) map[string]any {
	out := make(map[string]any, len(s.Columns))
	for _, c := range s.Columns {
		v := data[c.Key]
		if c.Member != "" {
			m, _ := v.(map[string]any)
			v = m[c.Member]
		}
		out[c.Name] = v
	}
	return out
}

func isFixed(name string) bool {
	return name == ColumnSeqNum || name == ColumnTime || name == ColumnElapsed
}

func dtypeColumn(dtype string) ColumnType {
	switch strings.ToLower(dtype) {
	case "number":
		return TypeFloat64
	case "integer":
		return TypeInt64
	case "boolean":
		return TypeBool
	case "string":
		return TypeString
	}
	return TypeJSON
}

func inferColumn(v any) ColumnType {
	switch v.(type) {
	case float64, float32:
		return TypeFloat64
	case int, int64, int32, uint, uint64, uint32:
		return TypeInt64
	case bool:
		return TypeBool
	case string:
		return TypeString
	}
	// A null sample says nothing about the member's type; text holds anything.
	return TypeJSON
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
