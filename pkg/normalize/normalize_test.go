package normalize

import (
	"reflect"
	"testing"
)

type reading struct {
	Value     float64 `json:"value"`
	Timestamp float64 `json:"timestamp"`
	Unit      string
	internal  int
	Skipped   string `json:"-"`
}

type tuple struct {
	names  []string
	values []any
}

func (t tuple) FieldNames() []string { return t.names }
func (t tuple) FieldValues() []any   { return t.values }

func TestPayload_Shapes(t *testing.T) {
	want := map[string]any{"x": 1.0, "y": "a"}

	tests := []struct {
		name  string
		input any
	}{
		{"plain map", map[string]any{"x": 1.0, "y": "a"}},
		{"json tuple", map[string]any{"_fields": []any{"x", "y"}, "_values": []any{1.0, "a"}}},
		{"fielder", tuple{names: []string{"x", "y"}, values: []any{1.0, "a"}}},
		{"typed map", map[string]interface{}{"x": 1.0, "y": "a"}},
		{"struct pointer", &struct {
			X float64 `json:"x"`
			Y string  `json:"y"`
		}{1.0, "a"}},
	}

	for _, tt := range tests {
		got, err := Payload(tt.input)
		if err != nil {
			t.Errorf("%s: unexpected error: %v", tt.name, err)
			continue
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("%s: Payload() = %v, want %v", tt.name, got, want)
		}
	}
}

func TestPayload_Rejects(t *testing.T) {
	if _, err := Payload(42); err == nil {
		t.Error("Expected error for scalar payload")
	}
	if _, err := Payload(map[int]any{1: "a"}); err == nil {
		t.Error("Expected error for non-string keys")
	}

	got, err := Payload(nil)
	if err != nil || len(got) != 0 {
		t.Errorf("Payload(nil) = %v, %v; want empty map", got, err)
	}
}

func TestValue_Struct(t *testing.T) {
	got := Value(reading{Value: 2.5, Timestamp: 10, Unit: "K", internal: 1, Skipped: "no"})
	want := map[string]any{"value": 2.5, "timestamp": 10.0, "Unit": "K"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Value(struct) = %v, want %v", got, want)
	}
}

func TestWithFields(t *testing.T) {
	got := WithFields([]any{1.0, 2.0}, []string{"mean", "std"})
	want := map[string]any{"mean": 1.0, "std": 2.0}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("WithFields() = %v, want %v", got, want)
	}

	got = WithFields([]float64{3, 4}, []string{"a", "b"})
	want = map[string]any{"a": 3.0, "b": 4.0}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("WithFields(typed slice) = %v, want %v", got, want)
	}

	// Length mismatch leaves the value positional.
	list := []any{1.0, 2.0, 3.0}
	if !reflect.DeepEqual(WithFields(list, []string{"a"}), list) {
		t.Error("Expected mismatched list to be returned unchanged")
	}
}

func TestIsNull(t *testing.T) {
	tests := []struct {
		value any
		null  bool
	}{
		{nil, true},
		{map[string]any{}, true},
		{map[string]any{"a": nil}, true},
		{map[string]any{"a": 0.0}, false},
		{0.0, false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsNull(tt.value); got != tt.null {
			t.Errorf("IsNull(%v) = %v, want %v", tt.value, got, tt.null)
		}
	}
}

func TestFlatten(t *testing.T) {
	got := Flatten(map[string]any{
		"x":   1.0,
		"fit": map[string]any{"a": 1.0, "b": map[string]any{"c": 2.0}},
	})
	want := map[string]any{"x": 1.0, "fit/a": 1.0, "fit/b/c": 2.0}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Flatten() = %v, want %v", got, want)
	}
}
