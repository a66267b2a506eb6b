// Package template resolves output naming templates against run metadata.
//
// A template is literal text with placeholders of the form
//
//	{name[key][key]:format}
//
// where name is looked up in the run namespace, each [key] indexes into a
// nested mapping and the optional format is either a strftime pattern
// (for epoch timestamps) or an integer width such as 04d. Literal braces are
// written as {{ and }}. Every substituted value goes through CleanComponent,
// so placeholder values can never introduce directories.
package template

import (
	"fmt"
	"math"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	exerrors "github.com/logflow/docexport/pkg/errors"
)

// Default is the template used when none is configured.
const Default = "{uid}-{stream_name}"

// Namespace names that are always available.
const (
	KeyStart      = "start"
	KeyStreamName = "stream_name"
	KeyDescriptor = "descriptor"
)

var intFormat = regexp.MustCompile(`^(0?)(\d*)d$`)

type segment struct {
	literal string
	name    string
	keys    []string
	format  string
}

func (s segment) placeholder() bool { return s.name != "" }

// Template is a compiled naming template. It is safe for concurrent use.
type Template struct {
	source   string
	segments []segment
	loc      *time.Location
}

// Option configures a Template.
type Option func(*Template)

// WithLocation sets the time zone used by strftime formats. Default UTC.
func WithLocation(loc *time.Location) Option {
	return func(t *Template) {
		if loc != nil {
			t.loc = loc
		}
	}
}

// Context is the metadata a template resolves against.
type Context struct {
	Start      map[string]any
	StreamName string
	Descriptor map[string]any
}

// Compile parses a template.
func Compile(src string, opts ...Option) (*Template, error) {
	if strings.TrimSpace(src) == "" {
		return nil, exerrors.TemplateResolution(src, "template is empty")
	}

	t := &Template{source: src, loc: time.UTC}
	for _, opt := range opts {
		opt(t)
	}

	var lit strings.Builder
	flush := func() {
		if lit.Len() > 0 {
			t.segments = append(t.segments, segment{literal: lit.String()})
			lit.Reset()
		}
	}

	for i := 0; i < len(src); i++ {
		c := src[i]
		switch c {
		case '{':
			if i+1 < len(src) && src[i+1] == '{' {
				lit.WriteByte('{')
				i++
				continue
			}
			end := strings.IndexByte(src[i+1:], '}')
			if end < 0 {
				return nil, exerrors.TemplateResolution(src, "unterminated placeholder")
			}
			seg, err := parsePlaceholder(src[i+1 : i+1+end])
			if err != nil {
				return nil, exerrors.TemplateResolution(src, err.Error())
			}
			flush()
			t.segments = append(t.segments, seg)
			i += end + 1
		case '}':
			if i+1 < len(src) && src[i+1] == '}' {
				lit.WriteByte('}')
				i++
				continue
			}
			return nil, exerrors.TemplateResolution(src, "unmatched '}'")
		default:
			lit.WriteByte(c)
		}
	}
	flush()

	if err := t.checkLiterals(); err != nil {
		return nil, err
	}
	return t, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(src string, opts ...Option) *Template {
	t, err := Compile(src, opts...)
	if err != nil {
		panic(err)
	}
	return t
}

func parsePlaceholder(body string) (segment, error) {
	var seg segment
	if idx := strings.IndexByte(body, ':'); idx >= 0 {
		seg.format = body[idx+1:]
		body = body[:idx]
		if seg.format == "" {
			return seg, fmt.Errorf("empty format in placeholder %q", body)
		}
	}

	name := body
	if idx := strings.IndexByte(body, '['); idx >= 0 {
		name = body[:idx]
		rest := body[idx:]
		for rest != "" {
			if rest[0] != '[' {
				return seg, fmt.Errorf("malformed key access in %q", body)
			}
			end := strings.IndexByte(rest, ']')
			if end < 0 {
				return seg, fmt.Errorf("unterminated key access in %q", body)
			}
			key := rest[1:end]
			if key == "" {
				return seg, fmt.Errorf("empty key in %q", body)
			}
			seg.keys = append(seg.keys, key)
			rest = rest[end+1:]
		}
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return seg, fmt.Errorf("placeholder has no name")
	}
	seg.name = name
	return seg, nil
}

// checkLiterals rejects templates whose fixed text escapes the output root.
func (t *Template) checkLiterals() error {
	if len(t.segments) > 0 && !t.segments[0].placeholder() {
		first := t.segments[0].literal
		if strings.HasPrefix(first, "/") || strings.HasPrefix(first, `\`) || filepath.IsAbs(first) {
			return exerrors.TemplateResolution(t.source, "template must be a relative path")
		}
	}
	for _, seg := range t.segments {
		if !seg.placeholder() && strings.Contains(seg.literal, "..") {
			return exerrors.TemplateResolution(t.source, "template must not contain '..'")
		}
	}
	return nil
}

// String returns the template source.
func (t *Template) String() string { return t.source }

// References reports whether the template uses the given top-level name.
func (t *Template) References(name string) bool {
	for _, seg := range t.segments {
		if seg.name == name {
			return true
		}
	}
	return false
}

// Names returns the distinct top-level names used by the template.
func (t *Template) Names() []string {
	seen := make(map[string]struct{})
	var names []string
	for _, seg := range t.segments {
		if !seg.placeholder() {
			continue
		}
		if _, ok := seen[seg.name]; ok {
			continue
		}
		seen[seg.name] = struct{}{}
		names = append(names, seg.name)
	}
	sort.Strings(names)
	return names
}

// Resolve renders the template for one (run, stream) pair. The result is a
// slash separated relative path.
func (t *Template) Resolve(c Context) (string, error) {
	var sb strings.Builder
	for _, seg := range t.segments {
		if !seg.placeholder() {
			sb.WriteString(seg.literal)
			continue
		}

		v, err := lookup(c, seg)
		if err != nil {
			return "", exerrors.TemplateResolution(t.source, err.Error())
		}
		s, err := t.render(v, seg.format)
		if err != nil {
			return "", exerrors.TemplateResolution(t.source, err.Error()).
				WithContext("placeholder", seg.name)
		}
		s = CleanComponent(s)
		if s == "" {
			return "", exerrors.TemplateResolution(t.source, "placeholder resolved to an empty value").
				WithContext("placeholder", seg.name)
		}
		sb.WriteString(s)
	}

	out := sb.String()
	if !filepath.IsLocal(filepath.FromSlash(out)) {
		return "", exerrors.TemplateResolution(t.source, "resolved path is not local").
			WithContext("path", out)
	}
	return out, nil
}

// lookup walks the namespace: the fixed names first, then start keys, then
// descriptor keys that do not shadow start keys.
func lookup(c Context, seg segment) (any, error) {
	var (
		v     any
		found bool
	)
	switch seg.name {
	case KeyStart:
		v, found = c.Start, c.Start != nil
	case KeyStreamName:
		v, found = c.StreamName, c.StreamName != ""
	case KeyDescriptor:
		v, found = c.Descriptor, c.Descriptor != nil
	}
	if !found {
		v, found = c.Start[seg.name]
	}
	if !found {
		v, found = c.Descriptor[seg.name]
	}
	if !found || v == nil {
		return nil, fmt.Errorf("key %q not found in run metadata", seg.name)
	}

	path := seg.name
	for _, key := range seg.keys {
		path += "[" + key + "]"
		switch m := v.(type) {
		case map[string]any:
			v, found = m[key]
		case []any:
			idx, err := strconv.Atoi(key)
			found = err == nil && idx >= 0 && idx < len(m)
			if found {
				v = m[idx]
			}
		default:
			return nil, fmt.Errorf("%q is not a mapping", path)
		}
		if !found || v == nil {
			return nil, fmt.Errorf("key %q not found in run metadata", path)
		}
	}
	return v, nil
}

func (t *Template) render(v any, format string) (string, error) {
	if format != "" {
		return t.applyFormat(v, format)
	}

	switch val := v.(type) {
	case string:
		return val, nil
	case bool:
		return strconv.FormatBool(val), nil
	case map[string]any:
		return "", fmt.Errorf("value is a mapping, not a scalar")
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			s, err := t.render(item, "")
			if err != nil {
				return "", err
			}
			parts = append(parts, s)
		}
		return strings.Join(parts, "-"), nil
	case []string:
		return strings.Join(val, "-"), nil
	}

	if f, ok := toFloat(v); ok {
		return formatNumber(f), nil
	}
	return fmt.Sprint(v), nil
}

func (t *Template) applyFormat(v any, format string) (string, error) {
	f, ok := toFloat(v)
	if !ok {
		return "", fmt.Errorf("format %q needs a numeric value, got %T", format, v)
	}

	if strings.Contains(format, "%") {
		return Strftime(epoch(f).In(t.loc), format), nil
	}

	m := intFormat.FindStringSubmatch(format)
	if m == nil {
		return "", fmt.Errorf("unsupported format %q", format)
	}
	if f != math.Trunc(f) {
		return "", fmt.Errorf("format %q needs an integer, got %v", format, f)
	}
	width := 0
	if m[2] != "" {
		width, _ = strconv.Atoi(m[2])
	}
	verb := "%" + m[1] + strconv.Itoa(width) + "d"
	if width == 0 {
		verb = "%d"
	}
	return fmt.Sprintf(verb, int64(f)), nil
}

func epoch(ts float64) time.Time {
	sec, frac := math.Modf(ts)
	return time.Unix(int64(sec), int64(frac*1e9))
}

func formatNumber(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case uint32:
		return float64(n), true
	}
	return 0, false
}
