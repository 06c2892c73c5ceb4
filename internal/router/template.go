package router

import (
	"fmt"
	"net/url"
	"strings"
)

// Placeholders maps placeholder names to the values captured from one
// request path. Values are percent-decoded.
type Placeholders map[string]string

type segment struct {
	literal string
	param   string
}

func (s segment) isParam() bool {
	return s.param != ""
}

// Template is a compiled upstream path template.
type Template struct {
	raw      string
	segments []segment
	literals int
	params   []string
}

// CompileTemplate parses an upstream template such as
// /orders/{id}/items/{itemId}.
func CompileTemplate(raw string) (*Template, error) {
	if !strings.HasPrefix(raw, "/") {
		return nil, fmt.Errorf("template %q must start with /", raw)
	}

	parts := splitPath(raw)
	t := &Template{
		raw:      raw,
		segments: make([]segment, 0, len(parts)),
	}

	seen := make(map[string]bool)
	for _, part := range parts {
		if !strings.ContainsAny(part, "{}") {
			t.segments = append(t.segments, segment{literal: part})
			t.literals++
			continue
		}

		if len(part) < 3 || part[0] != '{' || part[len(part)-1] != '}' ||
			strings.ContainsAny(part[1:len(part)-1], "{}") {
			return nil, fmt.Errorf("template %q: segment %q must be a literal or a single {name}", raw, part)
		}

		name := part[1 : len(part)-1]
		if seen[name] {
			return nil, fmt.Errorf("template %q: placeholder {%s} repeated", raw, name)
		}
		seen[name] = true

		t.segments = append(t.segments, segment{param: name})
		t.params = append(t.params, name)
	}

	return t, nil
}

// splitPath splits an absolute path into its segments. "/" yields one
// empty segment and a trailing slash yields a trailing empty segment,
// so /users and /users/ have different segment counts.
func splitPath(path string) []string {
	return strings.Split(strings.TrimPrefix(path, "/"), "/")
}

// String returns the template as configured.
func (t *Template) String() string {
	return t.raw
}

// Literals returns the number of literal segments.
func (t *Template) Literals() int {
	return t.literals
}

// Segments returns the number of segments.
func (t *Template) Segments() int {
	return len(t.segments)
}

// Params returns the placeholder names in path order.
func (t *Template) Params() []string {
	return t.params
}

// match matches pre-split, still escaped path segments. Literal
// segments are compared against the decoded request segment.
func (t *Template) match(parts []string) (Placeholders, bool) {
	if len(parts) != len(t.segments) {
		return nil, false
	}

	var captured Placeholders
	for i, seg := range t.segments {
		value, err := url.PathUnescape(parts[i])
		if err != nil {
			return nil, false
		}

		if !seg.isParam() {
			if value != seg.literal {
				return nil, false
			}
			continue
		}

		if value == "" {
			return nil, false
		}
		if captured == nil {
			captured = make(Placeholders, len(t.params))
		}
		captured[seg.param] = value
	}

	if captured == nil {
		captured = Placeholders{}
	}
	return captured, true
}

// Match matches an escaped request path against the template.
func (t *Template) Match(path string) (Placeholders, bool) {
	return t.match(splitPath(path))
}
