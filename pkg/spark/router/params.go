package router

import (
	"strconv"

	"github.com/watt-toolkit/spark/pkg/spark/http1"
)

// Params gives access to the segments a route's placeholders matched, in
// pattern order. It holds views into the request and is valid for as long
// as the request is.
type Params struct {
	pattern *Pattern
	path    http1.Path
}

// NewParams binds the placeholders of pattern to path. Path is assumed to
// match pattern.
func NewParams(pattern Pattern, path http1.Path) Params {
	return Params{pattern: &pattern, path: path}
}

// Len returns the number of placeholders.
func (p Params) Len() int {
	if p.pattern == nil {
		return 0
	}
	return p.pattern.wild
}

// Get returns the segment matched by the i-th placeholder, or "" when i is
// out of range.
func (p Params) Get(i int) string {
	if p.pattern == nil || i < 0 {
		return ""
	}
	n := 0
	for j := range p.pattern.segments {
		if p.pattern.segments[j].kind == segLiteral {
			continue
		}
		if n == i {
			return p.path.Segments[j]
		}
		n++
	}
	return ""
}

// Int parses the i-th placeholder as a base-10 integer.
func (p Params) Int(i int) (int64, error) {
	return strconv.ParseInt(p.Get(i), 10, 64)
}

// All appends every placeholder value to dst.
func (p Params) All(dst []string) []string {
	if p.pattern == nil {
		return dst
	}
	for j := range p.pattern.segments {
		if p.pattern.segments[j].kind != segLiteral {
			dst = append(dst, p.path.Segments[j])
		}
	}
	return dst
}
