package http1

import (
	"strings"

	"github.com/watt-toolkit/spark/pkg/spark/memory"
)

// Path is a decoded request target.
type Path struct {
	// Raw is the full target as received, query included.
	Raw string

	// Segments are the '/'-separated components of the route part, without
	// the leading slash. "/" has no segments, "/a//b" has "a", "" and "b",
	// and a single trailing slash does not add an empty last segment.
	Segments []string

	// QueryStart is the offset in Raw of the first byte after '?', or -1.
	QueryStart int
}

// Route returns Raw without the query.
func (p Path) Route() string {
	if p.QueryStart < 0 {
		return p.Raw
	}
	return p.Raw[:p.QueryStart-1]
}

// RawQuery returns the part of Raw after '?', or "".
func (p Path) RawQuery() string {
	if p.QueryStart < 0 {
		return ""
	}
	return p.Raw[p.QueryStart:]
}

// ParsePath copies raw into the arena and splits it. Segments are appended
// to segs[:0] so a connection can reuse one backing slice.
func ParsePath(a *memory.Arena, raw []byte, segs []string) (Path, error) {
	if len(raw) == 0 || raw[0] != '/' {
		return Path{}, ErrBadRequest
	}
	return NewPath(a.String(raw), segs), nil
}

// NewPath splits a target that already starts with '/'.
func NewPath(raw string, segs []string) Path {
	p := Path{Raw: raw, QueryStart: -1}
	route := raw
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		p.QueryStart = i + 1
		route = raw[:i]
	}
	p.Segments = SplitPath(route, segs[:0])
	return p
}

// SplitPath appends the segments of route to dst.
func SplitPath(route string, dst []string) []string {
	if len(route) <= 1 {
		return dst
	}
	rest := route[1:]
	for {
		i := strings.IndexByte(rest, '/')
		if i < 0 {
			break
		}
		dst = append(dst, rest[:i])
		rest = rest[i+1:]
	}
	if rest != "" {
		dst = append(dst, rest)
	}
	return dst
}
