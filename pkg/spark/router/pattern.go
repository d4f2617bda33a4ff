// Package router matches decoded request paths against registered patterns.
//
// A pattern is a '/'-separated path whose segments are either literals or
// one of two placeholders:
//
//	<str>  matches any single segment
//	<int>  matches a segment that parses fully as a base-10 integer
//
// Matching is segment-wise: the request must have exactly as many segments
// as the pattern. Routes are tried in registration order and the first match
// wins, regardless of how specific later routes are.
package router

import (
	"fmt"
	"strconv"

	"github.com/watt-toolkit/spark/pkg/spark/http1"
)

const (
	placeholderStr = "<str>"
	placeholderInt = "<int>"
)

type segmentKind uint8

const (
	segLiteral segmentKind = iota
	segStr
	segInt
)

type segment struct {
	kind    segmentKind
	literal string
}

// Pattern is a parsed route pattern.
type Pattern struct {
	raw      string
	segments []segment
	wild     int
}

// ParsePattern parses a route pattern. Patterns are programmer input, so a
// malformed one panics.
func ParsePattern(pattern string) Pattern {
	if len(pattern) == 0 || pattern[0] != '/' {
		panic(fmt.Sprintf("router: pattern %q must start with '/'", pattern))
	}
	p := Pattern{raw: pattern}
	for _, s := range http1.SplitPath(pattern, nil) {
		switch s {
		case placeholderStr:
			p.segments = append(p.segments, segment{kind: segStr})
			p.wild++
		case placeholderInt:
			p.segments = append(p.segments, segment{kind: segInt})
			p.wild++
		default:
			p.segments = append(p.segments, segment{literal: s})
		}
	}
	return p
}

func (p Pattern) String() string { return p.raw }

// Len returns the number of segments.
func (p Pattern) Len() int { return len(p.segments) }

// Wildcards returns the number of placeholder segments.
func (p Pattern) Wildcards() int { return p.wild }

// Matches reports whether path matches pattern.
func Matches(pattern Pattern, path http1.Path) bool {
	return pattern.match(path.Segments)
}

func (p *Pattern) match(segs []string) bool {
	if len(segs) != len(p.segments) {
		return false
	}
	for i := range p.segments {
		s := &p.segments[i]
		switch s.kind {
		case segLiteral:
			if segs[i] != s.literal {
				return false
			}
		case segInt:
			if !isInt(segs[i]) {
				return false
			}
		}
	}
	return true
}

// isInt reports whether s is an optionally signed decimal that fits in an
// int64.
func isInt(s string) bool {
	_, err := strconv.ParseInt(s, 10, 64)
	return err == nil
}
