package http1

import (
	"errors"
	"reflect"
	"testing"

	"github.com/watt-toolkit/spark/pkg/spark/memory"
)

func TestNewPath(t *testing.T) {
	tests := []struct {
		raw        string
		segments   []string
		route      string
		query      string
		queryStart int
	}{
		{"/", nil, "/", "", -1},
		{"/a", []string{"a"}, "/a", "", -1},
		{"/a/", []string{"a"}, "/a/", "", -1},
		{"/a/b/c", []string{"a", "b", "c"}, "/a/b/c", "", -1},
		{"/a//b", []string{"a", "", "b"}, "/a//b", "", -1},
		{"//", []string{""}, "//", "", -1},
		{"/?", nil, "/", "", 2},
		{"/users/42?x=1&y", []string{"users", "42"}, "/users/42", "x=1&y", 10},
		{"/a?b/c", []string{"a"}, "/a", "b/c", 3},
		{"/a?b?c", []string{"a"}, "/a", "b?c", 3},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			p := NewPath(tt.raw, nil)
			if p.Raw != tt.raw {
				t.Errorf("Raw = %q", p.Raw)
			}
			if len(p.Segments) != len(tt.segments) || (len(tt.segments) > 0 && !reflect.DeepEqual(p.Segments, tt.segments)) {
				t.Errorf("Segments = %q, want %q", p.Segments, tt.segments)
			}
			if p.Route() != tt.route {
				t.Errorf("Route = %q, want %q", p.Route(), tt.route)
			}
			if p.RawQuery() != tt.query {
				t.Errorf("RawQuery = %q, want %q", p.RawQuery(), tt.query)
			}
			if p.QueryStart != tt.queryStart {
				t.Errorf("QueryStart = %d, want %d", p.QueryStart, tt.queryStart)
			}
		})
	}
}

func TestNewPathReusesSegments(t *testing.T) {
	segs := make([]string, 0, 8)
	p := NewPath("/a/b", segs)
	if &p.Segments[:1][0] != &segs[:1][0] {
		t.Errorf("segments were not appended to the given slice")
	}
	q := NewPath("/c", p.Segments)
	if len(q.Segments) != 1 || q.Segments[0] != "c" {
		t.Errorf("Segments = %q", q.Segments)
	}
}

func TestParsePath(t *testing.T) {
	a := memory.NewArena(nil)
	defer a.Destroy()

	raw := []byte("/files/report.txt")
	p, err := ParsePath(a, raw, nil)
	if err != nil {
		t.Fatal(err)
	}
	raw[1] = 'X'
	if p.Raw != "/files/report.txt" {
		t.Errorf("Raw aliases the input: %q", p.Raw)
	}
	if a.Stats().Used == 0 {
		t.Errorf("path was not copied into the arena")
	}

	for _, bad := range []string{"", "files", "*"} {
		if _, err := ParsePath(a, []byte(bad), nil); !errors.Is(err, ErrBadRequest) {
			t.Errorf("ParsePath(%q) err = %v, want %v", bad, err, ErrBadRequest)
		}
	}
}

func TestParseQuery(t *testing.T) {
	a := memory.NewArena(nil)
	defer a.Destroy()

	tests := []struct {
		raw  string
		want []QueryParam
	}{
		{"", nil},
		{"a=1", []QueryParam{{"a", "1", true}}},
		{"a", []QueryParam{{"a", "", false}}},
		{"a=", []QueryParam{{"a", "", true}}},
		{"a=1&&b=2&", []QueryParam{{"a", "1", true}, {"b", "2", true}}},
		{"=x&k=v", []QueryParam{{"k", "v", true}}},
		{"a=b=c", []QueryParam{{"a", "b=c", true}}},
		{"q=hello+world", []QueryParam{{"q", "hello world", true}}},
		{"%6Bey=%7e%7E", []QueryParam{{"key", "~~", true}}},
		{"bad=%zz%4", []QueryParam{{"bad", "%zz%4", true}}},
		{"a=1&a=2", []QueryParam{{"a", "1", true}, {"a", "2", true}}},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got := ParseQuery(a, tt.raw, nil)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseQuery(%q) = %+v, want %+v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestUnescapeGivesBackUnusedBytes(t *testing.T) {
	a := memory.NewArena(nil)
	defer a.Destroy()

	if got := unescape(a, "%41%42%43"); got != "ABC" {
		t.Fatalf("unescape = %q", got)
	}
	if used := a.Stats().Used; used != 3 {
		t.Errorf("arena used = %d, want 3", used)
	}
	if got := unescape(a, "plain"); got != "plain" || a.Stats().Used != 3 {
		t.Errorf("plain input was copied")
	}
}

func TestRequestQueryIsLazy(t *testing.T) {
	req, err := decodeChunks("GET /s?a=1&b=%20 HTTP/1.1\r\n\r\n")
	if err != nil {
		t.Fatal(err)
	}
	if req.queryParsed {
		t.Fatalf("query parsed before first use")
	}
	if v, ok := req.QueryValue("b"); !ok || v != " " {
		t.Errorf("QueryValue(b) = %q, %v", v, ok)
	}
	if _, ok := req.QueryValue("missing"); ok {
		t.Errorf("QueryValue(missing) reported present")
	}
}

func TestRequestHeaderLookup(t *testing.T) {
	req, err := decodeChunks("GET / HTTP/1.1\r\nAccept: a\r\naccept: b\r\nX: y\r\n\r\n")
	if err != nil {
		t.Fatal(err)
	}
	if v, ok := req.Header("ACCEPT"); !ok || v != "a" {
		t.Errorf("Header(ACCEPT) = %q, %v", v, ok)
	}
	if got := req.Values("Accept"); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("Values = %q", got)
	}
	if _, ok := req.Header("Missing"); ok {
		t.Errorf("Header(Missing) reported present")
	}
}
