package http1

import (
	"strings"
	"unsafe"

	"github.com/watt-toolkit/spark/pkg/spark/memory"
)

// QueryParam is one key[=value] pair of a query string.
type QueryParam struct {
	Key      string
	Value    string
	HasValue bool
}

// ParseQuery splits raw on '&' and '=' and appends the pairs to dst.
// Empty pairs and pairs with an empty key are skipped. Keys and values are
// percent-decoded into the arena, '+' decoding to a space.
func ParseQuery(a *memory.Arena, raw string, dst []QueryParam) []QueryParam {
	for raw != "" {
		var pair string
		pair, raw, _ = strings.Cut(raw, "&")
		if pair == "" {
			continue
		}
		key, value, hasValue := strings.Cut(pair, "=")
		if key == "" {
			continue
		}
		dst = append(dst, QueryParam{
			Key:      unescape(a, key),
			Value:    unescape(a, value),
			HasValue: hasValue,
		})
	}
	return dst
}

// unescape decodes s into the arena. The decoded form is never longer than
// the input, so the block is sized for the worst case and the unused tail is
// handed back.
func unescape(a *memory.Arena, s string) string {
	if strings.IndexByte(s, '%') < 0 && strings.IndexByte(s, '+') < 0 {
		return s
	}
	buf := a.Alloc(len(s), 1)
	n := 0
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c == '+':
			buf[n] = ' '
		case c == '%' && i+2 < len(s) && isHex(s[i+1]) && isHex(s[i+2]):
			buf[n] = unhex(s[i+1])<<4 | unhex(s[i+2])
			i += 2
		default:
			buf[n] = c
		}
		n++
	}
	a.GiveBack(len(s) - n)
	if n == 0 {
		return ""
	}
	return unsafe.String(unsafe.SliceData(buf), n)
}

func isHex(c byte) bool {
	return '0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F'
}

func unhex(c byte) byte {
	switch {
	case '0' <= c && c <= '9':
		return c - '0'
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}
