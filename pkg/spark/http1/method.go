package http1

// Method is one of the supported request verbs.
type Method uint8

const (
	MethodUnknown Method = iota
	MethodGET
	MethodPOST
	MethodPATCH
	MethodPUT
	MethodDELETE
	MethodHEAD
	MethodOPTIONS
	MethodTRACE
	MethodCONNECT
)

var methodNames = [...]string{
	MethodUnknown: "UNKNOWN",
	MethodGET:     "GET",
	MethodPOST:    "POST",
	MethodPATCH:   "PATCH",
	MethodPUT:     "PUT",
	MethodDELETE:  "DELETE",
	MethodHEAD:    "HEAD",
	MethodOPTIONS: "OPTIONS",
	MethodTRACE:   "TRACE",
	MethodCONNECT: "CONNECT",
}

func (m Method) String() string {
	if int(m) < len(methodNames) {
		return methodNames[m]
	}
	return methodNames[MethodUnknown]
}

// ParseMethod maps a request-line token to a Method. Matching is exact and
// case-sensitive. Unrecognized tokens yield MethodUnknown.
func ParseMethod(b []byte) Method {
	switch len(b) {
	case 3:
		if b[0] == 'G' && b[1] == 'E' && b[2] == 'T' {
			return MethodGET
		}
		if b[0] == 'P' && b[1] == 'U' && b[2] == 'T' {
			return MethodPUT
		}
	case 4:
		if string(b) == "POST" {
			return MethodPOST
		}
		if string(b) == "HEAD" {
			return MethodHEAD
		}
	case 5:
		if string(b) == "PATCH" {
			return MethodPATCH
		}
		if string(b) == "TRACE" {
			return MethodTRACE
		}
	case 6:
		if string(b) == "DELETE" {
			return MethodDELETE
		}
	case 7:
		if string(b) == "OPTIONS" {
			return MethodOPTIONS
		}
		if string(b) == "CONNECT" {
			return MethodCONNECT
		}
	}
	return MethodUnknown
}
