package http1

// Version is one of the protocol versions accepted on the request line.
type Version uint8

const (
	VersionUnknown Version = iota
	Version09
	Version10
	Version11
	Version20
	Version30
)

var versionNames = [...]string{
	VersionUnknown: "",
	Version09:      "HTTP/0.9",
	Version10:      "HTTP/1.0",
	Version11:      "HTTP/1.1",
	Version20:      "HTTP/2.0",
	Version30:      "HTTP/3.0",
}

func (v Version) String() string {
	if int(v) < len(versionNames) {
		return versionNames[v]
	}
	return ""
}

// Number returns major*10+minor, e.g. 11 for HTTP/1.1.
func (v Version) Number() int {
	switch v {
	case Version09:
		return 9
	case Version10:
		return 10
	case Version11:
		return 11
	case Version20:
		return 20
	case Version30:
		return 30
	}
	return 0
}

// ParseVersion maps an 8-byte "HTTP/x.y" token to a Version.
func ParseVersion(b []byte) Version {
	if len(b) != VersionLength || string(b[:5]) != "HTTP/" || b[6] != '.' {
		return VersionUnknown
	}
	switch string(b[5:]) {
	case "0.9":
		return Version09
	case "1.0":
		return Version10
	case "1.1":
		return Version11
	case "2.0":
		return Version20
	case "3.0":
		return Version30
	}
	return VersionUnknown
}
