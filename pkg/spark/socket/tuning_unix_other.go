//go:build unix && !linux

package socket

func platformOptions(int, *Config) {}

func setListenerOptions(uintptr, *Config) error { return nil }

func tcpInfo(uintptr) (*Info, error) { return nil, ErrUnsupported }
