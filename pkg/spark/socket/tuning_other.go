//go:build !unix

package socket

func setOptions(uintptr, *Config) error { return nil }

func setListenerOptions(uintptr, *Config) error { return nil }

func tcpInfo(uintptr) (*Info, error) { return nil, ErrUnsupported }
