package utils

import (
	"fmt"
	"net"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
)

// GetIPFromAddr extracts the IP of a transport address.
func GetIPFromAddr(addr net.Addr) (net.IP, error) {
	if addr == nil {
		return nil, fmt.Errorf("address is nil")
	}

	switch a := addr.(type) {
	case *net.TCPAddr:
		return a.IP, nil
	case *net.UDPAddr:
		return a.IP, nil
	case *net.IPAddr:
		return a.IP, nil
	}

	// Try to parse from string representation
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		// Maybe it's just an IP without port
		host = addr.String()
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return nil, fmt.Errorf("unable to extract IP from address: %v", addr)
	}
	return ip, nil
}

// ContainsNonASCII checks if a string contains any non-ASCII characters (bytes > 127).
func ContainsNonASCII(s string) bool {
	for _, v := range s {
		if v >= utf8.RuneSelf {
			return true
		}
	}
	return false
}

// GenerateID creates a unique, lexically time-sortable identifier.
func GenerateID() string {
	return ulid.Make().String()
}
