package utils

import (
	"net"
	"testing"

	"github.com/oklog/ulid/v2"
)

func TestContainsNonASCII(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected bool
	}{
		{"empty string", "", false},
		{"email address", "user@example.com", false},
		{"ASCII with CRLF", "hello\r\nworld", false},
		{"boundary ASCII (127)", string([]byte{127}), false},
		{"UTF-8 umlaut", "user@exämple.com", true},
		{"Chinese characters", "你好", true},
		{"high byte", string([]byte{0x80}), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ContainsNonASCII(tt.input); got != tt.expected {
				t.Errorf("ContainsNonASCII(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestGenerateID(t *testing.T) {
	seen := make(map[string]bool)
	var prev string
	for range 100 {
		id := GenerateID()
		if len(id) != ulid.EncodedSize {
			t.Fatalf("GenerateID() length = %d, want %d", len(id), ulid.EncodedSize)
		}
		if _, err := ulid.ParseStrict(id); err != nil {
			t.Fatalf("GenerateID() = %q is not a ULID: %v", id, err)
		}
		if seen[id] {
			t.Fatalf("GenerateID() returned duplicate ID: %s", id)
		}
		if prev != "" && id <= prev {
			t.Errorf("GenerateID() not monotonic: %s after %s", id, prev)
		}
		seen[id] = true
		prev = id
	}
}

type fakeAddr string

func (a fakeAddr) Network() string { return "tcp" }
func (a fakeAddr) String() string  { return string(a) }

func TestGetIPFromAddr(t *testing.T) {
	tests := []struct {
		name    string
		addr    net.Addr
		want    string
		wantErr bool
	}{
		{"nil address", nil, "", true},
		{"TCP IPv4", &net.TCPAddr{IP: net.ParseIP("192.168.1.1"), Port: 25}, "192.168.1.1", false},
		{"TCP IPv6", &net.TCPAddr{IP: net.ParseIP("2001:db8::1"), Port: 25}, "2001:db8::1", false},
		{"UDP", &net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 53}, "10.0.0.1", false},
		{"IPAddr", &net.IPAddr{IP: net.ParseIP("8.8.8.8")}, "8.8.8.8", false},
		{"string host:port", fakeAddr("192.168.1.100:25"), "192.168.1.100", false},
		{"string IPv6 host:port", fakeAddr("[::1]:25"), "::1", false},
		{"string bare IP", fakeAddr("10.0.0.1"), "10.0.0.1", false},
		{"string garbage", fakeAddr("not-an-ip"), "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ip, err := GetIPFromAddr(tt.addr)
			if tt.wantErr {
				if err == nil {
					t.Errorf("GetIPFromAddr() expected error, got %v", ip)
				}
				return
			}
			if err != nil {
				t.Fatalf("GetIPFromAddr() unexpected error: %v", err)
			}
			if ip.String() != tt.want {
				t.Errorf("GetIPFromAddr() = %v, want %v", ip, tt.want)
			}
		})
	}
}
