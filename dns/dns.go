// Package dns answers the blocklist and reverse lookups made while
// screening SMTP clients.
package dns

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/synqronlabs/quill/utils"
)

var (
	// ErrNotFound covers NXDOMAIN as well as a name without records of the
	// requested type.
	ErrNotFound = errors.New("dns: no such record")
	ErrTimeout  = errors.New("dns: query timed out")
	ErrServFail = errors.New("dns: server failure")
	ErrRefused  = errors.New("dns: query refused")
)

// Resolver is the set of lookups the built-in hooks make.
type Resolver interface {
	// LookupA returns the IPv4 addresses of name.
	LookupA(ctx context.Context, name string) ([]net.IP, error)

	// LookupTXT returns the TXT records of name, each with its character
	// strings joined.
	LookupTXT(ctx context.Context, name string) ([]string, error)

	// LookupPTR returns the names ip maps back to, without trailing dots.
	LookupPTR(ctx context.Context, ip net.IP) ([]string, error)
}

// IsNotFound reports whether err means the record does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsTemporary reports whether asking again later may give an answer.
func IsTemporary(err error) bool {
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrServFail) ||
		errors.Is(err, ErrRefused) ||
		errors.Is(err, context.DeadlineExceeded)
}

// ReverseLookup returns the first PTR name of the IP behind addr.
func ReverseLookup(ctx context.Context, r Resolver, addr net.Addr) (string, error) {
	if addr == nil {
		return "", errors.New("dns: no address to look up")
	}
	ip, err := utils.GetIPFromAddr(addr)
	if err != nil {
		return "", err
	}
	names, err := r.LookupPTR(ctx, ip)
	if err != nil {
		return "", fmt.Errorf("reverse lookup of %s: %w", ip, err)
	}
	return names[0], nil
}
