// Package dnsbl rejects messages from clients listed on DNS blocklists.
package dnsbl

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"

	"github.com/synqronlabs/quill"
	"github.com/synqronlabs/quill/dns"
	"github.com/synqronlabs/quill/utils"
)

// Hook checks the client IPv4 address against each zone in order.
// It declines when no zone lists the client, so later hooks decide.
type Hook struct {
	Resolver dns.Resolver
	Zones    []string

	// FailOpen declines instead of deferring the message when a zone
	// cannot be queried.
	FailOpen bool

	Logger *slog.Logger
}

var _ quill.MessageHook = (*Hook)(nil)

// New returns a hook that queries zones through resolver.
func New(resolver dns.Resolver, zones ...string) *Hook {
	return &Hook{Resolver: resolver, Zones: zones}
}

func (h *Hook) Name() string {
	return "dnsbl"
}

// QueryName returns the name looked up for ip in zone, e.g.
// 2.0.0.127.zen.example. for 127.0.0.2. IPv6 clients are not checked.
func QueryName(ip net.IP, zone string) (string, bool) {
	v4 := ip.To4()
	if v4 == nil {
		return "", false
	}
	zone = strings.TrimSuffix(zone, ".")
	return fmt.Sprintf("%d.%d.%d.%d.%s.", v4[3], v4[2], v4[1], v4[0], zone), true
}

// Listing is a zone's answer for a listed client.
type Listing struct {
	Zone string

	// Reason is the zone's TXT explanation, empty when it publishes none.
	Reason string
}

// Check reports the first zone listing ip, or nil. A temporary failure is
// returned only when no zone answered with a listing.
func (h *Hook) Check(ctx context.Context, ip net.IP) (*Listing, error) {
	var tempErr error
	for _, z := range h.Zones {
		name, ok := QueryName(ip, z)
		if !ok {
			return nil, nil
		}
		_, err := h.Resolver.LookupA(ctx, name)
		switch {
		case err == nil:
			return &Listing{Zone: strings.TrimSuffix(z, "."), Reason: h.reason(ctx, name)}, nil
		case dns.IsNotFound(err):
		default:
			if tempErr == nil {
				tempErr = fmt.Errorf("dnsbl %s: %w", z, err)
			}
		}
	}
	return nil, tempErr
}

// reason returns the first TXT record published for a listed name.
func (h *Hook) reason(ctx context.Context, name string) string {
	texts, err := h.Resolver.LookupTXT(ctx, name)
	if err != nil || len(texts) == 0 {
		return ""
	}
	return texts[0]
}

// OnMessage denies listed clients. Only a temporary lookup failure defers
// the message, and only when FailOpen is off.
func (h *Hook) OnMessage(ctx context.Context, s *quill.Session, _ *quill.Envelope) quill.HookResult {
	ip, err := utils.GetIPFromAddr(s.RemoteAddr())
	if err != nil {
		return quill.Decline()
	}

	listing, err := h.Check(ctx, ip)
	if err != nil {
		h.logger(s).Warn("blocklist lookup failed",
			slog.String("ip", ip.String()),
			slog.Any("error", err),
		)
		if h.FailOpen || !dns.IsTemporary(err) {
			return quill.Decline()
		}
		return quill.HookResult{
			Return:       quill.ReturnDenySoft,
			EnhancedCode: quill.ESCTempPolicy,
			Message:      "Blocklist lookup failed, please try again later",
		}
	}
	if listing == nil {
		return quill.Decline()
	}

	msg := fmt.Sprintf("Client host %s listed by %s", ip, listing.Zone)
	if listing.Reason != "" {
		msg += ": " + listing.Reason
	}
	h.logger(s).Info("client listed",
		slog.String("ip", ip.String()),
		slog.String("zone", listing.Zone),
	)
	return quill.Deny(msg)
}

func (h *Hook) logger(s *quill.Session) *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return s.Logger()
}
