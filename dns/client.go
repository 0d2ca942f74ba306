package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	mdns "github.com/miekg/dns"
)

// ClientConfig selects the nameservers a Client asks.
type ClientConfig struct {
	// Servers are host:port pairs. Without any, the servers listed in
	// /etc/resolv.conf are used.
	Servers []string

	// Timeout bounds each exchange. Defaults to 5s.
	Timeout time.Duration

	// Attempts is how many rounds over Servers are made before giving up
	// on a temporary failure. Defaults to 2.
	Attempts int
}

// Client is a Resolver that sends recursive queries straight to the
// configured nameservers.
type Client struct {
	servers  []string
	attempts int
	dns      *mdns.Client
}

var _ Resolver = (*Client)(nil)

// NewClient returns a Client for cfg, filling in defaults.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 2
	}
	servers := cfg.Servers
	if len(servers) == 0 {
		servers = resolvConfServers("/etc/resolv.conf")
	}
	return &Client{
		servers:  servers,
		attempts: cfg.Attempts,
		dns:      &mdns.Client{Timeout: cfg.Timeout},
	}
}

// Servers returns the nameservers the client asks, in order.
func (c *Client) Servers() []string {
	return append([]string(nil), c.servers...)
}

func resolvConfServers(path string) []string {
	conf, err := mdns.ClientConfigFromFile(path)
	if err != nil || len(conf.Servers) == 0 {
		return []string{"127.0.0.1:53"}
	}
	servers := make([]string, 0, len(conf.Servers))
	for _, host := range conf.Servers {
		servers = append(servers, net.JoinHostPort(host, conf.Port))
	}
	return servers
}

func (c *Client) LookupA(ctx context.Context, name string) ([]net.IP, error) {
	rrs, err := c.exchange(ctx, name, mdns.TypeA)
	if err != nil {
		return nil, err
	}
	var ips []net.IP
	for _, a := range answers[*mdns.A](rrs) {
		ips = append(ips, a.A)
	}
	if len(ips) == 0 {
		return nil, ErrNotFound
	}
	return ips, nil
}

func (c *Client) LookupTXT(ctx context.Context, name string) ([]string, error) {
	rrs, err := c.exchange(ctx, name, mdns.TypeTXT)
	if err != nil {
		return nil, err
	}
	var texts []string
	for _, txt := range answers[*mdns.TXT](rrs) {
		texts = append(texts, strings.Join(txt.Txt, ""))
	}
	if len(texts) == 0 {
		return nil, ErrNotFound
	}
	return texts, nil
}

func (c *Client) LookupPTR(ctx context.Context, ip net.IP) ([]string, error) {
	if ip == nil {
		return nil, errors.New("dns: no IP to look up")
	}
	arpa, err := mdns.ReverseAddr(ip.String())
	if err != nil {
		return nil, err
	}
	rrs, err := c.exchange(ctx, arpa, mdns.TypePTR)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, ptr := range answers[*mdns.PTR](rrs) {
		names = append(names, strings.TrimSuffix(ptr.Ptr, "."))
	}
	if len(names) == 0 {
		return nil, ErrNotFound
	}
	return names, nil
}

// exchange asks each server in turn until one gives a definite answer.
// NXDOMAIN is definite; SERVFAIL, REFUSED and timeouts move on.
func (c *Client) exchange(ctx context.Context, name string, qtype uint16) ([]mdns.RR, error) {
	msg := new(mdns.Msg)
	msg.SetQuestion(mdns.Fqdn(name), qtype)

	err := ErrServFail
	for range c.attempts {
		for _, server := range c.servers {
			if cerr := ctx.Err(); cerr != nil {
				return nil, cerr
			}
			resp, _, xerr := c.dns.ExchangeContext(ctx, msg, server)
			if xerr != nil {
				err = exchangeError(ctx, xerr)
				continue
			}
			err = rcodeError(resp.Rcode)
			if err == nil {
				return resp.Answer, nil
			}
			if errors.Is(err, ErrNotFound) {
				return nil, err
			}
		}
	}
	return nil, err
}

func exchangeError(ctx context.Context, err error) error {
	if cerr := ctx.Err(); cerr != nil {
		return cerr
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ErrTimeout
	}
	return fmt.Errorf("dns: exchange failed: %w", err)
}

func rcodeError(rcode int) error {
	switch rcode {
	case mdns.RcodeSuccess:
		return nil
	case mdns.RcodeNameError:
		return ErrNotFound
	case mdns.RcodeServerFailure:
		return ErrServFail
	case mdns.RcodeRefused:
		return ErrRefused
	}
	return fmt.Errorf("dns: unexpected rcode %s", mdns.RcodeToString[rcode])
}

// answers keeps the records of type T.
func answers[T mdns.RR](rrs []mdns.RR) []T {
	var out []T
	for _, rr := range rrs {
		if v, ok := rr.(T); ok {
			out = append(out, v)
		}
	}
	return out
}
