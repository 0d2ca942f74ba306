package dns

import (
	"context"
	"net"
	"slices"
	"strings"
)

// StaticResolver answers from fixed tables. Names match case-insensitively
// with or without a trailing dot; PTR is keyed by the IP string.
type StaticResolver struct {
	A   map[string][]string
	TXT map[string][]string
	PTR map[string][]string

	// Fail lists names, or IPs for PTR, whose lookups answer ErrServFail.
	Fail []string
}

var _ Resolver = StaticResolver{}

func (r StaticResolver) find(ctx context.Context, table map[string][]string, key string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key = strings.ToLower(strings.TrimSuffix(key, "."))
	if slices.ContainsFunc(r.Fail, func(f string) bool {
		return strings.EqualFold(strings.TrimSuffix(f, "."), key)
	}) {
		return nil, ErrServFail
	}
	for k, v := range table {
		if strings.EqualFold(strings.TrimSuffix(k, "."), key) && len(v) > 0 {
			return v, nil
		}
	}
	return nil, ErrNotFound
}

func (r StaticResolver) LookupA(ctx context.Context, name string) ([]net.IP, error) {
	recs, err := r.find(ctx, r.A, name)
	if err != nil {
		return nil, err
	}
	ips := make([]net.IP, 0, len(recs))
	for _, rec := range recs {
		ips = append(ips, net.ParseIP(rec))
	}
	return ips, nil
}

func (r StaticResolver) LookupTXT(ctx context.Context, name string) ([]string, error) {
	return r.find(ctx, r.TXT, name)
}

func (r StaticResolver) LookupPTR(ctx context.Context, ip net.IP) ([]string, error) {
	names, err := r.find(ctx, r.PTR, ip.String())
	if err != nil {
		return nil, err
	}
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = strings.TrimSuffix(n, ".")
	}
	return out, nil
}
