package quill

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"strings"
	"sync"
	"time"
)

// ---- Built-in Middleware ----

// Logger returns middleware that logs command-phase handler runs.
func Logger(logger *slog.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx *Context) error {
			start := time.Now()
			err := next(ctx)
			duration := time.Since(start)

			attrs := []any{
				slog.String("conn_id", ctx.Session.ID()),
				slog.String("remote", ctx.RemoteAddr()),
				slog.Duration("duration", duration),
			}

			if err != nil {
				logger.Error("handler error", append(attrs, slog.Any("error", err))...)
			} else {
				logger.Debug("handler completed", attrs...)
			}

			return err
		}
	}
}

// Recovery returns middleware that recovers from panics.
func Recovery(logger *slog.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx *Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("panic recovered",
						slog.String("conn_id", ctx.Session.ID()),
						slog.Any("panic", r),
					)
					err = errors.New("internal server error")
				}
			}()
			return next(ctx)
		}
	}
}

// ---- Rate Limiting ----

// RateLimiter counts events per key in fixed windows.
type RateLimiter struct {
	mu       sync.Mutex
	counts   map[string]*rateLimitEntry
	limit    int
	window   time.Duration
	cleanupT time.Duration
	stop     chan struct{}
	stopOnce sync.Once
}

type rateLimitEntry struct {
	count       int
	windowStart time.Time
}

// NewRateLimiter creates a rate limiter allowing limit events per window
// for a single key. Call Stop to release its cleanup goroutine.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		counts:   make(map[string]*rateLimitEntry),
		limit:    limit,
		window:   window,
		cleanupT: window * 2,
		stop:     make(chan struct{}),
	}

	go rl.cleanup()

	return rl
}

func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(rl.cleanupT)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
		}
		rl.mu.Lock()
		now := time.Now()
		for key, entry := range rl.counts {
			if now.Sub(entry.windowStart) > rl.window {
				delete(rl.counts, key)
			}
		}
		rl.mu.Unlock()
	}
}

// Stop ends the cleanup goroutine.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

// Allow checks if the key is allowed and increments the counter.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	entry, ok := rl.counts[key]

	if !ok || now.Sub(entry.windowStart) > rl.window {
		rl.counts[key] = &rateLimitEntry{count: 1, windowStart: now}
		return true
	}

	if entry.count >= rl.limit {
		return false
	}

	entry.count++
	return true
}

// RateLimit returns middleware that limits connections per IP.
func RateLimit(limiter *RateLimiter) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx *Context) error {
			if !limiter.Allow(extractIP(ctx.Session.RemoteAddr())) {
				return errors.New("too many connections, please try again later")
			}
			return next(ctx)
		}
	}
}

// ---- IP Filtering ----

// IPFilter allows or denies clients by address or CIDR prefix.
type IPFilter struct {
	mu    sync.RWMutex
	allow []netip.Prefix
	deny  []netip.Prefix
	mode  IPFilterMode
}

// IPFilterMode determines how the filter operates.
type IPFilterMode int

const (
	// IPFilterModeAllow only allows IPs in the allow list.
	IPFilterModeAllow IPFilterMode = iota
	// IPFilterModeDeny only denies IPs in the deny list.
	IPFilterModeDeny
)

// NewIPFilter creates a new IP filter.
func NewIPFilter(mode IPFilterMode) *IPFilter {
	return &IPFilter{mode: mode}
}

// Allow adds addresses or prefixes such as "192.0.2.0/24" to the allow list.
func (f *IPFilter) Allow(entries ...string) error {
	prefixes, err := parsePrefixes(entries)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.allow = append(f.allow, prefixes...)
	f.mu.Unlock()
	return nil
}

// Deny adds addresses or prefixes to the deny list.
func (f *IPFilter) Deny(entries ...string) error {
	prefixes, err := parsePrefixes(entries)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.deny = append(f.deny, prefixes...)
	f.mu.Unlock()
	return nil
}

// IsAllowed reports whether ip passes the filter. Unparseable input only
// passes a deny-mode filter.
func (f *IPFilter) IsAllowed(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return f.mode == IPFilterModeDeny
	}
	addr = addr.Unmap()

	f.mu.RLock()
	defer f.mu.RUnlock()

	switch f.mode {
	case IPFilterModeAllow:
		return containsAddr(f.allow, addr)
	case IPFilterModeDeny:
		return !containsAddr(f.deny, addr)
	}
	return true
}

func containsAddr(prefixes []netip.Prefix, addr netip.Addr) bool {
	for _, p := range prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func parsePrefixes(entries []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(entries))
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if strings.Contains(e, "/") {
			p, err := netip.ParsePrefix(e)
			if err != nil {
				return nil, fmt.Errorf("ip filter: %w", err)
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(e)
		if err != nil {
			return nil, fmt.Errorf("ip filter: %w", err)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

// IPFilterMiddleware returns middleware that filters connections by IP.
func IPFilterMiddleware(filter *IPFilter) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx *Context) error {
			if !filter.IsAllowed(extractIP(ctx.Session.RemoteAddr())) {
				return errors.New("connection not allowed from your IP address")
			}
			return next(ctx)
		}
	}
}

// ---- Helper Functions ----

func extractIP(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	if tcpAddr, ok := addr.(*net.TCPAddr); ok {
		return tcpAddr.IP.String()
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

// DevelopmentDefaults returns the recovery and logging middleware.
func DevelopmentDefaults(logger *slog.Logger) []Middleware {
	return []Middleware{
		Recovery(logger),
		Logger(logger),
	}
}
