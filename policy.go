package quill

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/publicsuffix"
)

// AcceptAll returns a message hook that accepts every message. Place it last
// to turn the default rejection into acceptance.
func AcceptAll() MessageHook {
	return HandleMessage("accept-all", func(context.Context, *Session, *Envelope) HookResult {
		return Accept()
	})
}

// LogResults returns a result hook that logs each message hook's verdict
// and timing. It never changes the result.
func LogResults(logger *slog.Logger) ResultHook {
	return ObserveResult("log", func(_ context.Context, s *Session, res HookResult, elapsed time.Duration, origin MessageHook) HookResult {
		level := slog.LevelDebug
		if res.Return == ReturnDeny || res.Return == ReturnDenySoft {
			level = slog.LevelInfo
		}
		mailID := ""
		if env := s.State().Envelope; env != nil {
			mailID = env.ID
		}
		logger.Log(s.Context(), level, "hook result",
			slog.String("conn_id", s.ID()),
			slog.String("mail_id", mailID),
			slog.String("hook", origin.Name()),
			slog.String("result", res.Return.String()),
			slog.Duration("elapsed", elapsed),
		)
		return res
	})
}

// RateLimitHook defers messages from client IPs that exceed limiter.
func RateLimitHook(limiter *RateLimiter) MessageHook {
	return HandleMessage("rate-limit", func(_ context.Context, s *Session, _ *Envelope) HookResult {
		if limiter.Allow(extractIP(s.RemoteAddr())) {
			return Decline()
		}
		return HookResult{
			Return:       ReturnDenySoft,
			EnhancedCode: ESCTempPolicy,
			Message:      "Too many messages, please try again later",
		}
	})
}

// IPFilterHook rejects messages from client IPs the filter does not allow.
func IPFilterHook(filter *IPFilter) MessageHook {
	return HandleMessage("ip-filter", func(_ context.Context, s *Session, _ *Envelope) HookResult {
		if filter.IsAllowed(extractIP(s.RemoteAddr())) {
			return Decline()
		}
		return Deny("Messages not accepted from your IP address")
	})
}

// SenderDomainPolicy restricts senders by organizational domain, the
// registrable domain under a public suffix. Listing "example.co.uk" covers
// "mail.example.co.uk" as well.
type SenderDomainPolicy struct {
	mu      sync.RWMutex
	allowed map[string]bool
	blocked map[string]bool
}

// NewSenderDomainPolicy returns a policy with no restrictions.
func NewSenderDomainPolicy() *SenderDomainPolicy {
	return &SenderDomainPolicy{
		allowed: make(map[string]bool),
		blocked: make(map[string]bool),
	}
}

// OrganizationalDomain returns the registrable domain for domain.
// It fails for public suffixes and malformed names.
func OrganizationalDomain(domain string) (string, error) {
	domain = strings.ToLower(strings.TrimSuffix(domain, "."))
	if domain == "" || strings.HasPrefix(domain, "[") {
		return "", fmt.Errorf("not a domain name: %q", domain)
	}
	return publicsuffix.EffectiveTLDPlusOne(domain)
}

// Allow restricts senders to the given domains' organizations. Once any
// domain is allowed, every other organization is refused.
func (p *SenderDomainPolicy) Allow(domains ...string) error {
	return p.add(p.allowed, domains)
}

// Block refuses senders from the given domains' organizations.
func (p *SenderDomainPolicy) Block(domains ...string) error {
	return p.add(p.blocked, domains)
}

func (p *SenderDomainPolicy) add(set map[string]bool, domains []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, d := range domains {
		org, err := OrganizationalDomain(d)
		if err != nil {
			return fmt.Errorf("sender policy %q: %w", d, err)
		}
		set[org] = true
	}
	return nil
}

func (p *SenderDomainPolicy) Name() string {
	return "sender-domain"
}

// OnMessage declines for acceptable senders so later hooks decide.
// The null reverse-path is always let through.
func (p *SenderDomainPolicy) OnMessage(_ context.Context, _ *Session, env *Envelope) HookResult {
	if env.From.IsNull() {
		return Decline()
	}

	org, err := OrganizationalDomain(env.From.Mailbox.Domain)
	if err != nil {
		return HookResult{
			Return:       ReturnDeny,
			Code:         CodeMailboxNameInvalid,
			EnhancedCode: ESCBadSenderSyntax,
			Message:      fmt.Sprintf("Sender domain %s is not a registrable domain", env.From.Mailbox.Domain),
		}
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.blocked[org] || (len(p.allowed) > 0 && !p.allowed[org]) {
		return Deny(fmt.Sprintf("Sender domain %s not accepted", org))
	}
	return Decline()
}
