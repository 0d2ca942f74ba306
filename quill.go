// Quill is an SMTP receiving engine built around a pipeline of hooks.
//
// # Server
//
// Create an SMTP server using the fluent builder API. At least one message
// hook is required; Build fails with a *WiringError otherwise.
//
//	server, err := quill.New("mail.example.com").
//	    Addr(":2525").
//	    MaxMessageSize(25 * 1024 * 1024).
//	    Use(quill.DevelopmentDefaults(logger)...).
//	    MessageHook(policy, quill.AcceptAll()).
//	    ResultHook(quill.LogResults(logger)).
//	    Build()
//
//	if err := server.ListenAndServe(); err != quill.ErrServerClosed {
//	    log.Fatal(err)
//	}
//
// # Hooks
//
// When a message has been received, message hooks run in registration
// order. After each one, every result hook sees its HookResult and may
// replace it. The first result that maps to a reply ends the run:
//
//	OK        250 2.6.0 Message accepted
//	DENY      554 5.7.1 Message rejected
//	DENYSOFT  451 4.3.0 Temporary problem, please try again later
//	DECLINE   no reply, the next hook decides
//
// When every hook declines the message is rejected with the DENY reply.
// A hook may answer later by returning a Deferred reply and resolving it
// from another goroutine.
//
// # Sessions
//
// Each connection owns a Session: a connection-scoped store, a
// per-transaction State holding the Envelope, and a stack of line handlers.
// The command handler sits at the bottom; DATA pushes the content handler,
// which pops itself at the end-of-data line.
//
// # Extensions
//
// Always advertised: PIPELINING (RFC 2920), 8BITMIME (RFC 6152),
// ENHANCEDSTATUSCODES (RFC 2034).
//
// Opt-in:
//   - STARTTLS (RFC 3207) - use .TLS(tlsConfig)
//   - SIZE (RFC 1870) - use .MaxMessageSize(size)
package quill
