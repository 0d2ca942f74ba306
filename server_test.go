package quill

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"testing"
	"time"
)

// testClient is a simple SMTP client for integration testing.
type testClient struct {
	conn   net.Conn
	reader *bufio.Reader
	t      *testing.T
}

func newTestClient(t *testing.T, addr string) *testClient {
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		t.Fatalf("Failed to connect to server: %v", err)
	}
	conn.SetDeadline(time.Now().Add(10 * time.Second))
	return &testClient{
		conn:   conn,
		reader: bufio.NewReader(conn),
		t:      t,
	}
}

func (c *testClient) close() {
	c.conn.Close()
}

func (c *testClient) send(cmd string) {
	_, err := c.conn.Write([]byte(cmd + "\r\n"))
	if err != nil {
		c.t.Fatalf("Failed to send command %q: %v", cmd, err)
	}
}

func (c *testClient) sendRaw(data []byte) {
	_, err := c.conn.Write(data)
	if err != nil {
		c.t.Fatalf("Failed to send raw data: %v", err)
	}
}

func (c *testClient) readLine() string {
	line, err := c.reader.ReadString('\n')
	if err != nil {
		c.t.Fatalf("Failed to read response: %v", err)
	}
	return strings.TrimRight(line, "\r\n")
}

func (c *testClient) readMultiline() []string {
	var lines []string
	for {
		line := c.readLine()
		lines = append(lines, line)
		if len(line) >= 4 && line[3] == ' ' {
			break
		}
	}
	return lines
}

func (c *testClient) expectCode(expectedCode int) string {
	c.t.Helper()
	line := c.readLine()
	code := 0
	fmt.Sscanf(line, "%d", &code)
	if code != expectedCode {
		c.t.Errorf("Expected code %d, got response: %s", expectedCode, line)
	}
	return line
}

func (c *testClient) expectMultilineCode(expectedCode int) []string {
	c.t.Helper()
	lines := c.readMultiline()
	if len(lines) == 0 {
		c.t.Fatalf("Expected multiline response with code %d, got empty", expectedCode)
	}
	code := 0
	fmt.Sscanf(lines[len(lines)-1], "%d", &code)
	if code != expectedCode {
		c.t.Errorf("Expected code %d, got response: %v", expectedCode, lines)
	}
	return lines
}

// expectClosed waits for the server to close the connection.
func (c *testClient) expectClosed() {
	c.t.Helper()
	if line, err := c.reader.ReadString('\n'); err == nil {
		c.t.Errorf("Expected connection to be closed, got: %q", line)
	}
}

// greet reads the greeting and sends EHLO.
func (c *testClient) greet() {
	c.t.Helper()
	c.expectCode(220)
	c.send("EHLO client.example.com")
	c.expectMultilineCode(250)
}

// sendMessage runs a whole transaction and returns the final DATA reply.
func (c *testClient) sendMessage(from, to string, body ...string) string {
	c.t.Helper()
	c.send("MAIL FROM:<" + from + ">")
	c.expectCode(250)
	c.send("RCPT TO:<" + to + ">")
	c.expectCode(250)
	c.send("DATA")
	c.expectCode(354)
	for _, l := range body {
		c.send(l)
	}
	c.send(".")
	return c.readLine()
}

// discardLogger returns a logger that discards all output.
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testServerConfig returns a ServerConfig running hooks, or accepting
// everything when none are given.
func testServerConfig(t *testing.T, hooks ...MessageHook) ServerConfig {
	t.Helper()
	if len(hooks) == 0 {
		hooks = []MessageHook{AcceptAll()}
	}
	reg, err := NewRegistryBuilder().AddMessageHooks(hooks...).Build()
	if err != nil {
		t.Fatalf("Build registry: %v", err)
	}
	return ServerConfig{Hooks: reg}
}

// startTestServer starts a test server on a random port and returns the server and address.
func startTestServer(t *testing.T, config ServerConfig) (*Server, string) {
	t.Helper()
	if config.Hostname == "" {
		config.Hostname = "test.example.com"
	}
	config.Logger = discardLogger()

	server, err := NewServer(config)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	return server, serveOnLoopback(t, server)
}

func startBuiltServer(t *testing.T, b *ServerBuilder) (*Server, string) {
	t.Helper()
	server, err := b.Logger(discardLogger()).Build()
	if err != nil {
		t.Fatalf("Failed to build server: %v", err)
	}
	return server, serveOnLoopback(t, server)
}

func serveOnLoopback(t *testing.T, server *Server) string {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	go func() {
		_ = server.Serve(listener)
	}()
	t.Cleanup(func() { _ = server.Close() })
	return listener.Addr().String()
}

// received is a message seen by a captureHook.
type received struct {
	from    string
	to      []string
	content string
	helo    string
}

// captureHook records accepted messages.
type captureHook struct {
	mu   sync.Mutex
	msgs []received
	res  HookResult
}

func newCaptureHook() *captureHook {
	return &captureHook{res: Accept()}
}

func (h *captureHook) Name() string { return "capture" }

func (h *captureHook) OnMessage(_ context.Context, s *Session, env *Envelope) HookResult {
	rc, err := env.Open()
	if err != nil {
		return DenySoft(err.Error())
	}
	defer rc.Close()
	content, _ := io.ReadAll(rc)

	msg := received{from: env.From.Mailbox.String(), content: string(content)}
	for _, rcpt := range env.To {
		msg.to = append(msg.to, rcpt.Mailbox.String())
	}
	msg.helo, _ = s.ConnectionState()[KeyHelo].(string)

	h.mu.Lock()
	h.msgs = append(h.msgs, msg)
	h.mu.Unlock()
	return h.res
}

func (h *captureHook) messages() []received {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]received(nil), h.msgs...)
}

// ============================================================================
// Basic SMTP Session Tests
// ============================================================================

func TestBasicSMTPSession(t *testing.T) {
	capture := newCaptureHook()
	_, addr := startTestServer(t, testServerConfig(t, capture))

	client := newTestClient(t, addr)
	defer client.close()

	client.expectCode(220)

	client.send("EHLO client.example.com")
	lines := client.expectMultilineCode(250)
	if len(lines) < 2 {
		t.Errorf("Expected multiple EHLO response lines, got %d", len(lines))
	}

	client.send("MAIL FROM:<sender@example.com>")
	client.expectCode(250)
	client.send("RCPT TO:<recipient@example.com>")
	client.expectCode(250)
	client.send("DATA")
	client.expectCode(354)
	client.send("Subject: Test Message")
	client.send("")
	client.send("This is a test message.")
	client.send(".")
	line := client.expectCode(250)
	if !strings.Contains(line, "2.6.0") {
		t.Errorf("Expected enhanced code 2.6.0, got %s", line)
	}

	client.send("QUIT")
	client.expectCode(221)
	client.expectClosed()

	msgs := capture.messages()
	if len(msgs) != 1 {
		t.Fatalf("Expected 1 message, got %d", len(msgs))
	}
	msg := msgs[0]
	if msg.from != "sender@example.com" {
		t.Errorf("Expected from sender@example.com, got %s", msg.from)
	}
	if len(msg.to) != 1 || msg.to[0] != "recipient@example.com" {
		t.Errorf("Unexpected recipients %v", msg.to)
	}
	if msg.helo != "client.example.com" {
		t.Errorf("Expected helo client.example.com, got %s", msg.helo)
	}
	want := "Subject: Test Message\r\n\r\nThis is a test message.\r\n"
	if msg.content != want {
		t.Errorf("Content = %q, want %q", msg.content, want)
	}
}

func TestNewServerRequiresMessageHooks(t *testing.T) {
	_, err := NewServer(ServerConfig{Hostname: "mx.test"})
	var werr *WiringError
	if !errors.As(err, &werr) || !errors.Is(err, ErrNoMessageHooks) {
		t.Errorf("NewServer without hooks = %v, want WiringError", err)
	}

	_, err = New("mx.test").ResultHook(LogResults(discardLogger())).Build()
	if !errors.Is(err, ErrNoMessageHooks) {
		t.Errorf("Build without message hooks = %v", err)
	}

	_, err = NewServer(ServerConfig{Hooks: testServerConfig(t).Hooks})
	if err == nil {
		t.Error("NewServer without hostname should fail")
	}
}

func TestDATADotStuffing(t *testing.T) {
	capture := newCaptureHook()
	_, addr := startTestServer(t, testServerConfig(t, capture))

	client := newTestClient(t, addr)
	defer client.close()
	client.greet()

	resp := client.sendMessage("a@example.com", "b@example.com",
		"..", "...two", ". not end", "last line")
	if !strings.HasPrefix(resp, "250") {
		t.Fatalf("Expected 250, got %s", resp)
	}

	want := ".\r\n..two\r\n. not end\r\nlast line\r\n"
	if got := capture.messages()[0].content; got != want {
		t.Errorf("Content = %q, want %q", got, want)
	}
}

func TestHELO(t *testing.T) {
	_, addr := startTestServer(t, testServerConfig(t))
	client := newTestClient(t, addr)
	defer client.close()

	client.expectCode(220)
	client.send("HELO")
	client.expectCode(501)
	client.send("HELO client.example.com")
	line := client.expectCode(250)
	if strings.HasPrefix(line, "250-") {
		t.Errorf("HELO reply must be a single line: %s", line)
	}
}

func TestMultipleRecipients(t *testing.T) {
	capture := newCaptureHook()
	_, addr := startTestServer(t, testServerConfig(t, capture))
	client := newTestClient(t, addr)
	defer client.close()
	client.greet()

	client.send("MAIL FROM:<a@example.com>")
	client.expectCode(250)
	for _, rcpt := range []string{"b@example.com", "c@example.com", "d@example.com"} {
		client.send("RCPT TO:<" + rcpt + ">")
		client.expectCode(250)
	}
	client.send("RCPT TO:<>")
	client.expectCode(501)
	client.send("DATA")
	client.expectCode(354)
	client.send("hi")
	client.send(".")
	client.expectCode(250)

	if got := capture.messages()[0].to; len(got) != 3 {
		t.Errorf("Expected 3 recipients, got %v", got)
	}
}

func TestMaxRecipients(t *testing.T) {
	config := testServerConfig(t)
	config.MaxRecipients = 2
	_, addr := startTestServer(t, config)
	client := newTestClient(t, addr)
	defer client.close()
	client.greet()

	client.send("MAIL FROM:<a@example.com>")
	client.expectCode(250)
	client.send("RCPT TO:<b@example.com>")
	client.expectCode(250)
	client.send("RCPT TO:<c@example.com>")
	client.expectCode(250)
	client.send("RCPT TO:<d@example.com>")
	line := client.expectCode(452)
	if !strings.Contains(line, "4.5.3") {
		t.Errorf("Expected 4.5.3, got %s", line)
	}
}

func TestRSET(t *testing.T) {
	var resets int
	var mu sync.Mutex
	config := testServerConfig(t)
	config.Callbacks = &Callbacks{
		OnReset: func(context.Context, *Session) {
			mu.Lock()
			resets++
			mu.Unlock()
		},
	}
	_, addr := startTestServer(t, config)
	client := newTestClient(t, addr)
	defer client.close()
	client.greet()

	client.send("MAIL FROM:<a@example.com>")
	client.expectCode(250)
	client.send("RSET")
	client.expectCode(250)
	client.send("RCPT TO:<b@example.com>")
	client.expectCode(503)
	client.send("MAIL FROM:<a@example.com>")
	client.expectCode(250)

	mu.Lock()
	defer mu.Unlock()
	if resets != 1 {
		t.Errorf("OnReset called %d times, want 1", resets)
	}
}

func TestNOOPAndVRFY(t *testing.T) {
	_, addr := startTestServer(t, testServerConfig(t))
	client := newTestClient(t, addr)
	defer client.close()
	client.expectCode(220)

	client.send("NOOP")
	client.expectCode(250)
	client.send("VRFY postmaster")
	client.expectCode(252)
	client.send("VRFY")
	client.expectCode(501)
}

func TestHELP(t *testing.T) {
	_, addr := startTestServer(t, testServerConfig(t))
	client := newTestClient(t, addr)
	defer client.close()
	client.expectCode(220)

	client.send("HELP")
	lines := client.expectMultilineCode(214)
	if !strings.Contains(strings.Join(lines, "\n"), DefaultHelpURL) {
		t.Errorf("HELP should mention %s: %v", DefaultHelpURL, lines)
	}

	client.send("HELP mail")
	line := client.expectCode(214)
	if !strings.Contains(line, "MAIL FROM") {
		t.Errorf("Unexpected HELP MAIL reply: %s", line)
	}
}

func TestUnknownCommand(t *testing.T) {
	_, addr := startTestServer(t, testServerConfig(t))
	client := newTestClient(t, addr)
	defer client.close()
	client.expectCode(220)

	client.send("EXPN staff")
	line := client.expectCode(500)
	if !strings.Contains(line, "EXPN") {
		t.Errorf("Expected verb in reply, got %s", line)
	}
}

func TestBadSequenceErrors(t *testing.T) {
	_, addr := startTestServer(t, testServerConfig(t))
	client := newTestClient(t, addr)
	defer client.close()
	client.expectCode(220)

	client.send("MAIL FROM:<a@example.com>")
	client.expectCode(503)
	client.send("EHLO client.example.com")
	client.expectMultilineCode(250)
	client.send("RCPT TO:<b@example.com>")
	client.expectCode(503)
	client.send("DATA")
	client.expectCode(503)
	client.send("MAIL FROM:<a@example.com>")
	client.expectCode(250)
	client.send("MAIL FROM:<a@example.com>")
	client.expectCode(503)
	client.send("DATA")
	client.expectCode(503)
}

func TestSIZEExtension(t *testing.T) {
	config := testServerConfig(t)
	config.MaxMessageSize = 1000
	_, addr := startTestServer(t, config)
	client := newTestClient(t, addr)
	defer client.close()

	client.expectCode(220)
	client.send("EHLO client.example.com")
	lines := client.expectMultilineCode(250)
	if !strings.Contains(strings.Join(lines, "\n"), "SIZE 1000") {
		t.Errorf("SIZE not advertised: %v", lines)
	}

	client.send("MAIL FROM:<a@example.com> SIZE=5000")
	client.expectCode(552)
	client.send("MAIL FROM:<a@example.com> SIZE=abc")
	client.expectCode(501)
	client.send("MAIL FROM:<a@example.com> SIZE=500")
	client.expectCode(250)
}

func TestMaxMessageSize(t *testing.T) {
	capture := newCaptureHook()
	config := testServerConfig(t, capture)
	config.MaxMessageSize = 50
	_, addr := startTestServer(t, config)
	client := newTestClient(t, addr)
	defer client.close()
	client.greet()

	resp := client.sendMessage("a@example.com", "b@example.com", strings.Repeat("x", 40), strings.Repeat("y", 40))
	if !strings.HasPrefix(resp, "552 5.3.4") {
		t.Errorf("Expected 552 5.3.4, got %s", resp)
	}
	if n := len(capture.messages()); n != 0 {
		t.Errorf("Oversized message reached hooks")
	}

	resp = client.sendMessage("a@example.com", "b@example.com", "small")
	if !strings.HasPrefix(resp, "250") {
		t.Errorf("Expected next transaction to succeed, got %s", resp)
	}
}

func TestContentLineTooLong(t *testing.T) {
	capture := newCaptureHook()
	_, addr := startTestServer(t, testServerConfig(t, capture))
	client := newTestClient(t, addr)
	defer client.close()
	client.greet()

	resp := client.sendMessage("a@example.com", "b@example.com",
		strings.Repeat("a", 998), strings.Repeat("b", 999), "after")
	if !strings.HasPrefix(resp, "501 5.6.0") {
		t.Errorf("Expected 501 5.6.0, got %s", resp)
	}

	resp = client.sendMessage("a@example.com", "b@example.com", strings.Repeat("a", 998))
	if !strings.HasPrefix(resp, "250") {
		t.Errorf("998 octet lines must be accepted, got %s", resp)
	}
	if n := len(capture.messages()); n != 1 {
		t.Errorf("Expected 1 delivered message, got %d", n)
	}
}

func TestCommandLineErrors(t *testing.T) {
	_, addr := startTestServer(t, testServerConfig(t))
	client := newTestClient(t, addr)
	defer client.close()
	client.expectCode(220)

	client.send("NOOP " + strings.Repeat("x", 600))
	client.expectCode(501)
	client.sendRaw([]byte("NOOP\n"))
	client.expectCode(501)
	client.send("NOOP")
	client.expectCode(250)
}

func TestBareLineFeedInData(t *testing.T) {
	_, addr := startTestServer(t, testServerConfig(t))
	client := newTestClient(t, addr)
	defer client.close()
	client.greet()

	client.send("MAIL FROM:<a@example.com>")
	client.expectCode(250)
	client.send("RCPT TO:<b@example.com>")
	client.expectCode(250)
	client.send("DATA")
	client.expectCode(354)
	client.sendRaw([]byte("bare\nline\r\n.\r\n"))
	client.expectCode(501)
}

func TestSMTPUTF8Required(t *testing.T) {
	_, addr := startTestServer(t, testServerConfig(t))
	client := newTestClient(t, addr)
	defer client.close()
	client.greet()

	client.send("MAIL FROM:<José@example.com>")
	client.expectCode(553)
	client.send("MAIL FROM:<José@example.com> SMTPUTF8")
	client.expectCode(250)
}

// ============================================================================
// Hook Pipeline Tests
// ============================================================================

func TestHookVerdicts(t *testing.T) {
	tests := []struct {
		name  string
		hooks []MessageHook
		want  string
	}{
		{"deny", []MessageHook{HandleMessage("deny", func(context.Context, *Session, *Envelope) HookResult { return Deny("") })}, "554 5.7.1"},
		{"denysoft", []MessageHook{HandleMessage("soft", func(context.Context, *Session, *Envelope) HookResult { return DenySoft("") })}, "451 4.3.0"},
		{"declined by all", []MessageHook{HandleMessage("decline", func(context.Context, *Session, *Envelope) HookResult { return Decline() })}, "554 5.7.1"},
		{"panic", []MessageHook{HandleMessage("panic", func(context.Context, *Session, *Envelope) HookResult { panic("boom") })}, "451 4.3.0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, addr := startTestServer(t, testServerConfig(t, tt.hooks...))
			client := newTestClient(t, addr)
			defer client.close()
			client.greet()

			resp := client.sendMessage("a@example.com", "b@example.com", "hello")
			if !strings.HasPrefix(resp, tt.want) {
				t.Errorf("Got %s, want %s", resp, tt.want)
			}
			client.send("NOOP")
			client.expectCode(250)
		})
	}
}

func TestDeferredReplyOverNetwork(t *testing.T) {
	hook := HandleMessage("async", func(context.Context, *Session, *Envelope) HookResult {
		reply := Deferred()
		go func() {
			time.Sleep(20 * time.Millisecond)
			_ = reply.Resolve(ResponseOK("Queued after review", ESCMessageAccepted))
		}()
		return Respond(ReturnOK, reply)
	})
	_, addr := startTestServer(t, testServerConfig(t, hook))
	client := newTestClient(t, addr)
	defer client.close()
	client.greet()

	resp := client.sendMessage("a@example.com", "b@example.com", "hello")
	if resp != "250 2.6.0 Queued after review" {
		t.Errorf("Got %q", resp)
	}
	client.send("NOOP")
	client.expectCode(250)
}

func TestStateResetBetweenMessages(t *testing.T) {
	var mu sync.Mutex
	var seen []bool
	hook := HandleMessage("state", func(_ context.Context, s *Session, _ *Envelope) HookResult {
		_, had := s.State().Get("marker")
		s.State().Set("marker", true)
		mu.Lock()
		seen = append(seen, had)
		mu.Unlock()
		return Accept()
	})
	_, addr := startTestServer(t, testServerConfig(t, hook))
	client := newTestClient(t, addr)
	defer client.close()
	client.greet()

	for range 2 {
		if resp := client.sendMessage("a@example.com", "b@example.com", "hi"); !strings.HasPrefix(resp, "250") {
			t.Fatalf("Got %s", resp)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 || seen[0] || seen[1] {
		t.Errorf("Transaction state leaked between messages: %v", seen)
	}
}

func TestSinkOpenFailure(t *testing.T) {
	config := testServerConfig(t)
	config.Sinks = func(*Session, *Envelope) (Sink, error) {
		return nil, errors.New("no space")
	}
	_, addr := startTestServer(t, config)
	client := newTestClient(t, addr)
	defer client.close()
	client.greet()

	client.send("MAIL FROM:<a@example.com>")
	client.expectCode(250)
	client.send("RCPT TO:<b@example.com>")
	client.expectCode(250)
	client.send("DATA")
	client.expectCode(451)
	client.send("NOOP")
	client.expectCode(250)
}

func TestPipelining(t *testing.T) {
	_, addr := startTestServer(t, testServerConfig(t))
	client := newTestClient(t, addr)
	defer client.close()
	client.greet()

	client.sendRaw([]byte("MAIL FROM:<a@example.com>\r\nRCPT TO:<b@example.com>\r\nDATA\r\n"))
	client.expectCode(250)
	client.expectCode(250)
	client.expectCode(354)
	client.sendRaw([]byte("Subject: x\r\n\r\nbody\r\n.\r\nNOOP\r\n"))
	client.expectCode(250)
	client.expectCode(250)
}

// ============================================================================
// Callbacks, Builder and Middleware
// ============================================================================

func TestOnConnectReject(t *testing.T) {
	_, addr := startBuiltServer(t, New("mx.test").
		MessageHook(AcceptAll()).
		OnConnect(func(*Context) error { return errors.New("go away") }))

	client := newTestClient(t, addr)
	defer client.close()
	client.expectCode(554)
	client.expectClosed()
}

func TestOnMailFromAndRcptTo(t *testing.T) {
	_, addr := startBuiltServer(t, New("mx.test").
		MessageHook(AcceptAll()).
		OnMailFrom(func(c *Context) error {
			from, _ := c.Get("from")
			if from.(Path).Mailbox.Domain == "blocked.example" {
				return errors.New("sender refused")
			}
			return nil
		}).
		OnRcptTo(func(c *Context) error {
			to, _ := c.Get("to")
			if to.(Path).Mailbox.LocalPart == "nobody" {
				return errors.New("no such user")
			}
			return nil
		}))

	client := newTestClient(t, addr)
	defer client.close()
	client.greet()

	client.send("MAIL FROM:<x@blocked.example>")
	line := client.expectCode(550)
	if !strings.Contains(line, "sender refused") {
		t.Errorf("Got %s", line)
	}
	client.send("MAIL FROM:<x@example.com>")
	client.expectCode(250)
	client.send("RCPT TO:<nobody@example.com>")
	client.expectCode(550)
	client.send("RCPT TO:<someone@example.com>")
	client.expectCode(250)
}

func TestOnHeloAndDisconnect(t *testing.T) {
	disconnected := make(chan string, 1)
	_, addr := startBuiltServer(t, New("mx.test").
		MessageHook(AcceptAll()).
		OnHelo(func(c *Context) error {
			if c.GetString("hostname") == "bad.example" {
				return errors.New("bad hostname")
			}
			return nil
		}).
		OnDisconnect(func(c *Context) error {
			disconnected <- c.ClientHostname()
			return nil
		}))

	client := newTestClient(t, addr)
	client.expectCode(220)
	client.send("EHLO bad.example")
	client.expectCode(550)
	client.send("EHLO good.example")
	client.expectMultilineCode(250)
	client.send("QUIT")
	client.expectCode(221)
	client.close()

	select {
	case name := <-disconnected:
		if name != "good.example" {
			t.Errorf("ClientHostname = %q", name)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnDisconnect not called")
	}
}

func TestMiddlewareExecutionOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string
	record := func(name string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(c *Context) error {
				mu.Lock()
				order = append(order, name)
				mu.Unlock()
				return next(c)
			}
		}
	}

	_, addr := startBuiltServer(t, New("mx.test").
		MessageHook(AcceptAll()).
		Use(record("first"), record("second"), Recovery(discardLogger())).
		OnHelo(func(*Context) error {
			mu.Lock()
			order = append(order, "handler")
			mu.Unlock()
			return nil
		}))

	client := newTestClient(t, addr)
	defer client.close()
	client.greet()

	mu.Lock()
	defer mu.Unlock()
	if strings.Join(order, ",") != "first,second,handler" {
		t.Errorf("Order = %v", order)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	_, addr := startBuiltServer(t, New("mx.test").
		MessageHook(AcceptAll()).
		Use(Recovery(discardLogger())).
		OnMailFrom(func(*Context) error { panic("handler bug") }))

	client := newTestClient(t, addr)
	defer client.close()
	client.greet()
	client.send("MAIL FROM:<a@example.com>")
	client.expectCode(550)
	client.send("NOOP")
	client.expectCode(250)
}

// ============================================================================
// Limits and Lifecycle
// ============================================================================

func TestMaxErrorsLimit(t *testing.T) {
	config := testServerConfig(t)
	config.MaxErrors = 2
	_, addr := startTestServer(t, config)
	client := newTestClient(t, addr)
	defer client.close()
	client.expectCode(220)

	client.send("BAD1")
	client.expectCode(500)
	client.send("BAD2")
	client.expectCode(500)
	client.send("NOOP")
	client.expectCode(421)
	client.expectClosed()
}

func TestMaxCommandsLimit(t *testing.T) {
	config := testServerConfig(t)
	config.MaxCommands = 3
	_, addr := startTestServer(t, config)
	client := newTestClient(t, addr)
	defer client.close()
	client.expectCode(220)

	for range 3 {
		client.send("NOOP")
		client.expectCode(250)
	}
	client.send("NOOP")
	client.expectCode(421)
}

func TestMaxConnections(t *testing.T) {
	config := testServerConfig(t)
	config.MaxConnections = 1
	_, addr := startTestServer(t, config)

	first := newTestClient(t, addr)
	defer first.close()
	first.expectCode(220)

	second := newTestClient(t, addr)
	defer second.close()
	second.expectCode(421)
}

func TestReadTimeout(t *testing.T) {
	config := testServerConfig(t)
	config.ReadTimeout = 100 * time.Millisecond
	_, addr := startTestServer(t, config)
	client := newTestClient(t, addr)
	defer client.close()
	client.expectCode(220)

	line := client.expectCode(421)
	if !strings.Contains(line, "Timeout") {
		t.Errorf("Got %s", line)
	}
}

func TestShutdownNotifiesClients(t *testing.T) {
	server, addr := startTestServer(t, testServerConfig(t))
	client := newTestClient(t, addr)
	defer client.close()
	client.greet()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- server.Shutdown(ctx) }()

	line := client.expectCode(421)
	if !strings.Contains(line, "shutting down") {
		t.Errorf("Got %s", line)
	}
	client.expectClosed()

	if err := <-done; err != nil {
		t.Errorf("Shutdown: %v", err)
	}
	if _, err := net.DialTimeout("tcp", addr, time.Second); err == nil {
		t.Error("Listener still accepting after Shutdown")
	}
}

func TestCloseStopsServe(t *testing.T) {
	config := testServerConfig(t)
	config.Hostname = "mx.test"
	config.Logger = discardLogger()
	server, err := NewServer(config)
	if err != nil {
		t.Fatal(err)
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	done := make(chan error, 1)
	go func() { done <- server.Serve(listener) }()

	for server.Addr() == nil {
		time.Sleep(time.Millisecond)
	}
	_ = server.Close()
	if err := <-done; !errors.Is(err, ErrServerClosed) {
		t.Errorf("Serve returned %v, want ErrServerClosed", err)
	}
}
