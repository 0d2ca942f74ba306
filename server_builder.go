package quill

import (
	"context"
	"crypto/tls"
	"log/slog"
	"time"
)

// HandlerFunc is the function signature for command-phase handlers.
// Returning an error rejects the command.
type HandlerFunc func(ctx *Context) error

// Middleware wraps handlers to add functionality.
type Middleware func(HandlerFunc) HandlerFunc

// Context provides request-scoped values and methods for handlers.
type Context struct {
	Session  *Session
	Keys     map[string]any
	handlers []HandlerFunc
	index    int
}

// Set stores a value in the context for later retrieval.
func (c *Context) Set(key string, value any) {
	if c.Keys == nil {
		c.Keys = make(map[string]any)
	}
	c.Keys[key] = value
}

// Get retrieves a value from the context.
func (c *Context) Get(key string) (any, bool) {
	if c.Keys == nil {
		return nil, false
	}
	val, ok := c.Keys[key]
	return val, ok
}

// GetString retrieves a string value from the context.
func (c *Context) GetString(key string) string {
	if val, ok := c.Get(key); ok {
		if s, ok := val.(string); ok {
			return s
		}
	}
	return ""
}

// Next executes the next handler in the chain.
func (c *Context) Next() error {
	c.index++
	for c.index < len(c.handlers) {
		if err := c.handlers[c.index](c); err != nil {
			return err
		}
		c.index++
	}
	return nil
}

// Abort stops the handler chain execution.
func (c *Context) Abort() {
	c.index = len(c.handlers)
}

// RemoteAddr returns the client's remote address as a string.
func (c *Context) RemoteAddr() string {
	return c.Session.RemoteAddr().String()
}

// ClientHostname returns the hostname provided in HELO/EHLO.
func (c *Context) ClientHostname() string {
	name, _ := c.Session.ConnectionState()[KeyHelo].(string)
	return name
}

// IsTLS returns whether the connection is using TLS.
func (c *Context) IsTLS() bool {
	return c.Session.IsTLSStarted()
}

// ServerBuilder provides a fluent API for configuring an SMTP server.
type ServerBuilder struct {
	hostname       string
	addr           string
	logger         *slog.Logger
	tlsConfig      *tls.Config
	readTimeout    time.Duration
	writeTimeout   time.Duration
	dataTimeout    time.Duration
	maxMessageSize int64
	maxRecipients  int
	maxConnections int
	maxCommands    int64
	maxErrors      int
	maxLineLength  int
	sinks          SinkFactory
	hooks          *RegistryBuilder
	onConnect      []HandlerFunc
	onDisconnect   []HandlerFunc
	onHelo         []HandlerFunc
	onMailFrom     []HandlerFunc
	onRcptTo       []HandlerFunc
	onReset        []HandlerFunc
	middleware     []Middleware
}

// New creates a new ServerBuilder.
func New(hostname string) *ServerBuilder {
	return &ServerBuilder{
		hostname:      hostname,
		addr:          ":25",
		readTimeout:   5 * time.Minute,
		writeTimeout:  5 * time.Minute,
		dataTimeout:   10 * time.Minute,
		maxLineLength: 512,
		logger:        slog.Default(),
		hooks:         NewRegistryBuilder(),
	}
}

// Addr sets the address to listen on (e.g., ":25", "0.0.0.0:587").
func (b *ServerBuilder) Addr(addr string) *ServerBuilder {
	b.addr = addr
	return b
}

// Logger sets the structured logger for the server.
func (b *ServerBuilder) Logger(logger *slog.Logger) *ServerBuilder {
	b.logger = logger
	return b
}

// TLS configures TLS for the server.
// This enables the STARTTLS extension.
func (b *ServerBuilder) TLS(config *tls.Config) *ServerBuilder {
	b.tlsConfig = config
	return b
}

// ReadTimeout sets the timeout for reading commands.
func (b *ServerBuilder) ReadTimeout(d time.Duration) *ServerBuilder {
	b.readTimeout = d
	return b
}

// WriteTimeout sets the timeout for writing responses.
func (b *ServerBuilder) WriteTimeout(d time.Duration) *ServerBuilder {
	b.writeTimeout = d
	return b
}

// DataTimeout sets the timeout for reading message content.
func (b *ServerBuilder) DataTimeout(d time.Duration) *ServerBuilder {
	b.dataTimeout = d
	return b
}

// MaxMessageSize sets the maximum message size in bytes. 0 means no limit.
func (b *ServerBuilder) MaxMessageSize(size int64) *ServerBuilder {
	b.maxMessageSize = size
	return b
}

// MaxRecipients sets the maximum recipients per message.
func (b *ServerBuilder) MaxRecipients(n int) *ServerBuilder {
	b.maxRecipients = n
	return b
}

// MaxConnections sets the maximum concurrent connections.
func (b *ServerBuilder) MaxConnections(n int) *ServerBuilder {
	b.maxConnections = n
	return b
}

// MaxCommands sets the maximum commands per connection.
func (b *ServerBuilder) MaxCommands(n int64) *ServerBuilder {
	b.maxCommands = n
	return b
}

// MaxErrors sets the maximum errors before disconnecting.
func (b *ServerBuilder) MaxErrors(n int) *ServerBuilder {
	b.maxErrors = n
	return b
}

// MaxLineLength sets the maximum command line length, CRLF included.
func (b *ServerBuilder) MaxLineLength(n int) *ServerBuilder {
	b.maxLineLength = n
	return b
}

// Sinks sets where message content is written during DATA.
func (b *ServerBuilder) Sinks(factory SinkFactory) *ServerBuilder {
	b.sinks = factory
	return b
}

// MessageHook appends message hooks. They run in the order added.
func (b *ServerBuilder) MessageHook(hooks ...MessageHook) *ServerBuilder {
	b.hooks.AddMessageHooks(hooks...)
	return b
}

// ResultHook appends result hooks. They run in the order added.
func (b *ServerBuilder) ResultHook(hooks ...ResultHook) *ServerBuilder {
	b.hooks.AddResultHooks(hooks...)
	return b
}

// Wire appends hooks to a category by name, as done when composing from configuration.
// Errors are reported by Build.
func (b *ServerBuilder) Wire(category Category, hooks ...Hook) *ServerBuilder {
	_ = b.hooks.Wire(category, hooks...)
	return b
}

// Use adds middleware to all command-phase handlers.
func (b *ServerBuilder) Use(middleware ...Middleware) *ServerBuilder {
	b.middleware = append(b.middleware, middleware...)
	return b
}

// OnConnect adds handlers for new connections.
func (b *ServerBuilder) OnConnect(handlers ...HandlerFunc) *ServerBuilder {
	b.onConnect = append(b.onConnect, handlers...)
	return b
}

// OnDisconnect adds handlers for closed connections.
func (b *ServerBuilder) OnDisconnect(handlers ...HandlerFunc) *ServerBuilder {
	b.onDisconnect = append(b.onDisconnect, handlers...)
	return b
}

// OnHelo adds handlers for HELO and EHLO. The hostname is under "hostname".
func (b *ServerBuilder) OnHelo(handlers ...HandlerFunc) *ServerBuilder {
	b.onHelo = append(b.onHelo, handlers...)
	return b
}

// OnMailFrom adds handlers for MAIL FROM. The Path is under "from",
// the parameters under "params".
func (b *ServerBuilder) OnMailFrom(handlers ...HandlerFunc) *ServerBuilder {
	b.onMailFrom = append(b.onMailFrom, handlers...)
	return b
}

// OnRcptTo adds handlers for RCPT TO. The Path is under "to".
func (b *ServerBuilder) OnRcptTo(handlers ...HandlerFunc) *ServerBuilder {
	b.onRcptTo = append(b.onRcptTo, handlers...)
	return b
}

// OnReset adds handlers for RSET.
func (b *ServerBuilder) OnReset(handlers ...HandlerFunc) *ServerBuilder {
	b.onReset = append(b.onReset, handlers...)
	return b
}

// Build creates a Server from the builder configuration.
// It fails with a *WiringError when the hooks cannot form a registry.
func (b *ServerBuilder) Build() (*Server, error) {
	registry, err := b.hooks.Build()
	if err != nil {
		return nil, err
	}

	config := ServerConfig{
		Hostname:       b.hostname,
		Addr:           b.addr,
		TLSConfig:      b.tlsConfig,
		MaxMessageSize: b.maxMessageSize,
		MaxRecipients:  b.maxRecipients,
		MaxConnections: b.maxConnections,
		MaxCommands:    b.maxCommands,
		MaxErrors:      b.maxErrors,
		ReadTimeout:    b.readTimeout,
		WriteTimeout:   b.writeTimeout,
		DataTimeout:    b.dataTimeout,
		MaxLineLength:  b.maxLineLength,
		Logger:         b.logger,
		Callbacks:      b.buildCallbacks(),
		Hooks:          registry,
		Sinks:          b.sinks,
	}

	return NewServer(config)
}

// Run builds and starts the server.
// This is a convenience method equivalent to Build() followed by ListenAndServe().
func (b *ServerBuilder) Run() error {
	server, err := b.Build()
	if err != nil {
		return err
	}
	return server.ListenAndServe()
}

// buildCallbacks creates the Callbacks struct from the handler chains.
func (b *ServerBuilder) buildCallbacks() *Callbacks {
	cb := &Callbacks{}

	// Wrap handlers with global middleware
	wrapHandlers := func(handlers []HandlerFunc) []HandlerFunc {
		wrapped := make([]HandlerFunc, len(handlers))
		for i, h := range handlers {
			finalHandler := h
			// Apply middleware in reverse order
			for j := len(b.middleware) - 1; j >= 0; j-- {
				finalHandler = b.middleware[j](finalHandler)
			}
			wrapped[i] = finalHandler
		}
		return wrapped
	}

	if len(b.onConnect) > 0 {
		handlers := wrapHandlers(b.onConnect)
		cb.OnConnect = func(ctx context.Context, s *Session) error {
			c := &Context{Session: s, handlers: handlers, index: -1}
			return c.Next()
		}
	}

	if len(b.onDisconnect) > 0 {
		handlers := wrapHandlers(b.onDisconnect)
		cb.OnDisconnect = func(ctx context.Context, s *Session) {
			c := &Context{Session: s, handlers: handlers, index: -1}
			_ = c.Next()
		}
	}

	if len(b.onHelo) > 0 {
		handlers := wrapHandlers(b.onHelo)
		cb.OnHelo = func(ctx context.Context, s *Session, hostname string) error {
			c := &Context{Session: s, handlers: handlers, index: -1}
			c.Set("hostname", hostname)
			return c.Next()
		}
	}

	if len(b.onMailFrom) > 0 {
		handlers := wrapHandlers(b.onMailFrom)
		cb.OnMailFrom = func(ctx context.Context, s *Session, from Path, params map[string]string) error {
			c := &Context{Session: s, handlers: handlers, index: -1}
			c.Set("from", from)
			c.Set("params", params)
			return c.Next()
		}
	}

	if len(b.onRcptTo) > 0 {
		handlers := wrapHandlers(b.onRcptTo)
		cb.OnRcptTo = func(ctx context.Context, s *Session, to Path, params map[string]string) error {
			c := &Context{Session: s, handlers: handlers, index: -1}
			c.Set("to", to)
			c.Set("params", params)
			return c.Next()
		}
	}

	if len(b.onReset) > 0 {
		handlers := wrapHandlers(b.onReset)
		cb.OnReset = func(ctx context.Context, s *Session) {
			c := &Context{Session: s, handlers: handlers, index: -1}
			_ = c.Next()
		}
	}

	return cb
}
