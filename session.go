package quill

import (
	"context"
	"log/slog"
	"maps"
	"net"
	"slices"
)

// Transport is the network side of a session. The session never opens or
// closes sockets itself; it only asks the transport about the connection and
// hands it responses to write.
type Transport interface {
	ID() string
	RemoteAddr() net.Addr
	IsStartTLSSupported() bool
	IsTLSStarted() bool
	WriteResponse(resp Response, s *Session) error
}

// LineHandler consumes protocol lines. Only the handler on top of a
// session's stack sees incoming lines.
type LineHandler interface {
	OnLine(s *Session, line []byte)
}

// LineHandlerFunc adapts a function to a LineHandler.
type LineHandlerFunc func(s *Session, line []byte)

// OnLine calls f(s, line).
func (f LineHandlerFunc) OnLine(s *Session, line []byte) {
	f(s, line)
}

// LineLimiter is implemented by handlers that accept lines of a different
// length than the command limit, such as message content lines.
type LineLimiter interface {
	MaxLineLength() int
}

// LineErrorHandler is implemented by handlers that want to learn about lines
// the transport rejected (too long, bad terminator) instead of the default reply.
type LineErrorHandler interface {
	OnLineError(s *Session, err error) bool
}

// State is the per-transaction part of a session. It is cleared after every
// message cycle and by RSET.
type State struct {
	Envelope *Envelope
	values   map[string]any
}

// Get returns the value stored under key.
func (st *State) Get(key string) (any, bool) {
	v, ok := st.values[key]
	return v, ok
}

// Set stores a value under key.
func (st *State) Set(key string, value any) {
	if st.values == nil {
		st.values = make(map[string]any)
	}
	st.values[key] = value
}

// Delete removes key.
func (st *State) Delete(key string) {
	delete(st.values, key)
}

// Len returns the number of stored values, not counting the envelope.
func (st *State) Len() int {
	return len(st.values)
}

// Keys returns the stored keys in sorted order.
func (st *State) Keys() []string {
	return slices.Sorted(maps.Keys(st.values))
}

// IsEmpty reports whether the state holds neither values nor an envelope.
func (st *State) IsEmpty() bool {
	return st.Envelope == nil && len(st.values) == 0
}

func (st *State) reset() {
	st.Envelope = nil
	clear(st.values)
}

// Connection state keys used by the command layer.
const (
	KeyHelo     = "helo"
	KeyExtended = "ehlo"
)

// Session is one client connection's protocol state: the connection-scoped
// key/value store, the per-transaction State and the line-handler stack.
// A session belongs to the goroutine serving its connection.
type Session struct {
	transport Transport
	ctx       context.Context
	logger    *slog.Logger
	id        string
	remote    net.Addr
	user      string
	connState map[string]any
	state     *State
	handlers  []LineHandler
}

// NewSession creates a session over transport. base sits at the bottom of
// the line-handler stack for the session's whole life.
func NewSession(ctx context.Context, transport Transport, logger *slog.Logger, base LineHandler) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		transport: transport,
		ctx:       ctx,
		logger:    logger,
		id:        transport.ID(),
		remote:    transport.RemoteAddr(),
		connState: make(map[string]any),
		handlers:  []LineHandler{base},
	}
}

// ID returns the connection identifier.
func (s *Session) ID() string {
	return s.id
}

// RemoteAddr returns the client address.
func (s *Session) RemoteAddr() net.Addr {
	return s.remote
}

// Context returns the connection context. It is cancelled when the
// connection closes.
func (s *Session) Context() context.Context {
	return s.ctx
}

// Logger returns the connection-scoped logger.
func (s *Session) Logger() *slog.Logger {
	return s.logger
}

// User returns the authenticated user, or "" if none.
func (s *Session) User() string {
	return s.user
}

// SetUser records the authenticated user.
func (s *Session) SetUser(user string) {
	s.user = user
}

// IsStartTLSSupported reports whether STARTTLS can be offered.
func (s *Session) IsStartTLSSupported() bool {
	return s.transport.IsStartTLSSupported()
}

// IsTLSStarted reports whether the connection is encrypted.
func (s *Session) IsTLSStarted() bool {
	return s.transport.IsTLSStarted()
}

// ConnectionState returns the connection-scoped store. Values live until
// the connection closes.
func (s *Session) ConnectionState() map[string]any {
	return s.connState
}

// State returns the transaction state, creating it on first use.
func (s *Session) State() *State {
	if s.state == nil {
		s.state = &State{}
	}
	return s.state
}

// ResetState clears the transaction state.
func (s *Session) ResetState() {
	if s.state != nil {
		s.state.reset()
	}
}

// WriteReply hands reply to the transport. A resolved reply is written now;
// an unresolved one is written by its completion listener and this call
// returns immediately. Each Reply is written at most once.
func (s *Session) WriteReply(reply *Reply) error {
	if reply == nil {
		return nil
	}
	if !reply.claim() {
		return ErrReplyWritten
	}
	if resp, ok := reply.Resolved(); ok {
		return s.transport.WriteResponse(resp, s)
	}
	return reply.OnResolve(func(resp Response) {
		if err := s.transport.WriteResponse(resp, s); err != nil {
			s.logger.Debug("deferred reply not written", slog.Any("error", err))
		}
	})
}

// WriteResponse writes an already known response.
func (s *Session) WriteResponse(resp Response) error {
	return s.WriteReply(Immediate(resp))
}

// PushLineHandler makes h the active line handler.
func (s *Session) PushLineHandler(h LineHandler) {
	s.handlers = append(s.handlers, h)
}

// PopLineHandler removes the active handler and reactivates the one below.
// Popping the base handler is a programming error and panics.
func (s *Session) PopLineHandler() {
	if len(s.handlers) <= 1 {
		panic("smtp: pop of the base line handler")
	}
	s.handlers[len(s.handlers)-1] = nil
	s.handlers = s.handlers[:len(s.handlers)-1]
}

// ActiveLineHandler returns the handler that receives the next line.
func (s *Session) ActiveLineHandler() LineHandler {
	return s.handlers[len(s.handlers)-1]
}

// LineHandlerDepth returns the stack size, base handler included.
func (s *Session) LineHandlerDepth() int {
	return len(s.handlers)
}

// DeliverLine routes a raw line, terminator included, to the active handler.
func (s *Session) DeliverLine(line []byte) {
	s.ActiveLineHandler().OnLine(s, line)
}

// DeliverLineError offers a transport line error to the active handler.
// It returns false when the handler leaves the error to the caller.
func (s *Session) DeliverLineError(err error) bool {
	if h, ok := s.ActiveLineHandler().(LineErrorHandler); ok {
		return h.OnLineError(s, err)
	}
	return false
}

// MaxLineLength returns the active handler's line limit, or def.
func (s *Session) MaxLineLength(def int) int {
	if l, ok := s.ActiveLineHandler().(LineLimiter); ok {
		return l.MaxLineLength()
	}
	return def
}

// Close releases what an interrupted transaction still holds.
func (s *Session) Close() {
	if s.state != nil && s.state.Envelope != nil {
		if err := s.state.Envelope.discard(); err != nil {
			s.logger.Debug("discard on close", slog.Any("error", err))
		}
	}
	s.ResetState()
}
