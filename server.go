package quill

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	quillio "github.com/synqronlabs/quill/io"
	"github.com/synqronlabs/quill/utils"
)

// Server is an SMTP server that handles concurrent connections.
type Server struct {
	config   ServerConfig
	listener net.Listener

	// connections tracks active connections
	connMu      sync.Mutex
	connections map[*Connection]struct{}
	connCount   atomic.Int64

	// shutdown coordination
	ctx        context.Context
	cancel     context.CancelFunc
	shutdownWg sync.WaitGroup
	closed     atomic.Bool
}

// NewServer creates a new SMTP server with the given configuration.
// The hook registry is required: a server without message hooks could
// never decide on a message.
func NewServer(config ServerConfig) (*Server, error) {
	if config.Hostname == "" {
		return nil, errors.New("smtp: hostname is required")
	}
	if config.Hooks == nil || len(config.Hooks.message) == 0 {
		return nil, &WiringError{Category: CategoryMessage, Err: ErrNoMessageHooks}
	}

	// Apply defaults
	if config.Addr == "" {
		config.Addr = ":25"
	}
	if config.ReadTimeout == 0 {
		config.ReadTimeout = 5 * time.Minute
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = 5 * time.Minute
	}
	if config.DataTimeout == 0 {
		config.DataTimeout = 10 * time.Minute
	}
	if config.MaxLineLength == 0 {
		config.MaxLineLength = 512
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Sinks == nil {
		config.Sinks = MemorySinks
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		config:      config,
		connections: make(map[*Connection]struct{}),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// ListenAndServe starts the SMTP server on the configured address.
func (s *Server) ListenAndServe() error {
	listener, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("smtp: failed to listen: %w", err)
	}
	return s.Serve(listener)
}

// ListenAndServeTLS starts the SMTP server with implicit TLS.
func (s *Server) ListenAndServeTLS() error {
	if s.config.TLSConfig == nil {
		return errors.New("smtp: TLS config is required for TLS server")
	}
	listener, err := tls.Listen("tcp", s.config.Addr, s.config.TLSConfig)
	if err != nil {
		return fmt.Errorf("smtp: failed to listen TLS: %w", err)
	}
	return s.Serve(listener)
}

// Serve accepts connections on the listener and handles them.
func (s *Server) Serve(listener net.Listener) error {
	s.connMu.Lock()
	s.listener = listener
	s.connMu.Unlock()

	s.config.Logger.Info("SMTP server started",
		slog.String("addr", listener.Addr().String()),
		slog.String("hostname", s.config.Hostname),
	)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if s.closed.Load() {
				return ErrServerClosed
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			s.config.Logger.Error("accept error", slog.Any("error", err))
			continue
		}

		if s.config.MaxConnections > 0 && s.connCount.Load() >= int64(s.config.MaxConnections) {
			s.config.Logger.Warn("connection limit reached",
				slog.String("remote", conn.RemoteAddr().String()),
			)
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			_, _ = io.WriteString(conn, ResponseServiceUnavailable(s.config.Hostname, "Too many connections, try again later").Format())
			_ = conn.Close()
			continue
		}

		s.shutdownWg.Add(1)
		go s.handleConnection(conn)
	}
}

// Addr returns the listener address once serving.
func (s *Server) Addr() net.Addr {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown stops accepting connections, tells connected clients the service
// is going away and waits for their goroutines to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stop()

	done := make(chan struct{})
	go func() {
		s.shutdownWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.closeAll()
		return ctx.Err()
	}
}

// Close immediately closes the server and all connections.
func (s *Server) Close() error {
	s.stop()
	s.closeAll()
	return nil
}

func (s *Server) stop() {
	s.closed.Store(true)
	s.cancel()

	s.connMu.Lock()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.connMu.Unlock()

	s.sendShutdownResponse()
}

func (s *Server) closeAll() {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	for conn := range s.connections {
		_ = conn.Close()
	}
}

// sendShutdownResponse sends a 421 response to all connected clients and closes them.
// Per RFC 5321, servers should send 421 before closing connections.
func (s *Server) sendShutdownResponse() {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	for conn := range s.connections {
		resp := ResponseServiceUnavailable(s.config.Hostname, fmt.Sprintf("Service shutting down [%s]", conn.ID()))
		_ = conn.WriteResponse(resp, nil)
		// Closing unblocks the pending read
		_ = conn.Close()
	}
}

// handleConnection processes a single client connection.
func (s *Server) handleConnection(netConn net.Conn) {
	defer s.shutdownWg.Done()

	conn := NewConnection(s.ctx, netConn, utils.GenerateID(), s.config.TLSConfig, s.config.WriteTimeout)

	logger := s.config.Logger.With(
		slog.String("conn_id", conn.ID()),
		slog.String("remote", conn.RemoteAddr().String()),
	)
	session := NewSession(conn.Context(), conn, logger, &commandHandler{server: s, conn: conn})

	s.connMu.Lock()
	s.connections[conn] = struct{}{}
	s.connMu.Unlock()
	s.connCount.Add(1)

	defer func() {
		s.connMu.Lock()
		delete(s.connections, conn)
		s.connMu.Unlock()
		s.connCount.Add(-1)

		session.Close()
		_ = conn.Close()

		if s.config.Callbacks != nil && s.config.Callbacks.OnDisconnect != nil {
			s.config.Callbacks.OnDisconnect(conn.Context(), session)
		}
	}()

	logger.Info("client connected")

	if s.config.Callbacks != nil && s.config.Callbacks.OnConnect != nil {
		if err := s.config.Callbacks.OnConnect(conn.Context(), session); err != nil {
			logger.Warn("connection rejected", slog.Any("error", err))
			_ = session.WriteResponse(ResponseTransactionFailed("Connection rejected", ESCDeliveryNotAuth))
			return
		}
	}

	_ = session.WriteResponse(Response{
		Code:    CodeServiceReady,
		Message: fmt.Sprintf("%s ESMTP ready [%s]", s.config.Hostname, conn.ID()),
	})

	s.serve(conn, session, logger)

	logger.Info("client disconnected",
		slog.Int64("commands", conn.CommandCount()),
		slog.Int("errors", conn.ErrorCount()),
	)
}

// serve reads lines and hands them to the session until the client quits
// or the connection fails.
func (s *Server) serve(conn *Connection, session *Session, logger *slog.Logger) {
	for {
		select {
		case <-conn.Context().Done():
			return
		default:
		}

		inData := session.LineHandlerDepth() > 1
		timeout := s.config.ReadTimeout
		if inData {
			timeout = s.config.DataTimeout
		}

		line, err := conn.readLine(session.MaxLineLength(s.config.MaxLineLength), timeout)
		if err != nil {
			if err == io.EOF || errors.Is(err, net.ErrClosed) {
				return
			}
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				_ = session.WriteResponse(ResponseServiceUnavailable(s.config.Hostname, "Timeout waiting for input"))
				return
			}
			if errors.Is(err, quillio.ErrLineTooLong) || errors.Is(err, quillio.ErrBadLineEnding) {
				if session.DeliverLineError(err) {
					continue
				}
				conn.RecordError(err)
				msg := "Line too long"
				if errors.Is(err, quillio.ErrBadLineEnding) {
					msg = "Line must be terminated with CRLF"
				}
				_ = session.WriteResponse(Response{Code: CodeSyntaxError, EnhancedCode: ESCSyntaxError, Message: msg})
				if s.tooManyErrors(conn, session) {
					return
				}
				continue
			}
			logger.Error("read error", slog.Any("error", err))
			return
		}

		if !inData {
			conn.UpdateActivity()
			if s.config.MaxCommands > 0 && conn.CommandCount() > s.config.MaxCommands {
				_ = session.WriteResponse(ResponseServiceUnavailable(s.config.Hostname, "Too many commands"))
				return
			}
			if s.tooManyErrors(conn, session) {
				return
			}
		}

		session.DeliverLine(line)

		if conn.quitting() {
			return
		}
	}
}

func (s *Server) tooManyErrors(conn *Connection, session *Session) bool {
	if s.config.MaxErrors > 0 && conn.ErrorCount() >= s.config.MaxErrors {
		_ = session.WriteResponse(ResponseServiceUnavailable(s.config.Hostname, "Too many errors"))
		return true
	}
	return false
}
