package quill

import (
	"bufio"
	"context"
	"crypto/tls"
	"net"
	"sync"
	"sync/atomic"
	"time"

	quillio "github.com/synqronlabs/quill/io"
)

// TLSInfo contains information about the TLS connection.
type TLSInfo struct {
	Enabled            bool
	Version            uint16
	CipherSuite        uint16
	ServerName         string
	PeerCertificates   [][]byte
	NegotiatedProtocol string
}

// ConnectionTrace contains diagnostic information for a connection.
type ConnectionTrace struct {
	ID           string
	RemoteAddr   net.Addr
	LocalAddr    net.Addr
	ConnectedAt  time.Time
	CommandCount int64
	LastActivity time.Time
	Errors       []error
}

// Connection is the network Transport of one client session.
// Writes are serialized so deferred replies may complete on any goroutine.
type Connection struct {
	conn      net.Conn
	ctx       context.Context
	cancel    context.CancelFunc
	reader    *bufio.Reader
	writer    *bufio.Writer
	tlsConfig *tls.Config

	writeTimeout time.Duration

	mu    sync.Mutex
	tls   TLSInfo
	Trace ConnectionTrace

	quit   atomic.Bool
	closed bool

	// closedChan is closed when the connection is terminated.
	closedChan chan struct{}
}

// NewConnection wraps conn. tlsConfig, when set, enables STARTTLS.
func NewConnection(ctx context.Context, conn net.Conn, id string, tlsConfig *tls.Config, writeTimeout time.Duration) *Connection {
	connCtx, cancel := context.WithCancel(ctx)
	now := time.Now()

	c := &Connection{
		conn:         conn,
		ctx:          connCtx,
		cancel:       cancel,
		reader:       bufio.NewReader(conn),
		writer:       bufio.NewWriter(conn),
		tlsConfig:    tlsConfig,
		writeTimeout: writeTimeout,
		Trace: ConnectionTrace{
			ID:           id,
			RemoteAddr:   conn.RemoteAddr(),
			LocalAddr:    conn.LocalAddr(),
			ConnectedAt:  now,
			LastActivity: now,
		},
		closedChan: make(chan struct{}),
	}

	if tlsConn, ok := conn.(*tls.Conn); ok {
		c.tls = tlsInfo(tlsConn.ConnectionState())
	}
	return c
}

func (c *Connection) ID() string {
	return c.Trace.ID
}

func (c *Connection) Context() context.Context {
	return c.ctx
}

func (c *Connection) RemoteAddr() net.Addr {
	return c.Trace.RemoteAddr
}

func (c *Connection) LocalAddr() net.Addr {
	return c.Trace.LocalAddr
}

// IsStartTLSSupported reports whether STARTTLS may still be negotiated.
func (c *Connection) IsStartTLSSupported() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tlsConfig != nil && !c.tls.Enabled
}

func (c *Connection) IsTLSStarted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tls.Enabled
}

// TLS returns the negotiated TLS parameters.
func (c *Connection) TLS() TLSInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tls
}

// WriteResponse writes and flushes a complete reply.
func (c *Connection) WriteResponse(resp Response, _ *Session) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return net.ErrClosed
	}
	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}
	if _, err := c.writer.WriteString(resp.Format()); err != nil {
		return err
	}
	return c.writer.Flush()
}

// readLine reads one CRLF-terminated line. The read goroutine is the only
// user of the reader, so no lock is taken beyond the deadline update.
func (c *Connection) readLine(max int, timeout time.Duration) ([]byte, error) {
	if timeout > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return nil, err
		}
	}
	return quillio.ReadLine(c.reader, max)
}

// UpgradeToTLS performs the server side of a STARTTLS handshake.
// Anything the client pipelined before the handshake is dropped.
func (c *Connection) UpgradeToTLS() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tlsConn := tls.Server(c.conn, c.tlsConfig)
	if err := tlsConn.HandshakeContext(c.ctx); err != nil {
		return err
	}

	c.conn = tlsConn
	c.reader = bufio.NewReader(tlsConn)
	c.writer = bufio.NewWriter(tlsConn)
	c.tls = tlsInfo(tlsConn.ConnectionState())
	return nil
}

func tlsInfo(state tls.ConnectionState) TLSInfo {
	info := TLSInfo{
		Enabled:            true,
		Version:            state.Version,
		CipherSuite:        state.CipherSuite,
		ServerName:         state.ServerName,
		NegotiatedProtocol: state.NegotiatedProtocol,
	}
	for _, cert := range state.PeerCertificates {
		info.PeerCertificates = append(info.PeerCertificates, cert.Raw)
	}
	return info
}

// UpdateActivity updates the last activity timestamp and increments command count.
func (c *Connection) UpdateActivity() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Trace.LastActivity = time.Now()
	c.Trace.CommandCount++
}

// CommandCount returns the number of commands received.
func (c *Connection) CommandCount() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Trace.CommandCount
}

// RecordError records an error for this connection.
func (c *Connection) RecordError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Trace.Errors = append(c.Trace.Errors, err)
}

// ErrorCount returns the number of errors recorded for this connection.
func (c *Connection) ErrorCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Trace.Errors)
}

func (c *Connection) markQuit() {
	c.quit.Store(true)
}

func (c *Connection) quitting() bool {
	return c.quit.Load()
}

// Close terminates the connection. It is safe to call more than once.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true
	c.cancel()
	close(c.closedChan)

	_ = c.writer.Flush()
	return c.conn.Close()
}

// Done returns a channel that is closed when the connection is terminated.
func (c *Connection) Done() <-chan struct{} {
	return c.closedChan
}
