package quill

import (
	"context"
	"crypto/tls"
	"log/slog"
	"time"
)

// ServerConfig contains configuration options for the SMTP server.
// Prefer using the builder pattern via quill.New().
type ServerConfig struct {
	Hostname       string
	Addr           string
	TLSConfig      *tls.Config
	MaxMessageSize int64
	MaxRecipients  int
	MaxConnections int
	MaxCommands    int64
	MaxErrors      int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	DataTimeout    time.Duration
	MaxLineLength  int
	Logger         *slog.Logger
	Callbacks      *Callbacks

	// Hooks decides the fate of every received message. Required.
	Hooks *HookRegistry
	// Sinks opens the content sink for each transaction. Defaults to MemorySinks.
	Sinks SinkFactory
}

// DefaultServerConfig returns a ServerConfig with sensible defaults.
// Hooks must still be set.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:          ":25",
		ReadTimeout:   5 * time.Minute,
		WriteTimeout:  5 * time.Minute,
		DataTimeout:   10 * time.Minute,
		MaxLineLength: 512,
		Logger:        slog.Default(),
		Sinks:         MemorySinks,
	}
}

// Callbacks defines event handlers for command-phase events.
// All callbacks are optional. Return an error to reject the action.
type Callbacks struct {
	// OnConnect runs before the greeting. An error closes the connection with 554.
	OnConnect    func(ctx context.Context, s *Session) error
	OnDisconnect func(ctx context.Context, s *Session)
	OnHelo       func(ctx context.Context, s *Session, hostname string) error

	// OnMailFrom is called when MAIL FROM command is received.
	// Return an error to reject the sender with a 550 response.
	OnMailFrom func(ctx context.Context, s *Session, from Path, params map[string]string) error

	// OnRcptTo is called for each RCPT TO command.
	// Return an error to reject the recipient with a 550 response.
	OnRcptTo func(ctx context.Context, s *Session, to Path, params map[string]string) error

	// OnReset is called when RSET command is received.
	OnReset func(ctx context.Context, s *Session)
}
