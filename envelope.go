package quill

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/mail"
	"strings"
	"sync"
	"time"
)

// MailboxAddress represents an email address as per RFC 5321 Section 4.1.2.
type MailboxAddress struct {
	LocalPart   string
	Domain      string
	DisplayName string
}

// String returns the address in the standard "local-part@domain" format.
func (m MailboxAddress) String() string {
	if m.LocalPart == "" && m.Domain == "" {
		return ""
	}
	return m.LocalPart + "@" + m.Domain
}

// Path represents an SMTP forward-path or reverse-path as per RFC 5321 Section 4.1.2.
type Path struct {
	Mailbox MailboxAddress
}

// IsNull returns true if this is a null reverse-path (empty sender).
// Null reverse-paths are used for bounce messages per RFC 5321 Section 4.5.5.
func (p Path) IsNull() bool {
	return p.Mailbox.LocalPart == "" && p.Mailbox.Domain == ""
}

// String returns the path in angle bracket format as used in SMTP commands.
func (p Path) String() string {
	if p.IsNull() {
		return "<>"
	}
	return "<" + p.Mailbox.String() + ">"
}

// ParseAddress parses a single RFC 5322 address into its parts.
func ParseAddress(addr string) (MailboxAddress, error) {
	parsed, err := mail.ParseAddress(addr)
	if err != nil {
		return MailboxAddress{}, err
	}

	local, domain, _ := cutLast(parsed.Address, "@")
	return MailboxAddress{
		LocalPart:   local,
		Domain:      domain,
		DisplayName: parsed.Name,
	}, nil
}

func cutLast(s, sep string) (before, after string, found bool) {
	if i := strings.LastIndex(s, sep); i >= 0 {
		return s[:i], s[i+len(sep):], true
	}
	return s, "", false
}

// Sink receives the unescaped message content during DATA.
type Sink interface {
	io.Writer
	Flush() error
	Close() error
}

// Opener is implemented by sinks whose content can be read back after Close.
type Opener interface {
	Open() (io.ReadCloser, error)
}

// Discarder is implemented by sinks that hold resources worth releasing when
// the message is not accepted.
type Discarder interface {
	Discard() error
}

// Committer is implemented by sinks that must make accepted content
// durable. Commit runs only when the final reply for the message is 2xx; a
// failure turns that reply into a 451.
type Committer interface {
	Commit(s *Session, env *Envelope) error
}

// SinkFactory opens the sink for an envelope when DATA starts.
type SinkFactory func(s *Session, env *Envelope) (Sink, error)

// MemorySinks is the default SinkFactory. Content is kept in memory.
func MemorySinks(*Session, *Envelope) (Sink, error) {
	return &MemorySink{}, nil
}

// MemorySink buffers message content in memory.
type MemorySink struct {
	buf    bytes.Buffer
	closed bool
}

func (m *MemorySink) Write(p []byte) (int, error) {
	if m.closed {
		return 0, ErrSinkClosed
	}
	return m.buf.Write(p)
}

func (m *MemorySink) Flush() error { return nil }

func (m *MemorySink) Close() error {
	m.closed = true
	return nil
}

// Open returns a reader over the buffered content.
func (m *MemorySink) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(m.buf.Bytes())), nil
}

// Bytes returns the buffered content.
func (m *MemorySink) Bytes() []byte {
	return m.buf.Bytes()
}

// Envelope is the in-flight message: its metadata plus the sink holding the
// content. It lives in the session state for one mail transaction.
type Envelope struct {
	ID         string
	From       Path
	FromParams map[string]string
	To         []Path
	ReceivedAt time.Time

	sink      Sink
	size      int64
	closeOnce sync.Once
	closeErr  error
}

// NewEnvelope starts a transaction for the given reverse-path.
func NewEnvelope(id string, from Path, params map[string]string) *Envelope {
	return &Envelope{
		ID:         id,
		From:       from,
		FromParams: params,
		ReceivedAt: time.Now(),
	}
}

// AddRecipient appends a forward-path.
func (e *Envelope) AddRecipient(to Path) {
	e.To = append(e.To, to)
}

// Size returns the number of content bytes written to the sink.
func (e *Envelope) Size() int64 {
	return e.size
}

// Sink returns the content sink, or nil before DATA.
func (e *Envelope) Sink() Sink {
	return e.sink
}

// Open returns the received content when the sink supports reading it back.
func (e *Envelope) Open() (io.ReadCloser, error) {
	o, ok := e.sink.(Opener)
	if !ok {
		return nil, fmt.Errorf("smtp: sink %T cannot be read back", e.sink)
	}
	return o.Open()
}

func (e *Envelope) attach(sink Sink) {
	e.sink = sink
}

func (e *Envelope) write(p []byte) error {
	n, err := e.sink.Write(p)
	e.size += int64(n)
	return err
}

// closeSink closes the sink at most once and returns the first close error.
func (e *Envelope) closeSink() error {
	if e.sink == nil {
		return nil
	}
	e.closeOnce.Do(func() {
		e.closeErr = e.sink.Close()
	})
	return e.closeErr
}

// commit runs the sink's Committer, if any.
func (e *Envelope) commit(s *Session) error {
	if c, ok := e.sink.(Committer); ok {
		return c.Commit(s, e)
	}
	return nil
}

// discard closes and, when supported, discards the sink content.
func (e *Envelope) discard() error {
	err := e.closeSink()
	if d, ok := e.sink.(Discarder); ok {
		err = errors.Join(err, d.Discard())
	}
	return err
}
