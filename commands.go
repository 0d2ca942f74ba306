package quill

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"

	quillio "github.com/synqronlabs/quill/io"
	"github.com/synqronlabs/quill/utils"
)

// Extension represents an SMTP extension advertised via EHLO response.
type Extension string

const (
	Ext8BitMIME            Extension = "8BITMIME"
	ExtPipelining          Extension = "PIPELINING"
	ExtSTARTTLS            Extension = "STARTTLS"
	ExtSize                Extension = "SIZE"
	ExtEnhancedStatusCodes Extension = "ENHANCEDSTATUSCODES"
)

// DefaultHelpURL is the default help URL returned by the HELP command.
const DefaultHelpURL = "https://github.com/synqronlabs/quill"

// commandHandler is the base line handler of every session. It parses
// commands and, on DATA, pushes the content handler.
type commandHandler struct {
	server *Server
	conn   *Connection
}

func (h *commandHandler) OnLine(s *Session, line []byte) {
	cmd, args, err := parseCommand(string(quillio.TrimCRLF(line)))
	if err != nil {
		h.conn.RecordError(err)
		h.write(s, ResponseCommandNotRecognized(string(cmd)))
		return
	}

	s.Logger().Debug("command received", slog.String("cmd", string(cmd)), slog.String("args", args))

	if resp := h.handle(s, cmd, args); resp != nil {
		h.write(s, *resp)
	}
}

func (h *commandHandler) write(s *Session, resp Response) {
	if err := s.WriteResponse(resp); err != nil {
		s.Logger().Debug("write failed", slog.Any("error", err))
	}
}

func (h *commandHandler) handle(s *Session, cmd Command, args string) *Response {
	switch cmd {
	case CmdHelo:
		return h.handleHelo(s, args, false)
	case CmdEhlo:
		return h.handleHelo(s, args, true)
	case CmdMail:
		return h.handleMail(s, args)
	case CmdRcpt:
		return h.handleRcpt(s, args)
	case CmdData:
		return h.handleData(s)
	case CmdRset:
		return h.handleRset(s)
	case CmdVrfy:
		return h.handleVrfy(args)
	case CmdHelp:
		return h.handleHelp(args)
	case CmdNoop:
		resp := ResponseOK("OK", ESCSuccess)
		return &resp
	case CmdQuit:
		return h.handleQuit(s)
	case CmdStartTLS:
		return h.handleStartTLS(s)
	}
	resp := ResponseCommandNotRecognized(string(cmd))
	return &resp
}

func (h *commandHandler) callbacks() *Callbacks {
	if h.server.config.Callbacks == nil {
		return &Callbacks{}
	}
	return h.server.config.Callbacks
}

func greeted(s *Session) bool {
	_, ok := s.ConnectionState()[KeyHelo]
	return ok
}

func (h *commandHandler) handleHelo(s *Session, hostname string, extended bool) *Response {
	if hostname == "" {
		resp := ResponseSyntaxError("Hostname required")
		return &resp
	}

	if cb := h.callbacks().OnHelo; cb != nil {
		if err := cb(s.Context(), s, hostname); err != nil {
			resp := ResponseMailboxNotFound(err.Error())
			return &resp
		}
	}

	s.ConnectionState()[KeyHelo] = hostname
	s.ConnectionState()[KeyExtended] = extended
	h.abortTransaction(s)

	ip, err := utils.GetIPFromAddr(s.RemoteAddr())
	if err != nil {
		ip = net.IPv4zero
	}
	greeting := fmt.Sprintf("%s Hello %s [%s]", h.server.config.Hostname, ip.String(), s.ID())
	if !extended {
		return &Response{Code: CodeOK, Message: greeting}
	}
	return &Response{Code: CodeOK, Message: greeting, Lines: h.extensions(s)}
}

func (h *commandHandler) extensions(s *Session) []string {
	lines := []string{string(ExtPipelining), string(Ext8BitMIME), string(ExtEnhancedStatusCodes)}
	if h.server.config.MaxMessageSize > 0 {
		lines = append(lines, string(ExtSize)+" "+strconv.FormatInt(h.server.config.MaxMessageSize, 10))
	}
	if s.IsStartTLSSupported() {
		lines = append(lines, string(ExtSTARTTLS))
	}
	return lines
}

func (h *commandHandler) handleMail(s *Session, args string) *Response {
	if !greeted(s) {
		resp := ResponseBadSequence("Send EHLO/HELO first")
		return &resp
	}
	if s.State().Envelope != nil {
		resp := ResponseBadSequence("MAIL command already given")
		return &resp
	}

	from, params, err := parsePrefixedPath(args, "FROM:")
	if err != nil {
		resp := ResponseSyntaxError(err.Error())
		return &resp
	}

	if utils.ContainsNonASCII(from.Mailbox.LocalPart) || utils.ContainsNonASCII(from.Mailbox.Domain) {
		if _, ok := params["SMTPUTF8"]; !ok {
			return &Response{
				Code:         CodeMailboxNameInvalid,
				EnhancedCode: ESCNonASCIINoSMTPUTF8,
				Message:      "Address contains non-ASCII characters but SMTPUTF8 not requested",
			}
		}
	}

	if sizeStr, ok := params["SIZE"]; ok {
		size, err := strconv.ParseInt(sizeStr, 10, 64)
		if err != nil {
			resp := ResponseSyntaxError("Invalid SIZE parameter")
			return &resp
		}
		if max := h.server.config.MaxMessageSize; max > 0 && size > max {
			resp := ResponseExceededStorage("Message too large")
			return &resp
		}
	}

	if cb := h.callbacks().OnMailFrom; cb != nil {
		if err := cb(s.Context(), s, from, params); err != nil {
			resp := ResponseMailboxNotFound(err.Error())
			return &resp
		}
	}

	s.State().Envelope = NewEnvelope(utils.GenerateID(), from, params)

	resp := ResponseOK("OK", ESCAddressValid)
	return &resp
}

func (h *commandHandler) handleRcpt(s *Session, args string) *Response {
	env := s.State().Envelope
	if env == nil {
		resp := ResponseBadSequence("Send MAIL first")
		return &resp
	}

	if max := h.server.config.MaxRecipients; max > 0 && len(env.To) >= max {
		return &Response{
			Code:         CodeInsufficientStorage,
			EnhancedCode: ESCTooManyRecipients.ForClass(4),
			Message:      "Too many recipients",
		}
	}

	to, params, err := parsePrefixedPath(args, "TO:")
	if err != nil {
		resp := ResponseSyntaxError(err.Error())
		return &resp
	}
	if to.IsNull() {
		return &Response{Code: CodeSyntaxError, EnhancedCode: ESCBadDestSyntax, Message: "Null recipient not allowed"}
	}

	if utils.ContainsNonASCII(to.Mailbox.LocalPart) || utils.ContainsNonASCII(to.Mailbox.Domain) {
		if _, ok := env.FromParams["SMTPUTF8"]; !ok {
			return &Response{
				Code:         CodeMailboxNameInvalid,
				EnhancedCode: ESCNonASCIINoSMTPUTF8,
				Message:      "Address contains non-ASCII characters but SMTPUTF8 not requested",
			}
		}
	}

	if cb := h.callbacks().OnRcptTo; cb != nil {
		if err := cb(s.Context(), s, to, params); err != nil {
			resp := ResponseMailboxNotFound(err.Error())
			return &resp
		}
	}

	env.AddRecipient(to)

	resp := ResponseOK("OK", ESCRecipientValid)
	return &resp
}

func (h *commandHandler) handleData(s *Session) *Response {
	env := s.State().Envelope
	if env == nil {
		resp := ResponseBadSequence("Send MAIL first")
		return &resp
	}
	if len(env.To) == 0 {
		resp := ResponseBadSequence("No recipients")
		return &resp
	}

	sink, err := h.server.config.Sinks(s, env)
	if err == nil && sink == nil {
		err = errors.New("sink factory returned no sink")
	}
	if err != nil {
		s.Logger().Error("cannot open message sink", slog.String("mail_id", env.ID), slog.Any("error", err))
		resp := ResponseLocalError("Unable to accept message content")
		return &resp
	}
	env.attach(sink)

	s.PushLineHandler(newDataLineHandler(h.server.config.Hooks, h.server.config.MaxMessageSize))
	return &Response{
		Code:    CodeStartMailInput,
		Message: "Start mail input; end with <CRLF>.<CRLF>",
	}
}

// abortTransaction drops the current transaction, releasing its sink.
func (h *commandHandler) abortTransaction(s *Session) {
	if env := s.State().Envelope; env != nil && env.Sink() != nil {
		if err := env.discard(); err != nil {
			s.Logger().Debug("discard failed", slog.Any("error", err))
		}
	}
	s.ResetState()
}

func (h *commandHandler) handleRset(s *Session) *Response {
	if cb := h.callbacks().OnReset; cb != nil {
		cb(s.Context(), s)
	}
	h.abortTransaction(s)

	resp := ResponseOK("OK", ESCSuccess)
	return &resp
}

// handleVrfy never discloses mailboxes. 252 tells the client the server
// will still accept mail for the address.
func (h *commandHandler) handleVrfy(args string) *Response {
	if args == "" {
		resp := ResponseSyntaxError("Syntax: VRFY <address>")
		return &resp
	}
	resp := ResponseCannotVRFY("")
	return &resp
}

func (h *commandHandler) handleHelp(topic string) *Response {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return &Response{
			Code:    CodeHelpMessage,
			Message: "Quill ESMTP Server",
			Lines: []string{
				"Supported commands: HELO EHLO MAIL RCPT DATA RSET NOOP QUIT HELP VRFY STARTTLS",
				"For more information, visit: " + DefaultHelpURL,
			},
		}
	}

	var helpText string
	switch Command(strings.ToUpper(topic)) {
	case CmdHelo:
		helpText = "HELO <hostname> - Identify yourself to the server"
	case CmdEhlo:
		helpText = "EHLO <hostname> - Extended HELLO, identify and request extensions"
	case CmdMail:
		helpText = "MAIL FROM:<address> [params] - Start a mail transaction"
	case CmdRcpt:
		helpText = "RCPT TO:<address> [params] - Specify a recipient"
	case CmdData:
		helpText = "DATA - Start message input, end with <CRLF>.<CRLF>"
	case CmdRset:
		helpText = "RSET - Reset the current transaction"
	case CmdNoop:
		helpText = "NOOP - No operation (keepalive)"
	case CmdQuit:
		helpText = "QUIT - Close the connection"
	case CmdVrfy:
		helpText = "VRFY <address> - Verify an address (disabled)"
	case CmdHelp:
		helpText = "HELP [topic] - Show help information"
	case CmdStartTLS:
		helpText = "STARTTLS - Upgrade connection to TLS"
	default:
		return &Response{
			Code:    CodeHelpMessage,
			Message: fmt.Sprintf("No help available for '%s'. Visit: %s", topic, DefaultHelpURL),
		}
	}
	return &Response{Code: CodeHelpMessage, Message: helpText}
}

func (h *commandHandler) handleQuit(s *Session) *Response {
	h.conn.markQuit()
	resp := ResponseServiceClosing(h.server.config.Hostname, fmt.Sprintf("Service closing transmission channel [%s]", s.ID()))
	return &resp
}

func (h *commandHandler) handleStartTLS(s *Session) *Response {
	if !greeted(s) {
		resp := ResponseBadSequence("Send EHLO first")
		return &resp
	}
	if s.IsTLSStarted() {
		resp := ResponseBadSequence("TLS already active")
		return &resp
	}
	if !s.IsStartTLSSupported() {
		resp := ResponseCommandNotImplemented(string(CmdStartTLS))
		return &resp
	}

	h.write(s, Response{Code: CodeServiceReady, Message: "Ready to start TLS"})

	if err := h.conn.UpgradeToTLS(); err != nil {
		// The stream is unusable after a failed handshake.
		s.Logger().Warn("TLS handshake failed", slog.Any("error", err))
		h.conn.markQuit()
		return nil
	}

	// RFC 3207: discard everything learned before the handshake.
	h.abortTransaction(s)
	clear(s.ConnectionState())
	return nil
}
