package quill

import (
	"errors"
	"fmt"
	"strings"
)

// Command is an SMTP verb.
type Command string

const (
	CmdHelo     Command = "HELO"
	CmdEhlo     Command = "EHLO"
	CmdMail     Command = "MAIL"
	CmdRcpt     Command = "RCPT"
	CmdData     Command = "DATA"
	CmdRset     Command = "RSET"
	CmdVrfy     Command = "VRFY"
	CmdHelp     Command = "HELP"
	CmdNoop     Command = "NOOP"
	CmdQuit     Command = "QUIT"
	CmdStartTLS Command = "STARTTLS"
)

// parseCommand splits a command line, without its terminator, into verb and arguments.
func parseCommand(line string) (cmd Command, args string, err error) {
	before, after, found := strings.Cut(line, " ")

	cmd, err = canonicalizeVerb(before)
	if !found {
		// "QUIT", "NOOP", "RSET"
		return cmd, "", err
	}
	// "MAIL FROM:...", "RCPT TO:..."
	return cmd, strings.TrimSpace(after), err
}

func canonicalizeVerb(verb string) (Command, error) {
	switch len(verb) {
	case 4:
		for _, c := range []Command{CmdHelo, CmdEhlo, CmdMail, CmdRcpt, CmdData, CmdRset, CmdVrfy, CmdHelp, CmdNoop, CmdQuit} {
			if strings.EqualFold(verb, string(c)) {
				return c, nil
			}
		}
	case 8:
		if strings.EqualFold(verb, string(CmdStartTLS)) {
			return CmdStartTLS, nil
		}
	}
	return Command(strings.ToUpper(verb)), fmt.Errorf("%w: %s", ErrInvalidCommand, verb)
}

// parsePrefixedPath parses "FROM:<addr> params" or "TO:<addr> params".
func parsePrefixedPath(args, prefix string) (Path, map[string]string, error) {
	args = strings.TrimSpace(args)
	if len(args) < len(prefix) || !strings.EqualFold(args[:len(prefix)], prefix) {
		return Path{}, nil, fmt.Errorf("expected %s<address>", prefix)
	}
	return parsePathWithParams(strings.TrimSpace(args[len(prefix):]))
}

// parsePathWithParams parses an address path with optional parameters.
// Per RFC 3461 Section 4.5, duplicate parameters are rejected.
func parsePathWithParams(s string) (Path, map[string]string, error) {
	start := strings.IndexByte(s, '<')
	end := strings.IndexByte(s, '>')

	if start == -1 || end == -1 || end < start {
		return Path{}, nil, errors.New("missing angle brackets")
	}

	address := s[start+1 : end]
	paramStr := strings.TrimSpace(s[end+1:])

	var path Path
	if address != "" {
		addr, err := ParseAddress(address)
		if err != nil {
			return Path{}, nil, fmt.Errorf("invalid address: %w", err)
		}
		path = Path{Mailbox: addr}
	}

	// Lazy allocate the map only when needed
	var params map[string]string
	if paramStr != "" {
		params = make(map[string]string)
		for param := range strings.FieldsSeq(paramStr) {
			key, value, _ := strings.Cut(param, "=")
			key = strings.ToUpper(key)
			if _, exists := params[key]; exists {
				return Path{}, nil, fmt.Errorf("duplicate parameter: %s", key)
			}
			params[key] = value
		}
	}

	return path, params, nil
}
