package quill

import (
	"fmt"
	"strings"
)

// SMTPCode represents SMTP reply codes (RFC 5321).
// 2yz: Success, 3yz: Continue, 4yz: Transient failure, 5yz: Permanent failure.
type SMTPCode int

const (
	// 2xx - Success
	CodeHelpMessage    SMTPCode = 214
	CodeServiceReady   SMTPCode = 220
	CodeServiceClosing SMTPCode = 221
	CodeOK             SMTPCode = 250
	CodeCannotVRFY     SMTPCode = 252

	// 3xx - Intermediate
	CodeStartMailInput SMTPCode = 354

	// 4xx - Transient Failure
	CodeServiceUnavailable  SMTPCode = 421
	CodeMailboxUnavailable  SMTPCode = 450
	CodeLocalError          SMTPCode = 451
	CodeInsufficientStorage SMTPCode = 452

	// 5xx - Permanent Failure
	CodeCommandUnrecognized   SMTPCode = 500
	CodeSyntaxError           SMTPCode = 501
	CodeCommandNotImplemented SMTPCode = 502
	CodeBadSequence           SMTPCode = 503
	CodeParameterNotImpl      SMTPCode = 504
	CodeMailboxNotFound       SMTPCode = 550
	CodeExceededStorage       SMTPCode = 552
	CodeMailboxNameInvalid    SMTPCode = 553
	CodeTransactionFailed     SMTPCode = 554
)

// Class returns the first digit of the code.
func (c SMTPCode) Class() int {
	return int(c) / 100
}

// EnhancedCode represents an enhanced status code (RFC 3463, RFC 2034).
// Format: "class.subject.detail" (e.g., "2.1.5").
type EnhancedCode string

const (
	// Success (2.x.x)
	ESCSuccess         EnhancedCode = "2.0.0"
	ESCAddressValid    EnhancedCode = "2.1.0"
	ESCRecipientValid  EnhancedCode = "2.1.5"
	ESCMessageAccepted EnhancedCode = "2.6.0"

	// Transient Failure (4.x.x)

	// ESCTempFailure is the undefined transient status (4.0.0).
	ESCTempFailure EnhancedCode = "4.0.0"

	// ESCTempLocalError indicates temporary local processing error (4.3.0).
	ESCTempLocalError EnhancedCode = "4.3.0"

	// ESCTempPolicy indicates a temporary security or policy refusal (4.7.0).
	ESCTempPolicy EnhancedCode = "4.7.0"

	// Permanent failure (5.x.x)

	ESCPermFailure        EnhancedCode = "5.0.0"
	ESCBadDestSyntax      EnhancedCode = "5.1.3"
	ESCBadSenderSyntax    EnhancedCode = "5.1.7"
	ESCMailSystemFull     EnhancedCode = "5.3.4"
	ESCInvalidCommand     EnhancedCode = "5.5.0"
	ESCBadCommandSequence EnhancedCode = "5.5.1"
	ESCSyntaxError        EnhancedCode = "5.5.2"
	ESCTooManyRecipients  EnhancedCode = "5.5.3"
	ESCInvalidArgs        EnhancedCode = "5.5.4"
	ESCContentError       EnhancedCode = "5.6.0"
	ESCNonASCIINoSMTPUTF8 EnhancedCode = "5.6.7"
	ESCSecurityError      EnhancedCode = "5.7.0"
	ESCDeliveryNotAuth    EnhancedCode = "5.7.1"
)

// String returns the enhanced code as a string.
func (e EnhancedCode) String() string {
	return string(e)
}

// ForClass adjusts the enhanced code class to match the response code (RFC 2034).
func (e EnhancedCode) ForClass(class int) EnhancedCode {
	if len(e) < 1 || class < 2 || class > 5 || class == 3 {
		return e
	}
	return EnhancedCode(fmt.Sprint(class) + string(e[1:]))
}

// Response represents an SMTP response to be sent to the client.
// Lines holds continuation lines sent after Message in a multiline reply.
type Response struct {
	Code         SMTPCode
	EnhancedCode EnhancedCode
	Message      string
	Lines        []string
}

// String formats the first line of the response without its terminator.
func (r Response) String() string {
	return r.line(r.Message)
}

func (r Response) line(text string) string {
	if r.EnhancedCode != "" {
		return fmt.Sprintf("%d %s %s", r.Code, r.EnhancedCode, text)
	}
	return fmt.Sprintf("%d %s", r.Code, text)
}

// Format renders the complete reply as wire text, every line CRLF-terminated.
func (r Response) Format() string {
	if len(r.Lines) == 0 {
		return r.String() + "\r\n"
	}

	var sb strings.Builder
	all := append([]string{r.Message}, r.Lines...)
	for i, text := range all {
		l := r.line(text)
		if i < len(all)-1 {
			// "250-..." marks a continuation line
			l = l[:3] + "-" + l[4:]
		}
		sb.WriteString(l)
		sb.WriteString("\r\n")
	}
	return sb.String()
}

// IsError returns true for 4xx or 5xx codes.
func (r Response) IsError() bool {
	return r.Code >= 400
}

// IsSuccess returns true for 2xx codes.
func (r Response) IsSuccess() bool {
	return r.Code >= 200 && r.Code < 300
}

// IsTransientError returns true for 4xx codes.
func (r Response) IsTransientError() bool {
	return r.Code >= 400 && r.Code < 500
}

// IsPermanentError returns true for 5xx codes.
func (r Response) IsPermanentError() bool {
	return r.Code >= 500
}

// ToError converts the response to an error.
func (r Response) ToError() error {
	if !r.IsError() {
		return nil
	}
	return fmt.Errorf("SMTP %d: %s", r.Code, r.Message)
}

// ResponseBuilder provides a fluent interface for constructing responses.
type ResponseBuilder struct {
	code         SMTPCode
	enhancedCode EnhancedCode
	message      string
}

// NewResponse creates a new ResponseBuilder.
func NewResponse(code SMTPCode) *ResponseBuilder {
	return &ResponseBuilder{code: code}
}

// WithEnhancedCode sets the enhanced status code (RFC 2034).
func (rb *ResponseBuilder) WithEnhancedCode(code EnhancedCode) *ResponseBuilder {
	rb.enhancedCode = code
	return rb
}

// WithMessage sets the response message text.
func (rb *ResponseBuilder) WithMessage(msg string) *ResponseBuilder {
	rb.message = msg
	return rb
}

// WithMessagef sets the response message using a format string.
func (rb *ResponseBuilder) WithMessagef(format string, args ...any) *ResponseBuilder {
	rb.message = fmt.Sprintf(format, args...)
	return rb
}

// Build creates the final Response.
func (rb *ResponseBuilder) Build() Response {
	return Response{
		Code:         rb.code,
		EnhancedCode: rb.enhancedCode,
		Message:      rb.message,
	}
}

// ResponseOK creates a standard 250 OK response.
func ResponseOK(message string, enhancedCode EnhancedCode) Response {
	return Response{
		Code:         CodeOK,
		EnhancedCode: enhancedCode,
		Message:      message,
	}
}

// ResponseServiceUnavailable creates a 421 service unavailable response.
// The domain must be the first word after the code.
func ResponseServiceUnavailable(domain string, message string) Response {
	msg := domain
	if message != "" {
		msg = domain + " " + message
	}
	return Response{
		Code:    CodeServiceUnavailable,
		Message: msg,
	}
}

// ResponseBadSequence creates a 503 bad sequence of commands response.
func ResponseBadSequence(message string) Response {
	return Response{
		Code:         CodeBadSequence,
		EnhancedCode: ESCBadCommandSequence,
		Message:      message,
	}
}

// ResponseSyntaxError creates a 501 syntax error response.
func ResponseSyntaxError(message string) Response {
	return Response{
		Code:         CodeSyntaxError,
		EnhancedCode: ESCSyntaxError,
		Message:      message,
	}
}

// ResponseCommandNotRecognized creates a 500 command not recognized response.
func ResponseCommandNotRecognized(command string) Response {
	return Response{
		Code:         CodeCommandUnrecognized,
		EnhancedCode: ESCInvalidCommand,
		Message:      fmt.Sprintf("Command not recognized: %s", command),
	}
}

// ResponseTransactionFailed creates a 554 transaction failed response.
func ResponseTransactionFailed(message string, enhancedCode EnhancedCode) Response {
	return Response{
		Code:         CodeTransactionFailed,
		EnhancedCode: enhancedCode,
		Message:      message,
	}
}

// ResponseLocalError creates a 451 local error response.
// Indicates the action was aborted due to a server error.
func ResponseLocalError(message string) Response {
	return Response{
		Code:         CodeLocalError,
		EnhancedCode: ESCTempLocalError,
		Message:      message,
	}
}

// ResponseExceededStorage creates a 552 exceeded storage response.
func ResponseExceededStorage(message string) Response {
	if message == "" {
		message = "Requested mail action aborted: exceeded storage allocation"
	}
	return Response{
		Code:         CodeExceededStorage,
		EnhancedCode: ESCMailSystemFull,
		Message:      message,
	}
}

// ResponseServiceClosing creates a 221 closing response.
func ResponseServiceClosing(domain string, message string) Response {
	return Response{
		Code:         CodeServiceClosing,
		EnhancedCode: ESCSuccess,
		Message:      domain + " " + message,
	}
}

// ResponseMailboxNotFound creates a 550 mailbox unavailable response.
func ResponseMailboxNotFound(message string) Response {
	return Response{
		Code:         CodeMailboxNotFound,
		EnhancedCode: ESCPermFailure,
		Message:      message,
	}
}

// ResponseCannotVRFY creates a 252 response for a disabled VRFY.
func ResponseCannotVRFY(message string) Response {
	if message == "" {
		message = "Cannot VRFY user, but will accept message and attempt delivery"
	}
	return Response{
		Code:         CodeCannotVRFY,
		EnhancedCode: ESCSuccess,
		Message:      message,
	}
}

// ResponseCommandNotImplemented creates a 502 response.
func ResponseCommandNotImplemented(command string) Response {
	return Response{
		Code:         CodeCommandNotImplemented,
		EnhancedCode: ESCInvalidCommand,
		Message:      fmt.Sprintf("Command not implemented: %s", command),
	}
}
