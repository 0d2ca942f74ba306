package quill

import (
	"context"
	"time"
)

// ReturnCode is the verdict a hook gives about a message.
type ReturnCode int

const (
	// ReturnDecline passes the decision on to the next hook.
	ReturnDecline ReturnCode = iota
	// ReturnOK accepts the message.
	ReturnOK
	// ReturnDeny rejects the message permanently.
	ReturnDeny
	// ReturnDenySoft rejects the message temporarily; the client may retry.
	ReturnDenySoft
)

func (c ReturnCode) String() string {
	switch c {
	case ReturnDecline:
		return "DECLINE"
	case ReturnOK:
		return "OK"
	case ReturnDeny:
		return "DENY"
	case ReturnDenySoft:
		return "DENYSOFT"
	default:
		return "UNKNOWN"
	}
}

// HookResult is returned by every message hook and every result hook.
//
// Reply, when set, is sent as is. Otherwise Code, EnhancedCode and Message
// override the matching parts of the default reply for Return; a DECLINE
// only produces a reply when it carries its own Code.
type HookResult struct {
	Return       ReturnCode
	Reply        *Reply
	Code         SMTPCode
	EnhancedCode EnhancedCode
	Message      string
}

// Accept returns an OK result with the default reply.
func Accept() HookResult {
	return HookResult{Return: ReturnOK}
}

// Decline returns a result that lets the next hook decide.
func Decline() HookResult {
	return HookResult{Return: ReturnDecline}
}

// Deny returns a permanent rejection. An empty message keeps the default text.
func Deny(message string) HookResult {
	return HookResult{Return: ReturnDeny, Message: message}
}

// DenySoft returns a temporary rejection. An empty message keeps the default text.
func DenySoft(message string) HookResult {
	return HookResult{Return: ReturnDenySoft, Message: message}
}

// Respond returns a result that answers with reply regardless of the default mapping.
func Respond(code ReturnCode, reply *Reply) HookResult {
	return HookResult{Return: code, Reply: reply}
}

var defaultResponses = map[ReturnCode]Response{
	ReturnOK: {
		Code:         CodeOK,
		EnhancedCode: ESCMessageAccepted,
		Message:      "Message accepted",
	},
	ReturnDeny: {
		Code:         CodeTransactionFailed,
		EnhancedCode: ESCDeliveryNotAuth,
		Message:      "Message rejected",
	},
	ReturnDenySoft: {
		Code:         CodeLocalError,
		EnhancedCode: ESCTempLocalError,
		Message:      "Temporary problem, please try again later",
	},
}

// DefaultResponse maps a hook result to the reply the client should see.
// It returns nil when the result does not answer the client (a plain DECLINE).
func DefaultResponse(res HookResult) *Reply {
	if res.Reply != nil {
		return res.Reply
	}

	resp, ok := defaultResponses[res.Return]
	if !ok {
		if res.Code == 0 {
			return nil
		}
		resp = Response{Code: res.Code}
	}

	if res.Code != 0 && res.Code != resp.Code {
		resp.Code = res.Code
		resp.EnhancedCode = resp.EnhancedCode.ForClass(res.Code.Class())
	}
	if res.EnhancedCode != "" {
		resp.EnhancedCode = res.EnhancedCode
	}
	if res.Message != "" {
		resp.Message = res.Message
	}
	return Immediate(resp)
}

// Response is DefaultResponse(r).
func (r HookResult) Response() *Reply {
	return DefaultResponse(r)
}

// Hook is the common part of every extension registered with a server.
type Hook interface {
	// Name identifies the hook in logs and metrics.
	Name() string
}

// MessageHook inspects a fully received message and accepts, rejects or
// declines it. Message hooks run in registration order until one answers.
type MessageHook interface {
	Hook
	OnMessage(ctx context.Context, s *Session, env *Envelope) HookResult
}

// ResultHook observes the result of each message hook and may rewrite it.
// elapsed is how long origin took to produce res.
type ResultHook interface {
	Hook
	OnHookResult(ctx context.Context, s *Session, res HookResult, elapsed time.Duration, origin MessageHook) HookResult
}

type messageHookFunc struct {
	name string
	fn   func(ctx context.Context, s *Session, env *Envelope) HookResult
}

func (h messageHookFunc) Name() string { return h.name }

func (h messageHookFunc) OnMessage(ctx context.Context, s *Session, env *Envelope) HookResult {
	return h.fn(ctx, s, env)
}

// HandleMessage adapts a function to a named MessageHook.
func HandleMessage(name string, fn func(ctx context.Context, s *Session, env *Envelope) HookResult) MessageHook {
	return messageHookFunc{name: name, fn: fn}
}

type resultHookFunc struct {
	name string
	fn   func(ctx context.Context, s *Session, res HookResult, elapsed time.Duration, origin MessageHook) HookResult
}

func (h resultHookFunc) Name() string { return h.name }

func (h resultHookFunc) OnHookResult(ctx context.Context, s *Session, res HookResult, elapsed time.Duration, origin MessageHook) HookResult {
	return h.fn(ctx, s, res, elapsed, origin)
}

// ObserveResult adapts a function to a named ResultHook.
func ObserveResult(name string, fn func(ctx context.Context, s *Session, res HookResult, elapsed time.Duration, origin MessageHook) HookResult) ResultHook {
	return resultHookFunc{name: name, fn: fn}
}
