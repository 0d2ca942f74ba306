package quill

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"time"

	pkgerrors "github.com/pkg/errors"

	quillio "github.com/synqronlabs/quill/io"
)

// MaxContentLineLength is the longest message content line accepted,
// CRLF included (RFC 5322 Section 2.1.1).
const MaxContentLineLength = 998 + 2

var (
	terminator = []byte("." + quillio.CRLF)
	dotDot     = []byte("..")
)

// dataLineHandler receives the message content after a 354 reply. It is
// pushed by DATA and pops itself when the end-of-data line arrives.
type dataLineHandler struct {
	registry *HookRegistry
	maxSize  int64

	// failed is set once an I/O error was reported; remaining lines are
	// consumed without a second reply.
	failed       bool
	sizeExceeded bool
	lineErr      error
}

func newDataLineHandler(registry *HookRegistry, maxSize int64) *dataLineHandler {
	return &dataLineHandler{registry: registry, maxSize: maxSize}
}

func (h *dataLineHandler) MaxLineLength() int {
	return MaxContentLineLength
}

// OnLineError keeps the content stream in sync when the transport rejects a
// line. The transaction is refused once the terminator arrives.
func (h *dataLineHandler) OnLineError(_ *Session, err error) bool {
	if h.lineErr == nil {
		h.lineErr = err
	}
	return true
}

func (h *dataLineHandler) OnLine(s *Session, line []byte) {
	if bytes.Equal(line, terminator) {
		h.finish(s)
		return
	}
	if h.failed || h.sizeExceeded || h.lineErr != nil {
		return
	}

	env := s.State().Envelope
	if env == nil || env.Sink() == nil {
		return
	}

	if bytes.HasPrefix(line, dotDot) {
		line = line[1:]
	}
	if h.maxSize > 0 && env.Size()+int64(len(line)) > h.maxSize {
		h.sizeExceeded = true
		return
	}

	err := env.write(line)
	if err == nil {
		err = env.Sink().Flush()
	}
	if err != nil {
		h.fail(s, env, err)
	}
}

// fail reports a content I/O error right away. The handler stays on the
// stack to swallow the rest of the content.
func (h *dataLineHandler) fail(s *Session, env *Envelope, err error) {
	h.failed = true
	s.Logger().Error("message content write failed",
		slog.String("mail_id", env.ID),
		slog.Any("error", err),
	)
	if derr := env.discard(); derr != nil {
		s.Logger().Debug("discard failed", slog.Any("error", derr))
	}
	s.ResetState()
	h.reply(s, ioErrorResponse(err))
}

func ioErrorResponse(err error) Response {
	return Response{
		Code:         CodeLocalError,
		EnhancedCode: ESCTempFailure,
		Message:      "Error processing message: " + err.Error(),
	}
}

func (h *dataLineHandler) finish(s *Session) {
	s.PopLineHandler()
	if h.failed {
		return
	}
	defer s.ResetState()

	env := s.State().Envelope
	if env == nil || env.Sink() == nil {
		h.reply(s, ResponseLocalError("No mail transaction in progress"))
		return
	}

	switch {
	case h.sizeExceeded:
		h.reject(s, env, ResponseExceededStorage("Message too large"))
		return
	case errors.Is(h.lineErr, quillio.ErrBadLineEnding):
		h.reject(s, env, Response{Code: CodeSyntaxError, EnhancedCode: ESCContentError, Message: "Message must use CRLF line endings"})
		return
	case h.lineErr != nil:
		h.reject(s, env, Response{Code: CodeSyntaxError, EnhancedCode: ESCContentError, Message: "Line length exceeds maximum allowed"})
		return
	}

	err := env.Sink().Flush()
	if err == nil {
		err = env.closeSink()
	}
	if err != nil {
		s.Logger().Error("message content close failed",
			slog.String("mail_id", env.ID),
			slog.Any("error", err),
		)
		h.reject(s, env, ioErrorResponse(err))
		return
	}

	reply := h.dispatch(s, env)
	h.settle(s, env, reply)
}

func (h *dataLineHandler) reject(s *Session, env *Envelope, resp Response) {
	if err := env.discard(); err != nil {
		s.Logger().Debug("discard failed", slog.Any("error", err))
	}
	h.reply(s, resp)
}

func (h *dataLineHandler) reply(s *Session, resp Response) {
	if err := s.WriteResponse(resp); err != nil {
		s.Logger().Debug("reply not written", slog.Any("error", err))
	}
}

// settle writes the final reply. Accepted content is committed, anything
// else is discarded. A deferred reply is settled once it resolves. The reply
// handed to the transport is always a new one, so hooks may return the same
// *Reply for every message.
func (h *dataLineHandler) settle(s *Session, env *Envelope, reply *Reply) {
	logger := s.Logger()
	outcome := func(resp Response) Response {
		if !resp.IsSuccess() {
			if err := env.discard(); err != nil {
				logger.Debug("discard failed", slog.Any("error", err))
			}
			return resp
		}
		if err := env.commit(s); err != nil {
			logger.Error("message commit failed",
				slog.String("mail_id", env.ID),
				slog.Any("error", err),
			)
			if derr := env.discard(); derr != nil {
				logger.Debug("discard failed", slog.Any("error", derr))
			}
			return ResponseLocalError("Unable to store message, please try again later")
		}
		logger.Info("message accepted",
			slog.String("mail_id", env.ID),
			slog.String("from", env.From.String()),
			slog.Int("recipients", len(env.To)),
			slog.Int64("size", env.Size()),
		)
		return resp
	}

	if resp, ok := reply.Resolved(); ok {
		h.reply(s, outcome(resp))
		return
	}

	out := Deferred()
	if err := reply.OnResolve(func(resp Response) {
		_ = out.Resolve(outcome(resp))
	}); err != nil {
		logger.Error("deferred reply already observed", slog.String("mail_id", env.ID), slog.Any("error", err))
		if derr := env.discard(); derr != nil {
			logger.Debug("discard failed", slog.Any("error", derr))
		}
		out = Immediate(ResponseLocalError("Temporary problem, please try again later"))
	}
	if err := s.WriteReply(out); err != nil {
		logger.Debug("reply not written", slog.Any("error", err))
	}
}

// dispatch runs the message hooks in order. Each result is passed through
// every result hook before being mapped to a reply; the first hook that
// answers decides. With no answer the message is denied.
func (h *dataLineHandler) dispatch(s *Session, env *Envelope) *Reply {
	ctx := s.Context()
	for _, hook := range h.registry.message {
		start := time.Now()
		res, err := runMessageHook(hook, s, env)
		if err != nil {
			s.Logger().Error("message hook panicked",
				slog.String("hook", hook.Name()),
				slog.String("error", fmt.Sprintf("%+v", err)),
			)
			return Immediate(ResponseLocalError("Temporary problem, please try again later"))
		}
		elapsed := time.Since(start)

		s.Logger().Debug("message hook executed",
			slog.String("hook", hook.Name()),
			slog.String("result", res.Return.String()),
			slog.Duration("elapsed", elapsed),
		)

		for _, observer := range h.registry.result {
			res, err = runResultHook(observer, s, res, elapsed, hook)
			if err != nil {
				s.Logger().Error("result hook panicked",
					slog.String("hook", observer.Name()),
					slog.String("error", fmt.Sprintf("%+v", err)),
				)
				return Immediate(ResponseLocalError("Temporary problem, please try again later"))
			}
		}

		if reply := res.Response(); reply != nil {
			return reply
		}
		if ctx.Err() != nil {
			s.Logger().Debug("dispatch interrupted", slog.Any("error", ctx.Err()))
			return DefaultResponse(HookResult{Return: ReturnDenySoft})
		}
	}
	return DefaultResponse(HookResult{Return: ReturnDeny})
}

func runMessageHook(hook MessageHook, s *Session, env *Envelope) (res HookResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = pkgerrors.Errorf("hook %s panicked: %v", hook.Name(), r)
		}
	}()
	return hook.OnMessage(s.Context(), s, env), nil
}

func runResultHook(hook ResultHook, s *Session, res HookResult, elapsed time.Duration, origin MessageHook) (out HookResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = pkgerrors.Errorf("hook %s panicked: %v", hook.Name(), r)
		}
	}()
	return hook.OnHookResult(s.Context(), s, res, elapsed, origin), nil
}
