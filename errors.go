package quill

import "errors"

var (
	ErrServerClosed    = errors.New("smtp: server closed")
	ErrInvalidCommand  = errors.New("smtp: invalid command")

	// ErrNoMessageHooks is returned when a server is composed without a
	// single message hook; it would otherwise have no accept/reject policy.
	ErrNoMessageHooks = errors.New("smtp: no message hook configured")

	ErrReplyResolved = errors.New("smtp: reply already resolved")
	ErrReplyListener = errors.New("smtp: reply already has a listener")
	ErrReplyWritten  = errors.New("smtp: reply already written")
	ErrSinkClosed    = errors.New("smtp: message sink already closed")
)
