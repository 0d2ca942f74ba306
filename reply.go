package quill

import (
	"context"
	"sync"
)

// Reply is a Response that is either available now or resolved later.
// A Reply resolves exactly once and notifies at most one listener, so it can
// travel through the same write path whether a hook answered synchronously or
// handed the decision to another goroutine.
type Reply struct {
	mu       sync.Mutex
	resp     Response
	resolved bool
	done     chan struct{}
	listener func(Response)
	listened bool
	written  bool
}

// Immediate returns a Reply that is already resolved to resp.
func Immediate(resp Response) *Reply {
	r := &Reply{resp: resp, resolved: true, done: make(chan struct{})}
	close(r.done)
	return r
}

// Deferred returns an unresolved Reply. Call Resolve once the outcome is known.
func Deferred() *Reply {
	return &Reply{done: make(chan struct{})}
}

// Resolve completes the reply and fires the listener, if one is registered.
func (r *Reply) Resolve(resp Response) error {
	r.mu.Lock()
	if r.resolved {
		r.mu.Unlock()
		return ErrReplyResolved
	}
	r.resp = resp
	r.resolved = true
	fn := r.listener
	r.listener = nil
	close(r.done)
	r.mu.Unlock()

	if fn != nil {
		fn(resp)
	}
	return nil
}

// Resolved reports the response if the reply has completed.
func (r *Reply) Resolved() (Response, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resp, r.resolved
}

// OnResolve registers the single completion listener. It runs on the
// resolving goroutine, or right away when the reply is already resolved.
func (r *Reply) OnResolve(fn func(Response)) error {
	r.mu.Lock()
	if r.listened {
		r.mu.Unlock()
		return ErrReplyListener
	}
	r.listened = true
	if r.resolved {
		resp := r.resp
		r.mu.Unlock()
		fn(resp)
		return nil
	}
	r.listener = fn
	r.mu.Unlock()
	return nil
}

// Wait blocks until the reply resolves or ctx is done.
func (r *Reply) Wait(ctx context.Context) (Response, error) {
	select {
	case <-r.done:
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.resp, nil
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

// claim marks the reply as handed to a transport. Only the first caller wins.
func (r *Reply) claim() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.written {
		return false
	}
	r.written = true
	return true
}
