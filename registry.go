package quill

import (
	"fmt"
	"slices"
)

// Category names a kind of hook the server knows how to run.
type Category string

const (
	// CategoryMessage holds MessageHooks. At least one is required.
	CategoryMessage Category = "message"
	// CategoryResult holds ResultHooks. May be empty.
	CategoryResult Category = "result"
)

// WiringError reports a hook composition problem detected before serving.
type WiringError struct {
	Category Category
	Hook     string
	Err      error
}

func (e *WiringError) Error() string {
	if e.Hook != "" {
		return fmt.Sprintf("smtp: wiring %s hook %q: %v", e.Category, e.Hook, e.Err)
	}
	return fmt.Sprintf("smtp: wiring %s hooks: %v", e.Category, e.Err)
}

func (e *WiringError) Unwrap() error {
	return e.Err
}

// RegistryBuilder collects hooks during composition.
// It is not safe for concurrent use; build the registry once at startup.
type RegistryBuilder struct {
	message []MessageHook
	result  []ResultHook
	err     error
}

// NewRegistryBuilder returns an empty builder.
func NewRegistryBuilder() *RegistryBuilder {
	return &RegistryBuilder{}
}

// Wire appends hooks to a category, keeping the given order.
// Every hook must implement the category's interface.
func (b *RegistryBuilder) Wire(category Category, hooks ...Hook) error {
	switch category {
	case CategoryMessage:
		typed := make([]MessageHook, 0, len(hooks))
		for _, h := range hooks {
			mh, ok := h.(MessageHook)
			if !ok {
				return b.fail(&WiringError{Category: category, Hook: hookName(h), Err: fmt.Errorf("%T is not a MessageHook", h)})
			}
			typed = append(typed, mh)
		}
		b.message = append(b.message, typed...)
	case CategoryResult:
		typed := make([]ResultHook, 0, len(hooks))
		for _, h := range hooks {
			rh, ok := h.(ResultHook)
			if !ok {
				return b.fail(&WiringError{Category: category, Hook: hookName(h), Err: fmt.Errorf("%T is not a ResultHook", h)})
			}
			typed = append(typed, rh)
		}
		b.result = append(b.result, typed...)
	default:
		return b.fail(&WiringError{Category: category, Err: fmt.Errorf("unknown category")})
	}
	return nil
}

// AddMessageHooks appends message hooks in order.
func (b *RegistryBuilder) AddMessageHooks(hooks ...MessageHook) *RegistryBuilder {
	b.message = append(b.message, hooks...)
	return b
}

// AddResultHooks appends result hooks in order.
func (b *RegistryBuilder) AddResultHooks(hooks ...ResultHook) *RegistryBuilder {
	b.result = append(b.result, hooks...)
	return b
}

// Build validates the collected hooks and freezes them.
// A builder that saw a Wire error keeps failing with that error.
func (b *RegistryBuilder) Build() (*HookRegistry, error) {
	if b.err != nil {
		return nil, b.err
	}
	for _, h := range b.message {
		if h == nil {
			return nil, &WiringError{Category: CategoryMessage, Err: fmt.Errorf("nil hook")}
		}
	}
	for _, h := range b.result {
		if h == nil {
			return nil, &WiringError{Category: CategoryResult, Err: fmt.Errorf("nil hook")}
		}
	}
	if len(b.message) == 0 {
		return nil, &WiringError{Category: CategoryMessage, Err: ErrNoMessageHooks}
	}
	return &HookRegistry{
		message: slices.Clone(b.message),
		result:  slices.Clone(b.result),
	}, nil
}

func (b *RegistryBuilder) fail(err error) error {
	if b.err == nil {
		b.err = err
	}
	return err
}

func hookName(h Hook) string {
	if h == nil {
		return ""
	}
	return h.Name()
}

// HookRegistry is the frozen, ordered set of hooks a server runs.
// It is never modified after Build and is shared by all connections.
type HookRegistry struct {
	message []MessageHook
	result  []ResultHook
}

// MessageHooks returns a copy of the message hooks in registration order.
func (r *HookRegistry) MessageHooks() []MessageHook {
	return slices.Clone(r.message)
}

// ResultHooks returns a copy of the result hooks in registration order.
func (r *HookRegistry) ResultHooks() []ResultHook {
	return slices.Clone(r.result)
}
