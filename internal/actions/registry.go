// Package actions owns the request-kind dispatch table and the built-in
// action handlers.
//
// The registry is populated once at startup and is read-only afterwards,
// so sessions share it without synchronization.
package actions

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/danmuck/depotd/internal/document"
	"github.com/danmuck/depotd/internal/schema"
)

var (
	ErrKindExists        = errors.New("actions: kind already registered")
	ErrInvalidDescriptor = errors.New("actions: invalid descriptor")
)

// Request wraps one validated request: the kind node's subtree plus the
// originating connection identity.
type Request struct {
	Kind     string
	Metadata *document.Document
	Peer     string
}

// Responder is the capability a handler uses to eventually complete its
// request. Exactly one of Succeed or Fail must be called, exactly once.
type Responder interface {
	Succeed(payload *document.Document)
	Fail(userMessage string)
}

// Handler executes one validated request. Handlers may complete
// asynchronously; the session waits until the responder is used.
type Handler interface {
	Execute(ctx context.Context, req *Request, res Responder)
}

// HandlerFunc adapts a function into a Handler.
type HandlerFunc func(ctx context.Context, req *Request, res Responder)

func (f HandlerFunc) Execute(ctx context.Context, req *Request, res Responder) {
	f(ctx, req, res)
}

// Descriptor is the immutable {kind, validator, handler} record for one
// request kind.
type Descriptor struct {
	Kind    string
	Schema  *schema.Schema
	Handler Handler
}

// Registry maps kind names to descriptors. Append-only during startup;
// pure reads afterwards.
type Registry struct {
	items map[string]Descriptor
}

func NewRegistry() *Registry {
	return &Registry{items: make(map[string]Descriptor)}
}

// Register adds a descriptor. A duplicate kind is a startup programming
// error and fails fast.
func (r *Registry) Register(d Descriptor) error {
	kind := strings.TrimSpace(d.Kind)
	if kind == "" {
		return fmt.Errorf("%w: missing kind", ErrInvalidDescriptor)
	}
	if d.Schema == nil {
		return fmt.Errorf("%w: kind %q missing schema", ErrInvalidDescriptor, kind)
	}
	if d.Handler == nil {
		return fmt.Errorf("%w: kind %q missing handler", ErrInvalidDescriptor, kind)
	}
	if _, ok := r.items[kind]; ok {
		return fmt.Errorf("%w: %q", ErrKindExists, kind)
	}
	r.items[kind] = d
	return nil
}

// Resolve looks up a descriptor by exact, case-sensitive kind name.
func (r *Registry) Resolve(kind string) (Descriptor, bool) {
	d, ok := r.items[kind]
	return d, ok
}

// Kinds returns registered kind names in deterministic order.
func (r *Registry) Kinds() []string {
	out := make([]string, 0, len(r.items))
	for kind := range r.items {
		out = append(out, kind)
	}
	sort.Strings(out)
	return out
}

// DefaultRegistry builds the registry with every built-in action kind.
func DefaultRegistry() (*Registry, error) {
	r := NewRegistry()
	for _, d := range []Descriptor{
		LicenseDescriptor(),
		UploadDescriptor(DefaultMaxContentSize),
	} {
		if err := r.Register(d); err != nil {
			return nil, err
		}
	}
	return r, nil
}
