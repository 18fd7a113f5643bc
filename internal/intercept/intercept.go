// Package intercept implements the pluggable request/response transform
// chain: a small capability-set interface composed by a Registry, with no
// inheritance involved — each interceptor is a plain value satisfying as
// much of the interface as it needs.
package intercept

import (
	"go.uber.org/zap"

	"github.com/kroxy/kroxy/internal/kwire"
)

// Context is handed to request/response handlers. It exposes the channel
// descriptor for logging and an escape hatch for replacing the broker's
// response with a synthetic one. Only the response path honours it: a
// request handler that calls Synthesize still has its request forwarded
// upstream. No built-in interceptor uses Synthesize today.
type Context struct {
	Log        *zap.Logger
	PairID     string
	synthetic  kwire.Frame
	shouldSend bool
}

// Synthesize marks f as the response to send back to the client in place
// of forwarding the broker's own response. Calling it more than once keeps
// the last value.
func (c *Context) Synthesize(f kwire.Frame) {
	c.synthetic = f
	c.shouldSend = true
}

// Synthetic reports whether a handler called Synthesize, and the frame if so.
func (c *Context) Synthetic() (kwire.Frame, bool) {
	return c.synthetic, c.shouldSend
}

// DecodePredicate answers whether an interceptor wants a given (apiKey,
// apiVersion) decoded into a structured frame.
type DecodePredicate interface {
	ShouldDecodeRequest(apiKey, apiVersion int16) bool
	ShouldDecodeResponse(apiKey, apiVersion int16) bool
}

// RequestHandler observes or mutates a decoded request frame.
type RequestHandler interface {
	HandleRequest(ctx *Context, f kwire.DecodedRequestFrame) (kwire.DecodedRequestFrame, error)
}

// ResponseHandler observes or mutates a decoded response frame.
type ResponseHandler interface {
	HandleResponse(ctx *Context, f kwire.DecodedResponseFrame) (kwire.DecodedResponseFrame, error)
}

// Interceptor is the full capability set an implementation may satisfy.
// DecodePredicate is required; RequestHandler and ResponseHandler are
// detected by type assertion, so an interceptor that only cares about
// responses need not implement HandleRequest at all.
type Interceptor interface {
	DecodePredicate
}

// Registry composes an ordered list of interceptors into the combined
// decode predicate and handler chains the pipeline drives.
type Registry struct {
	interceptors []Interceptor
}

// NewRegistry builds a registry from an ordered interceptor list. Order is
// significant: request and response handler chains run in registration
// order.
func NewRegistry(interceptors ...Interceptor) *Registry {
	return &Registry{interceptors: interceptors}
}

// ShouldDecodeRequest decodes iff any registered interceptor asks to.
func (r *Registry) ShouldDecodeRequest(apiKey, apiVersion int16) bool {
	for _, ic := range r.interceptors {
		if ic.ShouldDecodeRequest(apiKey, apiVersion) {
			return true
		}
	}
	return false
}

// ShouldDecodeResponse decodes iff any registered interceptor asks to.
func (r *Registry) ShouldDecodeResponse(apiKey, apiVersion int16) bool {
	for _, ic := range r.interceptors {
		if ic.ShouldDecodeResponse(apiKey, apiVersion) {
			return true
		}
	}
	return false
}

// RunRequestChain invokes every interceptor's request handler, in
// registration order, on f.
func (r *Registry) RunRequestChain(ctx *Context, f kwire.DecodedRequestFrame) (kwire.DecodedRequestFrame, error) {
	var err error
	for _, ic := range r.interceptors {
		h, ok := ic.(RequestHandler)
		if !ok {
			continue
		}
		f, err = h.HandleRequest(ctx, f)
		if err != nil {
			return f, err
		}
	}
	return f, nil
}

// RunResponseChain invokes every interceptor's response handler, in
// registration order, on f.
func (r *Registry) RunResponseChain(ctx *Context, f kwire.DecodedResponseFrame) (kwire.DecodedResponseFrame, error) {
	var err error
	for _, ic := range r.interceptors {
		h, ok := ic.(ResponseHandler)
		if !ok {
			continue
		}
		f, err = h.HandleResponse(ctx, f)
		if err != nil {
			return f, err
		}
	}
	return f, nil
}
