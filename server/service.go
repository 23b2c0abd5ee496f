package server

import (
	"context"
	"fmt"
	"iter"

	"github.com/tarinet/peerrpc/status"
)

// Descr identifies a registered call the way ProtocolId identifies a
// service (SPEC_FULL.md §3): a higher-layer application service can use
// it to key its own per-method dispatch inside a single Service
// implementation. The core registry below keys only by protocol, per
// spec.md §6.3 ("the factory receives a ProtocolId").
type Descr struct {
	Package string
	Service string
	Method  string
}

// Request is what a Service.Call receives: the request context, the
// wire method number, and the (already decompressed) payload.
type Request struct {
	Context RequestContext
	Method  uint32
	Payload []byte
}

// BodyBytes is one element of a Response's lazy body sequence. Finished
// marks the last element; the session worker sets FIN on the RpcResponse
// built from it.
type BodyBytes struct {
	Data     []byte
	Finished bool
}

// Response wraps the lazy, finite sequence of BodyBytes a Service.Call
// produces, per spec.md §6.3 and the "lazy response body" design note in
// §9 — no concrete iterator or stream type is assumed, only iter.Seq.
type Response struct {
	Body iter.Seq[BodyBytes]
}

// SingleResponse is a convenience constructor for the common unary case:
// one BodyBytes element carrying the whole payload, flagged Finished.
func SingleResponse(payload []byte) Response {
	return Response{Body: func(yield func(BodyBytes) bool) {
		yield(BodyBytes{Data: payload, Finished: true})
	}}
}

// StreamResponse builds a Response from a plain slice of payloads, the
// last of which is marked Finished. Useful for services with a small,
// known-ahead-of-time number of chunks (see examples/echo).
func StreamResponse(payloads [][]byte) Response {
	return Response{Body: func(yield func(BodyBytes) bool) {
		for i, p := range payloads {
			if !yield(BodyBytes{Data: p, Finished: i == len(payloads)-1}) {
				return
			}
		}
	}}
}

// Service is the per-protocol RPC handler, the "call service" half of
// the tower-style make-service/call-service split (spec.md §6.3, §9).
type Service interface {
	Call(ctx context.Context, req Request) (Response, error)
}

// ServiceFunc adapts a plain function to Service.
type ServiceFunc func(ctx context.Context, req Request) (Response, error)

func (f ServiceFunc) Call(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}

// ServiceFactory is the "make service" half: given a ProtocolId, it
// asynchronously returns a Service instance. Factories are shared
// (cheaply cloned) across sessions and must be safe for concurrent use.
type ServiceFactory interface {
	MakeService(ctx context.Context, protocol string) (Service, error)
}

// ServiceFactoryFunc adapts a plain function to ServiceFactory.
type ServiceFactoryFunc func(ctx context.Context, protocol string) (Service, error)

func (f ServiceFactoryFunc) MakeService(ctx context.Context, protocol string) (Service, error) {
	return f(ctx, protocol)
}

// MethodRouter is a Service that dispatches to sub-handlers by wire
// method number, the shape a higher-layer application service (such as
// examples/health) uses to expose more than one RPC method behind a
// single registered protocol.
type MethodRouter map[uint32]ServiceFunc

func (r MethodRouter) Call(ctx context.Context, req Request) (Response, error) {
	fn, ok := r[req.Method]
	if !ok {
		return Response{}, status.New(status.UnsupportedMethod, fmt.Sprintf("method %d", req.Method))
	}
	return fn(ctx, req)
}
