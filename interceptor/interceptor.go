// Package interceptor provides the Tower-style middleware hook used to
// wrap a Service's Call, adapted from the teacher's rpc/interceptor
// package. Only the server-side unary shape survives here: this module's
// session worker performs exactly one service call per request (spec.md
// §4.4), so the teacher's richer four-way sync/bidir/send/recv split and
// its client-side interceptors have no SPEC_FULL component to wrap and
// are dropped (see DESIGN.md).
package interceptor

import "context"

// Info carries the call's identity to an interceptor.
type Info struct {
	Package string
	Service string
	Method  string
}

// Handler is the next step in the chain: either the actual service call,
// or the next interceptor.
type Handler func(ctx context.Context, payload []byte) ([]byte, error)

// UnaryServerInterceptor wraps a unary call with cross-cutting behaviour
// (logging, metrics, auth, ...), matching the teacher's own signature
// shape, generalized away from msgs-specific request/response types.
type UnaryServerInterceptor func(ctx context.Context, payload []byte, info *Info, handler Handler) ([]byte, error)

// Chain composes interceptors so the first in the list runs outermost.
func Chain(interceptors ...UnaryServerInterceptor) UnaryServerInterceptor {
	switch len(interceptors) {
	case 0:
		return nil
	case 1:
		return interceptors[0]
	}
	return func(ctx context.Context, payload []byte, info *Info, final Handler) ([]byte, error) {
		return chainHandler(interceptors, 0, info, final)(ctx, payload)
	}
}

func chainHandler(interceptors []UnaryServerInterceptor, idx int, info *Info, final Handler) Handler {
	if idx == len(interceptors) {
		return final
	}
	return func(ctx context.Context, payload []byte) ([]byte, error) {
		return interceptors[idx](ctx, payload, info, chainHandler(interceptors, idx+1, info, final))
	}
}
