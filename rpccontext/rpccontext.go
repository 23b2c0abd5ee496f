// Package rpccontext carries per-request values through context.Context
// using private key types, adapted from the teacher's rpc/context
// package and generalized to the RequestContext shape spec.md §4.4 and
// §6.3 describe (request_id, peer, comms_provider).
package rpccontext

import (
	"context"
	"net"
)

type (
	remoteAddrKey struct{}
	peerIDKey     struct{}
	requestIDKey  struct{}
	protocolKey   struct{}
)

// RemoteAddr retrieves the remote address attached by WithRemoteAddr, or
// nil if none is set.
func RemoteAddr(ctx context.Context) net.Addr {
	addr, _ := ctx.Value(remoteAddrKey{}).(net.Addr)
	return addr
}

// WithRemoteAddr attaches a transport-level remote address to ctx.
func WithRemoteAddr(ctx context.Context, addr net.Addr) context.Context {
	return context.WithValue(ctx, remoteAddrKey{}, addr)
}

// PeerID retrieves the peer identity supplied by the transport.
func PeerID(ctx context.Context) string {
	id, _ := ctx.Value(peerIDKey{}).(string)
	return id
}

// WithPeerID attaches the peer identity to ctx.
func WithPeerID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, peerIDKey{}, id)
}

// RequestID retrieves the current RpcRequest's request_id.
func RequestID(ctx context.Context) uint32 {
	id, _ := ctx.Value(requestIDKey{}).(uint32)
	return id
}

// WithRequestID attaches a request_id to ctx, for the duration of one
// service call.
func WithRequestID(ctx context.Context, id uint32) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// Protocol retrieves the ProtocolId the current session was admitted
// under.
func Protocol(ctx context.Context) string {
	p, _ := ctx.Value(protocolKey{}).(string)
	return p
}

// WithProtocol attaches the session's protocol ID to ctx.
func WithProtocol(ctx context.Context, protocol string) context.Context {
	return context.WithValue(ctx, protocolKey{}, protocol)
}
