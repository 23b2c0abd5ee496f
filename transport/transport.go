// Package transport defines the external transport boundary spec.md §1
// treats as an out-of-scope collaborator: something that delivers
// already-authenticated bidirectional byte streams ("substreams") and
// their peer identities. Adapted from the teacher's rpc/transport
// package; the resolver/load-balancing machinery (ResolvingDialer and
// rpc/transport/resolver) is dropped as client-side logic (see
// DESIGN.md) — only the server-facing Transport/Listener shapes and a
// plain net.Conn adapter remain.
package transport

import (
	"context"
	"io"
	"net"
)

// Transport is one substream: a bidirectional byte stream with address
// accessors. The RPC core only ever reads and writes frames through
// this interface; it never depends on *net.Conn directly.
type Transport interface {
	io.ReadWriteCloser

	LocalAddr() net.Addr
	RemoteAddr() net.Addr
}

// Dialer establishes new Transport connections. The server core does
// not use it; it is not part of the server-only public surface.
type Dialer interface {
	Dial(ctx context.Context) (Transport, error)
}

// Listener accepts incoming Transport connections, the entry point the
// Server Supervisor ranges over.
type Listener interface {
	Accept(ctx context.Context) (Transport, error)
	Close() error
	Addr() net.Addr
}

// netConnTransport adapts a net.Conn to Transport.
type netConnTransport struct {
	net.Conn
}

// NetConnTransport wraps an established net.Conn as a Transport.
func NetConnTransport(conn net.Conn) Transport {
	return &netConnTransport{Conn: conn}
}

func (t *netConnTransport) LocalAddr() net.Addr  { return t.Conn.LocalAddr() }
func (t *netConnTransport) RemoteAddr() net.Addr { return t.Conn.RemoteAddr() }
