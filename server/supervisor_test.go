package server

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/tarinet/peerrpc/status"
	"github.com/tarinet/peerrpc/transport"
	"github.com/tarinet/peerrpc/wire"
)

// fakeListener hands out pre-made Transports pushed onto conns, and
// fails any further Accept once closed — enough to exercise Serve's
// accept loop without a real net.Listener.
type fakeListener struct {
	conns chan transport.Transport

	mu     sync.Mutex
	closed bool
}

func newFakeListener() *fakeListener {
	return &fakeListener{conns: make(chan transport.Transport, 4)}
}

func (l *fakeListener) Accept(ctx context.Context) (transport.Transport, error) {
	select {
	case t, ok := <-l.conns:
		if !ok {
			return nil, errors.New("fakeListener: closed")
		}
		return t, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *fakeListener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.closed = true
		close(l.conns)
	}
	return nil
}

func (l *fakeListener) Addr() net.Addr { return &net.TCPAddr{} }

// pipeTransport pairs transport.NetConnTransport with net.Pipe for tests
// that need a real Transport (not just a bare net.Conn).
func pipeTransport(t *testing.T) (transport.Transport, net.Conn) {
	t.Helper()
	serverSide, clientSide := net.Pipe()
	return transport.NetConnTransport(serverSide), clientSide
}

func clientHello(t *testing.T, conn net.Conn, maxFrameSize uint32, versions []uint32) *wire.HelloReply {
	t.Helper()
	hello := &wire.Hello{SupportedVersions: versions}
	if err := wire.WriteFrame(conn, hello.Marshal(), maxFrameSize); err != nil {
		t.Fatalf("write hello: %v", err)
	}
	frame, err := wire.ReadFrame(conn, maxFrameSize)
	if err != nil {
		t.Fatalf("read hello reply: %v", err)
	}
	reply, err := wire.UnmarshalHelloReply(frame)
	if err != nil {
		t.Fatalf("decode hello reply: %v", err)
	}
	return reply
}

func TestSupervisorAdmissionOverflow(t *testing.T) {
	one := 1
	cfg := DefaultConfig()
	cfg.MaximumSimultaneousSessions = &one
	cfg.HandshakeTimeout = time.Second

	registry := NewRegistry()
	registry.Register("proto", ServiceFactoryFunc(func(ctx context.Context, protocol string) (Service, error) {
		return ServiceFunc(func(ctx context.Context, req Request) (Response, error) {
			return SingleResponse(nil), nil
		}), nil
	}))

	sv := NewSupervisor(cfg, registry)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	t1, c1 := pipeTransport(t)
	defer c1.Close()
	t2, c2 := pipeTransport(t)
	defer c2.Close()

	notifications := make(chan ProtocolNotification, 2)
	go sv.Run(ctx, notifications)

	notifications <- ProtocolNotification{Protocol: "proto", Peer: t1}
	reply1 := clientHello(t, c1, cfg.MaxFrameSize, cfg.SupportedVersions)
	if !reply1.Ok {
		t.Fatalf("expected first substream accepted, got reject reason %d", reply1.RejectReason)
	}

	// The first substream's Session goroutine holds its permit for its
	// entire lifetime (it is still alive, blocked reading the next
	// request), so the second substream must be rejected for admission.
	// The admission reject is written without reading the hello, so the
	// hello is written concurrently: on an unbuffered net.Pipe a client
	// that writes before reading would block against the server's write.
	notifications <- ProtocolNotification{Protocol: "proto", Peer: t2}
	hello2 := &wire.Hello{SupportedVersions: cfg.SupportedVersions}
	go wire.WriteFrame(c2, hello2.Marshal(), cfg.MaxFrameSize)
	frame2, err := wire.ReadFrame(c2, cfg.MaxFrameSize)
	if err != nil {
		t.Fatalf("read hello reply: %v", err)
	}
	reply2, err := wire.UnmarshalHelloReply(frame2)
	if err != nil {
		t.Fatalf("decode hello reply: %v", err)
	}
	if reply2.Ok {
		t.Fatal("expected second substream rejected: no sessions available")
	}
	if status.RejectReason(reply2.RejectReason) != status.RejectNoSessionsAvailable {
		t.Fatalf("got reject reason %d, want NoSessionsAvailable", reply2.RejectReason)
	}
}

func TestSupervisorGetNumActiveSessions(t *testing.T) {
	cfg := DefaultConfig()
	registry := NewRegistry()
	registry.Register("proto", ServiceFactoryFunc(func(ctx context.Context, protocol string) (Service, error) {
		return ServiceFunc(func(ctx context.Context, req Request) (Response, error) {
			return SingleResponse(nil), nil
		}), nil
	}))

	sv := NewSupervisor(cfg, registry)
	handle := NewHandle(sv)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	notifications := make(chan ProtocolNotification)
	go sv.Run(ctx, notifications)

	n, err := handle.GetNumActiveSessions(ctx)
	if err != nil {
		t.Fatalf("GetNumActiveSessions: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 active sessions before any substream, got %d", n)
	}
}

func TestSupervisorShutdownDrainsSessionsAndStopsAccept(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HandshakeTimeout = time.Second

	unblock := make(chan struct{})
	registry := NewRegistry()
	registry.Register("proto", ServiceFactoryFunc(func(ctx context.Context, protocol string) (Service, error) {
		return ServiceFunc(func(ctx context.Context, req Request) (Response, error) {
			<-unblock
			return SingleResponse(nil), nil
		}), nil
	}))

	sv := NewSupervisor(cfg, registry)
	handle := NewHandle(sv)

	ln := newFakeListener()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- sv.Serve(ctx, ln, func(transport.Transport) string { return "proto" })
	}()

	serverSide, clientSide := net.Pipe()
	defer clientSide.Close()
	ln.conns <- transport.NetConnTransport(serverSide)

	reply := clientHello(t, clientSide, cfg.MaxFrameSize, cfg.SupportedVersions)
	if !reply.Ok {
		t.Fatalf("handshake rejected: reason %d", reply.RejectReason)
	}
	sendRequest(t, clientSide, &wire.RpcRequest{RequestID: 1, DeadlineSecs: 5}, cfg.MaxFrameSize)

	// Give the session time to reach the blocking service call before
	// Shutdown is requested, so the wait below exercises a live session.
	time.Sleep(50 * time.Millisecond)

	shutdownDone := make(chan error, 1)
	go func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		shutdownDone <- handle.Shutdown(shutdownCtx)
	}()

	// Shutdown must not return while the in-flight session is still
	// blocked inside its service call.
	select {
	case <-shutdownDone:
		t.Fatal("Shutdown returned before the in-flight session finished")
	case <-time.After(100 * time.Millisecond):
	}

	close(unblock)

	if resp := recvResponse(t, clientSide, cfg.MaxFrameSize); resp.RequestID != 1 {
		t.Fatalf("expected a reply for request 1, got request_id %d", resp.RequestID)
	}
	// After its reply the session goes back to reading the next request;
	// closing the client side ends it, which is what Shutdown waits for.
	clientSide.Close()

	if err := <-shutdownDone; err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := <-serveErr; err != nil {
		t.Fatalf("expected Serve to return nil once shutdown drained, got %v", err)
	}
}
