package handshake

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/tarinet/peerrpc/wire"
)

// pipeFrameIO adapts a net.Conn half into the FrameReadWriter interface
// using wire's length-delimited framing, for tests only.
type pipeFrameIO struct {
	conn net.Conn
}

func (p *pipeFrameIO) ReadFrame() ([]byte, error) {
	return wire.ReadFrame(p.conn, wire.RPC_MAX_FRAME_SIZE)
}

func (p *pipeFrameIO) WriteFrame(b []byte) error {
	return wire.WriteFrame(p.conn, b, wire.RPC_MAX_FRAME_SIZE)
}

func TestPerformServerAccepts(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	// net.Pipe is unbuffered: the server's reply write only completes once
	// the client reads it, so the client reads concurrently with
	// PerformServer.
	type readResult struct {
		frame []byte
		err   error
	}
	replyCh := make(chan readResult, 1)
	go func() {
		hello := &wire.Hello{SupportedVersions: []uint32{1, 2, 3}}
		wire.WriteFrame(client, hello.Marshal(), wire.RPC_MAX_FRAME_SIZE)
		frame, err := wire.ReadFrame(client, wire.RPC_MAX_FRAME_SIZE)
		replyCh <- readResult{frame, err}
	}()

	res, err := PerformServer(context.Background(), &pipeFrameIO{server}, []uint32{2, 3, 4}, time.Second)
	if err != nil {
		t.Fatalf("PerformServer: %v", err)
	}
	if res.Version != 3 {
		t.Fatalf("expected highest mutual version 3, got %d", res.Version)
	}

	r := <-replyCh
	if r.err != nil {
		t.Fatalf("read reply: %v", r.err)
	}
	reply, err := wire.UnmarshalHelloReply(r.frame)
	if err != nil {
		t.Fatalf("unmarshal reply: %v", err)
	}
	if !reply.Ok || reply.AcceptedVersion != 3 {
		t.Fatalf("got %+v", reply)
	}
}

func TestPerformServerRejectsUnsupportedVersion(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		hello := &wire.Hello{SupportedVersions: []uint32{1}}
		wire.WriteFrame(client, hello.Marshal(), wire.RPC_MAX_FRAME_SIZE)
		// Consume the reject reply so the server's write can complete.
		wire.ReadFrame(client, wire.RPC_MAX_FRAME_SIZE)
	}()

	_, err := PerformServer(context.Background(), &pipeFrameIO{server}, []uint32{2}, time.Second)
	var rejected *RejectedError
	if err == nil {
		t.Fatal("expected rejection error")
	}
	if !asRejected(err, &rejected) {
		t.Fatalf("expected *RejectedError, got %v", err)
	}
}

func asRejected(err error, target **RejectedError) bool {
	if e, ok := err.(*RejectedError); ok {
		*target = e
		return true
	}
	return false
}

func TestPerformServerTimesOut(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	_, err := PerformServer(context.Background(), &pipeFrameIO{server}, []uint32{1}, 20*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout error")
	}
}
