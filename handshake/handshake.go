// Package handshake performs the one-shot version negotiation described
// in spec.md §4.3: the server reads the client's Hello, picks the
// highest mutually supported version, and replies Accept or Reject.
package handshake

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/tarinet/peerrpc/rpcerr"
	"github.com/tarinet/peerrpc/status"
	"github.com/tarinet/peerrpc/wire"
)

// Result is the outcome of a successful server-side handshake.
type Result struct {
	Version uint32
}

// RejectedError is returned when the handshake completed but the server
// chose to reject the client's offer.
type RejectedError struct {
	Reason status.RejectReason
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("handshake: rejected: %s", e.Reason)
}

// PerformServer reads one Hello frame from rw, picks the highest version
// in both supportedVersions and the client's offer, and writes back a
// HelloReply. The whole exchange is bounded by timeout; a timeout is a
// handshake error (rpcerr.CategoryHandshake), not a session error.
//
// frameIO reads and writes already-length-delimited frames; the caller
// is expected to have wrapped the raw substream with maxFrameSize before
// calling PerformServer (see server.Supervisor).
func PerformServer(ctx context.Context, frameIO FrameReadWriter, supportedVersions []uint32, timeout time.Duration) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		res *Result
		err error
	}
	done := make(chan outcome, 1)

	go func() {
		res, err := performServer(frameIO, supportedVersions)
		done <- outcome{res, err}
	}()

	select {
	case <-ctx.Done():
		return nil, rpcerr.E(rpcerr.CategoryHandshake, "timeout", ctx.Err())
	case o := <-done:
		return o.res, o.err
	}
}

func performServer(frameIO FrameReadWriter, supportedVersions []uint32) (*Result, error) {
	frame, err := frameIO.ReadFrame()
	if err != nil {
		return nil, fmt.Errorf("handshake: read hello: %w", err)
	}
	hello, err := wire.UnmarshalHello(frame)
	if err != nil {
		reject := &wire.HelloReply{RejectReason: uint32(status.RejectUnknown), Ok: false}
		_ = frameIO.WriteFrame(reject.Marshal())
		return nil, fmt.Errorf("handshake: decode hello: %w", err)
	}

	version, ok := pickVersion(supportedVersions, hello.SupportedVersions)
	if !ok {
		reply := &wire.HelloReply{RejectReason: uint32(status.RejectUnsupportedVersion), Ok: false}
		if werr := frameIO.WriteFrame(reply.Marshal()); werr != nil {
			return nil, fmt.Errorf("handshake: write reject: %w", werr)
		}
		return nil, &RejectedError{Reason: status.RejectUnsupportedVersion}
	}

	reply := &wire.HelloReply{AcceptedVersion: version, Ok: true}
	if err := frameIO.WriteFrame(reply.Marshal()); err != nil {
		return nil, fmt.Errorf("handshake: write accept: %w", err)
	}
	return &Result{Version: version}, nil
}

// RejectAdmission is used by the supervisor when the bounded executor
// cannot admit a new session; admission is enforced before the
// handshake accept reply, so the substream never commits to a session
// it cannot run (spec.md §4.5).
func RejectAdmission(frameIO FrameReadWriter) error {
	reply := &wire.HelloReply{RejectReason: uint32(status.RejectNoSessionsAvailable), Ok: false}
	return frameIO.WriteFrame(reply.Marshal())
}

// RejectProtocol is used when the service factory has no service for
// the requested protocol.
func RejectProtocol(frameIO FrameReadWriter) error {
	reply := &wire.HelloReply{RejectReason: uint32(status.RejectProtocolNotSupported), Ok: false}
	return frameIO.WriteFrame(reply.Marshal())
}

func pickVersion(supported, offered []uint32) (uint32, bool) {
	set := make(map[uint32]bool, len(supported))
	for _, v := range supported {
		set[v] = true
	}
	var common []uint32
	for _, v := range offered {
		if set[v] {
			common = append(common, v)
		}
	}
	if len(common) == 0 {
		return 0, false
	}
	sort.Slice(common, func(i, j int) bool { return common[i] > common[j] })
	return common[0], true
}

// FrameReadWriter is the minimal frame-level I/O surface the handshake
// needs; server.frameConn satisfies it.
type FrameReadWriter interface {
	ReadFrame() ([]byte, error)
	WriteFrame([]byte) error
}
