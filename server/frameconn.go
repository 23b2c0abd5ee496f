package server

import (
	"sync"

	"github.com/tarinet/peerrpc/transport"
	"github.com/tarinet/peerrpc/wire"
)

// frameConn layers spec.md §4.2's length-delimited framing over a raw
// transport.Transport, enforcing maxFrameSize on both directions.
// The handshake reads the client's hello through it; after that, reads
// are only issued from Session's single background reader goroutine
// (the session exclusively owns its frame I/O, per spec.md §3's
// ownership rule). Writes are guarded by writeMu since the session
// worker and handshake both write to the same connection over its
// lifetime.
type frameConn struct {
	t            transport.Transport
	maxFrameSize uint32

	writeMu sync.Mutex
}

func newFrameConn(t transport.Transport, maxFrameSize uint32) *frameConn {
	return &frameConn{t: t, maxFrameSize: maxFrameSize}
}

func (f *frameConn) ReadFrame() ([]byte, error) {
	return wire.ReadFrame(f.t, f.maxFrameSize)
}

func (f *frameConn) WriteFrame(b []byte) error {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	return wire.WriteFrame(f.t, b, f.maxFrameSize)
}

func (f *frameConn) Close() error { return f.t.Close() }
