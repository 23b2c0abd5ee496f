// Package tcp is a concrete transport.Listener/transport.Dialer pair over
// net.TCPConn, adapted from the teacher's rpc/transport/tcp package:
// the same buffered-I/O Listener/ServerTransport shape, generalized
// away from the claw rpc.server dependency and with the client-side
// retry-policy option dropped (see DESIGN.md).
package tcp

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/tarinet/peerrpc/transport"
)

// ErrClosed is returned by operations on an already-closed Listener or
// ServerTransport.
var ErrClosed = errors.New("tcp: use of closed transport")

type config struct {
	tlsConfig       *tls.Config
	dialTimeout     time.Duration
	readBufferSize  int
	writeBufferSize int
	keepAlive       time.Duration
}

func defaultConfig() *config {
	return &config{
		dialTimeout:     30 * time.Second,
		readBufferSize:  64 * 1024,
		writeBufferSize: 64 * 1024,
		keepAlive:       30 * time.Second,
	}
}

// Option configures a Listener or Dialer.
type Option func(*config)

// WithTLSConfig enables TLS on the listener or dialer.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(c *config) { c.tlsConfig = cfg }
}

// WithDialTimeout bounds Dial. Default 30s.
func WithDialTimeout(d time.Duration) Option {
	return func(c *config) { c.dialTimeout = d }
}

// WithReadBufferSize sets the bufio.Reader size. Default 64KiB.
func WithReadBufferSize(size int) Option {
	return func(c *config) {
		if size > 0 {
			c.readBufferSize = size
		}
	}
}

// WithWriteBufferSize sets the bufio.Writer size. Default 64KiB.
func WithWriteBufferSize(size int) Option {
	return func(c *config) {
		if size > 0 {
			c.writeBufferSize = size
		}
	}
}

// WithKeepAlive sets the TCP keep-alive period. Default 30s; zero disables it.
func WithKeepAlive(d time.Duration) Option {
	return func(c *config) { c.keepAlive = d }
}

// Listener implements transport.Listener over net.Listener.
type Listener struct {
	listener net.Listener
	config   *config

	mu     sync.Mutex
	closed bool
}

// Listen starts a TCP listener on addr.
func Listen(ctx context.Context, addr string, opts ...Option) (*Listener, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	lc := net.ListenConfig{KeepAlive: cfg.keepAlive}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if cfg.tlsConfig != nil {
		ln = tls.NewListener(ln, cfg.tlsConfig)
	}
	return &Listener{listener: ln, config: cfg}, nil
}

// Accept waits for and returns the next connection as a Transport.
func (l *Listener) Accept(ctx context.Context) (transport.Transport, error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, ErrClosed
	}
	ln := l.listener
	l.mu.Unlock()

	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := ln.Accept()
		ch <- result{conn, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		return newServerTransport(r.conn, l.config), nil
	}
}

// Close stops the listener from accepting new connections.
func (l *Listener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.listener.Close()
}

// Addr returns the listener's bound address.
func (l *Listener) Addr() net.Addr { return l.listener.Addr() }

var _ transport.Listener = (*Listener)(nil)

// serverTransport wraps an accepted connection with buffered I/O,
// flushing on every Write so frame boundaries reach the peer promptly.
type serverTransport struct {
	conn   net.Conn
	config *config

	readMu sync.Mutex
	reader *bufio.Reader

	writeMu sync.Mutex
	writer  *bufio.Writer

	connMu sync.Mutex
	closed bool
}

func newServerTransport(conn net.Conn, cfg *config) *serverTransport {
	return &serverTransport{
		conn:   conn,
		config: cfg,
		reader: bufio.NewReaderSize(conn, cfg.readBufferSize),
		writer: bufio.NewWriterSize(conn, cfg.writeBufferSize),
	}
}

func (t *serverTransport) Read(p []byte) (int, error) {
	t.connMu.Lock()
	closed := t.closed
	t.connMu.Unlock()
	if closed {
		return 0, ErrClosed
	}
	t.readMu.Lock()
	defer t.readMu.Unlock()
	return t.reader.Read(p)
}

func (t *serverTransport) Write(p []byte) (int, error) {
	t.connMu.Lock()
	closed := t.closed
	t.connMu.Unlock()
	if closed {
		return 0, ErrClosed
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	n, err := t.writer.Write(p)
	if err != nil {
		return n, err
	}
	return n, t.writer.Flush()
}

func (t *serverTransport) Close() error {
	t.connMu.Lock()
	defer t.connMu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	t.writeMu.Lock()
	t.writer.Flush()
	t.writeMu.Unlock()
	return t.conn.Close()
}

func (t *serverTransport) LocalAddr() net.Addr  { return t.conn.LocalAddr() }
func (t *serverTransport) RemoteAddr() net.Addr { return t.conn.RemoteAddr() }

var _ transport.Transport = (*serverTransport)(nil)

// Dialer dials TCP addresses and wraps each connection in the same
// buffered Transport the Listener hands out. Connection retry/reconnection is client-side logic
// (spec.md Non-goals) and is intentionally not implemented here.
type Dialer struct {
	addr   string
	config *config
}

// NewDialer builds a Dialer targeting addr.
func NewDialer(addr string, opts ...Option) *Dialer {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return &Dialer{addr: addr, config: cfg}
}

// Dial connects to the configured address.
func (d *Dialer) Dial(ctx context.Context) (transport.Transport, error) {
	dialer := net.Dialer{Timeout: d.config.dialTimeout, KeepAlive: d.config.keepAlive}
	var conn net.Conn
	var err error
	if d.config.tlsConfig != nil {
		conn, err = tls.DialWithDialer(&dialer, "tcp", d.addr, d.config.tlsConfig)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", d.addr)
	}
	if err != nil {
		return nil, err
	}
	return newServerTransport(conn, d.config), nil
}

var _ transport.Dialer = (*Dialer)(nil)
