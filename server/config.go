package server

import (
	"log/slog"
	"time"

	"github.com/tarinet/peerrpc/interceptor"
	"github.com/tarinet/peerrpc/metrics"
	"github.com/tarinet/peerrpc/wire"
)

// Config is the ServerConfig of spec.md §3, extended with the ambient
// knobs SPEC_FULL.md adds (logger, metrics sink, frame size, chunk
// size, compression default, and an optional interceptor chain).
type Config struct {
	// MaximumSimultaneousSessions caps concurrent sessions. Nil means
	// unbounded (the executor is sized to executor.MaxTheoreticalTasks).
	MaximumSimultaneousSessions *int
	// MinimumClientDeadline is the smallest deadline accepted from a
	// client; requests below it get a bad_request reply.
	MinimumClientDeadline time.Duration
	// HandshakeTimeout bounds the version-negotiation exchange.
	HandshakeTimeout time.Duration
	// SupportedVersions lists protocol versions this server understands,
	// highest first is not required; handshake.PerformServer picks the
	// highest mutual version.
	SupportedVersions []uint32
	// MaxFrameSize caps a single wire frame. Defaults to
	// wire.RPC_MAX_FRAME_SIZE.
	MaxFrameSize uint32
	// ChunkSize is the threshold past which an RpcResponse payload is
	// split across multiple wire messages sharing request_id.
	ChunkSize int
	// DefaultCompression is applied to outbound response payloads when
	// set to something other than wire.CompressionNone.
	DefaultCompression wire.Compression
	// Logger receives structured session/supervisor diagnostics.
	Logger *slog.Logger
	// Metrics receives counter/histogram/gauge observations.
	Metrics metrics.Sink
	// Interceptor is carried on the Config for applications built on this
	// module; the session worker does not apply it to service calls.
	Interceptor interceptor.UnaryServerInterceptor
}

// Option configures a Config via With* functions, the functional-options
// idiom the teacher uses throughout rpc/server and rpc/transport/tcp.
type Option func(*Config)

// DefaultConfig matches spec.md §3's documented defaults: max 1000
// sessions, 1s minimum client deadline, 15s handshake timeout.
func DefaultConfig() *Config {
	maxSessions := 1000
	return &Config{
		MaximumSimultaneousSessions: &maxSessions,
		MinimumClientDeadline:       time.Second,
		HandshakeTimeout:            15 * time.Second,
		SupportedVersions:           []uint32{1},
		MaxFrameSize:                wire.RPC_MAX_FRAME_SIZE,
		ChunkSize:                   64 * 1024,
		DefaultCompression:          wire.CompressionNone,
		Metrics:                     metrics.Noop{},
	}
}

// WithMaxSessions sets MaximumSimultaneousSessions. Pass 0 for unbounded.
func WithMaxSessions(n int) Option {
	return func(c *Config) {
		if n <= 0 {
			c.MaximumSimultaneousSessions = nil
			return
		}
		c.MaximumSimultaneousSessions = &n
	}
}

// WithMinimumClientDeadline overrides the default 1s minimum deadline.
func WithMinimumClientDeadline(d time.Duration) Option {
	return func(c *Config) { c.MinimumClientDeadline = d }
}

// WithHandshakeTimeout overrides the default 15s handshake timeout.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(c *Config) { c.HandshakeTimeout = d }
}

// WithSupportedVersions sets the versions this server's handshake accepts.
func WithSupportedVersions(versions ...uint32) Option {
	return func(c *Config) { c.SupportedVersions = versions }
}

// WithMaxFrameSize overrides the default 4 MiB frame cap.
func WithMaxFrameSize(n uint32) Option {
	return func(c *Config) { c.MaxFrameSize = n }
}

// WithChunkSize overrides the default 64 KiB response chunk threshold.
func WithChunkSize(n int) Option {
	return func(c *Config) { c.ChunkSize = n }
}

// WithDefaultCompression sets the codec applied to outbound response
// payloads.
func WithDefaultCompression(t wire.Compression) Option {
	return func(c *Config) { c.DefaultCompression = t }
}

// WithLogger sets the structured logger used for session diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// WithMetrics sets the injected metrics sink.
func WithMetrics(m metrics.Sink) Option {
	return func(c *Config) { c.Metrics = m }
}

// WithInterceptor sets Config.Interceptor. The session worker does not
// apply it to service calls.
func WithInterceptor(i interceptor.UnaryServerInterceptor) Option {
	return func(c *Config) { c.Interceptor = i }
}

func (c *Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c *Config) metricsSink() metrics.Sink {
	if c.Metrics != nil {
		return c.Metrics
	}
	return metrics.Noop{}
}

// maxSessionsPermits returns the permit count to size the bounded
// executor with: 0 tells executor.New to fall back to
// executor.MaxTheoreticalTasks.
func (c *Config) maxSessionsPermits() int64 {
	if c.MaximumSimultaneousSessions == nil {
		return 0
	}
	return int64(*c.MaximumSimultaneousSessions)
}
