package server

import (
	"context"
	"log/slog"
	"sync"

	"github.com/tarinet/peerrpc/executor"
	"github.com/tarinet/peerrpc/handshake"
	"github.com/tarinet/peerrpc/metrics"
	"github.com/tarinet/peerrpc/rpccontext"
	"github.com/tarinet/peerrpc/rpcerr"
	"github.com/tarinet/peerrpc/transport"
)

// ProtocolNotification is the transport layer's announcement of a new
// inbound substream, spec.md §4.5's notifications stream collapsed to
// one Go type since Supervisor only ever sees NewInboundSubstream.
type ProtocolNotification struct {
	Protocol string
	Peer     transport.Transport
}

// Supervisor is the Server Supervisor of spec.md §4.5: it owns the
// bounded executor, the service registry, and the per-protocol active
// session gauges, and spawns one Session per accepted substream.
type Supervisor struct {
	cfg      *Config
	registry *Registry
	exec     *executor.BoundedExecutor
	logger   *slog.Logger

	mu       sync.Mutex
	sessions map[string]int // protocol -> active session count, for the gauge
	nextID   uint32

	control   chan controlRequest
	closed    chan struct{} // closed once, on Shutdown, to stop Serve's accept loop
	closeOnce sync.Once
	wg        sync.WaitGroup // one entry per in-flight session task
}

type controlRequest struct {
	kind  controlKind
	ctx   context.Context // bounds controlShutdown's wait for in-flight sessions
	reply chan controlReply
}

type controlKind int

const (
	controlGetNumActiveSessions controlKind = iota
	controlShutdown
)

type controlReply struct {
	numActiveSessions int
}

// NewSupervisor builds a Supervisor over registry using cfg, sized by
// cfg.MaximumSimultaneousSessions (nil means unbounded).
func NewSupervisor(cfg *Config, registry *Registry) *Supervisor {
	var exec *executor.BoundedExecutor
	if n := cfg.maxSessionsPermits(); n > 0 {
		exec = executor.New(n)
	} else {
		exec = executor.AllowMaximum()
	}
	return &Supervisor{
		cfg:      cfg,
		registry: registry,
		exec:     exec,
		logger:   cfg.logger(),
		sessions: make(map[string]int),
		control:  make(chan controlRequest),
		closed:   make(chan struct{}),
	}
}

// Serve accepts Transports from l and feeds them to the supervisor's
// main loop as NewInboundSubstream notifications, until ctx is
// cancelled, Shutdown is requested, or the listener errs.
func (sv *Supervisor) Serve(ctx context.Context, l transport.Listener, protocolOf func(transport.Transport) string) error {
	notifications := make(chan ProtocolNotification)

	// Shutdown closes sv.closed from the main loop, which can't itself
	// call l.Accept's blocking half; closing the listener here is what
	// actually unblocks it. Exits without closing l on ordinary ctx
	// cancellation.
	go func() {
		select {
		case <-sv.closed:
			l.Close()
		case <-ctx.Done():
		}
	}()

	go func() {
		defer close(notifications)
		for {
			t, err := l.Accept(ctx)
			if err != nil {
				sv.logger.Debug("listener accept stopped", slog.Any("err", err))
				return
			}
			select {
			case notifications <- ProtocolNotification{Protocol: protocolOf(t), Peer: t}:
			case <-ctx.Done():
				t.Close()
				return
			case <-sv.closed:
				t.Close()
				return
			}
		}
	}()

	return sv.Run(ctx, notifications)
}

// Run is the cooperative main loop described in spec.md §4.5: it awaits
// either a notification or a control-plane request until notifications
// closes, at which point it drains any pending control requests and
// returns.
func (sv *Supervisor) Run(ctx context.Context, notifications <-chan ProtocolNotification) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n, ok := <-notifications:
			if !ok {
				sv.drainControl()
				return nil
			}
			sv.handleNewSubstream(ctx, n)
		case req := <-sv.control:
			if req.kind == controlShutdown {
				sv.runShutdown(req)
				return nil
			}
			sv.handleControl(req)
		}
	}
}

func (sv *Supervisor) drainControl() {
	for {
		select {
		case req := <-sv.control:
			if req.kind == controlShutdown {
				sv.runShutdown(req)
				return
			}
			sv.handleControl(req)
		default:
			return
		}
	}
}

func (sv *Supervisor) handleControl(req controlRequest) {
	switch req.kind {
	case controlGetNumActiveSessions:
		req.reply <- controlReply{numActiveSessions: sv.numActiveSessions()}
	}
}

// runShutdown stops accepting new substreams and waits, bounded by
// req.ctx, for in-flight sessions to finish naturally, per SPEC_FULL.md
// §4.5's Shutdown SUPPLEMENT.
func (sv *Supervisor) runShutdown(req controlRequest) {
	sv.closeOnce.Do(func() { close(sv.closed) })

	done := make(chan struct{})
	go func() {
		sv.wg.Wait()
		close(done)
	}()

	ctx := req.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-done:
	case <-ctx.Done():
		sv.logger.Debug("shutdown: context done before all sessions finished")
	}
	req.reply <- controlReply{}
}

func (sv *Supervisor) numActiveSessions() int {
	maxSessions := sv.cfg.maxSessionsPermits()
	if maxSessions <= 0 {
		maxSessions = executor.MaxTheoreticalTasks
	}
	return int(maxSessions - sv.exec.NumAvailable())
}

// handleNewSubstream implements the five numbered steps of spec.md
// §4.5's "On NewInboundSubstream".
func (sv *Supervisor) handleNewSubstream(ctx context.Context, n ProtocolNotification) {
	conn := newFrameConn(n.Peer, sv.cfg.MaxFrameSize)

	if !sv.exec.CanSpawn() {
		_ = handshake.RejectAdmission(conn)
		conn.Close()
		sv.logger.Debug("rejected substream: no sessions available", slog.String("protocol", n.Protocol))
		return
	}

	factory, descr, ok := sv.registry.Lookup(n.Protocol)
	if !ok {
		_ = handshake.RejectProtocol(conn)
		conn.Close()
		sv.logger.Debug("rejected substream: unknown protocol", slog.String("protocol", n.Protocol))
		return
	}

	// MakeService must succeed before the handshake commits to Accept: a
	// registered-but-unconstructible protocol has to be rejected the same
	// way an unknown one is, and Accept is the point of no return.
	svc, err := factory.MakeService(ctx, n.Protocol)
	if err != nil {
		_ = handshake.RejectProtocol(conn)
		conn.Close()
		sv.logger.Debug("rejected substream: service factory error", slog.String("protocol", n.Protocol), slog.Any("err", err))
		return
	}

	result, err := handshake.PerformServer(ctx, conn, sv.cfg.SupportedVersions, sv.cfg.HandshakeTimeout)
	if err != nil {
		sv.cfg.metricsSink().IncCounter(metrics.MetricHandshakeErrors, "protocol", n.Protocol)
		sv.logger.Debug("handshake failed", slog.String("protocol", n.Protocol), slog.Any("err", err))
		conn.Close()
		return
	}

	sv.mu.Lock()
	sv.nextID++
	id := sv.nextID
	sv.mu.Unlock()

	reqCtx := RequestContext{Peer: n.Peer.RemoteAddr(), Protocol: n.Protocol}
	sess := newSession(id, n.Protocol, descr, conn, svc, sv.cfg, reqCtx)

	sv.logger.Debug("substream accepted",
		slog.Uint64("stream_id", uint64(id)),
		slog.String("protocol", n.Protocol),
		slog.String("service", descr.Service),
		slog.Uint64("version", uint64(result.Version)))

	sv.wg.Add(1)
	spawnErr := sv.exec.TrySpawnContext(ctx, func(taskCtx context.Context) {
		defer sv.wg.Done()
		sv.sessionStarted(n.Protocol)
		defer sv.sessionEnded(n.Protocol)

		taskCtx = rpccontext.WithRemoteAddr(taskCtx, n.Peer.RemoteAddr())
		taskCtx = rpccontext.WithProtocol(taskCtx, n.Protocol)

		if err := sess.Run(taskCtx); err != nil {
			sv.logger.Debug("session ended with error",
				slog.Uint64("stream_id", uint64(id)),
				slog.String("protocol", n.Protocol),
				slog.String("service", descr.Service),
				slog.String("category", rpcerr.CategoryOf(err).String()),
				slog.Any("err", err))
		}
	})
	if spawnErr != nil {
		// The task never started: release the WaitGroup entry taken
		// above. CanSpawn raced with another admission between the
		// check above and TrySpawnContext; reject the same way step 2
		// would have.
		sv.wg.Done()
		_ = handshake.RejectAdmission(conn)
		conn.Close()
	}
}

func (sv *Supervisor) sessionStarted(protocol string) {
	sv.mu.Lock()
	sv.sessions[protocol]++
	n := sv.sessions[protocol]
	sv.mu.Unlock()
	sv.cfg.metricsSink().SetGauge(metrics.MetricSessionsActive, float64(n), "protocol", protocol)
}

func (sv *Supervisor) sessionEnded(protocol string) {
	sv.mu.Lock()
	sv.sessions[protocol]--
	n := sv.sessions[protocol]
	sv.mu.Unlock()
	sv.cfg.metricsSink().SetGauge(metrics.MetricSessionsActive, float64(n), "protocol", protocol)
}
