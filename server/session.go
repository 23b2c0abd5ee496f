package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tarinet/peerrpc/compress"
	"github.com/tarinet/peerrpc/metrics"
	"github.com/tarinet/peerrpc/rpccontext"
	"github.com/tarinet/peerrpc/rpcerr"
	"github.com/tarinet/peerrpc/status"
	"github.com/tarinet/peerrpc/wire"
)

// tracer names the spans callService starts around each service call,
// grounded on the teacher's rpc/interceptor/otel.Interceptor.UnaryServerInterceptor.
var tracer = otel.Tracer("github.com/tarinet/peerrpc/server")

// Session is the Active Session Worker of spec.md §4.4: one goroutine
// per accepted substream, running the INIT -> READING -> DISPATCHING ->
// STREAMING -> (READING | TERMINATED) state machine. It is grounded
// directly on ActivePeerRpcService in
// original_source/comms/core/src/protocol/rpc/server/mod.rs.
type Session struct {
	id       uint32
	protocol string
	descr    Descr
	conn     *frameConn
	service  Service
	cfg      *Config
	reqCtx   RequestContext
	logger   *slog.Logger

	inbound chan inboundFrame
}

type inboundFrame struct {
	req *wire.RpcRequest
	err error
}

// errUnexpectedIncomingMessage and errStreamClosedByRemote name two of
// the three non-READING inbound outcomes spec.md §4.4's STREAMING state
// and §7's Stream errors distinguish. The third, interruption by a clean
// client FIN, has no error value; checkInterruption reports it via its
// bool return instead.
var (
	errUnexpectedIncomingMessage = errors.New("session: unexpected inbound message during streaming")
	errStreamClosedByRemote      = errors.New("session: stream closed by remote")
)

func newSession(id uint32, protocol string, descr Descr, conn *frameConn, svc Service, cfg *Config, reqCtx RequestContext) *Session {
	return &Session{
		id:       id,
		protocol: protocol,
		descr:    descr,
		conn:     conn,
		service:  svc,
		cfg:      cfg,
		reqCtx:   reqCtx,
		logger: cfg.logger().With(
			slog.Uint64("stream_id", uint64(id)),
			slog.String("peer", fmt.Sprint(reqCtx.Peer)),
			slog.String("protocol", protocol),
			slog.String("service", descr.Service),
		),
		inbound: make(chan inboundFrame, 1),
	}
}

// Run executes the session's full state machine until the substream
// ends, an unrecoverable protocol/stream error occurs, or ctx is done.
// It always closes the underlying connection before returning.
func (s *Session) Run(ctx context.Context) error {
	defer s.conn.Close()

	go s.readLoop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f, ok := <-s.inbound:
			if !ok || errors.Is(f.err, io.EOF) {
				return nil
			}
			if f.err != nil {
				s.cfg.metricsSink().IncCounter(metrics.MetricProtocolErrors, "protocol", s.protocol, "service", s.descr.Service)
				return rpcerr.E(rpcerr.CategoryProtocol, "decode request", f.err)
			}
			if err := s.dispatch(ctx, f.req); err != nil {
				return err
			}
		}
	}
}

// readLoop owns the connection's read half for the session's entire
// lifetime: it is the only goroutine that ever calls conn.ReadFrame.
func (s *Session) readLoop() {
	defer close(s.inbound)
	for {
		frame, err := s.conn.ReadFrame()
		if err != nil {
			s.inbound <- inboundFrame{err: err}
			return
		}
		req, err := wire.UnmarshalRpcRequest(frame)
		s.inbound <- inboundFrame{req: req, err: err}
		if err != nil {
			return
		}
	}
}

// dispatch implements the DISPATCHING state.
func (s *Session) dispatch(ctx context.Context, req *wire.RpcRequest) error {
	if req.Flags.HasUndefinedBits() {
		s.cfg.metricsSink().IncCounter(metrics.MetricProtocolErrors, "protocol", s.protocol, "service", s.descr.Service)
		return rpcerr.E(rpcerr.CategoryProtocol, "dispatch", fmt.Errorf("undefined flag bits set: %#x", req.Flags))
	}

	if req.DeadlineSecs < uint64(s.cfg.MinimumClientDeadline.Seconds()) {
		s.sendResponse(&wire.RpcResponse{
			RequestID: req.RequestID,
			Status:    uint32(status.BadRequest),
			Flags:     wire.FlagFIN,
		})
		s.cfg.metricsSink().IncCounter(metrics.MetricStatusErrors, "status", status.BadRequest.String(), "service", s.descr.Service)
		return nil
	}

	if req.Flags.Has(wire.FlagFIN) {
		// Client signalling end-of-stream on a non-request frame: no
		// active STREAMING response to interrupt here, so this is a
		// no-op; return to READING.
		return nil
	}

	if req.Flags.Has(wire.FlagACK) {
		s.sendResponse(&wire.RpcResponse{
			RequestID: req.RequestID,
			Status:    uint32(status.OK),
			Flags:     wire.FlagACK,
		})
		return nil
	}

	return s.callService(ctx, req)
}

func (s *Session) callService(ctx context.Context, req *wire.RpcRequest) error {
	deadline := time.Duration(req.DeadlineSecs) * time.Second
	callCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	reqCtx := s.reqCtx
	reqCtx.RequestID = req.RequestID
	callCtx = rpccontext.WithRequestID(callCtx, req.RequestID)
	callCtx = rpccontext.WithProtocol(callCtx, s.protocol)

	payload, err := compress.Decompress(req.Compression, req.Payload)
	if err != nil {
		s.cfg.metricsSink().IncCounter(metrics.MetricProtocolErrors, "protocol", s.protocol, "service", s.descr.Service)
		return rpcerr.E(rpcerr.CategoryProtocol, "decompress payload", err)
	}

	spanCtx, span := s.startCallSpan(callCtx, req.Method)
	defer span.End()

	start := time.Now()
	call := func(ctx context.Context) (Response, error) {
		return s.service.Call(ctx, Request{Context: reqCtx, Method: req.Method, Payload: payload})
	}

	type callOutcome struct {
		resp Response
		err  error
	}
	ch := make(chan callOutcome, 1)
	go func() {
		resp, err := call(spanCtx)
		ch <- callOutcome{resp, err}
	}()

	select {
	case <-callCtx.Done():
		span.SetAttributes(attribute.Bool("rpc.deadline_exceeded", true))
		s.cfg.metricsSink().IncCounter(metrics.MetricDeadlineExceeded, "phase", "service_call", "service", s.descr.Service)
		s.logTiming("service call", start, true)
		return nil
	case o := <-ch:
		s.logTiming("service call", start, false)
		if o.err != nil {
			span.RecordError(o.err)
			st := status.FromError(o.err)
			s.sendResponse(&wire.RpcResponse{
				RequestID: req.RequestID,
				Status:    uint32(st.Code),
				Flags:     wire.FlagFIN,
				Details:   []byte(st.Details),
			})
			s.cfg.metricsSink().IncCounter(metrics.MetricStatusErrors, "status", st.Code.String(), "service", s.descr.Service)
			return nil
		}
		return s.stream(ctx, req, o.resp, deadline)
	}
}

// startCallSpan opens a server-kind span around one service call, mirroring
// the teacher's rpc/interceptor/otel.Interceptor.UnaryServerInterceptor
// (method name plus rpc.system/service/method attributes), minus the
// gostdlib/base span wrapper this module doesn't carry forward.
func (s *Session) startCallSpan(ctx context.Context, method uint32) (context.Context, trace.Span) {
	name := s.descr.Service
	if name == "" {
		name = s.protocol
	}
	ctx, span := tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindServer))
	span.SetAttributes(
		attribute.String("rpc.system", "peerrpc"),
		attribute.String("rpc.protocol", s.protocol),
		attribute.String("rpc.service", s.descr.Service),
		attribute.Int64("rpc.method", int64(method)),
	)
	return ctx, span
}

// stream implements the STREAMING state: lazily pull BodyBytes off
// resp.Body, chunk each into wire messages, and send them, while
// watching for a per-message deadline and a non-blocking interruption
// check between sends.
func (s *Session) stream(ctx context.Context, req *wire.RpcRequest, resp Response, deadline time.Duration) error {
	bodyCh, stopBody := consumeBody(resp.Body)
	defer stopBody()

	for {
		timer := time.NewTimer(deadline)
		select {
		case <-timer.C:
			s.cfg.metricsSink().IncCounter(metrics.MetricDeadlineExceeded, "phase", "read_stream", "service", s.descr.Service)
			return nil
		case item, ok := <-bodyCh:
			timer.Stop()
			if !ok {
				return nil
			}
			if stop, err := s.checkInterruption(); stop {
				if err != nil {
					s.cfg.metricsSink().IncCounter(metrics.MetricProtocolErrors, "protocol", s.protocol, "service", s.descr.Service)
					return rpcerr.E(rpcerr.CategoryStream, "streaming interrupted", err)
				}
				// Clean client-initiated interruption: stop streaming, no
				// error, session continues reading the next request.
				return nil
			}
			respMsg := &wire.RpcResponse{
				RequestID: req.RequestID,
				Status:    uint32(status.OK),
				Payload:   item.Data,
			}
			if item.Finished {
				respMsg.Flags |= wire.FlagFIN
			}
			if s.cfg.DefaultCompression != wire.CompressionNone {
				compressed, cerr := compress.Compress(s.cfg.DefaultCompression, respMsg.Payload)
				if cerr == nil {
					respMsg.Payload = compressed
					respMsg.Compression = s.cfg.DefaultCompression
				}
			}
			for _, chunk := range ChunkedResponseIter(respMsg, s.cfg.ChunkSize) {
				if err := s.sendResponse(chunk); err != nil {
					return rpcerr.E(rpcerr.CategoryStream, "write response", err)
				}
			}
			if item.Finished {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// checkInterruption non-blockingly polls the inbound frame channel
// between outbound STREAMING writes, mirroring check_interruptions in
// the original Rust source.
func (s *Session) checkInterruption() (stop bool, err error) {
	select {
	case f, ok := <-s.inbound:
		if !ok {
			return true, errStreamClosedByRemote
		}
		if f.err != nil {
			if errors.Is(f.err, io.EOF) {
				return true, errStreamClosedByRemote
			}
			return true, f.err
		}
		if f.req.Flags.Has(wire.FlagFIN) {
			return true, nil
		}
		return true, errUnexpectedIncomingMessage
	default:
		return false, nil
	}
}

func (s *Session) sendResponse(resp *wire.RpcResponse) error {
	return s.conn.WriteFrame(resp.Marshal())
}

func (s *Session) logTiming(op string, start time.Time, timedOut bool) {
	dur := time.Since(start)
	if timedOut {
		s.logger.Warn(op+" exceeded deadline", slog.Duration("duration", dur))
		return
	}
	if dur >= 5*time.Second {
		s.logger.Warn(op+" (SLOW)", slog.Duration("duration", dur))
		return
	}
	s.logger.Debug(op, slog.Duration("duration", dur))
}

// consumeBody runs body to completion in its own goroutine, forwarding
// each element to a channel so the caller can wrap each receive in its
// own per-message deadline. Calling the returned stop function lets the
// caller abandon consumption early (e.g. on interruption) without
// leaking the goroutine, provided body respects yield returning false.
func consumeBody(body iter.Seq[BodyBytes]) (<-chan BodyBytes, func()) {
	ch := make(chan BodyBytes)
	stop := make(chan struct{})
	go func() {
		defer close(ch)
		if body == nil {
			return
		}
		body(func(b BodyBytes) bool {
			select {
			case ch <- b:
				return true
			case <-stop:
				return false
			}
		})
	}()
	return ch, func() {
		select {
		case <-stop:
		default:
			close(stop)
		}
	}
}
