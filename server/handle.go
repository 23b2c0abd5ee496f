package server

import "context"

// Handle is a control-plane handle to a running Supervisor, the
// SUPPLEMENT in SPEC_FULL.md §4.5 standing in for a ServerHandle: callers
// outside the supervisor's own goroutine use it to ask
// GetNumActiveSessions or request shutdown, both serialized through the
// supervisor's main loop per spec.md §4.5's control_requests channel.
type Handle struct {
	sv *Supervisor
}

// NewHandle wraps sv for control-plane use.
func NewHandle(sv *Supervisor) *Handle {
	return &Handle{sv: sv}
}

// GetNumActiveSessions asks the supervisor for max_sessions minus
// available permits, per spec.md §4.5.
func (h *Handle) GetNumActiveSessions(ctx context.Context) (int, error) {
	reply := make(chan controlReply, 1)
	select {
	case h.sv.control <- controlRequest{kind: controlGetNumActiveSessions, reply: reply}:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	select {
	case r := <-reply:
		return r.numActiveSessions, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Shutdown stops the supervisor from accepting new substreams and waits,
// bounded by ctx, for in-flight sessions to finish naturally. It does
// not forcibly stop sessions still running when ctx expires; callers
// that need that should also cancel the context passed to
// Supervisor.Run/Serve.
func (h *Handle) Shutdown(ctx context.Context) error {
	reply := make(chan controlReply, 1)
	select {
	case h.sv.control <- controlRequest{kind: controlShutdown, ctx: ctx, reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-reply:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
