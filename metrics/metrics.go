// Package metrics defines the narrow, injected metrics sink used by the
// server supervisor and session worker. Concrete backends (otel, noop)
// live alongside it; nothing in /server hard-codes a metrics vendor.
package metrics

// Sink is the observability surface the RPC core writes to. It is
// intentionally small: counters keyed by label pairs, and one gauge
// primitive (Set) for the per-protocol active-sessions value the
// supervisor maintains.
type Sink interface {
	// IncCounter increments a named counter, tagged with label key/value
	// pairs supplied as alternating strings (k1, v1, k2, v2, ...).
	IncCounter(name string, labels ...string)
	// ObserveHistogram records one sample against a named histogram.
	ObserveHistogram(name string, value float64, labels ...string)
	// SetGauge sets a named gauge to value.
	SetGauge(name string, value float64, labels ...string)
}

// Metric names used throughout /server. Centralized here so the sink
// implementations and the emitting code can't drift out of sync.
const (
	MetricHandshakeErrors     = "rpc_handshake_errors_total"
	MetricStatusErrors        = "rpc_status_errors_total"
	MetricDeadlineExceeded    = "rpc_deadline_exceeded_total"
	MetricProtocolErrors      = "rpc_protocol_errors_total"
	MetricSessionsActive      = "rpc_sessions_active"
	MetricProtocolSessions    = "rpc_protocol_sessions_active"
	MetricSessionDuration     = "rpc_session_duration_seconds"
	MetricServiceCallDuration = "rpc_service_call_duration_seconds"
)

// Noop is a Sink that discards everything. It is the default used by
// server.Config and in tests that don't assert on metrics.
type Noop struct{}

func (Noop) IncCounter(string, ...string)            {}
func (Noop) ObserveHistogram(string, float64, ...string) {}
func (Noop) SetGauge(string, float64, ...string)     {}

var _ Sink = Noop{}
