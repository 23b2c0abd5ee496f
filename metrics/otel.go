package metrics

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OtelSink is a Sink backed by go.opentelemetry.io/otel/metric,
// grounded on the teacher's rpc/interceptor/otel instrument-creation
// pattern (one instrument per metric name, created lazily and cached).
type OtelSink struct {
	meter metric.Meter

	mu          sync.Mutex
	counters    map[string]metric.Int64Counter
	histograms  map[string]metric.Float64Histogram
	gaugeValues map[string]float64
	gauges      map[string]metric.Float64ObservableGauge
	gaugeReg    metric.Registration
}

// NewOtelSink builds a Sink using meter for instrument creation.
func NewOtelSink(meter metric.Meter) *OtelSink {
	s := &OtelSink{
		meter:       meter,
		counters:    make(map[string]metric.Int64Counter),
		histograms:  make(map[string]metric.Float64Histogram),
		gaugeValues: make(map[string]float64),
		gauges:      make(map[string]metric.Float64ObservableGauge),
	}
	return s
}

func (s *OtelSink) IncCounter(name string, labels ...string) {
	s.mu.Lock()
	c, ok := s.counters[name]
	if !ok {
		var err error
		c, err = s.meter.Int64Counter(name)
		if err != nil {
			s.mu.Unlock()
			return
		}
		s.counters[name] = c
	}
	s.mu.Unlock()
	c.Add(context.Background(), 1, metric.WithAttributes(attrsFromPairs(labels)...))
}

func (s *OtelSink) ObserveHistogram(name string, value float64, labels ...string) {
	s.mu.Lock()
	h, ok := s.histograms[name]
	if !ok {
		var err error
		h, err = s.meter.Float64Histogram(name)
		if err != nil {
			s.mu.Unlock()
			return
		}
		s.histograms[name] = h
	}
	s.mu.Unlock()
	h.Record(context.Background(), value, metric.WithAttributes(attrsFromPairs(labels)...))
}

func (s *OtelSink) SetGauge(name string, value float64, labels ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := name
	s.gaugeValues[key] = value
	if _, ok := s.gauges[name]; ok {
		return
	}
	g, err := s.meter.Float64ObservableGauge(name)
	if err != nil {
		return
	}
	s.gauges[name] = g
	reg, err := s.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		o.ObserveFloat64(g, s.gaugeValues[key])
		return nil
	}, g)
	if err == nil {
		s.gaugeReg = reg
	}
}

// Close unregisters the gauge observation callback, if one was
// registered.
func (s *OtelSink) Close() error {
	s.mu.Lock()
	reg := s.gaugeReg
	s.mu.Unlock()
	if reg == nil {
		return nil
	}
	return reg.Unregister()
}

func attrsFromPairs(labels []string) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	for i := 0; i+1 < len(labels); i += 2 {
		attrs = append(attrs, attribute.String(labels[i], labels[i+1]))
	}
	return attrs
}

var _ Sink = (*OtelSink)(nil)
