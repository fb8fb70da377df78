package blob

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("event-board/internal/blob")

// Observer receives the outcome of every blob operation.
type Observer interface {
	RecordPut(duration time.Duration, success bool)
	RecordDelete(duration time.Duration, success bool)
}

// PrometheusObserver exports blob operation latency and failures.
type PrometheusObserver struct {
	duration *prometheus.HistogramVec
	failures *prometheus.CounterVec
}

// NewPrometheusObserver registers the blob metrics on reg (the default
// registerer when nil). Registering twice reuses the existing collectors.
func NewPrometheusObserver(namespace string, reg prometheus.Registerer) (*PrometheusObserver, error) {
	if namespace == "" {
		namespace = "event_board"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	o := &PrometheusObserver{
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "blob",
			Name:      "operation_duration_seconds",
			Help:      "Latency of blob store operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "blob",
			Name:      "operation_failures_total",
			Help:      "Blob store operations that did not succeed.",
		}, []string{"operation"}),
	}

	if err := reg.Register(o.duration); err != nil {
		are, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return nil, fmt.Errorf("register blob histogram: %w", err)
		}
		existing, ok := are.ExistingCollector.(*prometheus.HistogramVec)
		if !ok {
			return nil, fmt.Errorf("register blob histogram: %w", err)
		}
		o.duration = existing
	}
	if err := reg.Register(o.failures); err != nil {
		are, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return nil, fmt.Errorf("register blob counter: %w", err)
		}
		existing, ok := are.ExistingCollector.(*prometheus.CounterVec)
		if !ok {
			return nil, fmt.Errorf("register blob counter: %w", err)
		}
		o.failures = existing
	}
	return o, nil
}

func (o *PrometheusObserver) RecordPut(d time.Duration, success bool) {
	o.record("put", d, success)
}

func (o *PrometheusObserver) RecordDelete(d time.Duration, success bool) {
	o.record("delete", d, success)
}

func (o *PrometheusObserver) record(op string, d time.Duration, success bool) {
	if o == nil {
		return
	}
	o.duration.WithLabelValues(op).Observe(d.Seconds())
	if !success {
		o.failures.WithLabelValues(op).Inc()
	}
}

type instrumented struct {
	next     Store
	observer Observer
}

// Instrumented wraps next so every call is timed, reported to observer and
// traced.
func Instrumented(next Store, observer Observer) Store {
	return &instrumented{next: next, observer: observer}
}

func (s *instrumented) Put(ctx context.Context, targetKey, localPath string) PutResult {
	ctx, span := tracer.Start(ctx, "blob.Put", trace.WithAttributes(attribute.String("blob.key", targetKey)))
	defer span.End()

	start := time.Now()
	res := s.next.Put(ctx, targetKey, localPath)
	if s.observer != nil {
		s.observer.RecordPut(time.Since(start), res.Success)
	}
	if !res.Success {
		span.SetStatus(codes.Error, res.Error)
	}
	return res
}

func (s *instrumented) Delete(ctx context.Context, keyOrURL string) DeleteResult {
	ctx, span := tracer.Start(ctx, "blob.Delete", trace.WithAttributes(attribute.String("blob.ref", keyOrURL)))
	defer span.End()

	start := time.Now()
	res := s.next.Delete(ctx, keyOrURL)
	if s.observer != nil {
		s.observer.RecordDelete(time.Since(start), res.Success)
	}
	if !res.Success {
		span.SetStatus(codes.Error, res.Error)
	}
	return res
}
