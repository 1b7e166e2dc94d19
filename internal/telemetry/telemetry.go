// Package telemetry holds the OpenTelemetry instruments of the codec.
package telemetry

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/arloliu/urlstate/errs"
)

const instrumentationName = "github.com/arloliu/urlstate"

// Telemetry creates spans for pipeline stages and records codec metrics.
// The zero value is not usable; create one with New.
type Telemetry struct {
	tracer trace.Tracer

	encodes        metric.Int64Counter
	decodeFailures metric.Int64Counter
	fragmentBytes  metric.Int64Histogram
	degradations   metric.Int64Counter
}

// New creates the instruments. Nil providers fall back to the otel globals,
// which are no-ops until the application installs real ones.
func New(tp trace.TracerProvider, mp metric.MeterProvider) (*Telemetry, error) {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(instrumentationName)

	t := &Telemetry{tracer: tp.Tracer(instrumentationName)}

	var err error
	t.encodes, err = meter.Int64Counter(
		"urlstate_encode_total",
		metric.WithDescription("Total number of fragments written by the codec"),
	)
	if err != nil {
		return nil, err
	}

	t.decodeFailures, err = meter.Int64Counter(
		"urlstate_decode_failures_total",
		metric.WithDescription("Total number of fragments that failed to decode, by reason"),
	)
	if err != nil {
		return nil, err
	}

	t.fragmentBytes, err = meter.Int64Histogram(
		"urlstate_fragment_bytes",
		metric.WithDescription("Length of encoded fragments"),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(128, 256, 512, 1024, 1536, 2000, 4096, 8192),
	)
	if err != nil {
		return nil, err
	}

	t.degradations, err = meter.Int64Counter(
		"urlstate_degradations_total",
		metric.WithDescription("Total number of overflow degradation steps applied, by step"),
	)
	if err != nil {
		return nil, err
	}

	return t, nil
}

// StartStage starts a span for one pipeline stage.
func (t *Telemetry) StartStage(ctx context.Context, stage string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "urlstate."+stage, trace.WithAttributes(attrs...))
}

// EndStage records err on span, if any, and ends it.
func EndStage(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// RecordEncode records a fragment that was produced, and the steps it took to fit.
func (t *Telemetry) RecordEncode(ctx context.Context, size int, applied []string) {
	t.encodes.Add(ctx, 1)
	t.fragmentBytes.Record(ctx, int64(size))
	for _, step := range applied {
		t.degradations.Add(ctx, 1, metric.WithAttributes(attribute.String("step", step)))
	}
}

// RecordDecodeFailure counts a failed decode under the reason derived from err.
func (t *Telemetry) RecordDecodeFailure(ctx context.Context, err error) {
	t.decodeFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", FailureReason(err))))
}

// FailureReason maps an error to a low-cardinality label.
func FailureReason(err error) string {
	switch {
	case errors.Is(err, errs.ErrDictionaryMismatch):
		return "dictionary_mismatch"
	case errors.Is(err, errs.ErrDictionaryIntegrity):
		return "dictionary_integrity"
	case errors.Is(err, errs.ErrDictionaryNotFound):
		return "dictionary_not_found"
	case errors.Is(err, errs.ErrPayloadTooLarge):
		return "payload_too_large"
	case errors.Is(err, errs.ErrCorruptPayload):
		return "corrupt_payload"
	case errors.Is(err, errs.ErrFrame):
		return "frame"
	case errors.Is(err, errs.ErrCorruptState):
		return "corrupt_state"
	default:
		return "other"
	}
}
