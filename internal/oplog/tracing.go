package oplog

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/oplog/internal/model"
)

const instrumentationName = "github.com/roach88/oplog/internal/oplog"

// Option configures a service.
type Option func(*options)

type options struct {
	tracer trace.Tracer
}

// WithTracerProvider sets the provider service spans are recorded with.
// Defaults to the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		o.tracer = tp.Tracer(instrumentationName)
	}
}

func buildOptions(opts []Option) options {
	o := options{tracer: otel.Tracer(instrumentationName)}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func startSpan(ctx context.Context, tracer trace.Tracer, name string, owned model.OwnedWorkerID, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs,
		attribute.String("oplog.worker", owned.WorkerID.String()),
		attribute.String("oplog.environment", string(owned.EnvironmentID)),
	)
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// endSpan records err on span and ends it.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
