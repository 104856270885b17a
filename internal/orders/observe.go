package orders

import (
	"context"

	"github.com/ariefcatur/go-order-fulfillment/internal/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentation = "github.com/ariefcatur/go-order-fulfillment"

// Tracer returns the tracer shared by the core packages.
func Tracer() trace.Tracer { return otel.Tracer(instrumentation) }

// Outcome is the metric label for err: "success" or the error kind.
func Outcome(err error) string {
	if err == nil {
		return "success"
	}
	return KindOf(err).String()
}

// Finish ends span and writes the operation log line. Business failures log
// at info, everything else at error.
func Finish(ctx context.Context, base *zap.Logger, op string, span trace.Span, err error, fields ...zap.Field) {
	kind := KindOf(err)
	if span != nil {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, kind.String())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}

	log := logging.FromContext(ctx, base)
	fields = append(fields, zap.String("op", op), zap.String("outcome", Outcome(err)))
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields, zap.String("trace_id", sc.TraceID().String()))
	}
	switch {
	case err == nil:
		log.Info("op_done", fields...)
	case kind.Business():
		log.Info("op_rejected", append(fields, zap.Error(err))...)
	default:
		log.Error("op_failed", append(fields, zap.Error(err))...)
	}
}

func traceID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		return sc.TraceID().String()
	}
	return ""
}
