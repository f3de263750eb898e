// Package observability wires OpenTelemetry tracing and metrics for the
// security layer: context builds, negotiations and listener connections.
//
// Tracing:
//
//	tp, err := observability.InitTracer(ctx, observability.DefaultTracerConfig("brokersecd"))
//	defer tp.Shutdown(ctx)
//
//	ctx, span := observability.StartSpan(ctx, observability.SpanContextBuild)
//	defer span.End()
//
// Metrics:
//
//	mp, err := observability.InitMeter(ctx, observability.DefaultMeterConfig("brokersecd"))
//	defer mp.Shutdown(ctx)
//
//	observability.DefaultMetrics().RecordNegotiationEnd(ctx, "amqps", "PLAIN", "authenticated", d)
package observability
