// Package tracing installs the process-wide OpenTelemetry trace
// provider. Individual packages call otel.Tracer(name) directly at their
// own call sites rather than depending on this package or a bespoke
// Tracer/Spaner interface, so adding an exporter later never touches
// pipeline, llm, or sqlexec code.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Init installs a process-wide TracerProvider under serviceName and
// returns its Shutdown func. No exporter is wired by default: spans are
// still created, sampled, and available to any in-process span
// inspection (tests, a future OTLP exporter) without changing a single
// instrumented call site.
func Init(serviceName string) (func(context.Context) error, error) {
	res := resource.NewSchemaless(attribute.String("service.name", serviceName))
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}
