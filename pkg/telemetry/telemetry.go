// Package telemetry sets up tracing of update cycles.
package telemetry

import (
	"context"
	"io"

	"github.com/hashicorp/go-hclog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// Name is the instrumentation scope of every nrepo span.
const Name = "github.com/the-maldridge/nrepo"

// Settings toggles tracing.
type Settings struct {
	Enabled bool `mapstructure:"enabled"`
}

// Init installs a stdout span exporter writing to w when tracing is
// enabled; otherwise the global no-op provider stays in place.  The
// returned function flushes and stops the exporter.
func Init(l hclog.Logger, s Settings, service string, w io.Writer) func(context.Context) error {
	l = l.Named("telemetry")
	if !s.Enabled {
		return func(context.Context) error { return nil }
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		l.Warn("Telemetry exporter init failed", "error", err)
		return func(context.Context) error { return nil }
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(service),
		)),
	)
	otel.SetTracerProvider(provider)
	l.Debug("Tracing enabled", "service", service)
	return provider.Shutdown
}

// Tracer returns the nrepo tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(Name)
}
