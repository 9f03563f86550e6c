// Package tracing installs the process-wide OpenTelemetry tracer
// provider. By default the global no-op provider is left in place, so a
// one-shot render pays nothing for the spans internal/store emits around
// its relational transactions and its Maintain run. Setting
// STATUSLINE_TRACE=1 swaps in a stdouttrace exporter so a long-lived
// db-maintain run can be profiled.
package tracing

import (
	"context"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Init installs a stdouttrace-backed provider when STATUSLINE_TRACE=1 is
// set in the environment, and returns a cleanup func that flushes and
// shuts the provider down. When tracing isn't requested, Init is a no-op
// and the returned cleanup does nothing.
func Init() func() {
	if os.Getenv("STATUSLINE_TRACE") != "1" {
		return func() {}
	}

	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return func() {}
	}

	provider := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(provider)

	return func() {
		_ = provider.Shutdown(context.Background())
	}
}
