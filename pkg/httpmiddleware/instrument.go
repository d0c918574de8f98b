package httpmiddleware

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry provides the OpenTelemetry providers used by Instrument.
type Telemetry interface {
	TracerProvider() trace.TracerProvider
	MeterProvider() metric.MeterProvider
}

// Instrument traces and measures requests with otelhttp. Health probes and
// the paths in skip are passed through untouched, which long-lived streams
// need to keep the raw ResponseWriter.
func Instrument(service string, t Telemetry, skip ...string) Middleware {
	skipped := map[string]bool{"/livez": true, "/readyz": true}
	for _, p := range skip {
		skipped[p] = true
	}
	return func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, service,
			otelhttp.WithTracerProvider(t.TracerProvider()),
			otelhttp.WithMeterProvider(t.MeterProvider()),
			otelhttp.WithFilter(func(r *http.Request) bool {
				return !skipped[r.URL.Path]
			}),
		)
	}
}
