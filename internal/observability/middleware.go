package observability

import (
	"bufio"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Attribute keys used on HTTP metrics.
var (
	AttrHTTPMethod     = attribute.Key("http.method")
	AttrHTTPTarget     = attribute.Key("http.target")
	AttrHTTPStatusCode = attribute.Key("http.status_code")
)

// HTTPMiddleware returns middleware that instruments HTTP requests with
// OpenTelemetry metrics. If telemetry is disabled it acts as a pass-through.
func HTTPMiddleware(tel *Telemetry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if tel == nil || tel.Metrics() == nil {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rw, r)

			duration := time.Since(start)
			metrics := tel.Metrics()

			attrs := []attribute.KeyValue{
				AttrHTTPMethod.String(r.Method),
				AttrHTTPTarget.String(r.URL.Path),
				AttrHTTPStatusCode.Int(rw.status),
			}

			metrics.HTTPRequestCount.Add(r.Context(), 1, metric.WithAttributes(attrs...))
			metrics.HTTPRequestDuration.Record(r.Context(), float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack passes through to the underlying writer so the WebSocket upgrade
// works behind this middleware.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	return hj.Hijack()
}
