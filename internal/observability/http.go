package observability

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const traceHeader = "X-Trace-ID"

// TraceMiddleware tags every request with a trace ID, minting one when the
// caller did not supply one, and echoes it on the response so clients can
// correlate their logs with ours.
func TraceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := strings.TrimSpace(r.Header.Get(traceHeader))
		if traceID == "" {
			traceID = uuid.NewString()
		}
		w.Header().Set(traceHeader, traceID)
		next.ServeHTTP(w, r.WithContext(ContextWithTraceID(r.Context(), traceID)))
	})
}

func LoggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			started := time.Now()
			meta := &responseMeta{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(meta, r)
			logger.InfoContext(r.Context(), "http_request",
				slog.String("trace_id", TraceIDFromContext(r.Context())),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", meta.status),
				slog.Int64("duration_ms", time.Since(started).Milliseconds()),
				slog.Int("bytes", meta.written),
			)
		})
	}
}

func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		meta := &responseMeta{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(meta, r)

		status := strconv.Itoa(meta.status)
		route := routeLabel(r.URL.Path)
		httpRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
		httpRequestDurationSeconds.WithLabelValues(r.Method, route, status).Observe(time.Since(started).Seconds())
	})
}

// routeLabel keeps the path label bounded: arbitrary request paths must not
// mint new metric series.
func routeLabel(path string) string {
	if strings.HasPrefix(path, "/v1/") {
		return path
	}
	return "other"
}

type responseMeta struct {
	http.ResponseWriter
	status  int
	written int
}

func (m *responseMeta) WriteHeader(status int) {
	m.status = status
	m.ResponseWriter.WriteHeader(status)
}

func (m *responseMeta) Write(body []byte) (int, error) {
	n, err := m.ResponseWriter.Write(body)
	m.written += n
	return n, err
}
