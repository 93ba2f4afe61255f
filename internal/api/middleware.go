package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const headerRequestID = "X-Request-ID"

// loggingWriter wraps http.ResponseWriter to capture status and size.
type loggingWriter struct {
	w            http.ResponseWriter
	statusCode   int
	bytesWritten int64
}

func (lw *loggingWriter) Header() http.Header {
	return lw.w.Header()
}

func (lw *loggingWriter) WriteHeader(code int) {
	lw.statusCode = code
	lw.w.WriteHeader(code)
}

func (lw *loggingWriter) Write(b []byte) (int, error) {
	if lw.statusCode == 0 {
		lw.statusCode = http.StatusOK
	}
	n, err := lw.w.Write(b)
	lw.bytesWritten += int64(n)
	return n, err
}

// Unwrap returns the underlying ResponseWriter for http.ResponseController.
func (lw *loggingWriter) Unwrap() http.ResponseWriter {
	return lw.w
}

// recoveryMiddleware recovers from panics to prevent server crashes.
func recoveryMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			wrapper := &loggingWriter{w: w}

			defer func() {
				if err := recover(); err != nil {
					logger.Error("panic recovered",
						"error", err,
						"path", r.URL.Path,
						"headers_sent", wrapper.statusCode != 0,
					)
					if wrapper.statusCode == 0 {
						writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
					}
				}
			}()
			next.ServeHTTP(wrapper, r)
		})
	}
}

// requestIDMiddleware assigns each request a UUID and echoes it in the
// X-Request-ID response header. A valid client-supplied id is reused so
// callers can correlate; anything unparseable is replaced.
func requestIDMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(headerRequestID)
			if _, err := uuid.Parse(id); err != nil {
				id = uuid.NewString()
			}
			r.Header.Set(headerRequestID, id)
			w.Header().Set(headerRequestID, id)
			next.ServeHTTP(w, r)
		})
	}
}

// loggingMiddleware logs request details including latency, status, and size.
// Reuses an existing *loggingWriter from outer middleware to avoid
// double-wrapping the ResponseWriter.
func loggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapper, ok := w.(*loggingWriter)
			if !ok {
				wrapper = &loggingWriter{w: w}
			}

			next.ServeHTTP(wrapper, r)

			status := wrapper.statusCode
			if status == 0 {
				status = http.StatusOK
			}

			logger.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"bytes", wrapper.bytesWritten,
				"duration", time.Since(start),
				"ip", r.RemoteAddr,
				"request_id", r.Header.Get(headerRequestID),
			)
		})
	}
}

// corsMiddleware handles CORS preflight and response headers.
func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	originSet := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		originSet[o] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			if _, ok := originSet[origin]; ok {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
				w.Header().Set("Access-Control-Max-Age", "3600")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// chain applies middleware in order: first middleware wraps outermost.
func chain(h http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}
