package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

const requestLogKey ContextKey = "requestLog"

// requestLog collects fields that inner handlers learn about a request.
type requestLog struct {
	subject string
}

func noteSubject(ctx context.Context, subject string) {
	if entry, ok := ctx.Value(requestLogKey).(*requestLog); ok {
		entry.subject = subject
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// Logging logs one line per request with its method, path, status,
// duration and, once authenticated, the subject.
func Logging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			entry := &requestLog{}
			recorder := &statusRecorder{ResponseWriter: w}

			next.ServeHTTP(recorder, r.WithContext(context.WithValue(r.Context(), requestLogKey, entry)))

			status := recorder.status
			if status == 0 {
				status = http.StatusOK
			}
			level := slog.LevelInfo
			if status >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			logger.Log(r.Context(), level, "request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"duration", time.Since(start),
				"subject", entry.subject,
			)
		})
	}
}
