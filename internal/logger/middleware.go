package logger

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// RequestLogger logs one line per request and feeds the HTTP counters.
// Requests slower than slow are counted and logged at warn level.
func RequestLogger(slow time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			elapsed := time.Since(start)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			args := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"bytes", ww.BytesWritten(),
				"duration_ms", elapsed.Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
			}

			switch {
			case status >= 500:
				ErrorHttp5xx()
				Logger.Error("http request", args...)
			case status >= 400:
				WarnHttp4xx(status)
				Logger.Info("http request", args...)
			case slow > 0 && elapsed > slow:
				WarnSlowRequest()
				Logger.Warn("slow http request", args...)
			default:
				Logger.Debug("http request", args...)
			}
		})
	}
}
