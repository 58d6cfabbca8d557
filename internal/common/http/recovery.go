package http

import (
	"errors"
	"net/http"
	"runtime/debug"

	"github.com/AlibekovAA/class-schedule/internal/common/logger"
	"github.com/AlibekovAA/class-schedule/internal/observability/metrics"
)

// RecoveryMiddleware turns a handler panic into a 500 envelope. It must sit
// inside TraceIDMiddleware so the log entry carries the trace id.
func RecoveryMiddleware(log *logger.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
					panic(rec)
				}

				log.WithFields(r.Context(), logger.Fields{
					"method": r.Method,
					"path":   r.URL.Path,
					"action": "panic_recovered",
				}).Criticalf("panic recovered: %v\n%s", rec, debug.Stack())
				metrics.HTTPErrorsTotal.WithLabelValues("500", "panic", r.Method).Inc()
				WriteErrorEnvelope(w, http.StatusInternalServerError, CodeUnknown, "internal server error", nil, TraceIDFromContext(r.Context()))
			}()
			next.ServeHTTP(w, r)
		})
	}
}
