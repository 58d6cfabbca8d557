package http

import (
	"net/http"

	"github.com/AlibekovAA/class-schedule/internal/common/constants"
	"github.com/AlibekovAA/class-schedule/internal/common/httpmetrics"
	"github.com/AlibekovAA/class-schedule/internal/common/logger"
)

// BuildBaseHandler wraps handler with the middleware shared by every route,
// outermost first: security headers, trace id, panic recovery, body limit and
// the Prometheus collector.
func BuildBaseHandler(log *logger.Logger, handler http.Handler) http.Handler {
	collector := httpmetrics.New()
	recovery := RecoveryMiddleware(log)
	maxRequestSize := MaxRequestSizeMiddleware(constants.DefaultMaxRequestSize)

	return SecurityHeadersMiddleware(TraceIDMiddleware(recovery(maxRequestSize(collector.Wrap(handler)))))
}
