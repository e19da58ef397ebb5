package api

import (
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/vcamlab/camswitch/internal/logging"
)

// requestLogMiddleware writes one line per request, leveled by outcome.
// Preflight noise stays at debug.
func requestLogMiddleware(ctx huma.Context, next func(huma.Context)) {
	start := time.Now()
	next(ctx)

	logger := logging.GetLogger("http")
	status := ctx.Status()
	args := []any{
		"method", ctx.Method(),
		"path", ctx.URL().Path,
		"status", status,
		"duration", time.Since(start),
		"remote", ctx.RemoteAddr(),
	}
	if q := ctx.URL().RawQuery; q != "" {
		args = append(args, "query", q)
	}

	switch {
	case ctx.Method() == http.MethodOptions:
		logger.Debug("Request handled", args...)
	case status >= http.StatusInternalServerError:
		logger.Error("Request failed", args...)
	case status >= http.StatusBadRequest:
		logger.Warn("Request rejected", args...)
	default:
		logger.Info("Request handled", args...)
	}
}
