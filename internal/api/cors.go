package api

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

// The API serves one small LAN control surface, so CORS is a fixed
// wide-open policy rather than configuration.
const (
	corsMethods = "GET, POST, PUT, DELETE, OPTIONS"
	corsHeaders = "Accept, Authorization, Content-Type, Origin"
	corsMaxAge  = "3600"
)

func setCORSHeaders(set func(name, value string)) {
	set("Access-Control-Allow-Origin", "*")
	set("Access-Control-Allow-Methods", corsMethods)
	set("Access-Control-Allow-Headers", corsHeaders)
	set("Access-Control-Max-Age", corsMaxAge)
}

// corsMiddleware stamps the headers on every routed response.
func corsMiddleware(ctx huma.Context, next func(huma.Context)) {
	setCORSHeaders(ctx.SetHeader)
	next(ctx)
}

// registerPreflight answers OPTIONS on the mux directly, because Huma
// middleware never sees preflight requests for unrouted methods.
func registerPreflight(mux *http.ServeMux) {
	mux.HandleFunc("OPTIONS /", func(w http.ResponseWriter, _ *http.Request) {
		setCORSHeaders(w.Header().Set)
		w.WriteHeader(http.StatusNoContent)
	})
}
