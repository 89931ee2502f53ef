package server

import (
	"net/http"

	"github.com/jrsteele09/classics-portal/internal/metrics"
)

func (s *Server) initRoutes() {
	submitLine := ChainMiddleware(s.SubmitLineHandler(), s.APIMiddleware(s.RateLimitMiddleware)...)
	s.RegisterRouteFunc("POST "+RouteSubmitLine, submitLine)
	s.RegisterRouteFunc("OPTIONS "+RouteSubmitLine, ChainMiddleware(noContent, s.APIMiddleware()...))

	s.RegisterRouteFunc("GET "+RouteLivez, ChainMiddleware(s.LivezHandler(), s.RecoverMiddleware))
	s.RegisterRouteHandler("GET "+RouteMetrics, metrics.Handler())
}

func (s *Server) LivezHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// CORS preflights are answered by CorsMiddleware before this runs.
func noContent(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}
