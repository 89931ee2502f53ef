package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/jrsteele09/classics-portal/backend"
	"github.com/jrsteele09/classics-portal/internal/config"
	"github.com/jrsteele09/classics-portal/turnstile"
	"github.com/rs/zerolog/log"
)

// ChallengeVerifier checks a bot-challenge response. *turnstile.Verifier implements it.
type ChallengeVerifier interface {
	Verify(ctx context.Context, response, remoteIP string) (*turnstile.Result, error)
}

// LineAppender forwards a line to the classics API. *backend.Client implements it.
type LineAppender interface {
	AppendLine(ctx context.Context, credential string, line backend.LineSubmission) (*backend.UpstreamResult, error)
}

type Server struct {
	env      string // Environment (e.g., "DEV", "PROD")
	mux      *http.ServeMux
	routes   []string
	config   config.Config
	verifier ChallengeVerifier
	upstream LineAppender
	limiter  *ipLimiter

	trustedProxies config.TrustedProxies
}

func New(config config.Config, verifier ChallengeVerifier, upstream LineAppender) *Server {
	s := &Server{
		env:      config.GetEnv(),
		mux:      http.NewServeMux(),
		config:   config,
		verifier: verifier,
		upstream: upstream,
		limiter:  newIPLimiter(config.GetSubmitRatePerSecond(), config.GetSubmitRateBurst()),

		trustedProxies: config.GetTrustedProxies(),
	}

	s.initRoutes()
	s.logRoutes()

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.routes = append(s.routes, pattern)
	s.mux.Handle(pattern, handler)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

// Close stops background work owned by the server.
func (s *Server) Close() {
	s.limiter.stop()
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return // Skip logging in non-development environments
	}
	for _, route := range s.routes {
		parts := strings.SplitN(route, " ", 2)

		if len(parts) > 1 {
			logRoute(parts[0], parts[1])
		} else {
			logRoute("", parts[0])
		}
	}
}

func logRoute(method, path string) {
	log.Info().Msgf("[%-19s] %s", colourMethod(method), path)
}

func colourMethod(method string) string {
	paddedMethod := fmt.Sprintf(" %-7s", method)
	if color, ok := methodColors[method]; ok {
		return color + paddedMethod + ResetColor
	}
	return Gray + paddedMethod + ResetColor
}
