// Package server exposes the authentication subsystem over HTTP and guards
// the health-data API routes behind bearer-token middleware.
package server

import (
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/healthguide/go-health-api/auth/audit"
	"github.com/healthguide/go-health-api/auth/authorize"
	"github.com/healthguide/go-health-api/auth/oidcflow"
	"github.com/healthguide/go-health-api/auth/token"
	"github.com/healthguide/go-health-api/internal/config"
)

type Server struct {
	env       string
	mux       *http.ServeMux
	routes    []string
	config    config.Config
	flow      *oidcflow.Controller
	validator *token.Validator
	tokens    *token.Manager
	authz     *authorize.Authorizer
	recorder  audit.Recorder
	logger    zerolog.Logger
}

func New(cfg config.Config, flow *oidcflow.Controller, validator *token.Validator, tokens *token.Manager, authz *authorize.Authorizer, recorder audit.Recorder, logger zerolog.Logger) (*Server, error) {
	if flow == nil {
		return nil, errors.New("[Server New] OIDC flow controller is required")
	}
	if validator == nil {
		return nil, errors.New("[Server New] token validator is required")
	}
	if tokens == nil {
		return nil, errors.New("[Server New] token manager is required")
	}
	if authz == nil {
		return nil, errors.New("[Server New] authorizer is required")
	}
	if recorder == nil {
		return nil, errors.New("[Server New] audit recorder is required")
	}

	s := &Server{
		env:       cfg.Env,
		mux:       http.NewServeMux(),
		config:    cfg,
		flow:      flow,
		validator: validator,
		tokens:    tokens,
		authz:     authz,
		recorder:  recorder,
		logger:    logger,
	}

	s.initRoutes()
	s.logRoutes()

	return s, nil
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

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return
	}
	for _, route := range s.routes {
		parts := strings.SplitN(route, " ", 2)
		if len(parts) > 1 {
			s.logger.Info().Str("method", parts[0]).Str("path", parts[1]).Msg("route registered")
		} else {
			s.logger.Info().Str("path", parts[0]).Msg("route registered")
		}
	}
}
