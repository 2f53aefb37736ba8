package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/burrowhq/burrow/pkg/audit"
	"github.com/burrowhq/burrow/pkg/auth"
	"github.com/burrowhq/burrow/pkg/config"
	"github.com/burrowhq/burrow/pkg/environment"
	"github.com/burrowhq/burrow/pkg/hub"
	"github.com/burrowhq/burrow/pkg/log"
	"github.com/burrowhq/burrow/pkg/metrics"
	"github.com/burrowhq/burrow/pkg/sandbox"
)

// Server is the REST surface of the control plane. WebSocket endpoints are
// delegated to the hub; everything else is JSON over the envelope shape.
type Server struct {
	auth         *auth.Service
	environments *environment.Service
	sandboxes    *sandbox.Service
	hub          *hub.Hub
	audit        *audit.Recorder
	logger       zerolog.Logger

	requestLimits *auth.LimiterSet
	createLimits  *auth.LimiterSet
	authLimits    *auth.LimiterSet

	router chi.Router
}

func NewServer(cfg *config.Config, authSvc *auth.Service, envs *environment.Service,
	sandboxes *sandbox.Service, h *hub.Hub, recorder *audit.Recorder) *Server {

	s := &Server{
		auth:          authSvc,
		environments:  envs,
		sandboxes:     sandboxes,
		hub:           h,
		audit:         recorder,
		logger:        log.WithComponent("api"),
		requestLimits: auth.NewLimiterSet(cfg.RequestsPerMinute, time.Minute),
		createLimits:  auth.NewLimiterSet(cfg.SandboxCreatesPerMinute, time.Minute),
		authLimits:    auth.NewLimiterSet(cfg.AuthAttemptsPer15Min, 15*time.Minute),
	}
	s.router = s.buildRouter(cfg.CORSOrigin)
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter(corsOrigin string) chi.Router {
	r := chi.NewRouter()

	r.Use(s.recoverer)
	r.Use(s.instrument)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{corsOrigin},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Unauthenticated surface.
	r.Get("/health", metrics.HealthHandler())
	r.Get("/health/ready", metrics.ReadyHandler())
	r.Get("/health/live", metrics.LivenessHandler())
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/auth", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(s.authAttemptLimit)
			r.Post("/signup", s.handleSignup)
			r.Post("/login", s.handleLogin)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.auth.Middleware(s.onAuthError))
			r.Use(s.userRateLimit)
			r.Get("/keys", s.handleListKeys)
			r.Post("/keys", s.handleCreateKey)
			r.Delete("/keys/{id}", s.handleRevokeKey)
		})
	})

	// Authenticated resource surface.
	r.Group(func(r chi.Router) {
		r.Use(s.auth.Middleware(s.onAuthError))
		r.Use(s.userRateLimit)

		r.Route("/environments", func(r chi.Router) {
			r.Post("/", s.handleCreateEnvironment)
			r.Get("/", s.handleListEnvironments)
			r.Get("/{id}", s.handleGetEnvironment)
			r.Put("/{id}", s.handleUpdateEnvironment)
			r.Delete("/{id}", s.handleDeleteEnvironment)
			r.Get("/{id}/versions", s.handleListVersions)
			r.Post("/{id}/secrets", s.handleSetSecret)
			r.Delete("/{id}/secrets/{key}", s.handleDeleteSecret)
		})

		r.Route("/sandboxes", func(r chi.Router) {
			r.With(s.createRateLimit).Post("/", s.handleCreateSandbox)
			r.Get("/", s.handleListSandboxes)
			r.Get("/{id}", s.handleGetSandbox)
			r.Delete("/{id}", s.handleDestroySandbox)
			r.Post("/{id}/start", s.handleStartSandbox)
			r.Post("/{id}/stop", s.handleStopSandbox)
			r.Post("/{id}/restart", s.handleRestartSandbox)
			r.With(s.createRateLimit).Post("/{id}/replicate", s.handleReplicateSandbox)
			r.Get("/{id}/logs", s.handleSandboxLogs)
			r.Get("/{id}/metrics", s.handleSandboxMetrics)
			r.Post("/{id}/exec", s.handleSandboxExec)
		})

		if s.hub != nil {
			s.hub.Routes(r)
		}
	})

	return r
}

func (s *Server) onAuthError(w http.ResponseWriter, _ *http.Request, err error) {
	respondError(w, err)
}

// identity returns the authenticated principal; the auth middleware
// guarantees it is present on every route that reaches a handler.
func identity(r *http.Request) *auth.Identity {
	id, _ := auth.IdentityFrom(r.Context())
	return id
}

// record captures an audit entry for a mutating operation.
func (s *Server) record(r *http.Request, action, resourceType, resourceID string, metadata map[string]string) {
	if s.audit == nil {
		return
	}
	id := identity(r)
	s.audit.Record(audit.Entry{
		UserID:       id.UserID,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Metadata:     metadata,
		ClientIP:     auth.ClientIP(r),
		ClientAgent:  r.UserAgent(),
	})
}
