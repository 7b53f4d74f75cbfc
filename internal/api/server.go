package api

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/org/passvault/internal/auth"
	"github.com/org/passvault/internal/directory"
	"github.com/org/passvault/internal/secret"
	"github.com/org/passvault/internal/storage"
	"github.com/rs/zerolog/log"
)

// Config holds server configuration.
type Config struct {
	ListenAddr     string
	TLSCertFile    string
	TLSKeyFile     string
	RateLimitRPS   float64
	RateLimitBurst int
	// TokenTTL is the lifetime of tokens issued without an explicit ttl.
	TokenTTL time.Duration
	// MaxUploadSize bounds multipart bodies on file uploads.
	MaxUploadSize int64
}

// Server is the API server.
type Server struct {
	store     storage.Store
	tokens    *auth.TokenService
	secrets   *secret.Service
	directory *directory.Service
	cfg       Config
	httpSrv   *http.Server
}

// NewServer creates a Server over already wired services.
func NewServer(store storage.Store, tokens *auth.TokenService, secrets *secret.Service, dir *directory.Service, cfg Config) *Server {
	if cfg.MaxUploadSize <= 0 {
		cfg.MaxUploadSize = 10 << 20
	}
	return &Server{
		store:     store,
		tokens:    tokens,
		secrets:   secrets,
		directory: dir,
		cfg:       cfg,
	}
}

// BuildRouter wires up all routes and returns a chi router.
func (s *Server) BuildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(accessLogMiddleware)
	r.Use(metricsMiddleware)
	if s.cfg.RateLimitRPS > 0 {
		r.Use(newRateLimiter(s.cfg.RateLimitRPS, s.cfg.RateLimitBurst).middleware)
	}

	// Prometheus metrics (unauthenticated)
	r.Handle("/metrics", MetricsHandler(s.store))

	// Public routes (no auth required)
	r.Group(func(r chi.Router) {
		r.Get("/v1/sys/health", s.HealthHandler)
		r.Post("/v1/sys/init", s.InitHandler)
	})

	// Authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware(s.tokens))

		r.Get("/v1/sys/audit-log", s.AuditLogHandler)

		// Token auth
		r.Post("/v1/auth/token/create", s.TokenCreateHandler)
		r.Get("/v1/auth/token/lookup-self", s.TokenLookupSelfHandler)
		r.Post("/v1/auth/token/revoke-self", s.TokenRevokeSelfHandler)

		r.Route("/v1/secrets", func(r chi.Router) {
			r.Get("/", s.SecretListHandler)
			r.Post("/", s.SecretCreateHandler)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.SecretGetHandler)
				r.Put("/", s.SecretUpdateHandler)
				r.Delete("/", s.SecretDeleteHandler)
				r.Get("/audit", s.SecretAuditHandler)

				r.Get("/permissions", s.PermissionListHandler)
				r.Put("/permissions", s.PermissionGrantHandler)
				r.Delete("/permissions/{principal}", s.PermissionRevokeHandler)

				r.Put("/otp", s.OTPSetupHandler)
				r.Delete("/otp", s.OTPRemoveHandler)
				r.Get("/otp/code", s.OTPCodeHandler)

				r.Get("/files", s.FileListHandler)
				r.Post("/files", s.FileUploadHandler)
				r.Get("/files/{fileID}", s.FileDownloadHandler)
				r.Delete("/files/{fileID}", s.FileDeleteHandler)
			})
		})

		r.Route("/v1/users", func(r chi.Router) {
			r.Get("/", s.UserListHandler)
			r.Post("/", s.UserCreateHandler)
			r.Get("/{id}", s.UserGetHandler)
			r.Patch("/{id}", s.UserUpdateHandler)
			r.Delete("/{id}", s.UserDeleteHandler)
			r.Delete("/{id}/tokens", s.UserRevokeTokensHandler)
		})

		r.Route("/v1/groups", func(r chi.Router) {
			r.Get("/", s.GroupListHandler)
			r.Post("/", s.GroupCreateHandler)
			r.Delete("/{id}", s.GroupDeleteHandler)
			r.Get("/{id}/members", s.GroupMembersHandler)
			r.Put("/{id}/members/{userID}", s.GroupAddMemberHandler)
			r.Delete("/{id}/members/{userID}", s.GroupRemoveMemberHandler)
		})
	})

	return r
}

// Start begins listening on the configured address.
func (s *Server) Start() error {
	handler := s.BuildRouter()

	s.httpSrv = &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if s.cfg.TLSCertFile != "" && s.cfg.TLSKeyFile != "" {
		s.httpSrv.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
			CurvePreferences: []tls.CurveID{
				tls.CurveP256,
				tls.X25519,
			},
		}
		log.Info().Str("addr", s.cfg.ListenAddr).Msg("starting HTTPS server")
		return s.httpSrv.ListenAndServeTLS(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
	}

	log.Info().Str("addr", s.cfg.ListenAddr).Msg("starting HTTP server")
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
