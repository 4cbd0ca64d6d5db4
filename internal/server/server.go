package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/jamgate/internal/auth"
	"github.com/desertthunder/jamgate/internal/services"
	"github.com/desertthunder/jamgate/internal/shared"
	"github.com/go-chi/chi/v5"
)

// Server assembles the gateway's router, middleware stack, and HTTP server.
type Server struct {
	config     *shared.Config
	logger     *log.Logger
	router     chi.Router
	httpServer *http.Server
}

// Deps carries the collaborators a Server needs.
type Deps struct {
	Config   *shared.Config
	Provider services.Provider
	Users    auth.UserStore
	Logger   *log.Logger
}

// New builds a Server: session layer, credential store, reconciler, metrics,
// and all routes with their middleware.
//
// Middleware order is logging → metrics → CORS for every route; the rate
// limiter additionally wraps the provider-facing routes, and the session
// gate wraps /login and /auth/token.
func New(deps Deps) (*Server, error) {
	if deps.Config == nil {
		return nil, fmt.Errorf("%w: config is required", shared.ErrInvalidConfig)
	}
	if deps.Provider == nil {
		return nil, fmt.Errorf("%w: provider is required", shared.ErrInvalidConfig)
	}
	if deps.Users == nil {
		return nil, fmt.Errorf("%w: user store is required", shared.ErrInvalidConfig)
	}
	logger := deps.Logger
	if logger == nil {
		logger = shared.NewLogger(nil)
	}

	config := deps.Config

	sessionManager := NewSessionManager(config.Server.SessionSecret, config.Server.SessionMaxAge)
	credentials := auth.NewCredentialStore()
	reconciler := auth.NewReconciler(deps.Users, shared.WithLogger(logger, "component", "reconciler"))
	collector := NewCollector()
	limiter := NewRateLimiter(config.Server.RatePerSecond, config.Server.RateBurst)

	handler := NewAuthHandler(
		deps.Provider,
		reconciler,
		credentials,
		sessionManager,
		config.Frontend,
		shared.WithLogger(logger, "component", "auth"),
		collector,
	)

	router := chi.NewRouter()
	router.Use(RequestLogger(logger), collector.Middleware(), CORS(config.Frontend.Origin))

	router.Get("/health", handler.Health)
	router.Method(http.MethodGet, "/metrics", collector.Handler())
	router.Get("/logout", handler.Logout)

	// Session-gated routes.
	router.Group(func(r chi.Router) {
		r.Use(RequireSession(sessionManager, collector))
		r.Get("/login", handler.Login)
		r.Get("/auth/token", handler.Tokens)
	})

	// Provider-facing routes get the rate limiter.
	router.Group(func(r chi.Router) {
		r.Use(limiter.Middleware())
		r.Get("/auth/spotify", handler.Begin)
		r.Get("/auth/spotify/callback", handler.Callback)
		r.Get("/refresh_token", handler.RefreshToken)
	})

	addr := fmt.Sprintf("%s:%d", config.Server.Host, config.Server.Port)

	return &Server{
		config: config,
		logger: logger,
		router: router,
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
		},
	}, nil
}

// Handler returns the assembled router. Intended for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr returns the address the server listens on.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Start runs the HTTP server until ctx is cancelled, then shuts down
// gracefully with a five second drain window.
func (s *Server) Start(ctx context.Context) error {
	errs := make(chan error, 1)

	go func() {
		s.logger.Info("gateway listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errs <- err
		}
	}()

	select {
	case err := <-errs:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	return nil
}
