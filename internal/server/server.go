package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/huddle-chat/huddle/internal/auth"
	"github.com/huddle-chat/huddle/internal/database"
	"github.com/huddle-chat/huddle/internal/storage"
	"go.uber.org/zap"
)

// Server is the Huddle room server: REST API, live channel hub and store
type Server struct {
	config   *Config
	logger   *zap.Logger
	db       *database.DB
	disk     *storage.Disk
	tokens   *auth.TokenManager
	hub      *Hub
	typing   *TypingManager
	handlers *Handlers
	metrics  *Metrics
	upgrader websocket.Upgrader
	router   chi.Router
}

// New creates a new server instance
func New(config *Config, logger *zap.Logger) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	tokens, err := auth.NewTokenManager(config.JWTSecret, config.TokenTTL.Duration)
	if err != nil {
		return nil, err
	}

	disk, err := storage.NewDisk(config.UploadDir)
	if err != nil {
		return nil, err
	}

	db, err := database.New(config.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	metrics := NewMetrics()
	hub := NewHub(metrics, logger)
	typing := NewTypingManager(hub, config.TypingTimeout.Duration, logger)
	handlers := NewHandlers(db, hub, typing, tokens, metrics, logger)
	hub.onUnregister = handlers.HandleDisconnect

	s := &Server{
		config:   config,
		logger:   logger,
		db:       db,
		disk:     disk,
		tokens:   tokens,
		hub:      hub,
		typing:   typing,
		handlers: handlers,
		metrics:  metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Terminal clients send no Origin header; browsers are not a target
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", s.metrics.Handler())

	r.With(s.requireAuth(true)).Get("/ws", s.handleWebSocket)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Post("/register", s.handleRegister)
		r.Post("/login", s.handleLogin)
		r.With(s.requireAuth(false)).Get("/me", s.handleMe)

		r.Route("/teams", func(r chi.Router) {
			r.With(s.requireAuth(false)).Get("/", s.handleListTeams)

			r.Route("/{teamID}", func(r chi.Router) {
				r.With(s.requireAuth(false), s.requireMember).Get("/", s.handleGetTeam)
				r.With(s.requireAuth(false), s.requireMember).Get("/messages", s.handleListMessages)
				r.With(s.requireAuth(false), s.requireMember).Post("/messages", s.handleCreateMessage)
				r.With(s.requireAuth(false), s.requireMember).Post("/messages/{messageID}/reactions", s.handleToggleReaction)
				r.With(s.requireAuth(true), s.requireMember).Get("/messages/{messageID}/attachments/{index}", s.handleDownload)
			})
		})
	})
	return r
}

// Handler returns the HTTP handler serving every route
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start runs the hub and the typing sweeper until ctx ends
func (s *Server) Start(ctx context.Context) {
	go s.hub.Run(ctx)
	go s.typing.Run(ctx)
}

// Run serves HTTP on the configured address until ctx ends, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.Start(ctx)

	addr := s.config.Addr()
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	s.logger.Info("huddle server listening",
		zap.String("addr", addr),
		zap.String("websocket", fmt.Sprintf("ws://%s/ws", addr)),
		zap.String("api", fmt.Sprintf("http://%s/api", addr)))

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")
	shutdownCtx, stop := context.WithTimeout(context.Background(), 30*time.Second)
	defer stop()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("http server shutdown", zap.Error(err))
	}
	return nil
}

// Close releases the database
func (s *Server) Close() error {
	return s.db.Close()
}

// DB exposes the store for bootstrap tasks such as seeding a team
func (s *Server) DB() *database.DB {
	return s.db
}
