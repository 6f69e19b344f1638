// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server provides the local HTTP command gateway for privatepdfd.
//
// Endpoints:
//   - GET  /health              - Health check
//   - GET  /ws                  - WebSocket event stream
//   - GET  /api/ollama/ping     - Liveness probe for the Ollama service
//   - GET  /api/ollama/status   - Service and model availability
//   - POST /api/ollama/start    - Start the Ollama service
//   - POST /api/ollama/stop     - Stop the Ollama service
//   - POST /api/chat            - Synchronous chat completion
//   - POST /api/chat/stream     - Streamed chat; chunks arrive over /ws
//   - POST /api/embeddings      - Embedding generation
//   - POST /api/models/pull     - Model download; progress over /ws
//   - POST /api/install         - Managed Ollama install; progress over /ws
//   - GET  /api/settings        - Load persisted settings
//   - PUT  /api/settings        - Save settings
//   - DELETE /api/settings      - Reset settings to defaults
//
// The gateway binds to loopback only and carries no authentication.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jeranaias/privatepdf/internal/events"
	"github.com/jeranaias/privatepdf/internal/ollama"
	"github.com/jeranaias/privatepdf/internal/settings"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// MaxRequestBodySize is the maximum size for request bodies (1MB).
	MaxRequestBodySize = 1 * 1024 * 1024

	// MaxMessageCount is the maximum number of messages in a chat request.
	MaxMessageCount = 100

	// MaxMessageLength is the maximum length of a single message.
	MaxMessageLength = 100000

	// shutdownGrace bounds how long Shutdown waits for in-flight
	// background jobs before giving up on them.
	shutdownGrace = 5 * time.Second
)

// validRoles defines the set of acceptable chat message roles.
var validRoles = map[string]bool{
	"user":      true,
	"assistant": true,
	"system":    true,
}

// ============================================================================
// COLLABORATOR INTERFACES
// ============================================================================

// Starter launches the Ollama service.
type Starter interface {
	Start(ctx context.Context) (string, error)
}

// Stopper terminates the Ollama service.
type Stopper interface {
	Stop(ctx context.Context) (string, error)
}

// RuntimeInstaller downloads and installs the managed Ollama runtime.
type RuntimeInstaller interface {
	Install(ctx context.Context, amdGPU bool) (string, error)
}

// ============================================================================
// SERVER
// ============================================================================

// Server is the local command gateway.
type Server struct {
	addr   string
	router chi.Router
	http   *http.Server

	ollama    *ollama.Client
	launcher  Starter
	stopper   Stopper
	installer RuntimeInstaller
	store     *settings.Store
	hub       *events.Hub
	amdGPU    bool

	log *zap.Logger

	// jobs tracks background work spawned by async endpoints.
	jobs sync.WaitGroup
}

// New creates a Server listening on addr.
func New(addr string, client *ollama.Client, hub *events.Hub, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}

	s := &Server{
		addr:   addr,
		ollama: client,
		hub:    hub,
		log:    log,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(s.recoverer)
	s.router = r
	s.setupRoutes()

	s.http = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// WithLauncher sets the service launcher.
func (s *Server) WithLauncher(l Starter) *Server {
	s.launcher = l
	return s
}

// WithStopper sets the service terminator.
func (s *Server) WithStopper(t Stopper) *Server {
	s.stopper = t
	return s
}

// WithInstaller sets the runtime installer. amdGPU selects the ROCm build.
func (s *Server) WithInstaller(i RuntimeInstaller, amdGPU bool) *Server {
	s.installer = i
	s.amdGPU = amdGPU
	return s
}

// WithSettingsStore sets the settings store.
func (s *Server) WithSettingsStore(store *settings.Store) *Server {
	s.store = store
	return s
}

// Handler returns the gateway's root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ============================================================================
// ROUTES
// ============================================================================

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/ws", s.handleWS)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/ollama/ping", s.handlePing)
		r.Get("/ollama/status", s.handleStatus)
		r.Post("/ollama/start", s.handleStart)
		r.Post("/ollama/stop", s.handleStop)

		r.Post("/chat", s.handleChat)
		r.Post("/chat/stream", s.handleChatStream)
		r.Post("/embeddings", s.handleEmbeddings)
		r.Post("/models/pull", s.handlePullModel)
		r.Post("/install", s.handleInstall)

		r.Get("/settings", s.handleLoadSettings)
		r.Put("/settings", s.handleSaveSettings)
		r.Delete("/settings", s.handleResetSettings)
	})
}

// ============================================================================
// LIFECYCLE
// ============================================================================

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.log.Info("gateway listening", zap.String("addr", listener.Addr().String()))

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := s.http.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		return s.Shutdown()
	})

	return g.Wait()
}

// Shutdown stops accepting connections and waits for in-flight background
// jobs, bounded by shutdownGrace.
func (s *Server) Shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	err := s.http.Shutdown(shutdownCtx)

	done := make(chan struct{})
	go func() {
		s.jobs.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		s.log.Warn("shutdown grace elapsed with background jobs still running")
	}
	return err
}

// spawn runs fn on a tracked goroutine so Shutdown can join it.
func (s *Server) spawn(name string, fn func()) {
	s.jobs.Add(1)
	go func() {
		defer s.jobs.Done()
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("background job panicked",
					zap.String("job", name), zap.Any("panic", r))
			}
		}()
		fn()
	}()
}
