// Package server exposes the REST API the dashboard consumes: transaction
// listing and edits, stats, exports, and on-demand sync triggers. Auth is a
// static API key; user sessions stay outside this system.
package server

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/paisatrail/paisatrail/internal/scheduler"
	"github.com/paisatrail/paisatrail/pkg/api"
	"github.com/paisatrail/paisatrail/pkg/config"
	"github.com/paisatrail/paisatrail/pkg/store/postgres"
)

// TransactionStore defines the store operations the API needs.
type TransactionStore interface {
	Ping(ctx context.Context) error
	EnsureUser(ctx context.Context, email string) (string, error)
	ListTransactions(ctx context.Context, userID string, opts postgres.ListOptions) ([]*api.StoredTransaction, int64, error)
	Rename(ctx context.Context, userID string, id int64, name string) error
	SetNote(ctx context.Context, userID string, id int64, note string) error
	SetTag(ctx context.Context, userID string, id int64, tag string) error
	DeleteAll(ctx context.Context, userID string) (int64, error)
	Overview(ctx context.Context, userID string) (*api.Overview, error)
	ExportAll(ctx context.Context, userID string) ([]*api.StoredTransaction, error)
}

// SyncScheduler defines the scheduler operations the API needs.
type SyncScheduler interface {
	TriggerSync(ctx context.Context, email string) (*api.Report, error)
	Status() []scheduler.UserStatus
	UserStatusFor(email string) (scheduler.UserStatus, bool)
}

// Server is the HTTP API server.
type Server struct {
	cfg         config.ServerConfig
	store       TransactionStore
	scheduler   SyncScheduler
	logger      *slog.Logger
	router      chi.Router
	server      *http.Server
	rateLimiter *RateLimiter
}

// New creates the API server around a store and scheduler.
func New(cfg config.ServerConfig, store TransactionStore, sched SyncScheduler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:       cfg,
		store:     store,
		scheduler: sched,
		logger:    logger,
	}
	s.router = s.setupRouter()
	return s
}

func (s *Server) setupRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(s.loggerMiddleware)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))

	if origins := s.cfg.CORSOrigins; origins != "" {
		r.Use(CORSMiddleware(strings.Split(origins, ",")))
	}

	if s.cfg.RateLimitRPS > 0 {
		s.rateLimiter = NewRateLimiter(s.cfg.RateLimitRPS, s.cfg.RateLimitBurst)
		r.Use(RateLimitMiddleware(s.rateLimiter))
	}

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Get("/tags", s.handleTags)

		r.Route("/users/{email}", func(r chi.Router) {
			r.Get("/transactions", s.handleListTransactions)
			r.Get("/transactions/export", s.handleExport)
			r.Post("/transactions/rename", s.handleBatchRename)
			r.Patch("/transactions/{id}/note", s.handleSetNote)
			r.Patch("/transactions/{id}/tag", s.handleSetTag)
			r.Delete("/transactions", s.handleDeleteAll)
			r.Post("/sync", s.handleTriggerSync)
			r.Get("/sync/status", s.handleSyncStatus)
			r.Get("/stats/overview", s.handleOverview)
		})
	})

	return r
}

// Start begins listening. It blocks until Shutdown or a listen failure.
func (s *Server) Start() error {
	if s.cfg.APIKey == "" {
		s.logger.Warn("API server running without authentication, set PAISATRAIL_API_KEY")
	}

	s.server = &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.logger.Info("starting API server", "addr", s.cfg.Addr)
	return s.server.ListenAndServe()
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.logger.Info("shutting down API server")
	return s.server.Shutdown(ctx)
}

// Router returns the chi router, for tests.
func (s *Server) Router() chi.Router {
	return s.router
}

func (s *Server) loggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", chimw.GetReqID(r.Context()),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

// authMiddleware validates the static API key from the Authorization or
// X-API-Key header. No key configured disables auth for local development.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.APIKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		key := r.Header.Get("Authorization")
		if key == "" {
			key = r.Header.Get("X-API-Key")
		}
		key = strings.TrimPrefix(key, "Bearer ")

		if subtle.ConstantTimeCompare([]byte(key), []byte(s.cfg.APIKey)) != 1 {
			s.logger.Warn("unauthorized request", "path", r.URL.Path, "remote_addr", r.RemoteAddr)
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid or missing API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// handleHealth reports liveness plus store reachability, without auth.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if err := s.store.Ping(r.Context()); err != nil {
		s.logger.Error("health check store ping failed", "error", err)
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{"status": status})
}
