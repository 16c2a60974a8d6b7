// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api exposes the HTTP interface: uploads, playback, tokens and
// statistics.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ManuGH/vodgate/internal/access"
	"github.com/ManuGH/vodgate/internal/api/middleware"
	"github.com/ManuGH/vodgate/internal/library"
	xglog "github.com/ManuGH/vodgate/internal/log"
	"github.com/ManuGH/vodgate/internal/stats"
	"github.com/ManuGH/vodgate/internal/store"
)

// Library is the ingestion surface used by the video routes.
type Library interface {
	Upload(ctx context.Context, in library.UploadInput) (store.Video, error)
	Get(ctx context.Context, id int64) (store.Video, error)
	List(ctx context.Context) ([]store.Video, error)
	Search(ctx context.Context, query string, tags []string) ([]store.Video, error)
	Update(ctx context.Context, id int64, d store.Details) (store.Video, error)
	Delete(ctx context.Context, id int64) (bool, error)
	Thumbnail(ctx context.Context, id int64) (string, error)
}

// Reprocessor re-triggers transcoding.
type Reprocessor interface {
	Reprocess(ctx context.Context, id int64) error
}

// TokenGate issues and spends access tokens.
type TokenGate interface {
	Issue(ctx context.Context, req access.IssueRequest) (store.Token, error)
	Validate(ctx context.Context, token string) (store.Token, error)
	Consume(ctx context.Context, token, ip, userAgent string) (access.ConsumeResult, error)
	ConsumeForVideo(ctx context.Context, token string, videoID int64, ip, userAgent string) (access.ConsumeResult, error)
}

// StreamResolver maps playback requests to files.
type StreamResolver interface {
	Resolve(ctx context.Context, videoID int64, quality string) (string, error)
	ResolveSegment(ctx context.Context, videoID int64, segment string) (string, error)
}

// Reports answers statistics queries.
type Reports interface {
	VideoStats(ctx context.Context, videoID int64) (store.VideoStats, error)
	TotalViews(ctx context.Context) (int64, error)
	TopVideos(ctx context.Context, limit int) ([]store.VideoViews, error)
	ViewsByPeriod(ctx context.Context, startDate, endDate string) ([]store.VideoViews, error)
	Overall(ctx context.Context) (stats.Overall, error)
	TokenCounts(ctx context.Context) (store.TokenCounts, error)
	AccessLogs(ctx context.Context, videoID, userID *int64) ([]store.AccessLog, error)
}

// Deps are the services behind the routes.
type Deps struct {
	Library   Library
	Reprocess Reprocessor
	Tokens    TokenGate
	Streams   StreamResolver
	Reports   Reports
}

// Config tunes the HTTP surface.
type Config struct {
	RequireStreamToken bool
	MaxUploadBytes     int64
	RateLimitRPM       int
	TrustProxyHeaders  bool
	AllowedOrigins     []string
	Version            string
	// TracingService names the tracer of the request spans; empty disables
	// request tracing.
	TracingService string
	Logger         zerolog.Logger
}

// Server holds the router and its dependencies.
type Server struct {
	cfg    Config
	deps   Deps
	logger zerolog.Logger
	router chi.Router
}

// New builds the server and its routes.
func New(cfg Config, deps Deps) *Server {
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: cfg.Logger.With().Str(xglog.FieldComponent, "api").Logger(),
	}
	s.router = s.routes()
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() chi.Router {
	r := middleware.NewRouter(middleware.StackConfig{
		EnableCORS:            len(s.cfg.AllowedOrigins) > 0,
		AllowedOrigins:        s.cfg.AllowedOrigins,
		EnableSecurityHeaders: true,
		EnableMetrics:         true,
		TracingService:        s.cfg.TracingService,
		EnableLogging:         true,
	})
	limit := middleware.RateLimit(middleware.RateLimitConfig{
		RequestLimit: s.cfg.RateLimitRPM,
		WindowSize:   time.Minute,
		TrustProxy:   s.cfg.TrustProxyHeaders,
	})

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/videos", func(r chi.Router) {
			r.With(limit).Post("/", s.handleUpload)
			r.Get("/", s.handleListVideos)
			r.Get("/search", s.handleSearchVideos)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetVideo)
				r.Patch("/", s.handleUpdateVideo)
				r.Delete("/", s.handleDeleteVideo)
				r.Post("/reprocess", s.handleReprocess)
				r.Get("/stream/{quality}", s.handleStream)
				r.Get("/thumbnail", s.handleThumbnail)
			})
		})

		r.Route("/access-tokens", func(r chi.Router) {
			r.With(limit).Post("/", s.handleIssueToken)
			r.With(limit).Post("/video/{videoId}", s.handleIssueVideoToken)
			r.With(limit).Post("/playlist/{playlistId}", s.handleIssuePlaylistToken)
			r.Get("/validate/{token}", s.handleValidateToken)
			r.Get("/use/{token}", s.handleUseToken)
			r.Get("/logs", s.handleAccessLogs)
			r.Get("/stats", s.handleTokenStats)
		})

		r.Route("/stats", func(r chi.Router) {
			r.Get("/video/{videoId}", s.handleVideoStats)
			r.Get("/top-videos", s.handleTopVideos)
			r.Get("/total-views", s.handleTotalViews)
			r.Get("/period", s.handleViewsByPeriod)
			r.Get("/overall", s.handleOverall)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeProblem(w, r, http.StatusNotFound, "NOT_FOUND", "Not Found", "no route for "+r.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeProblem(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method Not Allowed", "")
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": s.cfg.Version})
}
