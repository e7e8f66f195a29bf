// Package server exposes the cache over HTTP. All handlers are read-mostly
// pass-throughs to the orchestrator; the server owns only transport concerns
// (routing, rate limiting, envelopes, status codes).
package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/hornet-cache/internal/cachestore"
	"github.com/yourorg/hornet-cache/internal/config"
	"github.com/yourorg/hornet-cache/internal/orchestrator"
	"github.com/yourorg/hornet-cache/internal/ratelimit"
	"github.com/yourorg/hornet-cache/internal/scheduler"
)

// Options wires the server to the rest of the service.
type Options struct {
	Orchestrator *orchestrator.Orchestrator
	Store        *cachestore.Store
	Scheduler    *scheduler.Scheduler
	Config       config.Config
}

// Server is the HTTP front of the cache service.
type Server struct {
	orch      *orchestrator.Orchestrator
	store     *cachestore.Store
	scheduler *scheduler.Scheduler
	cfg       config.Config
	limiter   *ratelimit.Limiter
	startTime time.Time
}

// New creates a Server. Handler builds the actual routing tree.
func New(opts Options) *Server {
	return &Server{
		orch:      opts.Orchestrator,
		store:     opts.Store,
		scheduler: opts.Scheduler,
		cfg:       opts.Config,
		limiter:   ratelimit.New(opts.Config.RateLimitWindow, opts.Config.RateLimitMax),
		startTime: time.Now(),
	}
}

// Handler assembles the router with the full middleware stack. Rate limiting
// applies to the /api subtree only; the root descriptor stays unmetered.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(s.recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(securityHeaders)
	r.Use(s.corsHandler())
	r.Use(middleware.Compress(6))
	r.Use(requestLogger)

	r.Get("/", s.handleRoot)

	r.Route("/api", func(api chi.Router) {
		api.Use(s.rateLimit)
		api.Get("/analysis", s.handleAnalysis)
		api.Get("/pools", s.handlePools)
		api.Get("/metadata", s.handleMetadata)
		api.Post("/refresh", s.handleRefresh)
		api.Delete("/cache", s.handleClearCache)
		api.Get("/health", s.handleHealth)
		api.Get("/stats", s.handleStats)
	})

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{
			"success": false,
			"error":   "Endpoint not found",
			"path":    req.URL.Path,
		})
	})

	return r
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Hornet Cache Server",
		"version": "1.0.0",
		"endpoints": map[string]string{
			"analysis":   "/api/analysis",
			"pools":      "/api/pools",
			"metadata":   "/api/metadata",
			"health":     "/api/health",
			"stats":      "/api/stats",
			"refresh":    "POST /api/refresh",
			"clearCache": "DELETE /api/cache",
		},
	})
}

func (s *Server) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	result := s.orch.GetAnalysis(r.Context())
	if !result.Success {
		writeJSON(w, http.StatusNotFound, result)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handlePools(w http.ResponseWriter, r *http.Request) {
	result := s.orch.GetPools(r.Context())
	if !result.Success {
		writeJSON(w, http.StatusNotFound, result)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleMetadata(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.GetMetadata(r.Context()))
}

// handleRefresh triggers a refresh synchronously. A refresh already in flight
// reports success:false in the body, not an HTTP error: the client asked for
// fresh data and fresh data is on its way. The pipeline runs on a background
// context so a client disconnect cannot cancel it between cache writes; the
// orchestrator applies its own per-upstream deadlines.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	logrus.Info("Manual cache refresh triggered")
	writeJSON(w, http.StatusOK, s.orch.Refresh(context.Background()))
}

func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.ClearCache(r.Context()))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	cacheHealth := s.orch.GetHealth(r.Context())
	redisStats := s.store.GetStats(r.Context())
	schedStatus := s.scheduler.GetStatus()

	healthy := cacheHealth.Healthy && redisStats.Connected

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]interface{}{
		"success":   true,
		"healthy":   healthy,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"cache":     cacheHealth,
		"redis":     redisStats,
		"scheduler": schedStatus,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"stats": map[string]interface{}{
			"cache":  s.orch.GetMetadata(r.Context()),
			"redis":  s.store.GetStats(r.Context()),
			"uptime": time.Since(s.startTime).Seconds(),
		},
	})
}

// rateLimit enforces the fixed-window limit per client IP.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow(clientIP(r)) {
			logrus.WithFields(logrus.Fields{
				"ip":   clientIP(r),
				"path": r.URL.Path,
			}).Warn("Rate limit exceeded")
			writeJSON(w, http.StatusTooManyRequests, map[string]interface{}{
				"success": false,
				"error":   "Too many requests, please try again later",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// recoverer converts panics into a JSON 500. Production hides the message.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logrus.WithFields(logrus.Fields{
					"panic": rec,
					"path":  r.URL.Path,
					"stack": string(debug.Stack()),
				}).Error("Unhandled panic in handler")

				msg := "Internal server error"
				if !s.cfg.IsProduction() {
					if err, ok := rec.(error); ok {
						msg = err.Error()
					}
				}
				writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
					"success": false,
					"error":   msg,
				})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) corsHandler() func(http.Handler) http.Handler {
	origins := []string{"*"}
	if s.cfg.IsProduction() && len(s.cfg.AllowedOrigins) > 0 {
		origins = s.cfg.AllowedOrigins
	}
	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           300,
	})
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		logrus.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   ww.Status(),
			"duration": time.Since(start).String(),
			"ip":       clientIP(r),
		}).Info("Request completed")
	})
}

// clientIP returns the address middleware.RealIP resolved, without the port.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.WithError(err).Error("Failed to encode response")
	}
}
