// Package server exposes the HTTP and WebSocket API: the public redirect,
// the authenticated management surface and the batch job endpoints.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/shortguard/shortguard/internal/app"
	"github.com/shortguard/shortguard/internal/auth"
	"github.com/shortguard/shortguard/internal/batch"
	"github.com/shortguard/shortguard/internal/logging"
	"github.com/shortguard/shortguard/internal/model"
	"github.com/shortguard/shortguard/internal/shortener"
	"github.com/shortguard/shortguard/internal/store"
)

// Server is the HTTP + WebSocket API surface.
type Server struct {
	app      *app.Application
	router   chi.Router
	upgrader websocket.Upgrader
	limiter  *rate.Limiter
	logger   logging.Logger
}

func NewServer(a *app.Application) *Server {
	logger := a.Logger.With(logging.Field{Key: "component", Value: "server"})

	var limiter *rate.Limiter
	if a.Config.Server.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(a.Config.Server.RateLimit), a.Config.Server.RateBurst)
	}

	s := &Server{
		app:     a,
		router:  chi.NewRouter(),
		limiter: limiter,
		logger:  logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// TODO: tighten for production
				return true
			},
		},
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router

	r.Get("/healthz", s.handleHealth)

	// Public redirect, outside auth but inside rate limiting.
	r.Group(func(r chi.Router) {
		r.Use(s.rateLimitMiddleware)
		r.Get("/{code}", s.handleRedirect)
	})

	// Management API.
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.rateLimitMiddleware)
		if s.app.Auth != nil {
			r.Use(s.app.Auth.Middleware(func(w http.ResponseWriter, _ *http.Request, err error) {
				writeError(w, http.StatusUnauthorized, codeUnauthorized, err.Error())
			}))
		}

		r.Put("/url/shorten", s.handleShorten)
		r.Get("/url/{code}", s.handleGetURL)
		r.Get("/url/{code}/classifications", s.handleClassificationHistory)
		r.Post("/url/{code}/status", s.handleSetStatus)
		r.Post("/url/{code}/reset", s.handleResetStatus)
		r.Post("/url/{code}/enable", s.handleSetActive(true))
		r.Post("/url/{code}/disable", s.handleSetActive(false))
		r.Get("/urls", s.handleListURLs)

		r.Post("/jobs", s.handleStartJob)
		r.Get("/jobs", s.handleListJobs)
		r.Get("/jobs/{jobID}", s.handleGetJob)
		r.Delete("/jobs/{jobID}", s.handleCancelJob)
	})

	// Job progress over WebSocket.
	r.Get("/ws/jobs", s.handleJobWS)
}

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			writeError(w, http.StatusTooManyRequests, codeRateLimited, "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	fields := []logging.Field{
		{Key: "method", Value: r.Method},
		{Key: "path", Value: r.URL.Path},
	}
	if q := r.URL.Query(); len(q) > 0 {
		fields = append(fields, logging.Field{Key: "query", Value: q})
	}
	s.logger.Info("http_request", fields...)

	s.router.ServeHTTP(w, r)
}

// HTTPServer creates an *http.Server ready to ListenAndServe.
func (s *Server) HTTPServer() *http.Server {
	cfg := s.app.Config.Server
	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      s,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: 0, // allow streaming
	}
}

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorResponse{Code: code, Error: msg})
}

// --- HTTP handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleRedirect is the hot path. Responses are never cacheable so a later
// takedown is honored immediately by every client.
func (s *Server) handleRedirect(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	u, err := s.app.Shortener.Resolve(r.Context(), code)
	if err != nil {
		switch {
		case errors.Is(err, shortener.ErrNotFound):
			writeError(w, http.StatusNotFound, codeNotFound, "short link not found")
		case errors.Is(err, shortener.ErrURLDisabled):
			writeError(w, http.StatusGone, codeURLDisabled, "short link has been disabled")
		default:
			s.logger.Error("resolving short code", logging.Field{Key: "error", Value: err.Error()})
			writeError(w, http.StatusInternalServerError, codeInternal, "internal error")
		}
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	http.Redirect(w, r, u.LongURL, http.StatusFound)
}

func (s *Server) handleShorten(w http.ResponseWriter, r *http.Request) {
	var body ShortenRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidJSON, "invalid JSON")
		return
	}

	ownerID := ownerFromContext(r)
	u, created, err := s.app.Shortener.Shorten(r.Context(), body.URL, ownerID)
	if err != nil {
		switch {
		case errors.Is(err, shortener.ErrInvalidURL):
			writeError(w, http.StatusUnprocessableEntity, codeInvalidURL, err.Error())
		case errors.Is(err, shortener.ErrUnsafeURL):
			writeError(w, http.StatusForbidden, codeUnsafeURL, "url rejected as unsafe")
		case errors.Is(err, shortener.ErrCodeConflict):
			writeError(w, http.StatusConflict, codeCodeConflict, err.Error())
		default:
			s.logger.Error("shortening url", logging.Field{Key: "error", Value: err.Error()})
			writeError(w, http.StatusInternalServerError, codeInternal, "internal error")
		}
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, ShortenResponse{
		ShortCode:    u.ShortCode,
		LongURL:      u.LongURL,
		SafetyStatus: string(u.SafetyStatus),
		ThreatScore:  u.ThreatScore,
		IsActive:     u.IsActive,
		Created:      created,
	})
}

func (s *Server) handleGetURL(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	u, err := s.app.Store.GetByCode(r.Context(), code)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleClassificationHistory(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	history, err := s.app.Shortener.ClassificationHistory(r.Context(), code)
	if err != nil {
		switch {
		case errors.Is(err, shortener.ErrNotFound):
			writeError(w, http.StatusNotFound, codeNotFound, "short link not found")
		default:
			s.logger.Error("fetching classification history", logging.Field{Key: "error", Value: err.Error()})
			writeError(w, http.StatusInternalServerError, codeInternal, "internal error")
		}
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (s *Server) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	var body SetStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidJSON, "invalid JSON")
		return
	}
	status, err := model.ParseSafetyStatus(body.Status)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, codeInvalidStatus, err.Error())
		return
	}

	u, err := s.app.Store.SetSafetyStatus(r.Context(), code, status, body.ThreatScore, body.ClassifierID)
	if err != nil {
		if errors.Is(err, store.ErrPendingTarget) {
			writeError(w, http.StatusUnprocessableEntity, codeInvalidStatus, err.Error())
			return
		}
		s.writeStoreError(w, err)
		return
	}
	s.logger.Info("safety status overridden",
		logging.Field{Key: "short_code", Value: code},
		logging.Field{Key: "status", Value: body.Status},
	)
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleResetStatus(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	u, err := s.app.Store.ResetSafetyStatus(r.Context(), code)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleSetActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := chi.URLParam(r, "code")
		var (
			u   *model.Url
			err error
		)
		if active {
			u, err = s.app.Store.Enable(r.Context(), code)
		} else {
			u, err = s.app.Store.Disable(r.Context(), code)
		}
		if err != nil {
			s.writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, u)
	}
}

func (s *Server) handleListURLs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := 100
	if ls := q.Get("limit"); ls != "" {
		if v, err := strconv.Atoi(ls); err == nil && v > 0 {
			limit = v
		}
	}
	statusStr := q.Get("status")
	if statusStr == "" {
		statusStr = string(model.SafetyPending)
	}
	status, err := model.ParseSafetyStatus(statusStr)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, codeInvalidStatus, err.Error())
		return
	}

	var urls []model.Url
	if status == model.SafetyPending {
		urls, err = s.app.Store.GetPendingURLs(r.Context(), limit, q.Get("start_after"))
	} else {
		urls, err = s.app.Store.GetBySafetyStatus(r.Context(), store.StatusQuery{
			Status:     status,
			Limit:      limit,
			StartAfter: q.Get("start_after"),
			SortOrder:  q.Get("sort"),
		})
	}
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, urls)
}

// Jobs (REST)

func (s *Server) handleStartJob(w http.ResponseWriter, r *http.Request) {
	if s.app.Orchestrator == nil {
		writeError(w, http.StatusServiceUnavailable, codeUnavailable, "offline classification is not configured")
		return
	}

	var body StartJobRequest
	_ = json.NewDecoder(r.Body).Decode(&body)
	if body.Kind == "" {
		body.Kind = string(batch.JobClassifyPending)
	}

	// The job outlives the request; cancellation goes through DELETE /jobs/{id}.
	job, err := s.app.Orchestrator.StartJob(context.WithoutCancel(r.Context()), batch.JobKind(body.Kind))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, codeInvalidJSON, err.Error())
		return
	}
	s.logger.Info("started batch job",
		logging.Field{Key: "job_id", Value: job.ID},
		logging.Field{Key: "kind", Value: body.Kind},
	)
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	if s.app.Orchestrator == nil {
		writeError(w, http.StatusServiceUnavailable, codeUnavailable, "offline classification is not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.app.Orchestrator.Jobs())
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	if s.app.Orchestrator == nil {
		writeError(w, http.StatusServiceUnavailable, codeUnavailable, "offline classification is not configured")
		return
	}
	job, err := s.app.Orchestrator.GetJob(chi.URLParam(r, "jobID"))
	if err != nil {
		writeError(w, http.StatusNotFound, codeNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	if s.app.Orchestrator == nil {
		writeError(w, http.StatusServiceUnavailable, codeUnavailable, "offline classification is not configured")
		return
	}
	jobID := chi.URLParam(r, "jobID")
	if err := s.app.Orchestrator.CancelJob(jobID); err != nil {
		if errors.Is(err, batch.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, codeNotFound, "job not found")
			return
		}
		writeError(w, http.StatusConflict, codeInvalidJSON, err.Error())
		return
	}
	s.logger.Info("canceled job", logging.Field{Key: "job_id", Value: jobID})
	writeJSON(w, http.StatusNoContent, nil)
}

// WebSockets

// handleJobWS starts a batch job and streams its events until the job
// finishes or the client goes away.
func (s *Server) handleJobWS(w http.ResponseWriter, r *http.Request) {
	if s.app.Orchestrator == nil {
		writeError(w, http.StatusServiceUnavailable, codeUnavailable, "offline classification is not configured")
		return
	}

	kind := r.URL.Query().Get("kind")
	if kind == "" {
		kind = string(batch.JobClassifyPending)
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrading to websocket", logging.Field{Key: "error", Value: err.Error()})
		return
	}
	defer conn.Close()

	job, err := s.app.Orchestrator.StartJob(r.Context(), batch.JobKind(kind))
	if err != nil {
		_ = conn.WriteJSON(map[string]string{"error": err.Error()})
		return
	}

	s.logger.Info("started batch job over websocket", logging.Field{Key: "job_id", Value: job.ID})
	_ = conn.WriteJSON(job)

	for ev := range job.Events {
		if err := conn.WriteJSON(ev); err != nil {
			// Assume client disconnected; cancel job
			_ = s.app.Orchestrator.CancelJob(job.ID)
			return
		}
	}
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrURLNotFound):
		writeError(w, http.StatusNotFound, codeNotFound, "short link not found")
	case errors.Is(err, store.ErrPendingQuery):
		writeError(w, http.StatusBadRequest, codeInvalidStatus, err.Error())
	default:
		s.logger.Error("store operation failed", logging.Field{Key: "error", Value: err.Error()})
		writeError(w, http.StatusInternalServerError, codeInternal, "internal error")
	}
}

// ownerFromContext falls back to "anonymous" when auth is disabled.
func ownerFromContext(r *http.Request) string {
	if id, ok := auth.OwnerID(r.Context()); ok {
		return id
	}
	return "anonymous"
}
