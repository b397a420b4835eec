// Package api exposes the HTTP interface for the extraction service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mailsift/mailsift/internal/config"
	"github.com/mailsift/mailsift/internal/controller"
	"github.com/mailsift/mailsift/internal/extract"
	"github.com/mailsift/mailsift/internal/metrics"
)

// Server wires HTTP handlers to the search controller.
type Server struct {
	router chi.Router
	ctrl   *controller.Controller
	ready  func() error
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes. ready reports
// whether downstream dependencies are reachable; nil means always ready.
func NewServer(ctrl *controller.Controller, cfg config.Config, ready func() error, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		ctrl:   ctrl,
		ready:  ready,
		logger: logger.Named("api"),
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metricsMiddleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Route("/searches", func(r chi.Router) {
			r.Post("/", s.createSearch)
			r.Get("/", s.listSearches)
			r.Route("/{search_id}", func(r chi.Router) {
				r.Get("/", s.getSearch)
				r.Get("/statistics", s.getStatistics)
				r.Get("/domains", s.listDomains)
				r.Get("/emails", s.listEmails)
				r.Post("/pause", s.pauseSearch)
				r.Post("/resume", s.resumeSearch)
				r.Post("/cancel", s.cancelSearch)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.ready != nil {
		if err := s.ready(); err != nil {
			s.writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) createSearch(w http.ResponseWriter, r *http.Request) {
	var req controller.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	search, err := s.ctrl.Create(r.Context(), req)
	if err != nil {
		s.writeControllerError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{
		"search_id": search.ID,
		"search":    search,
	})
}

func (s *Server) listSearches(w http.ResponseWriter, r *http.Request) {
	filter := extract.SearchFilter{
		Limit:  queryInt(r, "limit", 50),
		Offset: queryInt(r, "offset", 0),
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := extract.SearchStatus(raw)
		filter.Status = &status
	}
	searches, err := s.ctrl.List(r.Context(), filter)
	if err != nil {
		s.writeControllerError(w, err)
		return
	}
	if searches == nil {
		searches = []extract.Search{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"searches": searches})
}

func (s *Server) getSearch(w http.ResponseWriter, r *http.Request) {
	search, err := s.ctrl.Get(r.Context(), chi.URLParam(r, "search_id"))
	if err != nil {
		s.writeControllerError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"search": search})
}

func (s *Server) getStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := s.ctrl.Statistics(r.Context(), chi.URLParam(r, "search_id"))
	if err != nil {
		s.writeControllerError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"statistics": stats})
}

func (s *Server) listDomains(w http.ResponseWriter, r *http.Request) {
	var status *extract.DomainStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		st := extract.DomainStatus(raw)
		status = &st
	}
	items, err := s.ctrl.Domains(r.Context(), chi.URLParam(r, "search_id"), status)
	if err != nil {
		s.writeControllerError(w, err)
		return
	}
	if items == nil {
		items = []extract.DomainItem{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"domains": items})
}

func (s *Server) listEmails(w http.ResponseWriter, r *http.Request) {
	records, err := s.ctrl.Emails(r.Context(), chi.URLParam(r, "search_id"))
	if err != nil {
		s.writeControllerError(w, err)
		return
	}
	if records == nil {
		records = []extract.EmailRecord{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"emails": records})
}

func (s *Server) pauseSearch(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.ctrl.Pause, extract.SearchStatusPaused)
}

func (s *Server) resumeSearch(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.ctrl.Resume, extract.SearchStatusInProgress)
}

func (s *Server) cancelSearch(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.ctrl.Cancel, extract.SearchStatusCancelled)
}

func (s *Server) transition(
	w http.ResponseWriter,
	r *http.Request,
	op func(ctx context.Context, id string) error,
	target extract.SearchStatus,
) {
	searchID := chi.URLParam(r, "search_id")
	if err := op(r.Context(), searchID); err != nil {
		s.writeControllerError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"search_id": searchID,
		"status":    string(target),
	})
}

func (s *Server) writeControllerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, controller.ErrValidation):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, extract.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "search not found")
	case errors.Is(err, extract.ErrInvalidTransition):
		s.writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error("request failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}
