// Package server exposes the sync trigger and status endpoints.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/zerochurn/success-sync/internal/config"
	"github.com/zerochurn/success-sync/internal/model"
	"github.com/zerochurn/success-sync/internal/store"
	"github.com/zerochurn/success-sync/internal/syncer"
)

// Server handles sync triggers and status reads. Concurrent triggers
// for the same source share one run through singleflight; the sync
// design assumes serial runs per source.
type Server struct {
	env     string
	trigger config.TriggerConfig
	store   store.Store
	syncer  *syncer.Syncer
	group   singleflight.Group
}

// New creates a Server.
func New(cfg *config.Config, st store.Store, sy *syncer.Syncer) *Server {
	return &Server{
		env:     cfg.Env,
		trigger: cfg.Trigger,
		store:   st,
		syncer:  sy,
	}
}

// Router builds the HTTP routing table.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-Scheduler-Token"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/sync", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Group(func(r chi.Router) {
			r.Use(s.requireTriggerAuth)
			r.Post("/crm", s.triggerHandler(model.SourceCRM))
			r.Post("/payments", s.triggerHandler(model.SourcePayments))
			r.Post("/usage", s.triggerHandler(model.SourceUsage))
		})
	})

	return r
}

// requireTriggerAuth checks the shared secret or the scheduler token.
// Non-production environments are exempt so local runs need no secret.
func (s *Server) requireTriggerAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.authorized(r) {
			next.ServeHTTP(w, r)
			return
		}
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"success": false,
			"error":   "unauthorized",
		})
	})
}

func (s *Server) authorized(r *http.Request) bool {
	if s.trigger.Secret != "" {
		auth := r.Header.Get("Authorization")
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok && token == s.trigger.Secret {
			return true
		}
	}
	if s.trigger.SchedulerToken != "" && r.Header.Get("X-Scheduler-Token") == s.trigger.SchedulerToken {
		return true
	}
	return s.env != "production"
}

func (s *Server) triggerHandler(src model.SyncSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summary, err := s.Trigger(r.Context(), src)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{
				"success": false,
				"error":   err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, struct {
			Success bool `json:"success"`
			*syncer.Summary
		}{Success: true, Summary: summary})
	}
}

// Trigger runs a sync for the source, deduplicating concurrent requests
// for the same source into a single run. The scheduler uses this entry
// point too, so a manual trigger during a scheduled run joins it.
func (s *Server) Trigger(ctx context.Context, src model.SyncSource) (*syncer.Summary, error) {
	v, err, shared := s.group.Do(string(src), func() (any, error) {
		switch src {
		case model.SourceCRM:
			return s.syncer.SyncCRM(ctx)
		case model.SourcePayments:
			return s.syncer.SyncPayments(ctx)
		case model.SourceUsage:
			return s.syncer.SyncUsage(ctx)
		default:
			return nil, eris.Errorf("server: unknown sync source %q", src)
		}
	})
	if shared {
		zap.L().Info("trigger joined in-flight run", zap.String("source", string(src)))
	}
	if err != nil {
		return nil, err
	}
	return v.(*syncer.Summary), nil
}

// handleStatus returns the latest run per source plus account health
// aggregates.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	runs := make(map[model.SyncSource]*model.SyncRun)
	for _, src := range []model.SyncSource{model.SourceCRM, model.SourcePayments, model.SourceUsage} {
		run, err := s.store.LatestSyncRun(ctx, src)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{
				"success": false,
				"error":   err.Error(),
			})
			return
		}
		if run != nil {
			runs[src] = run
		}
	}

	summary, err := s.store.HealthSummary(ctx)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"runs":     runs,
		"accounts": summary,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("write response", zap.Error(err))
	}
}
