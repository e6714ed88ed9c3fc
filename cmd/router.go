package main

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/verdant-group/esg-cli/internal/config"
	"github.com/verdant-group/esg-cli/internal/model"
	"github.com/verdant-group/esg-cli/internal/monitoring"
	"github.com/verdant-group/esg-cli/internal/service"
	"github.com/verdant-group/esg-cli/internal/store"
)

type api struct {
	svc       *service.Service
	collector *monitoring.Collector
}

func newRouter(svc *service.Service, collector *monitoring.Collector, srvCfg config.ServerConfig) http.Handler {
	a := &api{svc: svc, collector: collector}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))
	if srvCfg.RateLimitRPS > 0 {
		r.Use(rateLimiter(rate.Limit(srvCfg.RateLimitRPS), srvCfg.RateLimitBurst))
	}

	r.Get("/health", a.health)
	r.Route("/companies/{companyID}", func(r chi.Router) {
		r.Post("/reconcile/preview", a.previewReconcile)
		r.Post("/reconcile/apply", a.applyReconcile)
		r.Get("/tasks", a.listTasks)
		r.Patch("/tasks/{taskID}/status", a.patchTaskStatus)
		r.Get("/audit", a.listAudit)
		r.Get("/progress", a.progress)
	})

	return r
}

// rateLimiter enforces a per-client-IP token bucket.
func rateLimiter(limit rate.Limit, burst int) func(http.Handler) http.Handler {
	if burst <= 0 {
		burst = int(limit)
		if burst < 1 {
			burst = 1
		}
	}

	var (
		mu       sync.Mutex
		limiters = make(map[string]*rate.Limiter)
	)
	limiterFor := func(ip string) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()
		l, ok := limiters[ip]
		if !ok {
			l = rate.NewLimiter(limit, burst)
			limiters[ip] = l
		}
		return l
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr
			}
			if !limiterFor(ip).Allow() {
				writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (a *api) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *api) previewReconcile(w http.ResponseWriter, r *http.Request) {
	companyID := chi.URLParam(r, "companyID")

	var snapshot model.ScopingSnapshot
	if err := json.NewDecoder(r.Body).Decode(&snapshot); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	res, err := a.svc.Preview(r.Context(), companyID, snapshot)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *api) applyReconcile(w http.ResponseWriter, r *http.Request) {
	companyID := chi.URLParam(r, "companyID")

	var req struct {
		Plan         *model.ReconciliationPlan `json:"plan"`
		VersionToken string                    `json:"version_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	res, err := a.svc.Apply(r.Context(), companyID, req.Plan, req.VersionToken)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *api) listTasks(w http.ResponseWriter, r *http.Request) {
	companyID := chi.URLParam(r, "companyID")

	tasks, token, err := a.svc.Tasks(r.Context(), companyID)
	if err != nil {
		writeError(w, err)
		return
	}
	if tasks == nil {
		tasks = []model.Task{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tasks":         tasks,
		"version_token": token,
	})
}

func (a *api) patchTaskStatus(w http.ResponseWriter, r *http.Request) {
	companyID := chi.URLParam(r, "companyID")
	taskID := chi.URLParam(r, "taskID")

	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	token, err := a.svc.SetTaskStatus(r.Context(), companyID, taskID, model.TaskStatus(req.Status))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"version_token": token})
}

func (a *api) listAudit(w http.ResponseWriter, r *http.Request) {
	companyID := chi.URLParam(r, "companyID")

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	records, err := a.svc.Audit(r.Context(), companyID, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if records == nil {
		records = []model.AuditRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records})
}

func (a *api) progress(w http.ResponseWriter, r *http.Request) {
	companyID := chi.URLParam(r, "companyID")

	snap, err := a.collector.Collect(r.Context(), companyID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// writeError maps service and store errors onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	var verr *service.ValidationError
	if errors.As(err, &verr) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": verr.Error()})
		return
	}

	var conflict *store.ConflictError
	if errors.As(err, &conflict) {
		writeJSON(w, http.StatusConflict, map[string]string{
			"error":         "version conflict, re-run preview",
			"current_token": conflict.CurrentToken,
		})
		return
	}

	if errors.Is(err, store.ErrTaskNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "task not found"})
		return
	}

	zap.L().Error("request failed", zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
