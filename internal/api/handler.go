package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/iamade/litinkapp-sub002/internal/circuitbreaker"
	"github.com/iamade/litinkapp-sub002/internal/domain"
	"github.com/iamade/litinkapp-sub002/internal/statuscache"
	"github.com/iamade/litinkapp-sub002/internal/task"
	"github.com/iamade/litinkapp-sub002/internal/tierconfig"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type HandlerConfig struct {
	Tasks       *task.Service
	Breakers    *circuitbreaker.Manager
	StatusCache statuscache.Cache
	Chains      *tierconfig.Table
	StatusTTL   time.Duration
	Checkers    []HealthChecker
	CheckPeriod time.Duration
}

type Handler struct {
	tasks       *task.Service
	breakers    *circuitbreaker.Manager
	statusCache statuscache.Cache
	chains      *tierconfig.Table
	statusTTL   time.Duration
	mux         *http.ServeMux
}

func NewHandler(cfg HandlerConfig) *Handler {
	statusTTL := cfg.StatusTTL
	if statusTTL == 0 {
		statusTTL = 10 * time.Minute
	}
	checkPeriod := cfg.CheckPeriod
	if checkPeriod == 0 {
		checkPeriod = 5 * time.Second
	}

	h := &Handler{
		tasks:       cfg.Tasks,
		breakers:    cfg.Breakers,
		statusCache: cfg.StatusCache,
		chains:      cfg.Chains,
		statusTTL:   statusTTL,
		mux:         http.NewServeMux(),
	}

	h.mux.HandleFunc("POST /v1/generations", h.handleSubmit)
	h.mux.HandleFunc("GET /v1/generations/{id}", h.handleStatus)
	h.mux.HandleFunc("GET /admin/circuit-breakers", h.handleCircuitBreakers)
	h.mux.HandleFunc("GET /admin/chains", h.handleChains)
	h.mux.HandleFunc("GET /health", h.handleHealth)
	h.mux.HandleFunc("GET /health/live", h.handleHealthLive)
	h.mux.HandleFunc("GET /health/ready", handleHealthReadyWithCheckers(cfg.Checkers, checkPeriod))
	h.mux.Handle("GET /metrics", promhttp.Handler())

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

type SubmitRequest struct {
	Kind    domain.ServiceKind `json:"kind"`
	Tier    domain.Tier        `json:"tier"`
	Payload json.RawMessage    `json:"payload"`
}

type SubmitResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	requestID := r.Header.Get("X-Request-ID")
	if requestID == "" {
		requestID = uuid.New().String()
	}

	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	taskID, err := h.tasks.Submit(ctx, req.Kind, req.Tier, req.Payload)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidRequest) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		slog.Error("task submission failed", "error", err, "request_id", requestID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Request-ID", requestID)
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(SubmitResponse{
		TaskID: taskID.String(),
		Status: string(domain.TaskStatusPending),
	})
}

// StatusResponse is the polling projection of a task. The opaque payload
// is omitted; callers already have it.
type StatusResponse struct {
	TaskID          string                 `json:"task_id"`
	Kind            domain.ServiceKind     `json:"kind"`
	Tier            domain.Tier            `json:"tier"`
	Status          domain.TaskStatus      `json:"status"`
	RetryCount      int                    `json:"retry_count"`
	MaxRetries      int                    `json:"max_retries"`
	LastAttemptedAt *time.Time             `json:"last_attempted_at,omitempty"`
	ResultURL       string                 `json:"result_url,omitempty"`
	ErrorMessage    string                 `json:"error_message,omitempty"`
	Attempts        []domain.AttemptRecord `json:"attempts,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at"`
}

func projectStatus(t *domain.GenerationTask) StatusResponse {
	return StatusResponse{
		TaskID:          t.ID.String(),
		Kind:            t.Kind,
		Tier:            t.Tier,
		Status:          t.Status,
		RetryCount:      t.RetryCount,
		MaxRetries:      t.MaxRetries,
		LastAttemptedAt: t.LastAttemptedAt,
		ResultURL:       t.ResultURL,
		ErrorMessage:    t.ErrorMessage,
		Attempts:        t.Attempts,
		CreatedAt:       t.CreatedAt,
		UpdatedAt:       t.UpdatedAt,
	}
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}

	cacheStatus := ""
	if h.statusCache != nil {
		if cached, ok := h.statusCache.Get(ctx, id); ok {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-Cache", "HIT")
			json.NewEncoder(w).Encode(projectStatus(cached))
			return
		}
		cacheStatus = "MISS"
	}

	t, err := h.tasks.Get(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrTaskNotFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		slog.Error("task lookup failed", "error", err, "task_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	// Only terminal tasks are cacheable; in-flight statuses change.
	if h.statusCache != nil && t.Status.Terminal() {
		if err := h.statusCache.Set(ctx, t, h.statusTTL); err != nil {
			slog.Warn("failed to cache task status", "error", err, "task_id", id)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if cacheStatus != "" {
		w.Header().Set("X-Cache", cacheStatus)
	}
	json.NewEncoder(w).Encode(projectStatus(t))
}

func (h *Handler) handleCircuitBreakers(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"circuit_breakers": h.breakers.States(),
	})
}

func (h *Handler) handleChains(w http.ResponseWriter, r *http.Request) {
	chains := make(map[string][]domain.ProviderCandidate)
	for _, kind := range domain.Kinds() {
		for _, tier := range domain.Tiers() {
			candidates, err := h.chains.Resolve(kind, tier)
			if err != nil {
				continue
			}
			chains[string(kind)+"/"+string(tier)] = candidates
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"chains": chains,
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status":           "healthy",
		"version":          "0.1.0",
		"circuit_breakers": h.breakers.States(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (h *Handler) handleHealthLive(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]interface{}{
			"message": message,
			"type":    "error",
			"code":    status,
		},
	})
}
