package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/maltedev/adlibrary-harvester/internal/database"
	"github.com/maltedev/adlibrary-harvester/internal/job"
	"github.com/maltedev/adlibrary-harvester/internal/queue"
)

// OutboxStats reports outbox backlog for the health check.
type OutboxStats interface {
	CountByStatus(ctx context.Context, status ...string) (int64, error)
}

type Handlers struct {
	jobs   *job.Manager
	outbox OutboxStats
	logger *slog.Logger
}

func NewHandlers(jobs *job.Manager, logger *slog.Logger) *Handlers {
	return &Handlers{
		jobs:   jobs,
		logger: logger.With("component", "api"),
	}
}

// WithOutbox adds outbox backlog to the health report.
func (h *Handlers) WithOutbox(outbox OutboxStats) *Handlers {
	h.outbox = outbox
	return h
}

// CreateJobResponse represents the job creation response
type CreateJobResponse struct {
	JobID   string     `json:"job_id"`
	Status  job.Status `json:"status"`
	Message string     `json:"message"`
}

// CreateJob queues a new harvesting job.
func (h *Handlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req job.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	created, err := h.jobs.CreateJob(req)
	switch {
	case errors.Is(err, job.ErrInvalidRequest):
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, queue.ErrQueueFull), errors.Is(err, queue.ErrQueueClosed):
		h.respondError(w, http.StatusServiceUnavailable, "job queue unavailable")
		return
	case err != nil:
		h.logger.Error("failed to create job", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	h.respondJSON(w, http.StatusAccepted, CreateJobResponse{
		JobID:   created.ID,
		Status:  created.Status,
		Message: "Job queued",
	})
}

func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if jobID == "" {
		h.respondError(w, http.StatusBadRequest, "job ID is required")
		return
	}

	found, err := h.jobs.GetJob(jobID)
	if err != nil {
		h.respondError(w, http.StatusNotFound, "job not found")
		return
	}

	h.respondJSON(w, http.StatusOK, found)
}

func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.jobs.ListJobs())
}

// Health reports queue depth and, with an outbox configured, the relay
// backlog. A large dead-letter count marks the service unavailable.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status": "ok",
		"queue":  h.jobs.QueueSize(),
	}
	status := http.StatusOK

	if h.outbox != nil {
		pending, err := h.outbox.CountByStatus(r.Context(), database.OutboxStatusPending, database.OutboxStatusFailed)
		if err != nil {
			h.logger.Error("failed to read outbox backlog", "error", err)
		}
		dead, err := h.outbox.CountByStatus(r.Context(), database.OutboxStatusDeadLetter)
		if err != nil {
			h.logger.Error("failed to read dead letters", "error", err)
		}

		health["outbox"] = map[string]interface{}{
			"pending":     pending,
			"dead_letter": dead,
		}
		if pending > 1000 {
			health["status"] = "warning"
			health["message"] = "High number of pending outbox events"
		}
		if dead > 100 {
			health["status"] = "error"
			health["message"] = "High number of dead letter events"
			status = http.StatusServiceUnavailable
		}
	}

	h.respondJSON(w, status, health)
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
