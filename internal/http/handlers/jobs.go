package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/careeros/careeros-back/internal/domain"
	"github.com/careeros/careeros-back/internal/http/middleware"
	"github.com/careeros/careeros-back/internal/jobs"
)

// JobsHandler exposes the job registry over REST. Every route requires an
// authenticated user; ownership checks beyond that live in the manager.
type JobsHandler struct {
	manager *jobs.Manager
	log     *slog.Logger
}

func NewJobsHandler(manager *jobs.Manager, log *slog.Logger) *JobsHandler {
	return &JobsHandler{manager: manager, log: log}
}

type createJobRequest struct {
	QueueName string          `json:"queueName"`
	JobType   string          `json:"jobType"`
	Payload   json.RawMessage `json:"payload"`
}

// ServeHTTP dispatches /v1/jobs and everything below it. The mux cannot
// route these itself because job ids contain colons and a trailing /status
// segment.
func (h *JobsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/jobs")
	rest = strings.TrimPrefix(rest, "/")

	switch {
	case rest == "" && r.Method == http.MethodPost:
		h.create(w, r)
	case rest == "" && r.Method == http.MethodGet:
		h.list(w, r)
	case strings.HasSuffix(rest, "/status") && r.Method == http.MethodGet:
		h.status(w, r, strings.TrimSuffix(rest, "/status"))
	case rest != "" && r.Method == http.MethodDelete:
		h.cancel(w, r, rest)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method for this resource")
	}
}

func (h *JobsHandler) create(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}

	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "request body must be valid JSON")
		return
	}
	if req.JobType == "" {
		req.JobType = req.QueueName
	}

	result, err := h.manager.CreateJob(r.Context(), domain.QueueName(req.QueueName), req.JobType, req.Payload, userID)
	if err != nil {
		if errors.Is(err, jobs.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
			return
		}
		h.log.Error("create job failed", "error", err, "user_id", userID)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to create job")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"success": true,
		"jobId":   result.JobID,
		"status":  result.Status,
	})
}

func (h *JobsHandler) status(w http.ResponseWriter, r *http.Request, jobID string) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}

	status, err := h.manager.GetJobStatus(r.Context(), jobID, userID)
	if err != nil {
		if errors.Is(err, jobs.ErrNotOwner) {
			writeError(w, http.StatusForbidden, "forbidden", "you do not have access to this job")
			return
		}
		h.log.Error("job status failed", "error", err, "job_id", jobID)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to retrieve job status")
		return
	}
	if status == nil {
		writeError(w, http.StatusNotFound, "not_found", "job not found")
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Success bool `json:"success"`
		*domain.StatusResponse
	}{Success: true, StatusResponse: status})
}

func (h *JobsHandler) cancel(w http.ResponseWriter, r *http.Request, jobID string) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}

	cancelled, err := h.manager.CancelJob(r.Context(), jobID, userID)
	if err != nil {
		if errors.Is(err, jobs.ErrNotOwner) {
			writeError(w, http.StatusForbidden, "forbidden", "you do not have access to this job")
			return
		}
		h.log.Error("cancel job failed", "error", err, "job_id", jobID)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to cancel job")
		return
	}
	if !cancelled {
		writeError(w, http.StatusNotFound, "not_found", "job is not cancellable")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"jobId":   jobID,
		"status":  domain.JobStatusCancelled,
	})
}

func (h *JobsHandler) list(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}

	active, err := h.manager.GetUserActiveJobs(r.Context(), userID)
	if err != nil {
		h.log.Error("list jobs failed", "error", err, "user_id", userID)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list jobs")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"jobs":    active,
	})
}
