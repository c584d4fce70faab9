package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/careeros/careeros-back/internal/domain"
	"github.com/careeros/careeros-back/internal/events"
	"github.com/careeros/careeros-back/internal/queue"
)

// ManagerConfig carries the retry and retention policy applied to every
// job the registry creates. Values are process-wide, not per-queue.
type ManagerConfig struct {
	MaxAttempts     int
	BackoffBase     time.Duration
	Retention       time.Duration // completed jobs
	FailedRetention time.Duration // failed and cancelled jobs
}

func (c *ManagerConfig) fillDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 2 * time.Second
	}
	if c.Retention <= 0 {
		c.Retention = 24 * time.Hour
	}
	if c.FailedRetention <= 0 {
		c.FailedRetention = 7 * 24 * time.Hour
	}
}

// Manager is the job registry: the only component that creates, reads,
// cancels or purges jobs. All state lives in the queue store; the manager
// itself holds no mutable job data.
type Manager struct {
	store *queue.Store
	bus   events.Publisher
	cfg   ManagerConfig
	log   *slog.Logger
}

func NewManager(store *queue.Store, bus events.Publisher, cfg ManagerConfig, log *slog.Logger) *Manager {
	cfg.fillDefaults()
	if log == nil {
		log = slog.Default()
	}
	return &Manager{store: store, bus: bus, cfg: cfg, log: log}
}

// CreateResult is the acknowledgement returned to the submitting handler.
type CreateResult struct {
	JobID  string           `json:"jobId"`
	Status domain.JobStatus `json:"status"`
}

// CreateJob constructs an ownership-encoded id, enqueues the job and
// publishes a created event. It performs one store round-trip and one
// publish; it never waits on worker availability.
func (m *Manager) CreateJob(
	ctx context.Context,
	queueName domain.QueueName,
	jobType string,
	payload json.RawMessage,
	userID string,
) (*CreateResult, error) {
	if _, err := domain.ParseQueueName(string(queueName)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if jobType == "" {
		return nil, fmt.Errorf("%w: job type is required", ErrInvalidInput)
	}
	if !ValidUserID(userID) {
		return nil, fmt.Errorf("%w: user id %q cannot own jobs", ErrInvalidInput, userID)
	}

	job := &domain.Job{
		ID:          NewJobID(userID, jobType),
		Queue:       queueName,
		Type:        jobType,
		Payload:     payload,
		Attempt:     0,
		MaxAttempts: m.cfg.MaxAttempts,
		CreatedAt:   time.Now().UnixMilli(),
	}

	if err := m.store.Enqueue(ctx, job, 0); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	m.publish(ctx, domain.Event{
		Kind:   domain.EventJobCreated,
		JobID:  job.ID,
		UserID: userID,
		Queue:  queueName,
		Type:   jobType,
	})
	m.log.Info("job created", "job_id", job.ID, "queue", queueName)

	return &CreateResult{JobID: job.ID, Status: domain.JobStatusQueued}, nil
}

// GetJobStatus verifies ownership, then searches each queue for the job and
// maps its store bucket onto the public status. Returns (nil, nil) when the
// id matches no stored job (purged or never existed).
func (m *Manager) GetJobStatus(ctx context.Context, jobID, userID string) (*domain.StatusResponse, error) {
	if !OwnedBy(jobID, userID) {
		return nil, ErrNotOwner
	}

	for _, queueName := range domain.AllQueues {
		job, state, _, err := m.store.Find(ctx, queueName, jobID)
		if errors.Is(err, queue.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return statusOf(job, state), nil
	}
	return nil, nil
}

// CancelJob removes a non-terminal job and publishes a cancelled event.
// Best-effort: a worker already executing the job is not interrupted, but
// its late settlement is discarded. Returns false when the job is terminal
// or unknown.
func (m *Manager) CancelJob(ctx context.Context, jobID, userID string) (bool, error) {
	if !OwnedBy(jobID, userID) {
		return false, ErrNotOwner
	}

	for _, queueName := range domain.AllQueues {
		job, state, raw, err := m.store.Find(ctx, queueName, jobID)
		if errors.Is(err, queue.ErrNotFound) {
			continue
		}
		if err != nil {
			return false, err
		}
		if state.Status().Terminal() {
			return false, nil
		}

		if err := m.store.MoveToCancelled(ctx, queueName, state, raw, job); err != nil {
			return false, err
		}
		m.publish(ctx, domain.Event{
			Kind:   domain.EventJobCancelled,
			JobID:  jobID,
			UserID: userID,
			Queue:  queueName,
			Type:   job.Type,
		})
		m.log.Info("job cancelled", "job_id", jobID, "queue", queueName)
		return true, nil
	}
	return false, nil
}

// GetUserActiveJobs scans queued, active and delayed jobs across all queues
// and returns the caller's, newest first.
func (m *Manager) GetUserActiveJobs(ctx context.Context, userID string) ([]*domain.StatusResponse, error) {
	owned := func(job *domain.Job) bool { return OwnedBy(job.ID, userID) }

	responses := make([]*domain.StatusResponse, 0)
	for _, queueName := range domain.AllQueues {
		for _, state := range []domain.StoreState{domain.StatePending, domain.StateActive, domain.StateDelayed} {
			jobs, err := m.store.List(ctx, queueName, state, owned)
			if err != nil {
				return nil, err
			}
			for _, job := range jobs {
				responses = append(responses, statusOf(job, state))
			}
		}
	}
	return responses, nil
}

// CleanupOldJobs removes completed jobs created before the cutoff, plus
// failed and cancelled jobs past the failed-retention window. Returns the
// number removed. Queued and processing jobs are never touched. Intended to
// run on a fixed interval, off the request path.
func (m *Manager) CleanupOldJobs(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge).UnixMilli()
	failedCutoff := time.Now().Add(-m.cfg.FailedRetention).UnixMilli()
	removed := 0

	for _, queueName := range domain.AllQueues {
		n, err := m.purge(ctx, queueName, domain.StateCompleted, cutoff)
		if err != nil {
			return removed, err
		}
		removed += n

		for _, state := range []domain.StoreState{domain.StateFailed, domain.StateCancelled} {
			n, err := m.purge(ctx, queueName, state, failedCutoff)
			if err != nil {
				return removed, err
			}
			removed += n
		}
	}
	if removed > 0 {
		m.log.Info("cleaned up old jobs", "removed", removed)
	}
	return removed, nil
}

func (m *Manager) purge(
	ctx context.Context,
	queueName domain.QueueName,
	state domain.StoreState,
	createdBefore int64,
) (int, error) {
	jobs, err := m.store.List(ctx, queueName, state, func(job *domain.Job) bool {
		return job.CreatedAt < createdBefore
	})
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, job := range jobs {
		// Re-find for the exact raw bytes; the record may have been
		// purged concurrently, which is fine.
		_, foundState, raw, err := m.store.Find(ctx, queueName, job.ID)
		if errors.Is(err, queue.ErrNotFound) || foundState != state {
			continue
		}
		if err != nil {
			return removed, err
		}
		if err := m.store.Remove(ctx, queueName, state, raw); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// publish is fire-and-forget: a bus hiccup must not fail the operation that
// caused the event, because status queries remain the source of truth.
func (m *Manager) publish(ctx context.Context, event domain.Event) {
	event.Timestamp = time.Now().UnixMilli()
	if err := m.bus.Publish(ctx, event); err != nil {
		m.log.Warn("event publish failed", "event", event.Kind, "job_id", event.JobID, "error", err)
	}
}

// statusOf assembles the public view, attaching progress, result and
// failure fields only where the current status allows them.
func statusOf(job *domain.Job, state domain.StoreState) *domain.StatusResponse {
	status := state.Status()
	response := &domain.StatusResponse{
		JobID:     job.ID,
		Status:    status,
		QueueName: job.Queue,
		CreatedAt: job.CreatedAt,
		StartedAt: job.StartedAt,
	}
	if status.Terminal() {
		response.CompletedAt = job.CompletedAt
	}
	switch status {
	case domain.JobStatusProcessing:
		response.Progress = job.Progress
	case domain.JobStatusCompleted:
		response.Result = job.Result
	case domain.JobStatusFailed:
		response.FailedReason = job.FailedReason
	}
	return response
}
