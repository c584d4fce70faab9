package domain

import (
	"encoding/json"
	"fmt"
)

// QueueName identifies a named queue; one per family of long-running handlers.
type QueueName string

const (
	QueueResumeGeneration   QueueName = "resume-generation"
	QueueResumeOptimization QueueName = "resume-optimization"
	QueueSkillGapAnalysis   QueueName = "skill-gap-analysis"
	QueueCareerInsights     QueueName = "career-insights"
	QueueInterviewPrep      QueueName = "interview-prep"
)

// AllQueues lists every named queue in a stable order.
var AllQueues = []QueueName{
	QueueResumeGeneration,
	QueueResumeOptimization,
	QueueSkillGapAnalysis,
	QueueCareerInsights,
	QueueInterviewPrep,
}

func ParseQueueName(value string) (QueueName, error) {
	for _, queue := range AllQueues {
		if string(queue) == value {
			return queue, nil
		}
	}
	return "", fmt.Errorf("unknown queue: %q", value)
}

// JobStatus is the public lifecycle state exposed to callers.
// Transitions are monotonic: queued -> processing -> {completed, failed},
// with cancelled reachable from queued or processing.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// Terminal reports whether no further transition can be observed.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// StoreState is the internal bucket a job record lives in inside the queue
// store. Pending and delayed both surface as queued; active as processing.
type StoreState string

const (
	StatePending   StoreState = "pending"
	StateActive    StoreState = "active"
	StateDelayed   StoreState = "delayed"
	StateCompleted StoreState = "completed"
	StateFailed    StoreState = "failed"
	StateCancelled StoreState = "cancelled"
)

// AllStates lists every store bucket in lookup order.
var AllStates = []StoreState{
	StateActive,
	StatePending,
	StateDelayed,
	StateCompleted,
	StateFailed,
	StateCancelled,
}

// Status maps the internal bucket to the public lifecycle state.
func (s StoreState) Status() JobStatus {
	switch s {
	case StateActive:
		return JobStatusProcessing
	case StateCompleted:
		return JobStatusCompleted
	case StateFailed:
		return JobStatusFailed
	case StateCancelled:
		return JobStatusCancelled
	default:
		return JobStatusQueued
	}
}

// Progress is an advisory, handler-reported position inside a running job.
type Progress struct {
	Percent int    `json:"percent"`
	Stage   string `json:"stage"`
}

// Job is the stored record for one unit of asynchronous work. It is
// serialized to JSON and kept in the queue store for its whole lifetime.
type Job struct {
	ID           string          `json:"id"`
	Queue        QueueName       `json:"queue"`
	Type         string          `json:"type"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Attempt      int             `json:"attempt"`
	MaxAttempts  int             `json:"max_attempts"`
	Progress     *Progress       `json:"progress,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
	FailedReason string          `json:"failed_reason,omitempty"`
	// Timestamps are unix milliseconds, each set at most once.
	CreatedAt   int64 `json:"created_at"`
	StartedAt   int64 `json:"started_at,omitempty"`
	CompletedAt int64 `json:"completed_at,omitempty"`
}

// StatusResponse is the public view of a job assembled by the registry.
// Progress, result and failure fields are present only when applicable to
// the current status.
type StatusResponse struct {
	JobID        string          `json:"jobId"`
	Status       JobStatus       `json:"status"`
	QueueName    QueueName       `json:"queueName"`
	CreatedAt    int64           `json:"createdAt"`
	StartedAt    int64           `json:"startedAt,omitempty"`
	CompletedAt  int64           `json:"completedAt,omitempty"`
	Progress     *Progress       `json:"progress,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
	FailedReason string          `json:"failedReason,omitempty"`
}
