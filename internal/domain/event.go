package domain

import "encoding/json"

// EventKind names a job lifecycle transition published on the event bus.
type EventKind string

const (
	EventJobCreated   EventKind = "job:created"
	EventJobProgress  EventKind = "job:progress"
	EventJobCompleted EventKind = "job:completed"
	EventJobFailed    EventKind = "job:failed"
	EventJobCancelled EventKind = "job:cancelled"
)

// Event is an immutable lifecycle fact. Delivery is fire-and-forget: a
// subscriber that is not connected at publish time never sees it, and the
// queue store stays the source of truth.
type Event struct {
	Kind         EventKind       `json:"event"`
	JobID        string          `json:"jobId"`
	UserID       string          `json:"userId"`
	Queue        QueueName       `json:"queueName"`
	Type         string          `json:"type,omitempty"`
	Timestamp    int64           `json:"timestamp"`
	Progress     *Progress       `json:"progress,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
	FailedReason string          `json:"failedReason,omitempty"`
}
