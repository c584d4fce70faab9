package worker

import (
	"context"
	"encoding/json"
)

// ProgressFunc lets a handler report an advisory position (percent plus a
// human-readable stage). Fast handlers may never call it.
type ProgressFunc func(percent int, stage string)

// Handler executes one job. Handlers must be idempotent with respect to
// external side effects: at-least-once delivery means the same payload may
// run more than once across retries.
type Handler func(ctx context.Context, payload json.RawMessage, progress ProgressFunc) (json.RawMessage, error)

// Mux routes jobs to handlers by job type.
type Mux struct {
	handlers map[string]Handler
}

func NewMux() *Mux {
	return &Mux{handlers: make(map[string]Handler)}
}

// Handle registers a handler for a job type. Later registrations win.
func (m *Mux) Handle(jobType string, handler Handler) {
	m.handlers[jobType] = handler
}

// Handles reports whether a handler is registered for the job type.
func (m *Mux) Handles(jobType string) bool {
	_, ok := m.handlers[jobType]
	return ok
}

func (m *Mux) handler(jobType string) (Handler, bool) {
	handler, ok := m.handlers[jobType]
	return handler, ok
}
