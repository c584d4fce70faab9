package queue

import "github.com/careeros/careeros-back/internal/domain"

// keyset holds the precomputed Redis keys for one named queue. The hash tag
// keeps all of a queue's keys on the same cluster slot.
type keyset struct {
	Pending   string // LIST, ready to claim
	Active    string // ZSET scored by visibility deadline (unix ms)
	Delayed   string // ZSET scored by ready-at (unix ms)
	Completed string // ZSET scored by settle time (unix ms)
	Failed    string // ZSET scored by settle time (unix ms)
	Cancelled string // ZSET scored by cancel time (unix ms)
}

func keysFor(queue domain.QueueName) keyset {
	prefix := "careeros:{" + string(queue) + "}:"
	return keyset{
		Pending:   prefix + "pending",
		Active:    prefix + "active",
		Delayed:   prefix + "delayed",
		Completed: prefix + "completed",
		Failed:    prefix + "failed",
		Cancelled: prefix + "cancelled",
	}
}

func (k keyset) forState(state domain.StoreState) string {
	switch state {
	case domain.StatePending:
		return k.Pending
	case domain.StateActive:
		return k.Active
	case domain.StateDelayed:
		return k.Delayed
	case domain.StateCompleted:
		return k.Completed
	case domain.StateFailed:
		return k.Failed
	case domain.StateCancelled:
		return k.Cancelled
	}
	return ""
}
