package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/careeros/careeros-back/internal/domain"
	"github.com/careeros/careeros-back/internal/events"
	"github.com/careeros/careeros-back/internal/jobs"
	"github.com/careeros/careeros-back/internal/queue"
)

// Config sizes the pool. Each queue gets its own claim loops and
// maintenance ticker; a stuck handler in one queue never blocks another.
type Config struct {
	Queues              []domain.QueueName
	Concurrency         int           // claim loops per queue
	Visibility          time.Duration // claim lease before reclaim
	BackoffBase         time.Duration // first retry delay; doubles per retry
	PollInterval        time.Duration // idle sleep between empty claims
	MaintenanceInterval time.Duration // delayed promotion / reclaim cadence
}

func (c *Config) fillDefaults() {
	if len(c.Queues) == 0 {
		c.Queues = domain.AllQueues
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 2
	}
	if c.Visibility <= 0 {
		c.Visibility = 5 * time.Minute
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 2 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 250 * time.Millisecond
	}
	if c.MaintenanceInterval <= 0 {
		c.MaintenanceInterval = 500 * time.Millisecond
	}
}

// Pool claims jobs from the queue store, runs the matching handler and
// settles the outcome, publishing lifecycle events along the way.
type Pool struct {
	store *queue.Store
	bus   events.Publisher
	mux   *Mux
	cfg   Config
	log   *slog.Logger
	wg    sync.WaitGroup
}

func New(store *queue.Store, bus events.Publisher, mux *Mux, cfg Config, log *slog.Logger) *Pool {
	cfg.fillDefaults()
	if log == nil {
		log = slog.Default()
	}
	return &Pool{store: store, bus: bus, mux: mux, cfg: cfg, log: log}
}

// Run launches the claim loops and maintenance tickers and blocks until the
// context is cancelled and every in-flight handler has settled.
func (p *Pool) Run(ctx context.Context) {
	p.log.Info("worker pool starting",
		"queues", len(p.cfg.Queues),
		"concurrency", p.cfg.Concurrency,
	)
	for _, queueName := range p.cfg.Queues {
		p.wg.Add(1)
		go func(q domain.QueueName) {
			defer p.wg.Done()
			p.maintenanceLoop(ctx, q)
		}(queueName)

		for i := 0; i < p.cfg.Concurrency; i++ {
			p.wg.Add(1)
			go func(q domain.QueueName) {
				defer p.wg.Done()
				p.claimLoop(ctx, q)
			}(queueName)
		}
	}
	p.wg.Wait()
	p.log.Info("worker pool stopped")
}

// maintenanceLoop promotes due delayed jobs and reclaims visibility-expired
// claims for one queue.
func (p *Pool) maintenanceLoop(ctx context.Context, queueName domain.QueueName) {
	ticker := time.NewTicker(p.cfg.MaintenanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.store.PromoteDue(ctx, queueName); err != nil && ctx.Err() == nil {
				p.log.Warn("delayed promotion failed", "queue", queueName, "error", err)
			}
			if n, err := p.store.ReclaimExpired(ctx, queueName); err != nil && ctx.Err() == nil {
				p.log.Warn("visibility reclaim failed", "queue", queueName, "error", err)
			} else if n > 0 {
				p.log.Info("reclaimed expired claims", "queue", queueName, "count", n)
			}
		}
	}
}

// claimLoop runs one job at a time to completion or failure; the slot is
// released only when the job settles.
func (p *Pool) claimLoop(ctx context.Context, queueName domain.QueueName) {
	for {
		if ctx.Err() != nil {
			return
		}

		job, raw, err := p.store.Claim(ctx, queueName, p.cfg.Visibility)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.log.Error("claim failed", "queue", queueName, "error", err)
			p.sleep(ctx, p.cfg.PollInterval)
			continue
		}
		if job == nil {
			p.sleep(ctx, p.cfg.PollInterval)
			continue
		}

		p.process(ctx, queueName, job, raw)
	}
}

func (p *Pool) process(ctx context.Context, queueName domain.QueueName, job *domain.Job, raw []byte) {
	invocation := job.Attempt + 1
	p.log.Info("processing job",
		"queue", queueName,
		"job_id", job.ID,
		"type", job.Type,
		"attempt", invocation,
	)

	handler, ok := p.mux.handler(job.Type)
	if !ok {
		// No retry can fix a missing handler.
		p.settleFailed(ctx, queueName, job, raw, fmt.Sprintf("no handler for job type %q", job.Type))
		return
	}

	progress := func(percent int, stage string) {
		if percent < 0 {
			percent = 0
		} else if percent > 100 {
			percent = 100
		}
		job.Progress = &domain.Progress{Percent: percent, Stage: stage}
		newRaw, err := p.store.WriteProgress(ctx, queueName, raw, job)
		if err != nil {
			p.log.Warn("progress write failed", "job_id", job.ID, "error", err)
			return
		}
		raw = newRaw
		p.publish(ctx, domain.Event{
			Kind:     domain.EventJobProgress,
			JobID:    job.ID,
			UserID:   jobs.OwnerOf(job.ID),
			Queue:    queueName,
			Type:     job.Type,
			Progress: job.Progress,
		})
	}

	result, handlerErr := handler(ctx, job.Payload, progress)
	if handlerErr != nil {
		// A cancellation observed by the caller wins over any retry: the
		// record must never re-enter a live bucket.
		if cancelled, err := p.store.IsCancelled(ctx, queueName, job.ID); err == nil && cancelled {
			if err := p.store.DropActive(ctx, queueName, raw); err != nil {
				p.log.Warn("dropping cancelled job failed", "job_id", job.ID, "error", err)
			}
			p.log.Info("discarded failed attempt of cancelled job", "job_id", job.ID)
			return
		}
		if invocation >= job.MaxAttempts {
			p.settleFailed(ctx, queueName, job, raw, handlerErr.Error())
			return
		}

		job.Attempt = invocation
		delay := p.cfg.BackoffBase << (invocation - 1)
		if err := p.store.RetryLater(ctx, queueName, raw, job, delay); err != nil {
			p.log.Error("retry transition failed", "job_id", job.ID, "error", err)
			return
		}
		p.log.Warn("handler failed, retrying",
			"job_id", job.ID,
			"attempt", invocation,
			"delay", delay,
			"error", handlerErr,
		)
		return
	}

	// A cancellation observed by the caller wins over a late completion.
	if cancelled, err := p.store.IsCancelled(ctx, queueName, job.ID); err == nil && cancelled {
		if err := p.store.DropActive(ctx, queueName, raw); err != nil {
			p.log.Warn("dropping cancelled job failed", "job_id", job.ID, "error", err)
		}
		p.log.Info("discarded late completion of cancelled job", "job_id", job.ID)
		return
	}

	job.Result = result
	job.FailedReason = ""
	if err := p.store.Complete(ctx, queueName, raw, job); err != nil {
		p.log.Error("complete transition failed", "job_id", job.ID, "error", err)
		return
	}
	p.publish(ctx, domain.Event{
		Kind:   domain.EventJobCompleted,
		JobID:  job.ID,
		UserID: jobs.OwnerOf(job.ID),
		Queue:  queueName,
		Type:   job.Type,
		Result: result,
	})
	p.log.Info("job completed", "queue", queueName, "job_id", job.ID)
}

func (p *Pool) settleFailed(
	ctx context.Context,
	queueName domain.QueueName,
	job *domain.Job,
	raw []byte,
	reason string,
) {
	if cancelled, err := p.store.IsCancelled(ctx, queueName, job.ID); err == nil && cancelled {
		_ = p.store.DropActive(ctx, queueName, raw)
		return
	}
	if err := p.store.Fail(ctx, queueName, raw, job, reason); err != nil {
		p.log.Error("fail transition failed", "job_id", job.ID, "error", err)
		return
	}
	p.publish(ctx, domain.Event{
		Kind:         domain.EventJobFailed,
		JobID:        job.ID,
		UserID:       jobs.OwnerOf(job.ID),
		Queue:        queueName,
		Type:         job.Type,
		FailedReason: reason,
	})
	p.log.Warn("job failed permanently", "queue", queueName, "job_id", job.ID, "reason", reason)
}

func (p *Pool) publish(ctx context.Context, event domain.Event) {
	event.Timestamp = time.Now().UnixMilli()
	if err := p.bus.Publish(ctx, event); err != nil {
		p.log.Warn("event publish failed", "event", event.Kind, "job_id", event.JobID, "error", err)
	}
}

func (p *Pool) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
