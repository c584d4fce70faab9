package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/careeros/careeros-back/internal/domain"
	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when a job id matches no stored record.
var ErrNotFound = errors.New("job not found")

// claimScript atomically moves one record from the pending list into the
// active ZSET, scored by the visibility deadline.
var claimScript = redis.NewScript(`
local v = redis.call('RPOP', KEYS[1])
if not v then return false end
redis.call('ZADD', KEYS[2], ARGV[1], v)
return v
`)

// promoteOneScript moves one due record from the delayed ZSET back to pending.
var promoteOneScript = redis.NewScript(`
local items = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 1)
if #items == 0 then return false end
local m = items[1]
if redis.call('ZREM', KEYS[1], m) == 1 then
  redis.call('LPUSH', KEYS[2], m)
  return m
end
return false
`)

// reclaimOneScript returns one visibility-expired active record to pending so
// another worker can claim it.
var reclaimOneScript = redis.NewScript(`
local items = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 1)
if #items == 0 then return false end
local m = items[1]
if redis.call('ZREM', KEYS[1], m) == 1 then
  redis.call('LPUSH', KEYS[2], m)
  return m
end
return false
`)

// Store is the access layer over the shared Redis queue store. Every
// mutation goes through its atomic primitives; callers never hold an
// in-process lock across store operations.
type Store struct {
	rdb redis.UniversalClient
}

func NewStore(rdb redis.UniversalClient) *Store {
	return &Store{rdb: rdb}
}

// Enqueue stores a new job record, either ready to claim or delayed.
func (s *Store) Enqueue(ctx context.Context, job *domain.Job, delay time.Duration) error {
	raw, err := encodeJob(job)
	if err != nil {
		return err
	}
	k := keysFor(job.Queue)

	if delay > 0 {
		readyAt := time.Now().Add(delay).UnixMilli()
		if err := s.rdb.ZAdd(ctx, k.Delayed, redis.Z{Score: float64(readyAt), Member: raw}).Err(); err != nil {
			return fmt.Errorf("enqueue delayed: %w", err)
		}
		return nil
	}
	if err := s.rdb.LPush(ctx, k.Pending, raw).Err(); err != nil {
		return fmt.Errorf("enqueue pending: %w", err)
	}
	return nil
}

// Claim atomically moves one pending record into the active set with the
// given visibility window and stamps StartedAt on first claim. It returns
// (nil, nil, nil) when the queue is empty.
func (s *Store) Claim(
	ctx context.Context,
	queue domain.QueueName,
	visibility time.Duration,
) (*domain.Job, []byte, error) {
	k := keysFor(queue)
	deadline := time.Now().Add(visibility).UnixMilli()

	res, err := claimScript.Run(ctx, s.rdb, []string{k.Pending, k.Active}, strconv.FormatInt(deadline, 10)).Result()
	if errors.Is(err, redis.Nil) || res == nil {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("claim: %w", err)
	}

	raw := rawBytes(res)
	if raw == nil {
		return nil, nil, nil
	}

	job := new(domain.Job)
	if err := sonic.Unmarshal(raw, job); err != nil {
		// Undecodable record: drop it from active rather than spinning on it.
		_ = s.rdb.ZRem(ctx, k.Active, raw).Err()
		return nil, nil, fmt.Errorf("decode claimed record: %w", err)
	}

	if job.StartedAt == 0 {
		job.StartedAt = time.Now().UnixMilli()
	}
	newRaw, err := s.swapActive(ctx, k, raw, job, deadline)
	if err != nil {
		return nil, nil, err
	}
	return job, newRaw, nil
}

// WriteProgress replaces the in-flight record with one carrying the updated
// progress. Best-effort monotonicity only; the final state is authoritative.
func (s *Store) WriteProgress(
	ctx context.Context,
	queue domain.QueueName,
	raw []byte,
	job *domain.Job,
) ([]byte, error) {
	k := keysFor(queue)
	score, err := s.rdb.ZScore(ctx, k.Active, string(raw)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("progress score lookup: %w", err)
	}
	return s.swapActive(ctx, k, raw, job, int64(score))
}

// Complete settles an active job as completed, stamping CompletedAt.
func (s *Store) Complete(ctx context.Context, queue domain.QueueName, raw []byte, job *domain.Job) error {
	job.CompletedAt = time.Now().UnixMilli()
	return s.settle(ctx, queue, raw, job, domain.StateCompleted)
}

// Fail settles an active job as permanently failed with the given reason.
func (s *Store) Fail(ctx context.Context, queue domain.QueueName, raw []byte, job *domain.Job, reason string) error {
	job.FailedReason = reason
	job.CompletedAt = time.Now().UnixMilli()
	return s.settle(ctx, queue, raw, job, domain.StateFailed)
}

// RetryLater moves an active job into the delayed set for a backoff retry.
// The caller is expected to have incremented the attempt counter.
func (s *Store) RetryLater(
	ctx context.Context,
	queue domain.QueueName,
	raw []byte,
	job *domain.Job,
	delay time.Duration,
) error {
	k := keysFor(queue)
	newRaw, err := encodeJob(job)
	if err != nil {
		return err
	}
	readyAt := time.Now().Add(delay).UnixMilli()
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZRem(ctx, k.Active, raw)
		p.ZAdd(ctx, k.Delayed, redis.Z{Score: float64(readyAt), Member: newRaw})
		return nil
	})
	if err != nil {
		return fmt.Errorf("retry transition: %w", err)
	}
	return nil
}

// MoveToCancelled removes a record from its current bucket and parks it in
// the cancelled set so later status queries still observe the cancellation.
func (s *Store) MoveToCancelled(
	ctx context.Context,
	queue domain.QueueName,
	state domain.StoreState,
	raw []byte,
	job *domain.Job,
) error {
	k := keysFor(queue)
	job.CompletedAt = time.Now().UnixMilli()
	newRaw, err := encodeJob(job)
	if err != nil {
		return err
	}
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		if state == domain.StatePending {
			p.LRem(ctx, k.Pending, 1, raw)
		} else {
			p.ZRem(ctx, k.forState(state), raw)
		}
		p.ZAdd(ctx, k.Cancelled, redis.Z{Score: float64(job.CompletedAt), Member: newRaw})
		return nil
	})
	if err != nil {
		return fmt.Errorf("cancel transition: %w", err)
	}
	return nil
}

// DropActive discards an in-flight record without settling it. Used when a
// worker finishes a job that was cancelled mid-execution.
func (s *Store) DropActive(ctx context.Context, queue domain.QueueName, raw []byte) error {
	k := keysFor(queue)
	if err := s.rdb.ZRem(ctx, k.Active, raw).Err(); err != nil {
		return fmt.Errorf("drop active: %w", err)
	}
	return nil
}

// Remove deletes a settled record from the given bucket.
func (s *Store) Remove(ctx context.Context, queue domain.QueueName, state domain.StoreState, raw []byte) error {
	k := keysFor(queue)
	if state == domain.StatePending {
		if err := s.rdb.LRem(ctx, k.Pending, 1, raw).Err(); err != nil {
			return fmt.Errorf("remove pending: %w", err)
		}
		return nil
	}
	if err := s.rdb.ZRem(ctx, k.forState(state), raw).Err(); err != nil {
		return fmt.Errorf("remove %s: %w", state, err)
	}
	return nil
}

// Find scans the queue's buckets for the record with the given id. The scan
// order prefers live states so a racing settle is observed late, not early.
func (s *Store) Find(
	ctx context.Context,
	queue domain.QueueName,
	jobID string,
) (*domain.Job, domain.StoreState, []byte, error) {
	for _, state := range domain.AllStates {
		members, err := s.members(ctx, queue, state)
		if err != nil {
			return nil, "", nil, err
		}
		for _, member := range members {
			job := new(domain.Job)
			if err := sonic.Unmarshal([]byte(member), job); err != nil {
				continue
			}
			if job.ID == jobID {
				return job, state, []byte(member), nil
			}
		}
	}
	return nil, "", nil, ErrNotFound
}

// List decodes every record in the given bucket, keeping those the filter
// accepts. A nil filter keeps everything.
func (s *Store) List(
	ctx context.Context,
	queue domain.QueueName,
	state domain.StoreState,
	filter func(*domain.Job) bool,
) ([]*domain.Job, error) {
	members, err := s.members(ctx, queue, state)
	if err != nil {
		return nil, err
	}
	jobs := make([]*domain.Job, 0, len(members))
	for _, member := range members {
		job := new(domain.Job)
		if err := sonic.Unmarshal([]byte(member), job); err != nil {
			continue
		}
		if filter == nil || filter(job) {
			jobs = append(jobs, job)
		}
	}
	return jobs, nil
}

// IsCancelled reports whether the job id is parked in the cancelled set.
func (s *Store) IsCancelled(ctx context.Context, queue domain.QueueName, jobID string) (bool, error) {
	jobs, err := s.List(ctx, queue, domain.StateCancelled, func(job *domain.Job) bool {
		return job.ID == jobID
	})
	if err != nil {
		return false, err
	}
	return len(jobs) > 0, nil
}

// PromoteDue moves records whose backoff or scheduled delay has elapsed from
// the delayed set back to pending. Returns the number promoted.
func (s *Store) PromoteDue(ctx context.Context, queue domain.QueueName) (int, error) {
	return s.drainScript(ctx, promoteOneScript, keysFor(queue).Delayed, keysFor(queue).Pending)
}

// ReclaimExpired returns visibility-expired active records to pending so a
// crashed or stuck worker's claim is eventually released.
func (s *Store) ReclaimExpired(ctx context.Context, queue domain.QueueName) (int, error) {
	return s.drainScript(ctx, reclaimOneScript, keysFor(queue).Active, keysFor(queue).Pending)
}

func (s *Store) drainScript(ctx context.Context, script *redis.Script, from, to string) (int, error) {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	moved := 0
	// Bounded per call to keep maintenance ticks short.
	for i := 0; i < 256; i++ {
		res, err := script.Run(ctx, s.rdb, []string{from, to}, now).Result()
		if errors.Is(err, redis.Nil) || res == nil || res == false {
			break
		}
		if err != nil {
			return moved, fmt.Errorf("drain %s: %w", from, err)
		}
		moved++
	}
	return moved, nil
}

func (s *Store) members(ctx context.Context, queue domain.QueueName, state domain.StoreState) ([]string, error) {
	k := keysFor(queue)
	var members []string
	var err error
	if state == domain.StatePending {
		members, err = s.rdb.LRange(ctx, k.Pending, 0, -1).Result()
	} else {
		members, err = s.rdb.ZRange(ctx, k.forState(state), 0, -1).Result()
	}
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("list %s/%s: %w", queue, state, err)
	}
	return members, nil
}

// swapActive replaces an active member in place, keeping its score.
func (s *Store) swapActive(
	ctx context.Context,
	k keyset,
	raw []byte,
	job *domain.Job,
	score int64,
) ([]byte, error) {
	newRaw, err := encodeJob(job)
	if err != nil {
		return nil, err
	}
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZRem(ctx, k.Active, raw)
		p.ZAdd(ctx, k.Active, redis.Z{Score: float64(score), Member: newRaw})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("swap active record: %w", err)
	}
	return newRaw, nil
}

func (s *Store) settle(
	ctx context.Context,
	queue domain.QueueName,
	raw []byte,
	job *domain.Job,
	state domain.StoreState,
) error {
	k := keysFor(queue)
	newRaw, err := encodeJob(job)
	if err != nil {
		return err
	}
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZRem(ctx, k.Active, raw)
		p.ZAdd(ctx, k.forState(state), redis.Z{Score: float64(job.CompletedAt), Member: newRaw})
		return nil
	})
	if err != nil {
		return fmt.Errorf("settle %s: %w", state, err)
	}
	return nil
}

func encodeJob(job *domain.Job) ([]byte, error) {
	raw, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("encode job record: %w", err)
	}
	return raw, nil
}

func rawBytes(value any) []byte {
	switch v := value.(type) {
	case string:
		return []byte(v)
	case []byte:
		return v
	default:
		return nil
	}
}
