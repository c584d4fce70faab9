// Package integration exercises the whole pipeline: job submission through
// the registry, execution by the worker pool, lifecycle events over the
// Redis bus and delivery through the notification gateway.
package integration

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/careeros/careeros-back/internal/analysis"
	"github.com/careeros/careeros-back/internal/auth"
	"github.com/careeros/careeros-back/internal/domain"
	"github.com/careeros/careeros-back/internal/events"
	"github.com/careeros/careeros-back/internal/gateway"
	"github.com/careeros/careeros-back/internal/jobs"
	"github.com/careeros/careeros-back/internal/logger"
	"github.com/careeros/careeros-back/internal/queue"
	"github.com/careeros/careeros-back/internal/worker"
)

type pipeline struct {
	manager *jobs.Manager
	authn   *auth.Authenticator
	gateway *gateway.Server
	wsURL   string
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	mrd := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mrd.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	log := logger.New("error", "console")
	store := queue.NewStore(rdb)
	bus := events.NewRedisBus(rdb, "", log)
	manager := jobs.NewManager(store, bus, jobs.ManagerConfig{}, log)
	authn := auth.New("test-secret", time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	mux := worker.NewMux()
	analysis.Register(mux)
	pool := worker.New(store, bus, mux, worker.Config{
		Concurrency:         1,
		Visibility:          time.Minute,
		BackoffBase:         5 * time.Millisecond,
		PollInterval:        5 * time.Millisecond,
		MaintenanceInterval: 5 * time.Millisecond,
	}, log)
	go pool.Run(ctx)

	gw := gateway.NewServer(bus, authn, nil, log)
	go func() { _ = gw.Run(ctx) }()
	server := httptest.NewServer(gw)
	t.Cleanup(server.Close)

	return &pipeline{
		manager: manager,
		authn:   authn,
		gateway: gw,
		wsURL:   "ws" + strings.TrimPrefix(server.URL, "http"),
	}
}

func (p *pipeline) connect(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	token, err := p.authn.Issue(userID)
	require.NoError(t, err)

	conn, resp, err := websocket.DefaultDialer.Dial(p.wsURL+"?token="+token, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })

	require.Eventually(t, func() bool {
		return p.gateway.ConnectionCount(userID) > 0
	}, time.Second, 5*time.Millisecond)
	return conn
}

func TestJobRunsToCompletionWithNotifications(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	ownerConn := p.connect(t, "user-1")
	otherConn := p.connect(t, "user-2")

	result, err := p.manager.CreateJob(ctx, domain.QueueResumeOptimization, "resume-optimization",
		json.RawMessage(`{"resumeText":"Built APIs in Go","targetRole":"Backend Engineer"}`), "user-1")
	require.NoError(t, err)
	require.Equal(t, domain.JobStatusQueued, result.Status)

	// Poll until the registry reports completion.
	var status *domain.StatusResponse
	require.Eventually(t, func() bool {
		status, err = p.manager.GetJobStatus(ctx, result.JobID, "user-1")
		return err == nil && status != nil && status.Status == domain.JobStatusCompleted
	}, 5*time.Second, 10*time.Millisecond)
	require.NotEmpty(t, status.Result)
	require.NotZero(t, status.CompletedAt)

	// The owner sees created, progress updates and exactly one completion.
	completions := 0
	deadline := time.Now().Add(2 * time.Second)
	for completions == 0 && time.Now().Before(deadline) {
		ownerConn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		var event domain.Event
		if err := ownerConn.ReadJSON(&event); err != nil {
			break
		}
		require.Equal(t, "user-1", event.UserID)
		require.Equal(t, result.JobID, event.JobID)
		if event.Kind == domain.EventJobCompleted {
			completions++
			require.NotEmpty(t, event.Result)
		}
	}
	require.Equal(t, 1, completions)

	// No further completion events arrive.
	ownerConn.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	var extra domain.Event
	for ownerConn.ReadJSON(&extra) == nil {
		require.NotEqual(t, domain.EventJobCompleted, extra.Kind)
	}

	// The other user's connection saw nothing.
	otherConn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	var stray domain.Event
	require.Error(t, otherConn.ReadJSON(&stray))
}

func TestStatusIsOwnerScoped(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	result, err := p.manager.CreateJob(ctx, domain.QueueCareerInsights, "career-insights",
		json.RawMessage(`{"domain":"Software Engineering"}`), "user-1")
	require.NoError(t, err)

	_, err = p.manager.GetJobStatus(ctx, result.JobID, "user-2")
	require.ErrorIs(t, err, jobs.ErrNotOwner)

	_, err = p.manager.CancelJob(ctx, result.JobID, "user-2")
	require.ErrorIs(t, err, jobs.ErrNotOwner)
}

func TestFailedJobSurfacesReason(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	// A payload every handler invocation rejects: retried to exhaustion,
	// then failed permanently.
	result, err := p.manager.CreateJob(ctx, domain.QueueSkillGapAnalysis, "skill-gap-analysis",
		json.RawMessage(`{"currentSkills":["go"]}`), "user-1")
	require.NoError(t, err)

	var status *domain.StatusResponse
	require.Eventually(t, func() bool {
		status, err = p.manager.GetJobStatus(ctx, result.JobID, "user-1")
		return err == nil && status != nil && status.Status == domain.JobStatusFailed
	}, 5*time.Second, 10*time.Millisecond)
	require.Contains(t, status.FailedReason, "targetRole")
}

func TestCancelledJobStaysQueryable(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	// Enqueue many jobs so the target is still queued when cancelled.
	var target string
	for i := 0; i < 5; i++ {
		result, err := p.manager.CreateJob(ctx, domain.QueueCareerInsights, "career-insights",
			json.RawMessage(`{"domain":"Software Engineering"}`), "user-1")
		require.NoError(t, err)
		target = result.JobID
	}

	cancelled, err := p.manager.CancelJob(ctx, target, "user-1")
	require.NoError(t, err)
	if !cancelled {
		t.Skip("job settled before it could be cancelled")
	}

	status, err := p.manager.GetJobStatus(ctx, target, "user-1")
	require.NoError(t, err)
	require.NotNil(t, status)
	require.Equal(t, domain.JobStatusCancelled, status.Status)
}
