package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/careeros/careeros-back/internal/auth"
	"github.com/careeros/careeros-back/internal/domain"
	"github.com/careeros/careeros-back/internal/events"
	"github.com/careeros/careeros-back/internal/logger"
)

type harness struct {
	server *Server
	bus    *events.MemoryBus
	authn  *auth.Authenticator
	http   *httptest.Server
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	bus := events.NewMemoryBus()
	authn := auth.New("test-secret", time.Hour)
	server := NewServer(bus, authn, nil, logger.New("error", "console"))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = server.Run(ctx) }()

	httpServer := httptest.NewServer(server)
	t.Cleanup(httpServer.Close)

	return &harness{server: server, bus: bus, authn: authn, http: httpServer}
}

func (h *harness) dial(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	token, err := h.authn.Issue(userID)
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(h.http.URL, "http") + "?token=" + token
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })

	// Wait for the server to register the connection before publishing.
	require.Eventually(t, func() bool {
		return h.server.ConnectionCount(userID) > 0
	}, time.Second, 5*time.Millisecond)
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) domain.Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var event domain.Event
	require.NoError(t, conn.ReadJSON(&event))
	return event
}

func TestHandshakeRequiresToken(t *testing.T) {
	h := newHarness(t)

	url := "ws" + strings.TrimPrefix(h.http.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandshakeRejectsBadToken(t *testing.T) {
	h := newHarness(t)

	url := "ws" + strings.TrimPrefix(h.http.URL, "http") + "?token=garbage"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandshakeAcceptsAuthorizationHeader(t *testing.T) {
	h := newHarness(t)
	token, err := h.authn.Issue("user-1")
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(h.http.URL, "http")
	header := http.Header{"Authorization": []string{"Bearer " + token}}
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	conn.Close()
}

func TestEventsDeliveredToOwner(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t, "user-1")

	err := h.bus.Publish(context.Background(), domain.Event{
		Kind:   domain.EventJobCompleted,
		JobID:  "user-1:resume-optimization:1:aaaa",
		UserID: "user-1",
		Queue:  domain.QueueResumeOptimization,
	})
	require.NoError(t, err)

	event := readEvent(t, conn)
	require.Equal(t, domain.EventJobCompleted, event.Kind)
	require.Equal(t, "user-1:resume-optimization:1:aaaa", event.JobID)
}

func TestEventsNotDeliveredToOtherUsers(t *testing.T) {
	h := newHarness(t)
	owner := h.dial(t, "user-1")
	other := h.dial(t, "user-2")

	err := h.bus.Publish(context.Background(), domain.Event{
		Kind:   domain.EventJobCompleted,
		JobID:  "user-1:resume-optimization:1:aaaa",
		UserID: "user-1",
	})
	require.NoError(t, err)

	// Owner receives it.
	event := readEvent(t, owner)
	require.Equal(t, "user-1", event.UserID)

	// The other user's connection stays silent.
	other.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	var stray domain.Event
	require.Error(t, other.ReadJSON(&stray))
}

func TestMultipleConnectionsPerUser(t *testing.T) {
	h := newHarness(t)
	first := h.dial(t, "user-1")
	second := h.dial(t, "user-1")
	require.Equal(t, 2, h.server.ConnectionCount("user-1"))

	err := h.bus.Publish(context.Background(), domain.Event{
		Kind:   domain.EventJobProgress,
		JobID:  "user-1:resume-optimization:1:aaaa",
		UserID: "user-1",
	})
	require.NoError(t, err)

	require.Equal(t, domain.EventJobProgress, readEvent(t, first).Kind)
	require.Equal(t, domain.EventJobProgress, readEvent(t, second).Kind)
}

func TestPingsInterleaveWithEventWrites(t *testing.T) {
	restore := pingPeriod
	pingPeriod = 2 * time.Millisecond
	t.Cleanup(func() { pingPeriod = restore })

	h := newHarness(t)
	conn := h.dial(t, "user-1")

	// A steady event stream while pings fire on the same connection; every
	// event must arrive and the connection must stay up.
	const total = 50
	go func() {
		for i := 0; i < total; i++ {
			_ = h.bus.Publish(context.Background(), domain.Event{
				Kind:   domain.EventJobProgress,
				JobID:  "user-1:resume-optimization:1:aaaa",
				UserID: "user-1",
			})
			time.Sleep(time.Millisecond)
		}
	}()

	for i := 0; i < total; i++ {
		event := readEvent(t, conn)
		require.Equal(t, domain.EventJobProgress, event.Kind)
	}
	require.Equal(t, 1, h.server.ConnectionCount("user-1"))
}

func TestDisconnectUnregisters(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t, "user-1")

	conn.Close()
	require.Eventually(t, func() bool {
		return h.server.ConnectionCount("user-1") == 0
	}, time.Second, 5*time.Millisecond)
}
