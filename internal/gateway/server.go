// Package gateway delivers job lifecycle events to connected users over
// WebSocket. Connections authenticate at upgrade time and only ever see
// events for their own jobs.
package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/careeros/careeros-back/internal/auth"
	"github.com/careeros/careeros-back/internal/domain"
	"github.com/careeros/careeros-back/internal/events"
)

var (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 50 * time.Second
)

// Server fans bus events out to WebSocket connections keyed by user id. A
// user may hold several connections (multiple tabs); each one receives
// every event for that user.
type Server struct {
	bus      events.Subscriber
	authn    *auth.Authenticator
	upgrader websocket.Upgrader
	log      *slog.Logger

	mu    sync.RWMutex
	conns map[string]map[*websocket.Conn]struct{}
}

func NewServer(bus events.Subscriber, authn *auth.Authenticator, origins []string, log *slog.Logger) *Server {
	allowed := make(map[string]struct{}, len(origins))
	for _, origin := range origins {
		allowed[origin] = struct{}{}
	}

	return &Server{
		bus:   bus,
		authn: authn,
		log:   log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				_, ok := allowed[origin]
				return ok
			},
		},
		conns: make(map[string]map[*websocket.Conn]struct{}),
	}
}

// ServeHTTP upgrades the connection after validating the caller's token.
// Browsers cannot set headers on WebSocket requests, so the token is also
// accepted as a query parameter.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}
	userID, err := s.authn.Verify(token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err, "user_id", userID)
		return
	}

	s.register(userID, conn)
	s.log.Info("gateway connection opened", "user_id", userID)

	go s.readLoop(userID, conn)
	go s.pingLoop(conn)
}

// Run subscribes to the bus and delivers events until the context ends.
func (s *Server) Run(ctx context.Context) error {
	stream, stop, err := s.bus.Subscribe(ctx)
	if err != nil {
		return err
	}
	defer stop()

	for {
		select {
		case <-ctx.Done():
			s.closeAll()
			return ctx.Err()
		case event, ok := <-stream:
			if !ok {
				s.closeAll()
				return nil
			}
			s.deliver(event)
		}
	}
}

// deliver pushes one event to every connection owned by the event's user.
// A write failure drops that connection only.
func (s *Server) deliver(event domain.Event) {
	s.mu.RLock()
	targets := make([]*websocket.Conn, 0, len(s.conns[event.UserID]))
	for conn := range s.conns[event.UserID] {
		targets = append(targets, conn)
	}
	s.mu.RUnlock()

	for _, conn := range targets {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(event); err != nil {
			s.log.Warn("gateway write failed", "error", err, "user_id", event.UserID)
			s.unregister(event.UserID, conn)
			conn.Close()
		}
	}
}

// ConnectionCount reports the live connections held for a user.
func (s *Server) ConnectionCount(userID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns[userID])
}

func (s *Server) register(userID string, conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conns[userID] == nil {
		s.conns[userID] = make(map[*websocket.Conn]struct{})
	}
	s.conns[userID][conn] = struct{}{}
}

func (s *Server) unregister(userID string, conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if set, ok := s.conns[userID]; ok {
		delete(set, conn)
		if len(set) == 0 {
			delete(s.conns, userID)
		}
	}
}

// readLoop drains client frames so pongs and close messages are processed.
// The gateway never acts on inbound payloads.
func (s *Server) readLoop(userID string, conn *websocket.Conn) {
	defer func() {
		s.unregister(userID, conn)
		conn.Close()
		s.log.Info("gateway connection closed", "user_id", userID)
	}()

	conn.SetReadLimit(1024)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// pingLoop keeps the connection alive. WriteControl is safe to call
// concurrently with the event writes running in deliver.
func (s *Server) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for range ticker.C {
		if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
			return
		}
	}
}

func (s *Server) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for userID, set := range s.conns {
		for conn := range set {
			conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				time.Now().Add(time.Second),
			)
			conn.Close()
		}
		delete(s.conns, userID)
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if len(header) > 7 && header[:7] == "Bearer " {
		return header[7:]
	}
	return r.URL.Query().Get("token")
}
