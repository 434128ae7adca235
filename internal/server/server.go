// Package server provides the optional status endpoint and WebSocket event
// stream of the capture device.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/oszuidwest/zwfm-soundgate/internal/eventlog"
	"github.com/oszuidwest/zwfm-soundgate/internal/types"
)

// statusInterval is the period of unsolicited status messages on /ws.
const statusInterval = 3 * time.Second

// StatusProvider exposes the session controller state.
type StatusProvider interface {
	State() types.SessionState
	Stats() types.SessionCounters
	LastEvent() *types.SessionEvent
}

// VersionProvider exposes build and update information.
type VersionProvider interface {
	Info() types.VersionInfo
}

// Server serves /api/status, /api/events and /ws.
type Server struct {
	deviceID     string
	status       StatusProvider
	version      VersionProvider
	hub          *Hub
	eventLogPath string
	started      time.Time
}

// New returns a Server. eventLogPath may be empty when the event log is disabled.
func New(deviceID string, status StatusProvider, version VersionProvider, hub *Hub, eventLogPath string) *Server {
	if hub == nil {
		hub = NewHub()
	}
	return &Server{
		deviceID:     deviceID,
		status:       status,
		version:      version,
		hub:          hub,
		eventLogPath: eventLogPath,
		started:      time.Now(),
	}
}

// Hub returns the event hub to register as a session event sink.
func (s *Server) Hub() *Hub { return s.hub }

// Handler returns an [http.Handler] configured with all routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/events", s.handleEvents)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	return securityHeaders(mux)
}

// Start begins the HTTP server on port.
// Returns an *http.Server that can be used for graceful shutdown.
func (s *Server) Start(port int) *http.Server {
	addr := fmt.Sprintf(":%d", port)
	slog.Info("starting status server", "addr", addr)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	return srv
}

// Shutdown stops srv, waiting at most until ctx is done.
func Shutdown(ctx context.Context, srv *http.Server) error {
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// buildStatus returns the current status snapshot.
func (s *Server) buildStatus() types.StatusResponse {
	resp := types.StatusResponse{
		Type:     "status",
		DeviceID: s.deviceID,
		State:    s.status.State(),
		Uptime:   time.Since(s.started).Truncate(time.Second).String(),
		Counters: s.status.Stats(),
		Last:     s.status.LastEvent(),
	}
	if s.version != nil {
		resp.Version = s.version.Info()
	}
	return resp
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.buildStatus())
}

// eventsResponse is a page of persisted session events.
type eventsResponse struct {
	Events  []types.SessionEvent `json:"events"`
	HasMore bool                 `json:"has_more"`
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.eventLogPath == "" {
		writeError(w, http.StatusNotFound, "event log disabled")
		return
	}

	q := r.URL.Query()
	limit, err := queryInt(q.Get("limit"), 50)
	if err != nil || limit < 1 {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	offset, err := queryInt(q.Get("offset"), 0)
	if err != nil || offset < 0 {
		writeError(w, http.StatusBadRequest, "invalid offset")
		return
	}

	events, hasMore, err := eventlog.ReadLast(s.eventLogPath, limit, offset, types.EventType(q.Get("type")))
	if err != nil {
		slog.Error("failed to read event log", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read event log")
		return
	}
	writeJSON(w, http.StatusOK, eventsResponse{Events: events, HasMore: hasMore})
}

// handleWebSocket streams a status message on connect, session events as
// they happen, and a status message every statusInterval.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err)
		return
	}

	send := s.hub.subscribe()
	done := make(chan struct{})

	// Writer goroutine - sole writer to the connection
	go runWriter(conn, send)

	// Reader goroutine - detects the client going away
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	s.hub.broadcastTo(send, s.buildStatus())

	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			s.hub.unsubscribe(send)
			return
		case <-r.Context().Done():
			s.hub.unsubscribe(send)
			return
		case <-ticker.C:
			s.hub.broadcastTo(send, s.buildStatus())
		}
	}
}

// runWriter writes messages from send until it is closed.
func runWriter(conn *websocket.Conn, send <-chan any) {
	defer func() {
		if err := conn.Close(); err != nil {
			slog.Debug("WebSocket close error", "error", err)
		}
	}()
	for msg := range send {
		if err := conn.WriteJSON(msg); err != nil {
			// Keep draining so the hub never blocks on this client
			for range send {
			}
			return
		}
	}
}

// securityHeaders returns middleware that wraps handlers with security headers.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func queryInt(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}
