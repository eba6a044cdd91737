// Package server exposes the routing core to devices over HTTP and WebSocket.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Druidia-Bot/DotBot-sub006/pkg/core"
	"github.com/Druidia-Bot/DotBot-sub006/pkg/logx"
)

// MessageHandler is the routing core as seen by the transport.
type MessageHandler interface {
	HandleMessage(ctx context.Context, msg core.Message) (core.Outcome, error)
}

// Reply is the JSON body returned for every routed message.
type Reply struct {
	Outcome *core.Outcome `json:"outcome,omitempty"`
	// ID echoes the request id on WebSocket connections.
	ID    string `json:"id,omitempty"`
	Error string `json:"error,omitempty"`
}

// Request is one message sent over the WebSocket.
type Request struct {
	ID string `json:"id,omitempty"`
	core.Message
}

// Server serves the device-facing endpoints.
type Server struct {
	handler  MessageHandler
	gatherer prometheus.Gatherer
	logger   *logx.Logger
	upgrader websocket.Upgrader
	started  time.Time
}

// NewServer returns a server. A nil gatherer serves the default registry.
func NewServer(handler MessageHandler, gatherer prometheus.Gatherer) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		handler:  handler,
		gatherer: gatherer,
		logger:   logx.NewLogger("server"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		started: time.Now(),
	}
}

// RegisterRoutes sets up the HTTP routes.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/api/route", s.handleRoute)
	mux.HandleFunc("/api/logs", s.handleLogs)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
}

// Start listens on addr until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server on %s", addr)

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	//nolint:contextcheck // parent context is cancelled; shutdown needs a fresh one
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

// handleRoute implements POST /api/route.
func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var msg core.Message
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&msg); err != nil {
		s.writeJSON(w, http.StatusBadRequest, Reply{Error: "invalid request body"})
		return
	}

	out, err := s.handler.HandleMessage(r.Context(), msg)
	if err != nil {
		s.logger.Warn("Routing failed for device %s: %v", msg.DeviceID, err)
		reply := Reply{Error: err.Error()}
		if out.Result.AckMessage != "" {
			reply.Outcome = &out
		}
		s.writeJSON(w, http.StatusUnprocessableEntity, reply)
		return
	}
	s.writeJSON(w, http.StatusOK, Reply{Outcome: &out})
}

// handleWebSocket serves one device connection. Messages are handled in
// arrival order; the routing lock orders them across connections.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed from %s: %v", r.RemoteAddr, err)
		return
	}
	defer func() { _ = conn.Close() }()

	ctx := r.Context()
	for {
		var req Request
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("WebSocket read from %s failed: %v", r.RemoteAddr, err)
			}
			return
		}

		reply := Reply{ID: req.ID}
		out, err := s.handler.HandleMessage(ctx, req.Message)
		if err != nil {
			reply.Error = err.Error()
		}
		if err == nil || out.Result.AckMessage != "" {
			reply.Outcome = &out
		}
		if err := conn.WriteJSON(reply); err != nil {
			s.logger.Warn("WebSocket write to %s failed: %v", r.RemoteAddr, err)
			return
		}
	}
}

// handleLogs implements GET /api/logs?component=router&since=5m.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			http.Error(w, "invalid since duration", http.StatusBadRequest)
			return
		}
		since = time.Now().UTC().Add(-d)
	}
	s.writeJSON(w, http.StatusOK, logx.RecentEntries(r.URL.Query().Get("component"), since))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"uptime": time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response: %v", err)
	}
}
