package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const maxBridgeBody = 64 * 1024

var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,

	// Browsers on any origin may join a room.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Server exposes the hub over websocket and HTTP.
type Server struct {
	hub      *Hub
	metrics  *Metrics
	gatherer prometheus.Gatherer
	log      *slog.Logger
}

// NewServer serves hub. gatherer backs /metrics and may be nil.
func NewServer(hub *Hub, gatherer prometheus.Gatherer) *Server {
	return &Server{
		hub:      hub,
		metrics:  hub.metrics,
		gatherer: gatherer,
		log:      slog.Default().With("component", "relay"),
	}
}

// Handler returns the routes: /ws, /api/event, /health and /metrics.
func (s *Server) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.ServeWs(ctx))
	mux.HandleFunc("/api/event", s.ServeBridge)
	mux.HandleFunc("/health", healthCheckHandler)
	if s.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

func healthCheckHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Relay is healthy."))
}

// ServeWs upgrades the request and starts the connection's pumps.
func (s *Server) ServeWs(ctx context.Context) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.log.Warn("failed to upgrade connection", "error", err)
			return
		}

		c := newConn(s.hub, ws)
		select {
		case s.hub.register <- c:
		case <-s.hub.done:
			ws.Close()
			return
		}

		go c.WritePump()
		go c.ReadPump(ctx)
	}
}

type bridgeRequest struct {
	Channel string          `json:"channel"`
	Event   string          `json:"event"`
	Data    json.RawMessage `json:"data"`
}

// ServeBridge publishes one event on behalf of an HTTP caller.
func (s *Server) ServeBridge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		s.writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}

	var req bridgeRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBridgeBody))
	if err := dec.Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid request body"})
		return
	}
	if req.Channel == "" || req.Event == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]any{"error": ErrBadRequest.Error()})
		return
	}

	data := []byte(req.Data)
	if len(data) == 0 {
		data = []byte("null")
	}
	if err := s.hub.Publish(r.Context(), req.Channel, req.Event, data); err != nil {
		s.log.Error("bridge publish failed", "channel", req.Channel, "event", req.Event, "error", err)
		status := http.StatusInternalServerError
		if errors.Is(err, ErrBadRequest) {
			status = http.StatusBadRequest
		}
		s.writeJSON(w, status, map[string]any{"error": err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	s.metrics.BridgeRequests.WithLabelValues(strconv.Itoa(status)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Warn("write response", "error", err)
	}
}
