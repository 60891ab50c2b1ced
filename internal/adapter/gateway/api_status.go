package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"chatsim/internal/infra/metrics"
)

// Version is reported by the status API.
var Version = "dev"

// StatusResponse is the JSON body returned by GET /api/v1/status.
type StatusResponse struct {
	Service            ServiceStatus `json:"service"`
	Sessions           SessionStatus `json:"sessions"`
	Connections        int           `json:"connections"`
	SingleChatInFlight int           `json:"single_chat_in_flight"`
	DefaultModel       string        `json:"default_model"`
	DefaultPersonality string        `json:"default_personality"`
	Personalities      []string      `json:"personalities"`
}

// ServiceStatus holds process overview info.
type ServiceStatus struct {
	Name          string `json:"name"`
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// SessionStatus holds session counts.
type SessionStatus struct {
	Known   int `json:"known"`
	Running int `json:"running"`
}

// RegisterRESTHandlers registers GET /api/v1/status and GET /metrics behind
// the server's authenticator, and exposes live gauges on collector.
func RegisterRESTHandlers(s *Server, deps HandlerDeps, collector *metrics.Collector) {
	startTime := time.Now()
	sessions := deps.Conversations.Sessions()

	collector.Gauge("chatsim", "sessions_known", "Sessions held in the registry.", func() float64 {
		return float64(sessions.Len())
	})
	collector.Gauge("chatsim", "sessions_running", "Sessions with a batch in progress.", func() float64 {
		return float64(sessions.RunningCount())
	})
	collector.Gauge("chatsim", "gateway_connections", "Open WebSocket connections.", func() float64 {
		return float64(s.Connected())
	})
	collector.Gauge("chatsim", "single_chat_in_flight", "Single-agent answers being generated.", func() float64 {
		return float64(deps.Chat.InFlight())
	})
	collector.Gauge("chatsim", "uptime_seconds", "Seconds since the server started.", func() float64 {
		return time.Since(startTime).Seconds()
	})

	s.RegisterHTTPRoute("/api/v1/status", requireAuth(s.auth, statusHandler(s, deps, startTime)))
	s.RegisterHTTPRoute("/metrics", requireAuth(s.auth, getOnly(collector.Handler())))
}

func statusHandler(s *Server, deps HandlerDeps, startTime time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		sessions := deps.Conversations.Sessions()
		resp := StatusResponse{
			Service: ServiceStatus{
				Name:          "chatsim",
				Version:       Version,
				UptimeSeconds: int64(time.Since(startTime).Seconds()),
			},
			Sessions: SessionStatus{
				Known:   sessions.Len(),
				Running: sessions.RunningCount(),
			},
			Connections:        s.Connected(),
			SingleChatInFlight: deps.Chat.InFlight(),
			DefaultModel:       deps.Models.Default(),
			DefaultPersonality: deps.Personalities.Default(),
			Personalities:      deps.Personalities.List(),
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}

func getOnly(h http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.ServeHTTP(w, r)
	}
}
