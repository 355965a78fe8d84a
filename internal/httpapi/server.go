package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/cyberguardng/voicegateway/internal/config"
	"github.com/cyberguardng/voicegateway/internal/logging"
	"github.com/cyberguardng/voicegateway/internal/observability"
	"github.com/cyberguardng/voicegateway/internal/relay"
	"github.com/cyberguardng/voicegateway/internal/session"
)

// Caller frames are small JSON envelopes; anything larger is not a media stream.
const callerReadLimit = 1 << 20

type Server struct {
	cfg       config.Config
	gateway   *relay.Gateway
	storeMode string
	upgrader  websocket.Upgrader
}

// New wires the HTTP surface around gateway. storeMode is reported by the
// health endpoints.
func New(cfg config.Config, gateway *relay.Gateway, storeMode string) *Server {
	return &Server{
		cfg:       cfg,
		gateway:   gateway,
		storeMode: storeMode,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Twilio does not send Origin.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Get(s.mediaStreamPath(), s.handleMediaStream)
	r.Post("/voice/incoming", s.handleIncomingCall)

	r.Get("/v1/calls", s.handleListCalls)
	r.Get("/v1/calls/{id}", s.handleGetCall)
	r.Get("/v1/perf/latency", s.handlePerfLatency)
	r.Post("/v1/perf/latency/reset", s.handlePerfLatencyReset)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":               "ok",
		"active_calls":         s.registry().ActiveCount(),
		"knowledge_store_mode": s.knowledgeStoreMode(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.gateway == nil {
		respondError(w, http.StatusServiceUnavailable, "unavailable", "gateway not configured")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":               "ready",
		"active_calls":         s.registry().ActiveCount(),
		"knowledge_store_mode": s.knowledgeStoreMode(),
	})
}

func (s *Server) handleMediaStream(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		w.Header().Set("Upgrade", "websocket")
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusUpgradeRequired)
		_, _ = io.WriteString(w, "Expected Upgrade: websocket")
		return
	}
	if s.gateway == nil {
		respondError(w, http.StatusServiceUnavailable, "unavailable", "gateway not configured")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already answered the request.
		s.logger().Warn("media stream upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	conn.SetReadLimit(callerReadLimit)

	log := s.logger().With("request_id", middleware.GetReqID(r.Context()), "remote", r.RemoteAddr)
	log.Debug("media stream accepted")
	if err := s.gateway.Serve(r.Context(), conn); err != nil {
		log.Warn("call ended with failure", "error", err)
	}
}

func (s *Server) handleListCalls(w http.ResponseWriter, _ *http.Request) {
	calls := s.registry().List()
	if calls == nil {
		calls = []session.Info{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"calls": calls,
		"count": len(calls),
	})
}

func (s *Server) handleGetCall(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	info, err := s.registry().Get(id)
	if errors.Is(err, session.ErrNotFound) {
		respondError(w, http.StatusNotFound, "call_not_found", err.Error())
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, info)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

func (s *Server) mediaStreamPath() string {
	if p := strings.TrimSpace(s.cfg.MediaStreamPath); p != "" {
		return p
	}
	return "/media-stream"
}

func (s *Server) knowledgeStoreMode() string {
	if strings.TrimSpace(s.storeMode) == "" {
		return "disabled"
	}
	return s.storeMode
}

func (s *Server) registry() *session.Registry {
	if s.gateway == nil {
		return nil
	}
	return s.gateway.Registry
}

func (s *Server) metrics() *observability.Metrics {
	if s.gateway == nil {
		return nil
	}
	return s.gateway.Metrics
}

func (s *Server) logger() *slog.Logger {
	if s.gateway == nil || s.gateway.Logger == nil {
		return logging.Discard()
	}
	return s.gateway.Logger
}
