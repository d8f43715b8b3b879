// internal/server/server.go
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/markb/chatsync/internal/hub"
	"github.com/markb/chatsync/internal/log"
	"github.com/markb/chatsync/internal/observability"
	"github.com/markb/chatsync/internal/protocol"
	"golang.org/x/crypto/acme/autocert"
)

// Server hosts the sync hub behind an HTTP router.
type Server struct {
	router     *chi.Mux
	hubService *hub.Service
	telemetry  *observability.Telemetry

	// HTTP server for graceful shutdown
	httpServer *http.Server

	// HTTPS fields
	httpsServer  *http.Server
	httpRedirect *http.Server
	autocertMgr  *autocert.Manager
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	JWTSecret string
	Telemetry *observability.Telemetry
}

func New(cfg ServerConfig) *Server {
	var metrics *observability.Metrics
	if cfg.Telemetry != nil {
		metrics = cfg.Telemetry.Metrics()
	}
	s := &Server{
		router:     chi.NewRouter(),
		hubService: hub.NewService(hub.Config{JWTSecret: cfg.JWTSecret, Metrics: metrics}),
		telemetry:  cfg.Telemetry,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	// CORS middleware for browser-based clients
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	s.router.Use(log.RequestLogger)
	s.router.Use(middleware.Recoverer)
	if s.telemetry != nil {
		s.router.Use(observability.HTTPMiddleware(s.telemetry))
	}

	s.router.Get("/health", s.handleHealth)

	s.router.Route("/sync/v1", func(r chi.Router) {
		r.Get("/ws", s.hubService.HandleWebSocket)
		r.Get("/stats", s.handleStats)
		r.Post("/notify/edit", s.handleNotifyEdit)
		r.Post("/notify/delete", s.handleNotifyDelete)
		r.Post("/notify/feed", s.handleNotifyFeed)
	})
}

func (s *Server) Router() *chi.Mux {
	return s.router
}

// HubService returns the hub service backing the websocket endpoint.
func (s *Server) HubService() *hub.Service {
	return s.hubService
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := s.hubService.Stats()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"hub":              stats,
		"recent_log_lines": log.BufferedLines(50),
	})
}

type notifyEditRequest struct {
	Conversation protocol.ConversationRef `json:"conversation"`
	MessageID    string                   `json:"message_id"`
	Content      string                   `json:"content"`
}

// handleNotifyEdit fans out an edit performed by the surrounding REST layer.
func (s *Server) handleNotifyEdit(w http.ResponseWriter, r *http.Request) {
	var req notifyEditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.MessageID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "message_id required")
		return
	}
	s.hubService.NotifyEdited(req.Conversation, req.MessageID, req.Content)
	w.WriteHeader(http.StatusAccepted)
}

type notifyDeleteRequest struct {
	Conversation protocol.ConversationRef `json:"conversation"`
	MessageID    string                   `json:"message_id"`
}

func (s *Server) handleNotifyDelete(w http.ResponseWriter, r *http.Request) {
	var req notifyDeleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.MessageID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "message_id required")
		return
	}
	s.hubService.NotifyDeleted(req.Conversation, req.MessageID)
	w.WriteHeader(http.StatusAccepted)
}

type notifyFeedRequest struct {
	Event string                   `json:"event"`
	Item  protocol.FeedItemPayload `json:"item"`
}

func (s *Server) handleNotifyFeed(w http.ResponseWriter, r *http.Request) {
	var req notifyFeedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Event == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "event required")
		return
	}
	s.hubService.NotifyFeed(req.Event, req.Item)
	w.WriteHeader(http.StatusAccepted)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error":   code,
		"message": message,
	})
}

func (s *Server) ListenAndServe(addr string) error {
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server(s).
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error

	if s.httpsServer != nil {
		if err := s.httpsServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("HTTPS server: %w", err))
		}
	}

	if s.httpRedirect != nil {
		if err := s.httpRedirect.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("HTTP redirect server: %w", err))
		}
	}

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("HTTP server: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}
