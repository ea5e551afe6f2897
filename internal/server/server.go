// Package server exposes the pipeline over HTTP. The chat endpoint
// streams pipeline events as NDJSON; artifacts are served for
// follow-up retrieval of oversized tool results.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/relayagent/relay/internal/artifacts"
	"github.com/relayagent/relay/internal/config"
	"github.com/relayagent/relay/internal/observability"
	"github.com/relayagent/relay/pkg/models"
)

// Processor runs one chat request through the pipeline.
type Processor interface {
	Process(ctx context.Context, req models.Request) <-chan models.Event
}

// ArtifactSource retrieves stored tool results by ID.
type ArtifactSource interface {
	Get(ctx context.Context, id string) (*artifacts.Artifact, error)
}

// Server is the HTTP front end for the orchestration pipeline.
type Server struct {
	config    config.ServerConfig
	processor Processor
	artifacts ArtifactSource
	logger    *observability.Logger

	httpServer *http.Server
	listener   net.Listener
}

// New creates a server. artifacts may be nil when no store is configured.
func New(cfg config.ServerConfig, processor Processor, store ArtifactSource, logger *observability.Logger) *Server {
	return &Server{
		config:    cfg,
		processor: processor,
		artifacts: store,
		logger:    logger,
	}
}

// Handler builds the route table. Exposed separately so tests can
// exercise the server without binding a port.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/chat", s.handleChat)
	mux.HandleFunc("GET /v1/artifacts/{id}", s.handleArtifact)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	return mux
}

// Start binds the listener and serves until Shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.HTTPPort)

	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}

	s.httpServer = server
	s.listener = listener

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()

	s.logger.Info("http server listening", "addr", addr)
	return nil
}

// Shutdown stops accepting connections and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// chatRequest is the JSON body accepted by POST /v1/chat.
type chatRequest struct {
	SessionID    string           `json:"session_id,omitempty"`
	Text         string           `json:"text"`
	Model        string           `json:"model,omitempty"`
	EnabledTools []string         `json:"enabled_tools,omitempty"`
	Slider       int              `json:"slider,omitempty"`
	History      []models.Message `json:"history,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var body chatRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	req := models.Request{
		ID:           uuid.NewString(),
		SessionID:    body.SessionID,
		Text:         body.Text,
		Model:        body.Model,
		EnabledTools: body.EnabledTools,
		Slider:       body.Slider,
		AuthToken:    bearerToken(r),
		History:      body.History,
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Request-Id", req.ID)
	w.WriteHeader(http.StatusOK)

	events := s.processor.Process(r.Context(), req)
	enc := json.NewEncoder(w)
	for event := range events {
		if err := enc.Encode(event); err != nil {
			// Client is gone. The pipeline still owes its terminal event;
			// drain the channel so it can finish and close.
			s.logger.Debug("chat stream write failed", "request_id", req.ID, "error", err)
			for range events {
			}
			return
		}
		flusher.Flush()
	}
}

func (s *Server) handleArtifact(w http.ResponseWriter, r *http.Request) {
	if s.artifacts == nil {
		writeError(w, http.StatusNotFound, "artifact storage is not configured")
		return
	}

	id := r.PathValue("id")
	artifact, err := s.artifacts.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, artifacts.ErrNotFound) {
			writeError(w, http.StatusNotFound, "artifact not found")
			return
		}
		s.logger.Error("artifact lookup failed", "artifact_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "artifact lookup failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":         artifact.ID,
		"request_id": artifact.RequestID,
		"tool_name":  artifact.ToolName,
		"size":       artifact.Size,
		"created_at": artifact.CreatedAt,
		"content":    artifact.Content,
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
