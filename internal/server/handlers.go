// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jeranaias/privatepdf/internal/events"
	"github.com/jeranaias/privatepdf/internal/ollama"
	"github.com/jeranaias/privatepdf/internal/settings"
)

// ============================================================================
// REQUEST/RESPONSE TYPES
// ============================================================================

// ChatRequest is the body for /api/chat and /api/chat/stream.
type ChatRequest struct {
	Model    string             `json:"model,omitempty"`
	Messages []ollama.Message   `json:"messages"`
	Options  ollama.ChatOptions `json:"options"`
}

// ChatResponse carries a completed synchronous chat reply.
type ChatResponse struct {
	Content string `json:"content"`
}

// EmbeddingRequest is the body for /api/embeddings.
type EmbeddingRequest struct {
	Model string `json:"model,omitempty"`
	Text  string `json:"text"`
}

// EmbeddingResponse carries the generated embedding vector.
type EmbeddingResponse struct {
	Embedding []float64 `json:"embedding"`
}

// PullRequest is the body for /api/models/pull.
type PullRequest struct {
	Model string `json:"model"`
}

// AcceptedResponse acknowledges an async job; its outcome arrives as
// events on the WebSocket stream.
type AcceptedResponse struct {
	RequestID string `json:"request_id"`
}

// MessageResponse carries a human-readable outcome string.
type MessageResponse struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// ============================================================================
// HEALTH / EVENTS
// ============================================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	s.hub.ServeWS(w, r)
}

// ============================================================================
// SERVICE LIFECYCLE
// ============================================================================

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]bool{"running": s.ollama.Ping(r.Context())})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.ollama.Status(r.Context()))
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if s.launcher == nil {
		s.writeError(w, http.StatusNotImplemented, "service launcher not configured")
		return
	}
	msg, err := s.launcher.Start(r.Context())
	if err != nil {
		s.log.Error("failed to start ollama", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, MessageResponse{Message: msg})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if s.stopper == nil {
		s.writeError(w, http.StatusNotImplemented, "service terminator not configured")
		return
	}
	msg, err := s.stopper.Stop(r.Context())
	if err != nil {
		s.log.Error("failed to stop ollama", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, MessageResponse{Message: msg})
}

// ============================================================================
// CHAT
// ============================================================================

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeChatRequest(w, r)
	if !ok {
		return
	}

	content, err := s.ollama.Chat(r.Context(), req.Model, req.Messages, req.Options)
	if err != nil {
		s.log.Error("chat failed", zap.Error(err))
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, ChatResponse{Content: content})
}

// handleChatStream accepts the request and streams chunks to the event
// hub from a background job.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeChatRequest(w, r)
	if !ok {
		return
	}

	id := uuid.NewString()
	s.spawn("chat-stream", func() {
		err := s.ollama.ChatStream(context.Background(), req.Model, req.Messages, req.Options, s.hub)
		if err != nil {
			s.log.Error("chat stream failed", zap.String("request_id", id), zap.Error(err))
			s.hub.Emit(events.StreamChunk, ollama.StreamChunk{Done: true, Error: err.Error()})
		}
	})

	s.writeJSON(w, http.StatusAccepted, AcceptedResponse{RequestID: id})
}

func (s *Server) decodeChatRequest(w http.ResponseWriter, r *http.Request) (ChatRequest, bool) {
	var req ChatRequest
	if !s.decodeJSON(w, r, &req) {
		return req, false
	}

	if len(req.Messages) == 0 {
		s.writeError(w, http.StatusBadRequest, "request must contain at least one message")
		return req, false
	}
	if len(req.Messages) > MaxMessageCount {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("too many messages: maximum is %d", MaxMessageCount))
		return req, false
	}
	for i, msg := range req.Messages {
		if !validRoles[msg.Role] {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid role %q at message %d", msg.Role, i))
			return req, false
		}
		if len(msg.Content) > MaxMessageLength {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("message %d exceeds maximum length of %d", i, MaxMessageLength))
			return req, false
		}
	}
	if req.Options.Temperature < 0 || req.Options.Temperature > 2 {
		s.writeError(w, http.StatusBadRequest, "temperature must be between 0.0 and 2.0")
		return req, false
	}
	return req, true
}

// ============================================================================
// EMBEDDINGS
// ============================================================================

func (s *Server) handleEmbeddings(w http.ResponseWriter, r *http.Request) {
	var req EmbeddingRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.Text == "" {
		s.writeError(w, http.StatusBadRequest, "text must not be empty")
		return
	}

	embedding, err := s.ollama.Embedding(r.Context(), req.Model, req.Text)
	if err != nil {
		s.log.Error("embedding failed", zap.Error(err))
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, EmbeddingResponse{Embedding: embedding})
}

// ============================================================================
// MODEL PULL / INSTALL
// ============================================================================

func (s *Server) handlePullModel(w http.ResponseWriter, r *http.Request) {
	var req PullRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.Model == "" {
		s.writeError(w, http.StatusBadRequest, "model must not be empty")
		return
	}

	id := uuid.NewString()
	s.spawn("model-pull", func() {
		if err := s.ollama.PullModel(context.Background(), req.Model, s.hub); err != nil {
			s.log.Error("model pull failed",
				zap.String("request_id", id), zap.String("model", req.Model), zap.Error(err))
			s.hub.Emit(events.ModelPullProgress, ollama.PullProgress{
				Model:  req.Model,
				Status: "error",
				Error:  err.Error(),
			})
		}
	})

	s.writeJSON(w, http.StatusAccepted, AcceptedResponse{RequestID: id})
}

func (s *Server) handleInstall(w http.ResponseWriter, r *http.Request) {
	if s.installer == nil {
		s.writeError(w, http.StatusNotImplemented, "runtime installer not configured")
		return
	}

	id := uuid.NewString()
	amdGPU := s.amdGPU
	s.spawn("install", func() {
		if _, err := s.installer.Install(context.Background(), amdGPU); err != nil {
			s.log.Error("install failed", zap.String("request_id", id), zap.Error(err))
		}
	})

	s.writeJSON(w, http.StatusAccepted, AcceptedResponse{RequestID: id})
}

// ============================================================================
// SETTINGS
// ============================================================================

func (s *Server) handleLoadSettings(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeError(w, http.StatusNotImplemented, "settings store not configured")
		return
	}
	loaded, err := s.store.Load()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, loaded)
}

func (s *Server) handleSaveSettings(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeError(w, http.StatusNotImplemented, "settings store not configured")
		return
	}
	var incoming settings.AppSettings
	if !s.decodeJSON(w, r, &incoming) {
		return
	}
	if err := s.store.Save(incoming); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, incoming)
}

func (s *Server) handleResetSettings(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeError(w, http.StatusNotImplemented, "settings store not configured")
		return
	}
	defaults, err := s.store.Reset()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, defaults)
}

// ============================================================================
// HELPERS
// ============================================================================

// decodeJSON parses the request body into dst, writing an error response
// and returning false on failure.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.log.Debug("invalid request body", zap.Error(err))
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("failed to write response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}
