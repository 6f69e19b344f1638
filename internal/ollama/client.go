// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/privatepdf/internal/events"
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// ClientError represents an error from the Ollama client.
type ClientError struct {
	Type    ErrorType
	Message string
	Cause   error
}

func (e *ClientError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *ClientError) Unwrap() error {
	return e.Cause
}

// ErrorType categorizes client errors for handling.
type ErrorType int

const (
	ErrTypeUnknown ErrorType = iota

	// ErrTypeTransport covers network failures and timeouts.
	ErrTypeTransport

	// ErrTypeNotInstalled means the server executable or service unit
	// could not be found on this machine.
	ErrTypeNotInstalled

	// ErrTypeProtocol covers malformed response bodies and server-reported
	// errors.
	ErrTypeProtocol

	// ErrTypeFilesystem covers directory, file and archive failures during
	// installation.
	ErrTypeFilesystem
)

// ErrNotInstalled is the sentinel for "Ollama is not on this machine".
// Launch strategies wrap it so the launcher can stop early and the GUI can
// offer the install workflow.
var ErrNotInstalled = &ClientError{
	Type:    ErrTypeNotInstalled,
	Message: "Ollama is not installed",
}

// =============================================================================
// CLIENT CONFIGURATION
// =============================================================================

// ClientConfig holds configuration options for the Ollama client.
type ClientConfig struct {
	// BaseURL is the Ollama API base URL (default: http://127.0.0.1:11434).
	// Uses an explicit IPv4 address instead of localhost to avoid IPv6
	// resolution issues on Windows.
	BaseURL string

	// DefaultModel to use if none specified.
	DefaultModel string

	// EmbeddingModel to use for embedding requests when the caller names
	// none. Falls back to DefaultModel.
	EmbeddingModel string

	// Per-operation hard timeouts.
	ProbeTimeout time.Duration // version/tags probes (default: 15s)
	ChatTimeout  time.Duration // chat, sync and streaming (default: 120s)
	EmbedTimeout time.Duration // embeddings (default: 30s)
	PullTimeout  time.Duration // model pulls (default: 30min)
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() *ClientConfig {
	return &ClientConfig{
		BaseURL:      "http://127.0.0.1:11434",
		DefaultModel: "gemma3:1b-it-q4_K_M",
		ProbeTimeout: 15 * time.Second,
		ChatTimeout:  120 * time.Second,
		EmbedTimeout: 30 * time.Second,
		PullTimeout:  30 * time.Minute,
	}
}

// =============================================================================
// CLIENT
// =============================================================================

// Client handles communication with the Ollama API.
//
// The Client is safe for concurrent use. Timeouts are enforced per call
// via context deadlines, not on the shared http.Client, because streaming
// calls and probes have very different bounds.
type Client struct {
	config     *ClientConfig
	httpClient *http.Client
	log        *zap.Logger
}

// NewClient creates a new Ollama client with default configuration.
func NewClient(log *zap.Logger) *Client {
	return NewClientWithConfig(DefaultConfig(), log)
}

// NewClientWithConfig creates a new Ollama client with custom configuration.
func NewClientWithConfig(config *ClientConfig, log *zap.Logger) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	if log == nil {
		log = zap.NewNop()
	}

	// Fill in defaults for any zero values
	defaults := DefaultConfig()
	if config.BaseURL == "" {
		config.BaseURL = defaults.BaseURL
	}
	if config.DefaultModel == "" {
		config.DefaultModel = defaults.DefaultModel
	}
	if config.EmbeddingModel == "" {
		config.EmbeddingModel = config.DefaultModel
	}
	if config.ProbeTimeout == 0 {
		config.ProbeTimeout = defaults.ProbeTimeout
	}
	if config.ChatTimeout == 0 {
		config.ChatTimeout = defaults.ChatTimeout
	}
	if config.EmbedTimeout == 0 {
		config.EmbedTimeout = defaults.EmbedTimeout
	}
	if config.PullTimeout == 0 {
		config.PullTimeout = defaults.PullTimeout
	}

	return &Client{
		config:     config,
		httpClient: &http.Client{},
		log:        log,
	}
}

// GetConfig returns the client configuration.
func (c *Client) GetConfig() *ClientConfig {
	return c.config
}

// =============================================================================
// PROBES
// =============================================================================

// Ping checks whether the Ollama server answers its version endpoint.
// Any transport error or non-success status yields false; Ping never
// returns an error.
func (c *Client) Ping(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.config.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"/api/version", nil)
	if err != nil {
		return false
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Info("Ollama ping failed", zap.Error(err))
		return false
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		c.log.Warn("Ollama ping returned non-success status", zap.String("status", resp.Status))
		return false
	}
	return true
}

// Status reports liveness and the installed model list. It never returns
// an error: an unreachable server yields the zero status, and a reachable
// server whose model enumeration fails still reports Running=true.
func (c *Client) Status(ctx context.Context) ServiceStatus {
	if !c.Ping(ctx) {
		return ServiceStatus{Models: []string{}}
	}

	models, err := c.listModels(ctx)
	if err != nil {
		c.log.Warn("failed to check Ollama tags", zap.Error(err))
		return ServiceStatus{Running: true, Models: []string{}}
	}

	c.log.Info("Ollama is running",
		zap.Bool("models_available", len(models) > 0),
		zap.Strings("models", models))
	return ServiceStatus{
		Running:         true,
		ModelsAvailable: len(models) > 0,
		Models:          models,
	}
}

// listModels enumerates installed models via /api/tags, preserving the
// server's order.
func (c *Client) listModels(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"/api/tags", nil)
	if err != nil {
		return nil, &ClientError{Type: ErrTypeTransport, Message: "failed to create request", Cause: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &ClientError{Type: ErrTypeTransport, Message: "tags request failed", Cause: err}
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, &ClientError{Type: ErrTypeProtocol, Message: "tags endpoint returned " + resp.Status}
	}

	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, &ClientError{Type: ErrTypeProtocol, Message: "failed to parse tags response", Cause: err}
	}

	models := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		models = append(models, m.Name)
	}
	return models, nil
}

// =============================================================================
// CHAT
// =============================================================================

// Chat sends a non-streaming chat request and returns the assistant reply.
// Absent option fields are replaced with their defaults before sending.
func (c *Client) Chat(ctx context.Context, model string, messages []Message, opts ChatOptions) (string, error) {
	if model == "" {
		model = c.config.DefaultModel
	}
	c.log.Info("Ollama chat request", zap.String("model", model), zap.Int("messages", len(messages)))

	ctx, cancel := context.WithTimeout(ctx, c.config.ChatTimeout)
	defer cancel()

	resp, err := c.postJSON(ctx, "/api/chat", chatRequest{
		Model:    model,
		Messages: messages,
		Stream:   false,
		Options:  opts.applyDefaults(),
	})
	if err != nil {
		return "", &ClientError{Type: ErrTypeTransport, Message: "chat request failed", Cause: err}
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return "", c.statusError("chat", resp)
	}

	var result chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", &ClientError{Type: ErrTypeProtocol, Message: "failed to parse chat response", Cause: err}
	}

	c.log.Info("chat response received", zap.Int("chars", len(result.Message.Content)))
	return result.Message.Content, nil
}

// ChatStream sends a streaming chat request and emits one StreamChunk per
// content-bearing NDJSON record to sink, in arrival order. The terminal
// chunk has Done=true. A record carrying a server error aborts the call
// immediately.
func (c *Client) ChatStream(ctx context.Context, model string, messages []Message, opts ChatOptions, sink events.Sink) error {
	if model == "" {
		model = c.config.DefaultModel
	}
	if sink == nil {
		sink = events.Discard
	}
	c.log.Info("Ollama streaming chat request", zap.String("model", model), zap.Int("messages", len(messages)))

	ctx, cancel := context.WithTimeout(ctx, c.config.ChatTimeout)
	defer cancel()

	wireOpts := opts.applyDefaults()
	wireOpts.NumCtx = streamNumCtx

	resp, err := c.postJSON(ctx, "/api/chat", chatRequest{
		Model:    model,
		Messages: messages,
		Stream:   true,
		Options:  wireOpts,
	})
	if err != nil {
		return &ClientError{Type: ErrTypeTransport, Message: "chat request failed", Cause: err}
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return c.statusError("chat", resp)
	}

	dec := NewDecoder(resp.Body, c.log)
	for {
		raw, err := dec.Next()
		if err == io.EOF {
			c.log.Info("streaming completed")
			return nil
		}
		if err != nil {
			return &ClientError{Type: ErrTypeTransport, Message: "stream error", Cause: err}
		}

		var rec streamRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			c.log.Warn("failed to parse stream record", zap.Error(err))
			continue
		}

		if rec.Message != nil && rec.Message.Content != nil {
			sink.Emit(events.StreamChunk, StreamChunk{
				Content: *rec.Message.Content,
				Done:    rec.Done,
			})
		}

		if rec.Error != nil {
			c.log.Error("Ollama stream error", zap.String("error", *rec.Error))
			return &ClientError{Type: ErrTypeProtocol, Message: "Ollama error: " + *rec.Error}
		}

		if rec.Done {
			c.log.Info("streaming completed")
			return nil
		}
	}
}

// =============================================================================
// EMBEDDINGS
// =============================================================================

// Embedding creates an embedding vector for the given text. Vector order
// is exactly as returned by the server.
func (c *Client) Embedding(ctx context.Context, model, text string) ([]float64, error) {
	if model == "" {
		model = c.config.EmbeddingModel
	}
	c.log.Info("Ollama embedding request", zap.String("model", model), zap.Int("text_len", len(text)))

	ctx, cancel := context.WithTimeout(ctx, c.config.EmbedTimeout)
	defer cancel()

	resp, err := c.postJSON(ctx, "/api/embeddings", embeddingRequest{Model: model, Prompt: text})
	if err != nil {
		return nil, &ClientError{Type: ErrTypeTransport, Message: "embedding request failed", Cause: err}
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError("embedding", resp)
	}

	var result embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &ClientError{Type: ErrTypeProtocol, Message: "failed to parse embedding response", Cause: err}
	}

	c.log.Info("embedding generated", zap.Int("dimensions", len(result.Embedding)))
	return result.Embedding, nil
}

// =============================================================================
// MODEL PULL
// =============================================================================

// PullModel downloads a model through the server, relaying each progress
// record to sink as a PullProgress event. A record carrying a server error
// aborts the pull.
func (c *Client) PullModel(ctx context.Context, name string, sink events.Sink) error {
	if sink == nil {
		sink = events.Discard
	}
	c.log.Info("starting model pull", zap.String("model", name))

	ctx, cancel := context.WithTimeout(ctx, c.config.PullTimeout)
	defer cancel()

	resp, err := c.postJSON(ctx, "/api/pull", pullRequest{Name: name, Stream: true})
	if err != nil {
		return &ClientError{Type: ErrTypeTransport, Message: "failed to start model download", Cause: err}
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return c.statusError("model download", resp)
	}

	dec := NewDecoder(resp.Body, c.log)
	for {
		raw, err := dec.Next()
		if err == io.EOF {
			c.log.Info("model pull completed", zap.String("model", name))
			return nil
		}
		if err != nil {
			return &ClientError{Type: ErrTypeTransport, Message: "stream error", Cause: err}
		}

		var rec pullRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			c.log.Warn("failed to parse pull record", zap.Error(err))
			continue
		}

		var percent float64
		if rec.Total > 0 {
			percent = float64(rec.Completed) / float64(rec.Total) * 100
		}
		sink.Emit(events.ModelPullProgress, PullProgress{
			Model:     name,
			Status:    rec.Status,
			Total:     rec.Total,
			Completed: rec.Completed,
			Percent:   percent,
		})

		if rec.Error != nil {
			c.log.Error("Ollama pull error", zap.String("error", *rec.Error))
			return &ClientError{Type: ErrTypeProtocol, Message: "Ollama error: " + *rec.Error}
		}
	}
}

// =============================================================================
// HELPERS
// =============================================================================

// postJSON issues a JSON POST against the API. The caller owns the
// response body.
func (c *Client) postJSON(ctx context.Context, path string, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	return c.httpClient.Do(req)
}

// statusError converts a non-success response into a ClientError, using
// the server's error body when it has one.
func (c *Client) statusError(op string, resp *http.Response) error {
	var body apiError
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Error != "" {
		return &ClientError{Type: ErrTypeProtocol, Message: body.Error}
	}
	return &ClientError{Type: ErrTypeProtocol, Message: op + " failed: HTTP " + resp.Status}
}

// IsNotInstalled checks whether err indicates a missing Ollama install.
func IsNotInstalled(err error) bool {
	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		return clientErr.Type == ErrTypeNotInstalled
	}
	return false
}

// drainAndClose discards the remaining body so the connection can be
// reused, then closes it.
func drainAndClose(r io.ReadCloser) {
	io.Copy(io.Discard, r)
	r.Close()
}
