// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jeranaias/privatepdf/internal/events"
)

func testClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client := NewClientWithConfig(&ClientConfig{BaseURL: server.URL}, nil)
	return client, server
}

// collectSink records every emitted event in order.
type collectSink struct {
	names    []string
	payloads []any
}

func (s *collectSink) Emit(name string, payload any) {
	s.names = append(s.names, name)
	s.payloads = append(s.payloads, payload)
}

// =============================================================================
// PROBE TESTS
// =============================================================================

func TestPing_Success(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/version" {
			t.Errorf("path = %q, want /api/version", r.URL.Path)
		}
		w.Write([]byte(`{"version":"0.5.7"}`))
	}))

	if !client.Ping(context.Background()) {
		t.Error("Ping() = false, want true")
	}
}

func TestPing_NonSuccessStatus(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	if client.Ping(context.Background()) {
		t.Error("Ping() = true, want false")
	}
}

func TestPing_ConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	server.Close() // Refuse all connections

	client := NewClientWithConfig(&ClientConfig{BaseURL: server.URL}, nil)
	if client.Ping(context.Background()) {
		t.Error("Ping() = true against a closed server, want false")
	}
}

func TestStatus_ServerUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	server.Close()

	client := NewClientWithConfig(&ClientConfig{BaseURL: server.URL}, nil)
	status := client.Status(context.Background())

	if status.Running {
		t.Error("Running = true, want false")
	}
	if status.ModelsAvailable {
		t.Error("ModelsAvailable = true, want false")
	}
	if status.Models == nil || len(status.Models) != 0 {
		t.Errorf("Models = %v, want empty non-nil slice", status.Models)
	}
}

func TestStatus_TagsFailureStillReportsRunning(t *testing.T) {
	tests := []struct {
		name        string
		tagsHandler func(w http.ResponseWriter)
	}{
		{"tags error status", func(w http.ResponseWriter) {
			w.WriteHeader(http.StatusInternalServerError)
		}},
		{"tags malformed body", func(w http.ResponseWriter) {
			w.Write([]byte(`{"models": not json`))
		}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				switch r.URL.Path {
				case "/api/version":
					w.Write([]byte(`{"version":"0.5.7"}`))
				case "/api/tags":
					tc.tagsHandler(w)
				}
			}))

			status := client.Status(context.Background())

			if !status.Running {
				t.Error("Running = false, want true")
			}
			if status.ModelsAvailable {
				t.Error("ModelsAvailable = true, want false")
			}
			if len(status.Models) != 0 {
				t.Errorf("Models = %v, want empty", status.Models)
			}
		})
	}
}

func TestStatus_WithModels(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/version":
			w.Write([]byte(`{"version":"0.5.7"}`))
		case "/api/tags":
			w.Write([]byte(`{"models":[{"name":"gemma3:1b-it-q4_K_M"},{"name":"nomic-embed-text"}]}`))
		}
	}))

	status := client.Status(context.Background())

	if !status.Running || !status.ModelsAvailable {
		t.Errorf("status = %+v, want running with models", status)
	}
	if len(status.Models) != 2 || status.Models[0] != "gemma3:1b-it-q4_K_M" {
		t.Errorf("Models = %v, order must match the server", status.Models)
	}
}

func TestStatus_EmptyModelList(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/version":
			w.Write([]byte(`{}`))
		case "/api/tags":
			w.Write([]byte(`{"models":[]}`))
		}
	}))

	status := client.Status(context.Background())

	if !status.Running {
		t.Error("Running = false, want true")
	}
	if status.ModelsAvailable {
		t.Error("ModelsAvailable must be false for an empty model list")
	}
}

// =============================================================================
// CHAT TESTS
// =============================================================================

func TestChat_AppliesOptionDefaults(t *testing.T) {
	var got chatRequest
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Write([]byte(`{"message":{"role":"assistant","content":"hi"}}`))
	}))

	reply, err := client.Chat(context.Background(), "test-model",
		[]Message{NewUserMessage("hello")}, ChatOptions{})
	if err != nil {
		t.Fatalf("Chat() error: %v", err)
	}
	if reply != "hi" {
		t.Errorf("reply = %q, want 'hi'", reply)
	}

	if got.Stream {
		t.Error("Stream = true, want false")
	}
	opts := got.Options
	if opts.Temperature != 0.2 {
		t.Errorf("temperature = %v, want 0.2", opts.Temperature)
	}
	if opts.TopP != 0.9 {
		t.Errorf("top_p = %v, want 0.9", opts.TopP)
	}
	if opts.NumPredict != 4096 {
		t.Errorf("num_predict = %v, want 4096", opts.NumPredict)
	}
	if opts.RepeatPenalty != 1.1 {
		t.Errorf("repeat_penalty = %v, want 1.1", opts.RepeatPenalty)
	}
	if opts.RepeatLastN != 64 {
		t.Errorf("repeat_last_n = %v, want 64", opts.RepeatLastN)
	}
}

func TestChat_ExplicitOptionsPreserved(t *testing.T) {
	var got chatRequest
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"message":{"content":"ok"}}`))
	}))

	_, err := client.Chat(context.Background(), "m", []Message{NewUserMessage("q")},
		ChatOptions{Temperature: 0.7, TopP: 0.5, MaxTokens: 128})
	if err != nil {
		t.Fatalf("Chat() error: %v", err)
	}

	if got.Options.Temperature != 0.7 || got.Options.TopP != 0.5 || got.Options.NumPredict != 128 {
		t.Errorf("options = %+v, explicit values must pass through", got.Options)
	}
	// Unset fields still get defaults
	if got.Options.RepeatPenalty != 1.1 || got.Options.RepeatLastN != 64 {
		t.Errorf("options = %+v, absent fields must default", got.Options)
	}
}

func TestChat_ServerError(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"model 'missing' not found"}`))
	}))

	_, err := client.Chat(context.Background(), "missing", []Message{NewUserMessage("q")}, ChatOptions{})
	if err == nil {
		t.Fatal("Chat() error = nil, want server error")
	}
	if !strings.Contains(err.Error(), "model 'missing' not found") {
		t.Errorf("error = %q, want the server's message", err)
	}
}

func TestChat_MalformedBody(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"message": broken`))
	}))

	_, err := client.Chat(context.Background(), "m", []Message{NewUserMessage("q")}, ChatOptions{})
	if err == nil {
		t.Fatal("Chat() error = nil, want parse error")
	}
}

// =============================================================================
// STREAMING CHAT TESTS
// =============================================================================

// streamHandler writes NDJSON lines for a streaming chat reply.
func streamHandler(t *testing.T, lines []string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if !req.Stream {
			t.Error("Stream = false, want true")
		}

		flusher, _ := w.(http.Flusher)
		for _, line := range lines {
			fmt.Fprintln(w, line)
			if flusher != nil {
				flusher.Flush()
			}
		}
	})
}

func TestChatStream_EmitsChunksInOrder(t *testing.T) {
	client, _ := testClient(t, streamHandler(t, []string{
		`{"message":{"content":"Hel"},"done":false}`,
		`{"message":{"content":"lo, "},"done":false}`,
		`{"message":{"content":"world"},"done":false}`,
		`{"message":{"content":""},"done":true}`,
	}))

	sink := &collectSink{}
	err := client.ChatStream(context.Background(), "m", []Message{NewUserMessage("q")}, ChatOptions{}, sink)
	if err != nil {
		t.Fatalf("ChatStream() error: %v", err)
	}

	if len(sink.names) != 4 {
		t.Fatalf("emitted %d chunks, want 4", len(sink.names))
	}

	var assembled strings.Builder
	for i, payload := range sink.payloads {
		if sink.names[i] != events.StreamChunk {
			t.Errorf("event %d name = %q, want %q", i, sink.names[i], events.StreamChunk)
		}
		chunk := payload.(StreamChunk)
		assembled.WriteString(chunk.Content)

		wantDone := i == len(sink.payloads)-1
		if chunk.Done != wantDone {
			t.Errorf("chunk %d Done = %v, want %v", i, chunk.Done, wantDone)
		}
	}
	if assembled.String() != "Hello, world" {
		t.Errorf("assembled = %q, want 'Hello, world'", assembled.String())
	}
}

// TestChatStream_MatchesSyncChat verifies the core streaming property:
// concatenating emitted chunk contents reproduces exactly the reply a
// non-streaming call with the same semantics returns.
func TestChatStream_MatchesSyncChat(t *testing.T) {
	const full = "The quick brown fox jumps over the lazy dog."

	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		json.NewDecoder(r.Body).Decode(&req)

		if !req.Stream {
			json.NewEncoder(w).Encode(map[string]any{
				"message": map[string]any{"role": "assistant", "content": full},
				"done":    true,
			})
			return
		}

		// Stream the same reply three characters at a time.
		for i := 0; i < len(full); i += 3 {
			end := i + 3
			if end > len(full) {
				end = len(full)
			}
			line, _ := json.Marshal(map[string]any{
				"message": map[string]any{"content": full[i:end]},
				"done":    false,
			})
			w.Write(append(line, '\n'))
		}
		w.Write([]byte(`{"message":{"content":""},"done":true}` + "\n"))
	}))

	msgs := []Message{NewUserMessage("tell me about foxes")}

	syncReply, err := client.Chat(context.Background(), "m", msgs, ChatOptions{})
	if err != nil {
		t.Fatalf("Chat() error: %v", err)
	}

	sink := &collectSink{}
	if err := client.ChatStream(context.Background(), "m", msgs, ChatOptions{}, sink); err != nil {
		t.Fatalf("ChatStream() error: %v", err)
	}

	var assembled strings.Builder
	for _, payload := range sink.payloads {
		assembled.WriteString(payload.(StreamChunk).Content)
	}

	if assembled.String() != syncReply {
		t.Errorf("streamed = %q, sync = %q; must be identical", assembled.String(), syncReply)
	}
}

func TestChatStream_RecordWithoutContentEmitsNothing(t *testing.T) {
	client, _ := testClient(t, streamHandler(t, []string{
		`{"model":"m","created_at":"2025-01-01T00:00:00Z"}`,
		`{"message":{"content":"hi"},"done":false}`,
		`{"message":{},"done":false}`,
		`{"message":{"content":""},"done":true}`,
	}))

	sink := &collectSink{}
	if err := client.ChatStream(context.Background(), "m", nil, ChatOptions{}, sink); err != nil {
		t.Fatalf("ChatStream() error: %v", err)
	}

	// Only the two records that carry message.content produce chunks.
	if len(sink.payloads) != 2 {
		t.Fatalf("emitted %d chunks, want 2", len(sink.payloads))
	}
	if sink.payloads[0].(StreamChunk).Content != "hi" {
		t.Errorf("chunk 0 = %+v", sink.payloads[0])
	}
}

func TestChatStream_ServerErrorRecordAborts(t *testing.T) {
	client, _ := testClient(t, streamHandler(t, []string{
		`{"message":{"content":"par"},"done":false}`,
		`{"error":"model ran out of memory"}`,
		`{"message":{"content":"tial"},"done":false}`,
	}))

	sink := &collectSink{}
	err := client.ChatStream(context.Background(), "m", nil, ChatOptions{}, sink)
	if err == nil {
		t.Fatal("ChatStream() error = nil, want server error")
	}
	if !strings.Contains(err.Error(), "model ran out of memory") {
		t.Errorf("error = %q, want the server's message", err)
	}

	// Nothing after the error record may be emitted.
	for _, payload := range sink.payloads {
		if payload.(StreamChunk).Content == "tial" {
			t.Error("chunk after error record was emitted")
		}
	}
}

func TestChatStream_MalformedLineSkipped(t *testing.T) {
	client, _ := testClient(t, streamHandler(t, []string{
		`{"message":{"content":"a"},"done":false}`,
		`garbage line`,
		`{"message":{"content":"b"},"done":true}`,
	}))

	sink := &collectSink{}
	if err := client.ChatStream(context.Background(), "m", nil, ChatOptions{}, sink); err != nil {
		t.Fatalf("ChatStream() error: %v", err)
	}

	if len(sink.payloads) != 2 {
		t.Fatalf("emitted %d chunks, want 2", len(sink.payloads))
	}
}

func TestChatStream_PinsContextWindow(t *testing.T) {
	var got chatRequest
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"message":{"content":""},"done":true}` + "\n"))
	}))

	if err := client.ChatStream(context.Background(), "m", nil, ChatOptions{}, nil); err != nil {
		t.Fatalf("ChatStream() error: %v", err)
	}
	if got.Options.NumCtx != streamNumCtx {
		t.Errorf("num_ctx = %d, want %d", got.Options.NumCtx, streamNumCtx)
	}
}

// =============================================================================
// EMBEDDING TESTS
// =============================================================================

func TestEmbedding(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" {
			t.Errorf("path = %q", r.URL.Path)
		}
		var req embeddingRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Prompt != "hello world" {
			t.Errorf("prompt = %q", req.Prompt)
		}
		w.Write([]byte(`{"embedding":[0.1,-0.2,0.3]}`))
	}))

	vec, err := client.Embedding(context.Background(), "nomic-embed-text", "hello world")
	if err != nil {
		t.Fatalf("Embedding() error: %v", err)
	}
	if len(vec) != 3 || vec[0] != 0.1 || vec[1] != -0.2 || vec[2] != 0.3 {
		t.Errorf("vector = %v, order must be preserved", vec)
	}
}

func TestEmbedding_DefaultsToConfiguredModel(t *testing.T) {
	var got embeddingRequest
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"embedding":[0.1]}`))
	})
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewClientWithConfig(&ClientConfig{
		BaseURL:        server.URL,
		DefaultModel:   "chat-model",
		EmbeddingModel: "embed-model",
	}, nil)
	if _, err := client.Embedding(context.Background(), "", "text"); err != nil {
		t.Fatalf("Embedding() error: %v", err)
	}
	if got.Model != "embed-model" {
		t.Errorf("model = %q, want the configured embedding model", got.Model)
	}

	// An explicit model wins over the configured one.
	if _, err := client.Embedding(context.Background(), "nomic-embed-text", "text"); err != nil {
		t.Fatalf("Embedding() error: %v", err)
	}
	if got.Model != "nomic-embed-text" {
		t.Errorf("model = %q, explicit model must pass through", got.Model)
	}

	// Without a dedicated embedding model the chat model serves both.
	client = NewClientWithConfig(&ClientConfig{BaseURL: server.URL, DefaultModel: "chat-model"}, nil)
	if _, err := client.Embedding(context.Background(), "", "text"); err != nil {
		t.Fatalf("Embedding() error: %v", err)
	}
	if got.Model != "chat-model" {
		t.Errorf("model = %q, want fallback to the chat model", got.Model)
	}
}

func TestEmbedding_ServerError(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	if _, err := client.Embedding(context.Background(), "m", "text"); err == nil {
		t.Fatal("Embedding() error = nil, want failure")
	}
}

// =============================================================================
// MODEL PULL TESTS
// =============================================================================

func TestPullModel_RelaysProgress(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/pull" {
			t.Errorf("path = %q", r.URL.Path)
		}
		var req pullRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Name != "gemma3:1b" || !req.Stream {
			t.Errorf("request = %+v", req)
		}

		w.Write([]byte(`{"status":"pulling manifest"}` + "\n"))
		w.Write([]byte(`{"status":"downloading","total":1000,"completed":250}` + "\n"))
		w.Write([]byte(`{"status":"downloading","total":1000,"completed":1000}` + "\n"))
		w.Write([]byte(`{"status":"success"}` + "\n"))
	}))

	sink := &collectSink{}
	if err := client.PullModel(context.Background(), "gemma3:1b", sink); err != nil {
		t.Fatalf("PullModel() error: %v", err)
	}

	if len(sink.payloads) != 4 {
		t.Fatalf("emitted %d events, want 4", len(sink.payloads))
	}

	p := sink.payloads[1].(PullProgress)
	if p.Percent != 25 {
		t.Errorf("percent = %v, want 25", p.Percent)
	}
	if p.Model != "gemma3:1b" || p.Status != "downloading" {
		t.Errorf("progress = %+v", p)
	}

	// Records without totals report zero percent, not NaN.
	if first := sink.payloads[0].(PullProgress); first.Percent != 0 {
		t.Errorf("percent with no total = %v, want 0", first.Percent)
	}
}

func TestPullModel_ErrorRecordAborts(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"downloading","total":100,"completed":10}` + "\n"))
		w.Write([]byte(`{"error":"pull model manifest: file does not exist"}` + "\n"))
	}))

	err := client.PullModel(context.Background(), "nope", &collectSink{})
	if err == nil {
		t.Fatal("PullModel() error = nil, want server error")
	}
	if !strings.Contains(err.Error(), "file does not exist") {
		t.Errorf("error = %q", err)
	}
}
