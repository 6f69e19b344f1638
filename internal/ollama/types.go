// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

// =============================================================================
// SERVICE STATUS
// =============================================================================

// ServiceStatus is the result of one Status probe. It is produced fresh on
// every call and never cached.
//
// Running and ModelsAvailable are deliberately decoupled: a server that
// answers the version endpoint but fails model enumeration reports
// Running=true, ModelsAvailable=false, which the GUI renders differently
// from an unreachable server.
type ServiceStatus struct {
	Running         bool     `json:"running"`
	ModelsAvailable bool     `json:"models_available"`
	Models          []string `json:"models"`
}

// =============================================================================
// CHAT TYPES
// =============================================================================

// Message is one turn of a conversation.
type Message struct {
	Role    string `json:"role"` // "system", "user" or "assistant"
	Content string `json:"content"`
}

// NewSystemMessage creates a system message.
func NewSystemMessage(content string) Message {
	return Message{Role: "system", Content: content}
}

// NewUserMessage creates a user message.
func NewUserMessage(content string) Message {
	return Message{Role: "user", Content: content}
}

// NewAssistantMessage creates an assistant message.
func NewAssistantMessage(content string) Message {
	return Message{Role: "assistant", Content: content}
}

// ChatOptions are caller-tunable inference parameters. The zero value of a
// field means "absent" and is replaced by that field's default before the
// request is sent. See applyDefaults.
type ChatOptions struct {
	Temperature   float64 // 0..2, default 0.2
	TopP          float64 // (0,1], default 0.9
	MaxTokens     int     // default 4096
	RepeatPenalty float64 // default 1.1
	RepeatLastN   int     // default 64
}

// Field defaults applied when a ChatOptions field is absent.
const (
	DefaultTemperature   = 0.2
	DefaultTopP          = 0.9
	DefaultMaxTokens     = 4096
	DefaultRepeatPenalty = 1.1
	DefaultRepeatLastN   = 64

	// streamNumCtx pins the context window for streaming chats, where long
	// documents are pasted into the conversation.
	streamNumCtx = 16384
)

// chatOptions is the wire shape of the request "options" object.
type chatOptions struct {
	Temperature   float64 `json:"temperature"`
	TopP          float64 `json:"top_p"`
	NumPredict    int     `json:"num_predict"`
	RepeatPenalty float64 `json:"repeat_penalty"`
	RepeatLastN   int     `json:"repeat_last_n"`
	NumCtx        int     `json:"num_ctx,omitempty"`
}

// applyDefaults substitutes defaults field-by-field for absent values.
func (o ChatOptions) applyDefaults() chatOptions {
	wire := chatOptions{
		Temperature:   o.Temperature,
		TopP:          o.TopP,
		NumPredict:    o.MaxTokens,
		RepeatPenalty: o.RepeatPenalty,
		RepeatLastN:   o.RepeatLastN,
	}
	if wire.Temperature == 0 {
		wire.Temperature = DefaultTemperature
	}
	if wire.TopP == 0 {
		wire.TopP = DefaultTopP
	}
	if wire.NumPredict == 0 {
		wire.NumPredict = DefaultMaxTokens
	}
	if wire.RepeatPenalty == 0 {
		wire.RepeatPenalty = DefaultRepeatPenalty
	}
	if wire.RepeatLastN == 0 {
		wire.RepeatLastN = DefaultRepeatLastN
	}
	return wire
}

// chatRequest is the request body for /api/chat.
type chatRequest struct {
	Model    string      `json:"model"`
	Messages []Message   `json:"messages"`
	Stream   bool        `json:"stream"`
	Options  chatOptions `json:"options"`
}

// chatResponse is the non-streaming response from /api/chat.
type chatResponse struct {
	Message Message `json:"message"`
}

// =============================================================================
// STREAMING TYPES
// =============================================================================

// StreamChunk is one fragment of a streaming chat reply. Concatenating the
// Content of all chunks in emission order reconstructs the full reply.
// Done marks the terminal chunk; no chunks follow it. A chunk with Error
// set is terminal and carries the reason the stream was cut short.
type StreamChunk struct {
	Content string `json:"content"`
	Done    bool   `json:"done"`
	Error   string `json:"error,omitempty"`
}

// streamRecord is one decoded NDJSON record of a streaming chat response.
// Pointers distinguish absent fields: a record with no message.content
// emits no chunk, and a record with no done flag is treated as not done.
type streamRecord struct {
	Message *struct {
		Content *string `json:"content"`
	} `json:"message"`
	Done  bool    `json:"done"`
	Error *string `json:"error"`
}

// pullRecord is one decoded NDJSON record of a model pull.
type pullRecord struct {
	Status    string  `json:"status"`
	Total     uint64  `json:"total"`
	Completed uint64  `json:"completed"`
	Error     *string `json:"error"`
}

// PullProgress is the event payload emitted once per pull record. A
// payload with Error set is terminal: the pull failed and no further
// progress follows.
type PullProgress struct {
	Model     string  `json:"model"`
	Status    string  `json:"status"`
	Total     uint64  `json:"total"`
	Completed uint64  `json:"completed"`
	Percent   float64 `json:"percent"`
	Error     string  `json:"error,omitempty"`
}

// =============================================================================
// EMBEDDINGS
// =============================================================================

// embeddingRequest is the request body for /api/embeddings.
type embeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

// embeddingResponse is the response from /api/embeddings.
type embeddingResponse struct {
	Embedding []float64 `json:"embedding"`
}

// =============================================================================
// MODEL LIST
// =============================================================================

// tagsResponse is the response from /api/tags.
type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// pullRequest is the request body for /api/pull.
type pullRequest struct {
	Name   string `json:"name"`
	Stream bool   `json:"stream"`
}

// apiError is the error body Ollama returns on non-success statuses and
// inside streaming records.
type apiError struct {
	Error string `json:"error"`
}
