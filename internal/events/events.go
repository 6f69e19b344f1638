// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package events

// Event names understood by the GUI shell. These are part of the frontend
// contract and must not be renamed without a matching frontend change.
const (
	// StreamChunk carries one {content, done} fragment of a streaming chat.
	StreamChunk = "ollama_stream_chunk"

	// ModelPullProgress carries {model, status, total, completed, percent}
	// for an in-flight model pull.
	ModelPullProgress = "model_download_progress"

	// DownloadProgress carries {downloaded, total, percent} for the Ollama
	// release archive download.
	DownloadProgress = "ollama_download_progress"

	// ExtractionProgress carries {current, total, percent} while the
	// release archive is unpacked.
	ExtractionProgress = "ollama_extraction_progress"

	// InstallStatus carries {status, message} stage transitions of the
	// install workflow: downloading, extracting, completed, failed.
	InstallStatus = "ollama_download_status"

	// SettingsChanged is emitted when the settings file changes on disk.
	SettingsChanged = "settings-changed"
)

// Event is a single named notification with a JSON-serializable payload.
type Event struct {
	Name    string `json:"event"`
	Payload any    `json:"payload"`
}

// Sink receives named notifications from a streaming operation.
//
// Emit must never block the caller for long and must never fail: a sink
// that cannot deliver drops the event. Operations treat the sink as
// fire-and-forget and do not inspect delivery outcomes.
type Sink interface {
	Emit(name string, payload any)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(name string, payload any)

// Emit calls f.
func (f SinkFunc) Emit(name string, payload any) { f(name, payload) }

// Discard is a Sink that drops every event.
var Discard Sink = SinkFunc(func(string, any) {})

// StatusPayload is the payload shape for InstallStatus events.
type StatusPayload struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}
