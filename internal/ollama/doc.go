// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama manages the lifecycle of a local Ollama server and speaks
// its HTTP API.
//
// The package has four responsibilities:
//
//   - Probing: Ping and Status report liveness and the installed model
//     list without ever returning an error; every failure mode degrades
//     to a status value.
//
//   - Launching and stopping: Launcher tries an ordered list of
//     platform-specific strategies to locate and start the server
//     (well-known install paths, PATH lookup, systemd on Linux, the app
//     bundle on macOS). Terminator kills it at shutdown. Starting is
//     asynchronous: a successful launch means the process was spawned,
//     and callers must re-probe until the server answers.
//
//   - Chat, embeddings and model pulls over HTTP, in both request/response
//     and streaming form. Streaming responses are newline-delimited JSON;
//     the Decoder reassembles records across arbitrary chunk boundaries.
//
//   - Relaying stream progress to the GUI through an events.Sink without
//     ever blocking on delivery.
//
// All operations are bounded by hard per-call timeouts rather than
// caller-driven cancellation: 15s probes, 30s embeddings, 120s chat,
// 30min model pulls.
package ollama
