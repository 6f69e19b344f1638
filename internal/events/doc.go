// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package events carries named notifications from long-running backend
// operations to the GUI shell.
//
// Streaming operations (chat streaming, model pulls, installs) accept a
// Sink and push progress through it without waiting for acknowledgment.
// Delivery is best-effort: a slow or disconnected observer never stalls
// or fails the operation that is emitting.
//
// The Hub is the concrete Sink used in production. It relays every event
// to all WebSocket clients connected to the local gateway, dropping
// payloads for clients whose send buffers are full.
package events
